package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gcjrt/internal/workload"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario [" + strings.Join(workload.Names(), "|") + "|all]",
	Short: "Run the built-in runtime scenarios",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "all"
		if len(args) == 1 {
			name = args[0]
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.ErrOrStderr())

		idx := s.timer.Begin("scenarios")
		results, err := workload.Run(name, s.opts)
		s.timer.End(idx, name)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, res := range results {
			status := passColor.Sprint("PASS")
			if !res.Passed {
				status = failColor.Sprint("FAIL")
				failed++
			}
			fmt.Fprintf(out, "%s %-10s %8s  %s\n", status, res.Name, res.Elapsed.Round(time.Microsecond), res.Detail)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
		}
		return nil
	},
}
