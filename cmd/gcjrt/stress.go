package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gcjrt/internal/prof"
	"gcjrt/internal/workload"
)

var (
	stressThreads int
	stressObjects int
	stressProf    prof.Options
)

func init() {
	stressCmd.Flags().IntVar(&stressThreads, "threads", 8, "number of managed threads")
	stressCmd.Flags().IntVar(&stressObjects, "objects", 1000, "list cells allocated per thread")
	stressCmd.Flags().Duration("timeout", 0, "abort the run after this long (0 waits forever)")
	stressCmd.Flags().StringVar(&stressProf.CPU, "cpuprofile", "", "write a Go CPU profile of the run")
	stressCmd.Flags().StringVar(&stressProf.Mem, "memprofile", "", "write a Go heap profile after the run")
	stressCmd.Flags().StringVar(&stressProf.Trace, "exectrace", "", "write a Go execution trace of the run")
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Allocate from many managed threads and report heap statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.ErrOrStderr())

		idx := s.timer.Begin("startup")
		r, mainTh, err := s.newRuntime()
		s.timer.End(idx, "")
		if err != nil {
			return err
		}
		defer func() {
			idx := s.timer.Begin("shutdown")
			r.Shutdown()
			s.timer.End(idx, "")
		}()

		ps, err := prof.Start(stressProf)
		if err != nil {
			return err
		}
		idx = s.timer.Begin("stress")
		rep, err := workload.Stress(cmd.Context(), r, mainTh, workload.StressConfig{
			Threads: stressThreads,
			Objects: stressObjects,
			Timeout: timeout,
		})
		s.timer.End(idx, fmt.Sprintf("%d threads x %d objects", stressThreads, stressObjects))
		if perr := ps.Stop(); perr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "profile: %v\n", perr)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %d threads, %d cells each, %d counted in %s\n",
			labelColor.Sprint("stress:"), rep.Threads, rep.Objects, rep.Counter, rep.Elapsed.Round(time.Microsecond))
		fmt.Fprintf(out, "%s %d bytes live before collection, %d after\n", labelColor.Sprint("heap:"), rep.LiveBefore, rep.LiveAfter)
		fmt.Fprintf(out, "%s %d collections, %d blocks freed, %d finalized\n", labelColor.Sprint("gc:"), rep.Collections, rep.FreedBlocks, rep.Finalized)
		return nil
	},
}
