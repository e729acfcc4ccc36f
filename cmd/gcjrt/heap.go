package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"gcjrt/internal/heapdump"
	"gcjrt/internal/workload"
)

var heapCmd = &cobra.Command{
	Use:   "heap",
	Short: "Capture and inspect heap snapshots",
}

var (
	heapDumpOut     string
	heapDumpObjects int
	heapInspectTop  int
)

func init() {
	heapDumpCmd.Flags().StringVarP(&heapDumpOut, "out", "o", "heap.msgpack", "snapshot file (- for stdout)")
	heapDumpCmd.Flags().IntVar(&heapDumpObjects, "objects", 255, "tree nodes to allocate before capturing")
	heapInspectCmd.Flags().IntVar(&heapInspectTop, "top", 0, "show only the N largest classes (0 shows all)")

	heapCmd.AddCommand(heapDumpCmd)
	heapCmd.AddCommand(heapInspectCmd)
}

var heapDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Populate a fresh runtime and write a heap snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(cmd.ErrOrStderr())

		r, mainTh, err := s.newRuntime()
		if err != nil {
			return err
		}
		defer r.Shutdown()

		idx := s.timer.Begin("populate")
		if _, err := workload.PopulateHeap(r, mainTh, heapDumpObjects); err != nil {
			return err
		}
		s.timer.End(idx, fmt.Sprintf("%d nodes", heapDumpObjects))

		idx = s.timer.Begin("capture")
		snap := heapdump.Capture(r)
		s.timer.End(idx, fmt.Sprintf("%d blocks", len(snap.Blocks)))

		w, err := openOutput(heapDumpOut)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := w.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		idx = s.timer.Begin("encode")
		err = heapdump.Encode(w, snap)
		s.timer.End(idx, "")
		if err != nil {
			return err
		}
		if heapDumpOut != "-" && heapDumpOut != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d blocks (%d bytes live) to %s\n", len(snap.Blocks), snap.HeapBytes, heapDumpOut)
		}
		return nil
	},
}

var heapInspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarise a heap snapshot by class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		snap, err := heapdump.Decode(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		rows := heapdump.Summary(snap)
		if heapInspectTop > 0 && heapInspectTop < len(rows) {
			rows = rows[:heapInspectTop]
		}
		printSummary(cmd.OutOrStdout(), snap, rows)
		return nil
	},
}

func printSummary(out io.Writer, snap heapdump.Snapshot, rows []heapdump.ClassSummary) {
	width := runewidth.StringWidth("class")
	for _, row := range rows {
		width = max(width, runewidth.StringWidth(row.Class))
	}

	fmt.Fprintf(out, "%s %d of %d bytes live, %d classes loaded, %d collections\n",
		labelColor.Sprint("heap:"), snap.HeapBytes, snap.MaxBytes, snap.Classes, snap.Stats.Collections)
	fmt.Fprintf(out, "%s %8s %10s\n", runewidth.FillRight("class", width), "blocks", "bytes")
	for _, row := range rows {
		fmt.Fprintf(out, "%s %8d %10d\n", runewidth.FillRight(row.Class, width), row.Blocks, row.Bytes)
	}
	if len(snap.Threads) > 0 {
		fmt.Fprintln(out)
		for _, th := range snap.Threads {
			fmt.Fprintf(out, "%s %s %s priority %d\n", labelColor.Sprint("thread:"), runewidth.Truncate(th.Name, 32, "..."), th.State, th.Priority)
		}
	}
}
