package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gcjrt/internal/config"
	"gcjrt/internal/observ"
	"gcjrt/internal/rt"
	"gcjrt/internal/trace"
)

// session holds what every runtime-driving command needs.
type session struct {
	cfg     config.Config
	opts    rt.Options
	timer   *observ.Timer
	timings bool
	beat    *trace.Heartbeat
	cleanup func()
}

// openSession loads the configuration, sets up tracing and returns runtime
// options wired to the tracer. Call close when done.
func openSession(cmd *cobra.Command) (*session, error) {
	flags := cmd.Root().PersistentFlags()
	path, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var cfg config.Config
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Discover(".")
	}
	if err != nil {
		return nil, err
	}

	timings, err := flags.GetBool("timings")
	if err != nil {
		return nil, fmt.Errorf("failed to get timings flag: %w", err)
	}

	tracer, beat, cleanup, err := setupTracing(cmd, cfg.Trace)
	if err != nil {
		return nil, err
	}
	opts := cfg.RuntimeOptions()
	opts.Tracer = tracer
	opts.CrashOutput = cmd.ErrOrStderr()
	return &session{cfg: cfg, opts: opts, timer: observ.NewTimer(), timings: timings, beat: beat, cleanup: cleanup}, nil
}

// newRuntime starts a runtime and attaches the calling goroutine as main.
func (s *session) newRuntime() (*rt.Runtime, *rt.Thread, error) {
	r, err := rt.New(s.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start runtime: %w", err)
	}
	s.beat.SetStatus(func() string { return threadStatus(r) })
	return r, r.AttachThread("main"), nil
}

// threadStatus summarizes threads that are not running, so a stalled
// join or sleep shows up in heartbeat events.
func threadStatus(r *rt.Runtime) string {
	var live, joining, sleeping int
	for _, th := range r.Threads() {
		switch th.State() {
		case rt.ThreadTerminated:
			continue
		case rt.ThreadWaitingJoin:
			joining++
		case rt.ThreadSleeping:
			sleeping++
		}
		live++
	}
	return fmt.Sprintf("threads=%d joining=%d sleeping=%d", live, joining, sleeping)
}

func (s *session) close(out io.Writer) {
	if s.timings {
		fmt.Fprint(out, s.timer.Summary())
	}
	s.cleanup()
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
