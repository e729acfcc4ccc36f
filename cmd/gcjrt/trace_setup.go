package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gcjrt/internal/config"
	"gcjrt/internal/trace"
)

// setupTracing merges the trace flags over the [trace] section of cfg and
// attaches the resulting tracer to the command context. It returns the
// heartbeat, nil when disabled, and a cleanup function.
func setupTracing(cmd *cobra.Command, cfg config.TraceConfig) (trace.Tracer, *trace.Heartbeat, func(), error) {
	flags := cmd.Root().PersistentFlags()

	traceOutput := ""
	if cfg.Output != "" && cfg.Level != "off" && cfg.Level != "" {
		traceOutput = cfg.Output
	}
	if flags.Changed("trace") {
		v, err := flags.GetString("trace")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get trace flag: %w", err)
		}
		traceOutput = v
	}

	levelStr := cfg.Level
	if flags.Changed("trace-level") || levelStr == "" {
		v, err := flags.GetString("trace-level")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get trace-level flag: %w", err)
		}
		levelStr = v
	}

	modeStr := cfg.Mode
	if flags.Changed("trace-mode") || modeStr == "" {
		v, err := flags.GetString("trace-mode")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
		}
		modeStr = v
	}

	formatStr := cfg.Format
	if flags.Changed("trace-format") || formatStr == "" {
		v, err := flags.GetString("trace-format")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get trace-format flag: %w", err)
		}
		formatStr = v
	}

	ringSize := cfg.RingSize
	if flags.Changed("trace-ring-size") || ringSize == 0 {
		v, err := flags.GetInt("trace-ring-size")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
		ringSize = v
	}

	heartbeatInterval, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid trace level: %w", err)
	}

	// --trace without a level means phase tracing
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelPhase
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return trace.Nop, func() {}, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid trace mode: %w", err)
	}

	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return nil, nil, nil, err
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
		Heartbeat:  heartbeatInterval,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	var heartbeat *trace.Heartbeat
	if heartbeatInterval > 0 {
		heartbeat = trace.StartHeartbeat(tracer, heartbeatInterval)
	}

	cleanup := func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return tracer, heartbeat, cleanup, nil
}
