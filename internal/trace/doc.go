// Package trace provides a tracing subsystem for the gcjrt runtime.
//
// The trace package records runtime lifecycle, collection cycles, thread
// transitions and throws to help diagnose hangs and heap growth.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	gcjrt stress --trace=- --trace-level=detail
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: Zero-overhead no-op tracer when disabled
//   - StreamTracer: Immediate write to output (file/stderr)
//   - RingTracer: Circular buffer for crash dumps
//   - MultiTracer: Combines multiple tracers
//
// # Levels
//
//   - LevelOff: No tracing
//   - LevelError: Only crash dumps
//   - LevelPhase: Runtime and collector boundaries
//   - LevelDetail: Thread transitions
//   - LevelDebug: Everything including single allocations and throws
//
// # Scopes
//
//   - ScopeRuntime: init, shutdown, fatal failures
//   - ScopeCollector: collection cycles, finalizer runs
//   - ScopeThread: start, finish, sleep, join, interrupt
//   - ScopeObject: allocations, throws, catches
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeCollector, "gc", 0)
//	defer span.End("")
package trace
