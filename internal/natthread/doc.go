// Package natthread is the native threading layer the runtime is built on:
// goroutine-backed threads with a priority hint, a plain mutex and a
// condition variable whose wait is bounded by a (milliseconds, nanoseconds)
// pair.
//
// Signalling a condition variable nobody waits on does nothing. Waits may
// return early; callers re-check their own state after every wake.
package natthread
