package natthread

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Group owns a set of native threads so they can be waited on together.
type Group struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

// Thread is a native thread handle.
type Thread struct {
	name     string
	priority atomic.Int32
	done     chan struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewThread returns a handle that has not started running.
func NewThread(name string, priority int) *Thread {
	t := &Thread{name: name, done: make(chan struct{})}
	t.priority.Store(int32(clampPriority(priority)))
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// Create starts entry(arg) on t inside g.
func (g *Group) Create(t *Thread, entry func(arg any), arg any) {
	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer func() {
			g.running.Add(-1)
			close(t.done)
			t.mu.Lock()
			t.cancel()
			t.mu.Unlock()
			g.wg.Done()
		}()
		entry(arg)
	}()
}

// WaitAll blocks until every thread created in g has returned.
func (g *Group) WaitAll() {
	g.wg.Wait()
}

// Running returns the number of threads in g that have not returned.
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Name returns the name given at construction.
func (t *Thread) Name() string { return t.name }

// Done is closed when the thread's entry point returns.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Wait blocks until the thread's entry point returns.
func (t *Thread) Wait() { <-t.done }

// SetPriority records a scheduling hint. Goroutines have no priorities, so
// the value only affects Priority.
func (t *Thread) SetPriority(p int) {
	t.priority.Store(int32(clampPriority(p)))
}

// Priority returns the last recorded priority.
func (t *Thread) Priority() int {
	return int(t.priority.Load())
}

// Context is canceled by Interrupt. Blocking calls made on behalf of the
// thread outside the runtime's own waits should select on it.
func (t *Thread) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// Interrupt cancels the thread's current context.
func (t *Thread) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
}

// ClearInterrupt replaces a canceled context with a fresh one. It is a
// no-op for a thread that has finished.
func (t *Thread) ClearInterrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() == nil {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
}

// Yield lets other goroutines run.
func Yield() {
	runtime.Gosched()
}

func clampPriority(p int) int {
	const lo, hi = -1 << 15, 1<<15 - 1
	switch {
	case p < lo:
		return lo
	case p > hi:
		return hi
	}
	return p
}
