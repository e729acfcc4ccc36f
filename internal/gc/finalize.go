package gc

import (
	"strconv"

	"gcjrt/internal/trace"
)

type pendingFinalizer struct {
	addr Address
	fn   func(Address)
}

// RegisterFinalizer arranges for fn to run once the block at addr becomes
// unreachable. A nil fn removes any registered finalizer. Finalizers are
// unordered: a finalizable block reachable only from another finalizable
// block may be finalized in the same cycle.
func (h *Heap) RegisterFinalizer(addr Address, fn func(Address)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return &AccessError{Addr: addr, Why: "finalizer for unknown block"}
	}
	b.finalizer = fn
	return nil
}

// HasFinalizer reports whether a finalizer is registered for addr and has
// not yet been queued.
func (h *Heap) HasFinalizer(addr Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	return b != nil && b.finalizer != nil
}

// PendingFinalizers returns the number of queued finalizers.
func (h *Heap) PendingFinalizers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.finalizable)
}

// RunFinalizers runs every queued finalizer without holding the heap lock
// and returns how many ran. Finalized blocks stay alive until the next
// collection finds them unreachable.
func (h *Heap) RunFinalizers() int {
	h.mu.Lock()
	queue := h.finalizable
	h.finalizable = nil
	h.mu.Unlock()

	if len(queue) == 0 {
		return 0
	}
	span := trace.Begin(h.tracer, trace.ScopeCollector, "finalize", 0)
	for _, p := range queue {
		p.fn(p.addr)
	}
	h.mu.Lock()
	h.stats.Finalized += uint64(len(queue))
	h.mu.Unlock()
	span.WithExtra("count", strconv.Itoa(len(queue))).End("")
	return len(queue)
}

// FinalizeAll queues every registered finalizer regardless of
// reachability and runs the queue.
func (h *Heap) FinalizeAll() int {
	h.mu.Lock()
	for _, b := range h.blocks {
		if b.finalizer == nil {
			continue
		}
		h.finalizable = append(h.finalizable, pendingFinalizer{addr: b.addr, fn: b.finalizer})
		b.finalizer = nil
	}
	h.mu.Unlock()
	return h.RunFinalizers()
}
