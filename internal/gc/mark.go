package gc

import (
	"encoding/binary"
	"strconv"
	"time"

	"gcjrt/internal/trace"
)

// MarkStack is the work list of a mark phase. Mark procedures and root
// scanners report references through it.
type MarkStack struct {
	h      *Heap
	work   []*block
	record func(Address)
	pushed uint64
}

// Push reports word as a possible reference. Words that do not land inside
// a live block are ignored; interior pointers mark the containing block.
func (ms *MarkStack) Push(word Address) {
	if ms.record != nil {
		if word != Null {
			ms.record(word)
		}
		return
	}
	ms.pushed++
	b := ms.h.find(word)
	if b == nil || b.marked {
		return
	}
	b.marked = true
	ms.work = append(ms.work, b)
}

// PushSlot reads the word stored at addr and pushes it.
func (ms *MarkStack) PushSlot(addr Address) {
	ms.Push(ms.Load(addr))
}

// Load returns the word stored at addr, or Null if addr is not a valid
// word inside a live block. It is the only memory access permitted inside
// a mark procedure.
func (ms *MarkStack) Load(addr Address) Address {
	b := ms.h.find(addr)
	if b == nil {
		return Null
	}
	off := int(addr - b.addr)
	if off+WordSize > len(b.data) {
		return Null
	}
	return Address(binary.LittleEndian.Uint64(b.data[off:]))
}

// Load32 returns the 32-bit value stored at addr, or 0 if out of range.
func (ms *MarkStack) Load32(addr Address) uint32 {
	b := ms.h.find(addr)
	if b == nil {
		return 0
	}
	off := int(addr - b.addr)
	if off+4 > len(b.data) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[off:])
}

func (ms *MarkStack) drain() {
	for len(ms.work) > 0 {
		b := ms.work[len(ms.work)-1]
		ms.work = ms.work[:len(ms.work)-1]
		ms.h.scanBlock(b, ms)
	}
}

func (h *Heap) scanBlock(b *block, ms *MarkStack) {
	switch b.kind {
	case PtrFree:
	case Normal:
		for off := 0; off+WordSize <= len(b.data); off += WordSize {
			ms.Push(Address(binary.LittleEndian.Uint64(b.data[off:])))
		}
	default:
		if mark := h.kinds[b.kind].mark; mark != nil {
			mark(b.addr, ms)
		}
	}
}

// Scan runs the scanning policy of the block at addr and returns the
// non-null words it reported, without marking anything.
func (h *Heap) Scan(addr Address) []Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return nil
	}
	var out []Address
	ms := &MarkStack{h: h, record: func(a Address) { out = append(out, a) }}
	h.scanBlock(b, ms)
	return out
}

// Collect runs a full stop-the-world collection.
func (h *Heap) Collect() {
	h.mu.Lock()
	freed := h.collectLocked("explicit")
	h.mu.Unlock()
	h.runFreeHooks(freed)
}

func (h *Heap) collectLocked(reason string) []Address {
	span := trace.Begin(h.tracer, trace.ScopeCollector, "collect", 0)
	start := time.Now()
	before := h.live

	for _, b := range h.blocks {
		b.marked = false
	}
	ms := &MarkStack{h: h}
	for _, b := range h.blocks {
		if b.pins > 0 {
			ms.Push(b.addr)
		}
	}
	for _, p := range h.finalizable {
		ms.Push(p.addr)
	}
	for _, scan := range h.scanners {
		scan(ms)
	}
	ms.drain()

	// Unreachable blocks with finalizers survive this cycle so their
	// finalizer can still see them, along with everything they reference.
	resurrected := 0
	for _, b := range h.blocks {
		if b.marked || b.finalizer == nil {
			continue
		}
		h.finalizable = append(h.finalizable, pendingFinalizer{addr: b.addr, fn: b.finalizer})
		b.finalizer = nil
		b.marked = true
		ms.work = append(ms.work, b)
		resurrected++
	}
	ms.drain()

	freed := h.sweepLocked()

	h.sinceGC = 0
	h.stats.Collections++
	h.stats.FreedBlocks += uint64(len(freed))
	h.stats.FreedBytes += before - h.live
	h.stats.LastPause = time.Since(start)

	span.WithExtra("reason", reason).
		WithExtra("freed", strconv.Itoa(len(freed))).
		WithExtra("queued", strconv.Itoa(resurrected)).
		WithExtra("live", strconv.FormatUint(h.live, 10)).
		End("")
	return freed
}

func (h *Heap) sweepLocked() []Address {
	var freed []Address
	kept := h.blocks[:0]
	for _, b := range h.blocks {
		if b.marked {
			kept = append(kept, b)
			continue
		}
		freed = append(freed, b.addr)
		h.live -= uint64(len(b.data))
	}
	for i := len(kept); i < len(h.blocks); i++ {
		h.blocks[i] = nil
	}
	h.blocks = kept
	return freed
}

// Stats are cumulative collector counters.
type Stats struct {
	Allocs         uint64
	AllocatedBytes uint64
	FailedAllocs   uint64
	Collections    uint64
	FreedBlocks    uint64
	FreedBytes     uint64
	Finalized      uint64
	LastPause      time.Duration
	LiveBlocks     int
	LiveBytes      uint64
}

// Stats returns a copy of the collector counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.LiveBlocks = len(h.blocks)
	s.LiveBytes = h.live
	return s
}
