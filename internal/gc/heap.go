package gc

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"fortio.org/safecast"

	"gcjrt/internal/trace"
)

// Address is a location in the collector's address space. Null is never a
// valid block address.
type Address uint64

// Null is the null reference.
const Null Address = 0

// WordSize is the size of a reference slot in bytes.
const WordSize = 8

// heapBase is the first address handed out. Small integers stored in
// reference-sized slots therefore never look like heap pointers.
const heapBase Address = 0x10000

// String renders the address in hex.
func (a Address) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// IsNull reports whether a is the null reference.
func (a Address) IsNull() bool { return a == Null }

type block struct {
	addr      Address
	data      []byte
	kind      Kind
	marked    bool
	pins      int
	finalizer func(Address)
}

func (b *block) end() Address {
	return b.addr + Address(len(b.data))
}

// Options configures a Heap.
type Options struct {
	// MaxBytes is the ceiling on live bytes. Allocations that would exceed
	// it after a collection fail.
	MaxBytes uint64
	// CollectThreshold triggers a collection once this many bytes were
	// allocated since the previous one. Zero disables automatic collection.
	CollectThreshold uint64
	Tracer           trace.Tracer
}

// DefaultMaxBytes is used when Options.MaxBytes is zero.
const DefaultMaxBytes = 64 << 20

// Heap is the collector. The zero value is not usable; call NewHeap.
type Heap struct {
	mu sync.Mutex

	kinds  []kindInfo
	blocks []*block // sorted by addr
	next   Address

	live      uint64
	sinceGC   uint64
	maxBytes  uint64
	threshold uint64

	scanners    []func(*MarkStack)
	finalizable []pendingFinalizer
	freeHooks   []func(Address)

	stats  Stats
	tracer trace.Tracer
	closed bool
}

// NewHeap creates an empty heap with the PtrFree and Normal kinds registered.
func NewHeap(opts Options) *Heap {
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Heap{
		kinds: []kindInfo{
			PtrFree: {name: "ptrfree"},
			Normal:  {name: "normal"},
		},
		next:      heapBase,
		maxBytes:  maxBytes,
		threshold: opts.CollectThreshold,
		tracer:    trace.OrNop(opts.Tracer),
	}
}

func roundWord(size uint64) (uint64, bool) {
	if size == 0 {
		return WordSize, true
	}
	r := (size + WordSize - 1) &^ (WordSize - 1)
	return r, r >= size
}

// Alloc returns a zeroed block of at least size bytes tagged with kind, or
// Null when the request cannot be satisfied even after a collection.
func (h *Heap) Alloc(kind Kind, size uint64) Address {
	return h.alloc(kind, size, 0)
}

// AllocPinned is Alloc with the result pinned once. The caller owns the pin
// and releases it with Unpin once the block is reachable some other way.
func (h *Heap) AllocPinned(kind Kind, size uint64) Address {
	return h.alloc(kind, size, 1)
}

func (h *Heap) alloc(kind Kind, size uint64, pins int) Address {
	h.mu.Lock()
	addr, freed := h.allocLocked(kind, size, pins)
	h.mu.Unlock()
	h.runFreeHooks(freed)
	return addr
}

func (h *Heap) allocLocked(kind Kind, size uint64, pins int) (Address, []Address) {
	if h.closed {
		return Null, nil
	}
	if int(kind) >= len(h.kinds) {
		panic(fmt.Errorf("%w: %d", ErrUnknownKind, kind))
	}
	rounded, ok := roundWord(size)
	if !ok || rounded > h.maxBytes {
		h.stats.FailedAllocs++
		return Null, nil
	}
	n, err := safecast.Conv[int](rounded)
	if err != nil {
		h.stats.FailedAllocs++
		return Null, nil
	}

	var freed []Address
	if h.threshold > 0 && h.sinceGC >= h.threshold {
		freed = h.collectLocked("threshold")
	}
	if h.live+rounded > h.maxBytes {
		freed = append(freed, h.collectLocked("pressure")...)
		if h.live+rounded > h.maxBytes {
			h.stats.FailedAllocs++
			return Null, freed
		}
	}

	b := &block{
		addr: h.next,
		data: make([]byte, n),
		kind: kind,
		pins: pins,
	}
	// leave one unused word between blocks so an end pointer never aliases
	// the next block's base
	h.next += Address(rounded) + WordSize
	h.blocks = append(h.blocks, b)
	h.live += rounded
	h.sinceGC += rounded
	h.stats.Allocs++
	h.stats.AllocatedBytes += rounded
	return b.addr, freed
}

// find returns the block containing addr, including interior addresses.
func (h *Heap) find(addr Address) *block {
	if addr < heapBase || addr >= h.next {
		return nil
	}
	i := sort.Search(len(h.blocks), func(i int) bool {
		return h.blocks[i].end() > addr
	})
	if i == len(h.blocks) {
		return nil
	}
	b := h.blocks[i]
	if addr < b.addr {
		return nil
	}
	return b
}

// base returns the block whose base address is exactly addr.
func (h *Heap) base(addr Address) *block {
	b := h.find(addr)
	if b == nil || b.addr != addr {
		return nil
	}
	return b
}

// Contains reports whether addr is the base of a live block.
func (h *Heap) Contains(addr Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.base(addr) != nil
}

// KindOf returns the kind of the block based at addr.
func (h *Heap) KindOf(addr Address) (Kind, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return 0, false
	}
	return b.kind, true
}

// SizeOf returns the usable size of the block based at addr.
func (h *Heap) SizeOf(addr Address) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return 0, false
	}
	return uint64(len(b.data)), true
}

// Pin makes the block at addr a root until a matching Unpin.
func (h *Heap) Pin(addr Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return &AccessError{Addr: addr, Why: "pin of unknown block"}
	}
	b.pins++
	return nil
}

// Unpin releases one pin taken by Pin or AllocPinned.
func (h *Heap) Unpin(addr Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.base(addr)
	if b == nil {
		return &AccessError{Addr: addr, Why: "unpin of unknown block"}
	}
	if b.pins == 0 {
		return &AccessError{Addr: addr, Why: "unpin of unpinned block"}
	}
	b.pins--
	return nil
}

// AddRootScanner registers fn to push roots at the start of every mark
// phase. fn runs with the heap locked and must only push.
func (h *Heap) AddRootScanner(fn func(*MarkStack)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scanners = append(h.scanners, fn)
}

// OnFree registers fn to be told about every block the sweep releases.
// Hooks run after the heap lock is dropped.
func (h *Heap) OnFree(fn func(Address)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeHooks = append(h.freeHooks, fn)
}

func (h *Heap) runFreeHooks(freed []Address) {
	if len(freed) == 0 {
		return
	}
	h.mu.Lock()
	hooks := slices.Clone(h.freeHooks)
	h.mu.Unlock()
	for _, addr := range freed {
		for _, fn := range hooks {
			fn(addr)
		}
	}
}

// HeapSize returns the number of bytes held by live blocks.
func (h *Heap) HeapSize() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// FreeBytes returns how many more bytes can be allocated before the
// ceiling is reached.
func (h *Heap) FreeBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxBytes - h.live
}

// MaxBytes returns the configured ceiling.
func (h *Heap) MaxBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxBytes
}

// BlockInfo describes one live block.
type BlockInfo struct {
	Addr        Address
	Size        uint64
	Kind        Kind
	KindName    string
	Pins        int
	Finalizable bool
}

// Blocks returns a snapshot of all live blocks in address order.
func (h *Heap) Blocks() []BlockInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]BlockInfo, 0, len(h.blocks))
	for _, b := range h.blocks {
		out = append(out, BlockInfo{
			Addr:        b.addr,
			Size:        uint64(len(b.data)),
			Kind:        b.kind,
			KindName:    h.kindNameLocked(b.kind),
			Pins:        b.pins,
			Finalizable: b.finalizer != nil,
		})
	}
	return out
}

// Close releases every block without running finalizers. Later
// allocations return Null.
func (h *Heap) Close() {
	h.mu.Lock()
	freed := make([]Address, 0, len(h.blocks))
	for _, b := range h.blocks {
		freed = append(freed, b.addr)
	}
	h.blocks = nil
	h.finalizable = nil
	h.live = 0
	h.closed = true
	h.mu.Unlock()
	h.runFreeHooks(freed)
}
