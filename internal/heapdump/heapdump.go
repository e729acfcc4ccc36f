// Package heapdump captures the live blocks of a runtime heap and stores
// them as msgpack.
package heapdump

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"gcjrt/internal/gc"
	"gcjrt/internal/rt"
)

// SchemaVersion is bumped whenever Snapshot changes shape.
const SchemaVersion uint16 = 1

// ErrSchema is returned by Decode for snapshots written by another version.
var ErrSchema = errors.New("unsupported heap snapshot schema")

// Snapshot is one capture of the heap.
type Snapshot struct {
	Schema uint16

	HeapBytes uint64
	MaxBytes  uint64
	Classes   int

	Stats   Stats
	Threads []Thread
	Blocks  []Block
}

// Stats copies the collector counters at capture time.
type Stats struct {
	Allocs      uint64
	Collections uint64
	FreedBlocks uint64
	FreedBytes  uint64
	Finalized   uint64
}

// Thread records one managed thread.
type Thread struct {
	Name     string
	State    string
	Priority int
	Attached bool
}

// Block records one live heap block.
type Block struct {
	Addr  uint64
	Kind  string
	Size  uint64
	Class string // empty for untyped blocks
	Refs  []uint64
}

// Capture walks every live block of r. Callers should quiesce the runtime
// first; blocks freed mid-walk are skipped.
func Capture(r *rt.Runtime) Snapshot {
	h := r.Heap()
	st := h.Stats()
	s := Snapshot{
		Schema:    SchemaVersion,
		HeapBytes: st.LiveBytes,
		MaxBytes:  h.MaxBytes(),
		Classes:   r.ClassCount(),
		Stats: Stats{
			Allocs:      st.Allocs,
			Collections: st.Collections,
			FreedBlocks: st.FreedBlocks,
			FreedBytes:  st.FreedBytes,
			Finalized:   st.Finalized,
		},
	}
	for _, th := range r.Threads() {
		s.Threads = append(s.Threads, Thread{
			Name:     th.Name(),
			State:    th.State().String(),
			Priority: r.Priority(th),
			Attached: th.Attached(),
		})
	}

	for _, b := range h.Blocks() {
		if !h.Contains(b.Addr) {
			continue
		}
		rec := Block{Addr: uint64(b.Addr), Kind: b.KindName, Size: b.Size}
		if b.Kind == r.ObjectKind() || b.Kind == r.ArrayKind() {
			if c := r.ClassOf(b.Addr); c != nil {
				rec.Class = c.String()
			}
		}
		for _, ref := range h.Scan(b.Addr) {
			if h.Contains(ref) {
				rec.Refs = append(rec.Refs, uint64(ref))
			}
		}
		s.Blocks = append(s.Blocks, rec)
	}
	return s
}

// Encode writes s to w.
func Encode(w io.Writer, s Snapshot) error {
	if err := msgpack.NewEncoder(w).Encode(&s); err != nil {
		return fmt.Errorf("failed to encode heap snapshot: %w", err)
	}
	return nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode heap snapshot: %w", err)
	}
	if s.Schema != SchemaVersion {
		return Snapshot{}, fmt.Errorf("%w: got %d, want %d", ErrSchema, s.Schema, SchemaVersion)
	}
	return s, nil
}

// ClassSummary aggregates the blocks of one class.
type ClassSummary struct {
	Class  string
	Blocks int
	Bytes  uint64
}

// Summary groups blocks by class, untyped blocks by kind in brackets. The
// result is ordered by bytes, largest first, then by name.
func Summary(s Snapshot) []ClassSummary {
	byName := make(map[string]*ClassSummary)
	for _, b := range s.Blocks {
		name := b.Class
		if name == "" {
			name = "<" + b.Kind + ">"
		}
		cs := byName[name]
		if cs == nil {
			cs = &ClassSummary{Class: name}
			byName[name] = cs
		}
		cs.Blocks++
		cs.Bytes += b.Size
	}
	out := make([]ClassSummary, 0, len(byName))
	for _, cs := range byName {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// Referrers returns the addresses of blocks holding a reference into addr.
func Referrers(s Snapshot, addr gc.Address) []uint64 {
	var out []uint64
	for _, b := range s.Blocks {
		for _, ref := range b.Refs {
			if ref == uint64(addr) {
				out = append(out, b.Addr)
				break
			}
		}
	}
	return out
}
