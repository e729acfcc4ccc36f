package gc

import "fmt"

// Kind is the allocation tag handed to the collector. It selects the
// scanning policy the mark phase applies to a block.
type Kind uint8

const (
	// PtrFree blocks hold no references and are never scanned.
	PtrFree Kind = iota
	// Normal blocks are scanned conservatively, word by word.
	Normal

	firstUserKind
)

// MarkProc reports the references held by the block at addr.
// It runs with the world stopped and must not allocate.
type MarkProc func(addr Address, ms *MarkStack)

type kindInfo struct {
	name string
	mark MarkProc
}

// NewKind registers a kind scanned by mark and returns its index.
func (h *Heap) NewKind(name string, mark MarkProc) Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	if mark == nil {
		panic(fmt.Sprintf("gc: kind %q registered without a mark procedure", name))
	}
	if len(h.kinds) >= 255 {
		panic("gc: too many allocation kinds")
	}
	h.kinds = append(h.kinds, kindInfo{name: name, mark: mark})
	return Kind(len(h.kinds) - 1)
}

// KindName returns the registered name of k.
func (h *Heap) KindName(k Kind) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kindNameLocked(k)
}

func (h *Heap) kindNameLocked(k Kind) string {
	if int(k) >= len(h.kinds) {
		return fmt.Sprintf("kind#%d", k)
	}
	return h.kinds[k].name
}
