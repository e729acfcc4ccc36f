package rt

import (
	"fmt"
	"unicode"
	"unicode/utf16"

	"gcjrt/internal/gc"
)

// Utf8Const is an interned name token. Its heap backing is a pointer-free
// block laid out as a 16-bit hash, a 16-bit byte length and the bytes.
type Utf8Const struct {
	addr gc.Address
	hash uint16
	s    string
}

// Addr returns the token's heap address.
func (u *Utf8Const) Addr() gc.Address { return u.addr }

// Hash returns the 16-bit name hash.
func (u *Utf8Const) Hash() uint16 { return u.hash }

func (u *Utf8Const) String() string { return u.s }

const maxUtf8Len = 0xFFFF

// HashUtf8 hashes s the way String.hashCode does, over UTF-16 code units,
// keeping the low 16 bits.
func HashUtf8(s string) uint16 {
	var h uint32
	for _, r := range s {
		if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
			h = 31*h + uint32(r1)
			h = 31*h + uint32(r2)
			continue
		}
		h = 31*h + uint32(r)
	}
	return uint16(h & 0xFFFF)
}

// MakeUtf8Const returns the interned token for s, allocating it on first use.
// Interned tokens live as long as the runtime.
func (rt *Runtime) MakeUtf8Const(s string) (*Utf8Const, error) {
	if v, ok := rt.utf8.Load(s); ok {
		return v.(*Utf8Const), nil
	}
	if len(s) > maxUtf8Len {
		return nil, fmt.Errorf("name token of %d bytes exceeds %d", len(s), maxUtf8Len)
	}
	addr := rt.heap.AllocPinned(gc.PtrFree, uint64(4+len(s)))
	if addr == gc.Null {
		return nil, fmt.Errorf("name token %q: out of memory", s)
	}
	defer rt.unpin(addr)

	u := &Utf8Const{addr: addr, hash: HashUtf8(s), s: s}
	buf := make([]byte, 4+len(s))
	buf[0], buf[1] = byte(u.hash), byte(u.hash>>8)
	buf[2], buf[3] = byte(len(s)), byte(len(s)>>8)
	copy(buf[4:], s)
	rt.must(rt.heap.StoreBytes(addr, buf))

	if prev, loaded := rt.utf8.LoadOrStore(s, u); loaded {
		return prev.(*Utf8Const), nil
	}
	rt.utf8ByAddr.Store(addr, u)
	return u, nil
}

func (rt *Runtime) mustUtf8(s string) *Utf8Const {
	u, err := rt.MakeUtf8Const(s)
	if err != nil {
		rt.Abort(FatalBootstrap, err.Error())
	}
	return u
}

// Utf8At returns the token whose backing starts at addr.
func (rt *Runtime) Utf8At(addr gc.Address) (*Utf8Const, bool) {
	v, ok := rt.utf8ByAddr.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*Utf8Const), true
}

// ReadUtf8 decodes a token directly from its heap backing.
func (rt *Runtime) ReadUtf8(addr gc.Address) (string, error) {
	hdr, err := rt.heap.LoadBytes(addr, 4)
	if err != nil {
		return "", err
	}
	n := int(hdr[2]) | int(hdr[3])<<8
	body, err := rt.heap.LoadBytes(addr+4, n)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// EqualUtf8Consts reports whether two tokens name the same string.
func EqualUtf8Consts(a, b *Utf8Const) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.hash != b.hash {
		return false
	}
	return a.s == b.s
}
