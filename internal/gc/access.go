package gc

import "encoding/binary"

func (h *Heap) slice(addr Address, width int) ([]byte, error) {
	if addr == Null {
		return nil, ErrNull
	}
	b := h.find(addr)
	if b == nil {
		return nil, &AccessError{Addr: addr, Width: width, Why: "not inside a live block"}
	}
	off := int(addr - b.addr)
	if width < 0 || off+width > len(b.data) {
		return nil, &AccessError{Addr: addr, Width: width, Why: "past end of block"}
	}
	return b.data[off : off+width], nil
}

// LoadWord reads the reference-sized word at addr.
func (h *Heap) LoadWord(addr Address) (Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, WordSize)
	if err != nil {
		return Null, err
	}
	return Address(binary.LittleEndian.Uint64(p)), nil
}

// StoreWord writes a reference-sized word at addr.
func (h *Heap) StoreWord(addr, val Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, WordSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p, uint64(val))
	return nil
}

// LoadUint reads an unsigned little-endian value of width 1, 2, 4 or 8.
func (h *Heap) LoadUint(addr Address, width int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(p)), nil
	case 8:
		return binary.LittleEndian.Uint64(p), nil
	}
	return 0, &AccessError{Addr: addr, Width: width, Why: "unsupported width"}
}

// StoreUint writes the low width bytes of v at addr.
func (h *Heap) StoreUint(addr Address, width int, v uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, width)
	if err != nil {
		return err
	}
	switch width {
	case 1:
		p[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(p, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(p, v)
	default:
		return &AccessError{Addr: addr, Width: width, Why: "unsupported width"}
	}
	return nil
}

// LoadBytes copies n bytes starting at addr.
func (h *Heap) LoadBytes(addr Address, n int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}

// StoreBytes copies data into memory starting at addr.
func (h *Heap) StoreBytes(addr Address, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, len(data))
	if err != nil {
		return err
	}
	copy(p, data)
	return nil
}

// CompareAndSwapWord stores val at addr if it currently holds old.
func (h *Heap) CompareAndSwapWord(addr, old, val Address) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.slice(addr, WordSize)
	if err != nil {
		return false, err
	}
	if Address(binary.LittleEndian.Uint64(p)) != old {
		return false, nil
	}
	binary.LittleEndian.PutUint64(p, uint64(val))
	return true, nil
}
