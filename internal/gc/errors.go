package gc

import (
	"errors"
	"fmt"
)

var (
	// ErrNull is returned for accesses through the null address.
	ErrNull = errors.New("gc: null address")
	// ErrUnknownKind is returned for allocations with an unregistered kind.
	ErrUnknownKind = errors.New("gc: unknown allocation kind")
)

// AccessError describes an out-of-range or dangling memory access.
type AccessError struct {
	Addr  Address
	Width int
	Why   string
}

func (e *AccessError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("gc: invalid %d-byte access at %s: %s", e.Width, e.Addr, e.Why)
}
