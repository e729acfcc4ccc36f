package rt

import (
	"errors"
	"fmt"
)

// FatalCode identifies an internal-consistency failure.
type FatalCode int

// Stable fatal codes - do not change values.
const (
	FatalDoubleThrow     FatalCode = 1001 // RT1001: throw while an exception is already in flight
	FatalNothingInFlight FatalCode = 1002 // RT1002: fetch with no exception in flight
	FatalNoExceptionInfo FatalCode = 1003 // RT1003: fetch on a thread that never threw
	FatalJoinerMissing   FatalCode = 1004 // RT1004: joiner not found in the target's list
	FatalWaitReentered   FatalCode = 1005 // RT1005: sleep and join on one thread at once
	FatalBadTypeCode     FatalCode = 1006 // RT1006: unknown primitive array type code
	FatalHeapCorrupt     FatalCode = 1007 // RT1007: header word points at something unexpected
	FatalBootstrap       FatalCode = 1008 // RT1008: core class missing or malformed
	FatalRuntimeClosed   FatalCode = 1009 // RT1009: use after Shutdown
	FatalNoThread        FatalCode = 1010 // RT1010: managed operation without a thread
)

// String returns the code as "RT1001" format.
func (c FatalCode) String() string {
	return fmt.Sprintf("RT%d", c)
}

// FatalError is raised by Runtime.Abort. It is never delivered to managed
// handlers.
type FatalError struct {
	Code    FatalCode
	Message string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s: %s", e.Code, e.Message)
}

var (
	// ErrClassExists is returned when a class name is defined twice.
	ErrClassExists = errors.New("class already defined")
	// ErrClassNotFound is returned by lookups of undefined classes.
	ErrClassNotFound = errors.New("class not found")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("runtime is shut down")
)

// ClassErrorKind enumerates class definition failures.
type ClassErrorKind uint8

const (
	ClassErrNoName ClassErrorKind = iota + 1
	ClassErrNoSuper
	ClassErrFinalSuper
	ClassErrInterfaceSuper
	ClassErrNotInterface
	ClassErrFieldType
	ClassErrDuplicateField
	ClassErrBadSignature
	ClassErrOutOfMemory
)

// ClassError describes a DefineClass failure.
type ClassError struct {
	Kind  ClassErrorKind
	Class string
	Name  string // offending field, method or interface
	Err   error
}

func (e *ClassError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ClassErrNoName:
		return "class definition without a name"
	case ClassErrNoSuper:
		return fmt.Sprintf("class %s: missing superclass", e.Class)
	case ClassErrFinalSuper:
		return fmt.Sprintf("class %s: cannot extend final class %s", e.Class, e.Name)
	case ClassErrInterfaceSuper:
		return fmt.Sprintf("class %s: superclass %s is an interface", e.Class, e.Name)
	case ClassErrNotInterface:
		return fmt.Sprintf("class %s: %s is not an interface", e.Class, e.Name)
	case ClassErrFieldType:
		return fmt.Sprintf("class %s: field %s has no type", e.Class, e.Name)
	case ClassErrDuplicateField:
		return fmt.Sprintf("class %s: duplicate field %s", e.Class, e.Name)
	case ClassErrBadSignature:
		return fmt.Sprintf("class %s: bad signature %q", e.Class, e.Name)
	case ClassErrOutOfMemory:
		return fmt.Sprintf("class %s: out of memory", e.Class)
	default:
		return fmt.Sprintf("class %s: definition error kind=%d", e.Class, e.Kind)
	}
}

func (e *ClassError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
