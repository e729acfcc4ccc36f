package rt

import (
	"strings"
	"sync/atomic"

	"gcjrt/internal/gc"
)

// Object and array header layout.
const (
	DispatchOffset    = 0
	SyncOffset        = 8
	ObjectHeaderSize  = 16
	ArrayLengthOffset = 16
	ArrayHeaderSize   = 24
)

// FinalizeSlot is the vtable slot holding finalize()V. Slot 0 is reserved.
const FinalizeSlot = 1

// vtable block: class, reserved word, then one method id per slot.
const vtableMethodsOffset = 2 * gc.WordSize

// Class object slots, stored after the object header.
const (
	classNextSlot = iota
	classNameSlot
	classFlagsSlot
	classSuperSlot
	classConstantsSlot
	classConstCountSlot
	classMethodsSlot // element class for arrays, array class for primitives
	classMethodCountSlot
	classFieldsSlot
	classFieldCountSlot
	classSizeSlot
	classVTableSlot
	classInterfacesSlot
	classIfaceCountSlot
	classLoaderSlot
	classStateSlot
	classThreadSlot
	classStaticsSlot
	classSlotCount
)

const (
	classObjectSize  = ObjectHeaderSize + classSlotCount*gc.WordSize
	fieldEntryWords  = 3
	methodEntryWords = 2
	fieldFlagsShift  = 56
)

func classSlot(i int) gc.Address {
	return gc.Address(ObjectHeaderSize + i*gc.WordSize)
}

// AccessFlags are class and method modifiers.
type AccessFlags uint16

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccInterface AccessFlags = 0x0200
	AccAbstract  AccessFlags = 0x0400
)

// ClassState is the initialization state of a class.
type ClassState uint32

const (
	StateLoaded ClassState = iota
	StateLinked
	StateInProgress
	StateDone
	StateError
)

func (s ClassState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLinked:
		return "linked"
	case StateInProgress:
		return "in-progress"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// FieldFlags mark static and reference-typed fields.
type FieldFlags uint8

const (
	FieldStatic FieldFlags = 1 << iota
	FieldRef
)

// Field describes one declared field. Immutable after layout.
type Field struct {
	Name   *Utf8Const
	Type   *Class
	Flags  FieldFlags
	Offset uint64 // within the instance, or within the statics block
	Class  *Class
}

// IsRef reports whether the field holds a managed reference.
func (f *Field) IsRef() bool { return f.Flags&FieldRef != 0 }

// IsStatic reports whether the field is a class variable.
func (f *Field) IsStatic() bool { return f.Flags&FieldStatic != 0 }

// Width returns the storage size of the field in bytes.
func (f *Field) Width() uint64 {
	if f.IsRef() {
		return gc.WordSize
	}
	return f.Type.elemSize
}

// MethodFunc is the Go body of a managed method.
type MethodFunc func(th *Thread, this gc.Address)

// Method describes a method. Index is its vtable slot, or -1 for static
// methods.
type Method struct {
	Name  *Utf8Const
	Sig   *Utf8Const
	Flags AccessFlags
	Impl  MethodFunc
	Class *Class
	Index int
	id    uint64
}

// VTable is a class's dispatch table. Its heap block holds the class
// address followed by one method id per slot.
type VTable struct {
	addr    gc.Address
	Class   *Class
	Methods []*Method
}

// Addr returns the table's heap address, the value stored in object
// dispatch words.
func (v *VTable) Addr() gc.Address { return v.addr }

// Slot returns the method in slot i, or nil.
func (v *VTable) Slot(i int) *Method {
	if v == nil || i < 0 || i >= len(v.Methods) {
		return nil
	}
	return v.Methods[i]
}

// ConstTag is the tag of a constant pool entry.
type ConstTag uint8

const (
	ConstUtf8 ConstTag = iota + 1
	ConstClass
	ConstInt
)

// Constant is one constant pool entry.
type Constant struct {
	Tag   ConstTag
	Utf8  string
	Class *Class
	Int   int64
}

// Class is a type descriptor. Its heap object is the descriptor seen by the
// collector; the Go struct mirrors it for lookups.
type Class struct {
	rt *Runtime

	addr       gc.Address
	Name       *Utf8Const
	Flags      AccessFlags
	Super      *Class
	Interfaces []*Class
	Fields     []*Field
	Methods    []*Method
	Constants  []Constant
	Loader     gc.Address

	size        uint64
	vtable      *VTable
	refOffsets  []uint64
	staticsAddr gc.Address

	element    *Class
	arrayClass atomic.Pointer[Class]
	primSig    byte
	elemSize   uint64

	init       func(th *Thread, c *Class)
	state      atomic.Uint32
	initThread atomic.Pointer[Thread]

	pins []gc.Address // held between install and publish
}

// Addr returns the address of the class object.
func (c *Class) Addr() gc.Address { return c.addr }

func (c *Class) String() string {
	if c == nil {
		return "<nil class>"
	}
	return c.Name.String()
}

// Size is the instance size in bytes, header included.
func (c *Class) Size() uint64 { return c.size }

// VTable returns the dispatch table, nil for primitive classes.
func (c *Class) VTable() *VTable { return c.vtable }

// State returns the initialization state.
func (c *Class) State() ClassState { return ClassState(c.state.Load()) }

// IsArray reports whether c is an array class.
func (c *Class) IsArray() bool { return c.element != nil }

// IsPrimitive reports whether c is one of the primitive classes.
func (c *Class) IsPrimitive() bool { return c.primSig != 0 }

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool { return c.Flags&AccInterface != 0 }

// ComponentType returns the element class of an array class.
func (c *Class) ComponentType() *Class { return c.element }

// ElementSize returns the storage size of one value of a primitive class,
// or of one array element.
func (c *Class) ElementSize() uint64 {
	if c.IsArray() {
		return c.element.slotSize()
	}
	return c.elemSize
}

func (c *Class) slotSize() uint64 {
	if c.IsPrimitive() {
		return c.elemSize
	}
	return gc.WordSize
}

// ReferenceOffsets returns the offsets of the reference fields declared by
// c itself, excluding inherited ones.
func (c *Class) ReferenceOffsets() []uint64 {
	return append([]uint64(nil), c.refOffsets...)
}

// Signature returns the type descriptor of c: "I", "[I", "Ljava/lang/Object;".
func (c *Class) Signature() string {
	switch {
	case c.IsPrimitive():
		return string(c.primSig)
	case c.IsArray():
		return strings.ReplaceAll(c.Name.String(), ".", "/")
	}
	return "L" + strings.ReplaceAll(c.Name.String(), ".", "/") + ";"
}

// FieldByName finds a field declared by c or a superclass.
func (c *Class) FieldByName(name string) *Field {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.Name.String() == name {
				return f
			}
		}
	}
	return nil
}

// MethodByName finds a method by name and signature in c or a superclass.
func (c *Class) MethodByName(name, sig string) *Method {
	for k := c; k != nil; k = k.Super {
		for _, m := range k.Methods {
			if m.Name.String() == name && m.Sig.String() == sig {
				return m
			}
		}
	}
	return nil
}

// IsAssignableFrom reports whether a value of class src can be stored in a
// variable of class c.
func (c *Class) IsAssignableFrom(src *Class) bool {
	if c == nil || src == nil {
		return false
	}
	if c == src {
		return true
	}
	if c.IsPrimitive() || src.IsPrimitive() {
		return false
	}
	if src.IsArray() && c.IsArray() {
		se, ce := src.element, c.element
		if se.IsPrimitive() || ce.IsPrimitive() {
			return se == ce
		}
		return ce.IsAssignableFrom(se)
	}
	if c.IsInterface() {
		for k := src; k != nil; k = k.Super {
			if implements(k, c) {
				return true
			}
		}
		return false
	}
	for k := src.Super; k != nil; k = k.Super {
		if k == c {
			return true
		}
	}
	return false
}

func implements(k, iface *Class) bool {
	for _, i := range k.Interfaces {
		if i == iface || implements(i, iface) {
			return true
		}
	}
	return false
}
