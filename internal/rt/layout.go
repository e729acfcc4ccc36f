package rt

import (
	"fmt"
	"strings"

	"gcjrt/internal/gc"
	"gcjrt/internal/trace"
)

// FieldSpec declares a field of a class being defined.
type FieldSpec struct {
	Name   string
	Type   *Class
	Static bool
}

// MethodSpec declares a method of a class being defined.
type MethodSpec struct {
	Name  string
	Sig   string
	Flags AccessFlags
	Impl  MethodFunc
}

// ClassSpec is the input to DefineClass.
type ClassSpec struct {
	Name       string
	Super      *Class
	Interfaces []*Class
	Flags      AccessFlags
	Fields     []FieldSpec
	Methods    []MethodSpec
	Constants  []Constant
	Loader     gc.Address
	// Init is the static initializer, run once by InitClass.
	Init func(th *Thread, c *Class)
}

// DefineClass lays out spec, builds its vtable, allocates its descriptor
// objects and links it into the class pool. The class starts Linked; it
// is initialized on first allocation or by InitClass.
func (rt *Runtime) DefineClass(spec ClassSpec) (*Class, error) {
	if rt.closed.Load() {
		return nil, ErrClosed
	}
	rt.defineMu.Lock()
	defer rt.defineMu.Unlock()
	return rt.defineLocked(spec)
}

// MustDefineClass is DefineClass for classes the runtime cannot work without.
func (rt *Runtime) MustDefineClass(spec ClassSpec) *Class {
	c, err := rt.DefineClass(spec)
	if err != nil {
		rt.Abort(FatalBootstrap, err.Error())
	}
	return c
}

func (rt *Runtime) defineLocked(spec ClassSpec) (*Class, error) {
	if spec.Name == "" {
		return nil, &ClassError{Kind: ClassErrNoName}
	}
	if _, ok := rt.classes.Load(spec.Name); ok {
		return nil, fmt.Errorf("%s: %w", spec.Name, ErrClassExists)
	}
	if err := rt.checkHierarchy(spec); err != nil {
		return nil, err
	}

	name, err := rt.MakeUtf8Const(spec.Name)
	if err != nil {
		return nil, &ClassError{Kind: ClassErrOutOfMemory, Class: spec.Name, Err: err}
	}
	c := &Class{
		rt:         rt,
		Name:       name,
		Flags:      spec.Flags,
		Super:      spec.Super,
		Interfaces: append([]*Class(nil), spec.Interfaces...),
		Constants:  append([]Constant(nil), spec.Constants...),
		Loader:     spec.Loader,
		init:       spec.Init,
	}

	staticSize, err := rt.layoutFields(c, spec.Fields)
	if err != nil {
		return nil, err
	}
	slots, err := rt.buildMethods(c, spec.Methods)
	if err != nil {
		return nil, err
	}
	if err := rt.install(c, slots, staticSize); err != nil {
		return nil, err
	}
	c.state.Store(uint32(StateLinked))
	rt.writeClassWord(c, classStateSlot, gc.Address(StateLinked))
	rt.publish(c)

	trace.Point(rt.tracer, trace.ScopeObject, "define", c.Name.String(),
		"size", fmt.Sprint(c.size), "refs", fmt.Sprint(len(c.refOffsets)))
	return c, nil
}

func (rt *Runtime) checkHierarchy(spec ClassSpec) error {
	super := spec.Super
	if super == nil && rt.object != nil {
		return &ClassError{Kind: ClassErrNoSuper, Class: spec.Name}
	}
	if super != nil {
		if super.Flags&AccFinal != 0 {
			return &ClassError{Kind: ClassErrFinalSuper, Class: spec.Name, Name: super.Name.String()}
		}
		if super.IsInterface() {
			return &ClassError{Kind: ClassErrInterfaceSuper, Class: spec.Name, Name: super.Name.String()}
		}
	}
	for _, i := range spec.Interfaces {
		if i == nil || !i.IsInterface() {
			n := "<nil>"
			if i != nil {
				n = i.Name.String()
			}
			return &ClassError{Kind: ClassErrNotInterface, Class: spec.Name, Name: n}
		}
	}
	return nil
}

func align(off, width uint64) uint64 {
	if width <= 1 {
		return off
	}
	return (off + width - 1) &^ (width - 1)
}

// layoutFields assigns offsets in declaration order, each field aligned to
// its own width, instance fields after the superclass's. The offsets of
// reference fields are recorded once for the mark callback.
func (rt *Runtime) layoutFields(c *Class, specs []FieldSpec) (uint64, error) {
	off := uint64(ObjectHeaderSize)
	if c.Super != nil {
		off = c.Super.size
	}
	var staticOff uint64
	seen := make(map[string]bool, len(specs))
	for _, fs := range specs {
		if fs.Type == nil || (fs.Type.IsPrimitive() && fs.Type.elemSize == 0) {
			return 0, &ClassError{Kind: ClassErrFieldType, Class: c.Name.String(), Name: fs.Name}
		}
		if seen[fs.Name] {
			return 0, &ClassError{Kind: ClassErrDuplicateField, Class: c.Name.String(), Name: fs.Name}
		}
		seen[fs.Name] = true

		name, err := rt.MakeUtf8Const(fs.Name)
		if err != nil {
			return 0, &ClassError{Kind: ClassErrOutOfMemory, Class: c.Name.String(), Err: err}
		}
		f := &Field{Name: name, Type: fs.Type, Class: c}
		if !fs.Type.IsPrimitive() {
			f.Flags |= FieldRef
		}
		w := f.Width()
		if fs.Static {
			f.Flags |= FieldStatic
			staticOff = align(staticOff, w)
			f.Offset = staticOff
			staticOff += w
		} else {
			off = align(off, w)
			f.Offset = off
			off += w
			if f.IsRef() {
				c.refOffsets = append(c.refOffsets, f.Offset)
			}
		}
		c.Fields = append(c.Fields, f)
	}
	c.size = align(off, gc.WordSize)
	return staticOff, nil
}

// buildMethods inherits the superclass's vtable, overrides slots by name
// and signature and appends new virtual methods. Interfaces get no vtable.
func (rt *Runtime) buildMethods(c *Class, specs []MethodSpec) ([]*Method, error) {
	var slots []*Method
	switch {
	case c.IsInterface():
	case c.Super != nil:
		slots = append(slots, c.Super.vtable.Methods...)
	default:
		slots = make([]*Method, 1) // reserved slot 0
	}
	for _, ms := range specs {
		if !strings.HasPrefix(ms.Sig, "(") || !strings.Contains(ms.Sig, ")") {
			return nil, &ClassError{Kind: ClassErrBadSignature, Class: c.Name.String(), Name: ms.Sig}
		}
		name, err := rt.MakeUtf8Const(ms.Name)
		if err != nil {
			return nil, &ClassError{Kind: ClassErrOutOfMemory, Class: c.Name.String(), Err: err}
		}
		sig, err := rt.MakeUtf8Const(ms.Sig)
		if err != nil {
			return nil, &ClassError{Kind: ClassErrOutOfMemory, Class: c.Name.String(), Err: err}
		}
		m := &Method{Name: name, Sig: sig, Flags: ms.Flags, Impl: ms.Impl, Class: c, Index: -1, id: rt.methodIDs.Add(1)}
		c.Methods = append(c.Methods, m)
		if ms.Flags&AccStatic != 0 || c.IsInterface() {
			continue
		}
		m.Index = len(slots)
		for i := 1; i < len(slots); i++ {
			if old := slots[i]; old != nil && EqualUtf8Consts(old.Name, name) && EqualUtf8Consts(old.Sig, sig) {
				m.Index = i
				break
			}
		}
		if m.Index == len(slots) {
			slots = append(slots, m)
		} else {
			slots[m.Index] = m
		}
	}
	return slots, nil
}

// install allocates the class object and its descriptor tables and writes
// every slot. The blocks stay pinned until publish.
func (rt *Runtime) install(c *Class, slots []*Method, staticSize uint64) error {
	var pins []gc.Address
	failed := false
	alloc := func(kind gc.Kind, size uint64) gc.Address {
		if failed {
			return gc.Null
		}
		a := rt.heap.AllocPinned(kind, size)
		if a == gc.Null {
			failed = true
			return gc.Null
		}
		pins = append(pins, a)
		return a
	}
	count := func(n int) uint64 { return uint64(n) }

	c.addr = alloc(rt.objectKind, classObjectSize)
	var vtAddr, fieldsAddr, methodsAddr, ifaceAddr, constAddr gc.Address
	if slots != nil {
		vtAddr = alloc(gc.Normal, vtableMethodsOffset+count(len(slots))*gc.WordSize)
	}
	if len(c.Fields) > 0 {
		fieldsAddr = alloc(gc.PtrFree, count(len(c.Fields))*fieldEntryWords*gc.WordSize)
	}
	if len(c.Methods) > 0 {
		methodsAddr = alloc(gc.PtrFree, count(len(c.Methods))*methodEntryWords*gc.WordSize)
	}
	if len(c.Interfaces) > 0 {
		ifaceAddr = alloc(gc.PtrFree, count(len(c.Interfaces))*gc.WordSize)
	}
	if len(c.Constants) > 0 {
		constAddr = alloc(gc.PtrFree, count(len(c.Constants))*gc.WordSize)
	}
	if staticSize > 0 {
		c.staticsAddr = alloc(gc.PtrFree, staticSize)
	}
	if failed {
		for _, p := range pins {
			rt.unpin(p)
		}
		return &ClassError{Kind: ClassErrOutOfMemory, Class: c.Name.String()}
	}

	w := memWriter{heap: rt.heap}
	if vtAddr != gc.Null {
		c.vtable = &VTable{addr: vtAddr, Class: c, Methods: slots}
		w.word(vtAddr, c.addr)
		for i, m := range slots {
			if m != nil {
				w.word(vtAddr+vtableMethodsOffset+gc.Address(i*gc.WordSize), gc.Address(m.id))
			}
		}
	}
	for i, f := range c.Fields {
		base := fieldsAddr + gc.Address(i*fieldEntryWords*gc.WordSize)
		w.word(base, f.Name.addr)
		w.word(base+gc.WordSize, f.Type.addr)
		w.word(base+2*gc.WordSize, gc.Address(f.Offset|uint64(f.Flags)<<fieldFlagsShift))
	}
	for i, m := range c.Methods {
		base := methodsAddr + gc.Address(i*methodEntryWords*gc.WordSize)
		w.word(base, m.Name.addr)
		w.word(base+gc.WordSize, m.Sig.addr)
	}
	for i, iface := range c.Interfaces {
		w.word(ifaceAddr+gc.Address(i*gc.WordSize), iface.addr)
	}
	for i, k := range c.Constants {
		var v gc.Address
		switch k.Tag {
		case ConstUtf8:
			u, err := rt.MakeUtf8Const(k.Utf8)
			if err != nil {
				for _, p := range pins {
					rt.unpin(p)
				}
				return &ClassError{Kind: ClassErrOutOfMemory, Class: c.Name.String(), Err: err}
			}
			v = u.addr
		case ConstClass:
			if k.Class != nil {
				v = k.Class.addr
			}
		case ConstInt:
			v = gc.Address(k.Int)
		}
		w.word(constAddr+gc.Address(i*gc.WordSize), v)
	}

	methodsWord, methodCount := methodsAddr, count(len(c.Methods))
	switch {
	case c.IsArray():
		methodsWord, methodCount = c.element.addr, 0
	case c.IsPrimitive():
		methodsWord, methodCount = gc.Null, 0
	}
	var superAddr gc.Address
	if c.Super != nil {
		superAddr = c.Super.addr
	}
	var next gc.Address
	if head := rt.classHead.Load(); head != nil {
		next = head.addr
	}
	cw := func(slot int, v gc.Address) { w.word(c.addr+classSlot(slot), v) }
	cw(classNextSlot, next)
	cw(classNameSlot, c.Name.addr)
	cw(classFlagsSlot, gc.Address(c.Flags))
	cw(classSuperSlot, superAddr)
	cw(classConstantsSlot, constAddr)
	cw(classConstCountSlot, gc.Address(len(c.Constants)))
	cw(classMethodsSlot, methodsWord)
	cw(classMethodCountSlot, gc.Address(methodCount))
	cw(classFieldsSlot, fieldsAddr)
	cw(classFieldCountSlot, gc.Address(len(c.Fields)))
	cw(classSizeSlot, gc.Address(c.size))
	cw(classVTableSlot, vtAddr)
	cw(classInterfacesSlot, ifaceAddr)
	cw(classIfaceCountSlot, gc.Address(len(c.Interfaces)))
	cw(classLoaderSlot, c.Loader)
	cw(classStaticsSlot, c.staticsAddr)
	rt.must(w.err)

	c.pins = pins
	return nil
}

// publish links c into the class pool, makes its class object mark-safe
// and drops the construction pins. Until java.lang.Class exists the pins
// are held for the bootstrap to release.
func (rt *Runtime) publish(c *Class) {
	rt.classes.Store(c.Name.String(), c)
	rt.classByAddr.Store(c.addr, c)
	rt.classHead.Store(c)

	pins := c.pins
	c.pins = nil
	if rt.classClass == nil {
		rt.bootPins = append(rt.bootPins, pins...)
		return
	}
	rt.storeWord(c.addr+DispatchOffset, rt.classClass.vtable.addr)
	for _, p := range pins {
		rt.unpin(p)
	}
}

func (rt *Runtime) writeClassWord(c *Class, slot int, v gc.Address) {
	rt.storeWord(c.addr+classSlot(slot), v)
}

type memWriter struct {
	heap *gc.Heap
	err  error
}

func (w *memWriter) word(addr, v gc.Address) {
	if w.err != nil {
		return
	}
	w.err = w.heap.StoreWord(addr, v)
}
