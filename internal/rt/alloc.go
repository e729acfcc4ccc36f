package rt

import (
	"math/bits"
	"strconv"

	"fortio.org/safecast"

	"gcjrt/internal/gc"
	"gcjrt/internal/trace"
)

// newarray type codes.
const (
	TypeBoolean = 4
	TypeChar    = 5
	TypeFloat   = 6
	TypeDouble  = 7
	TypeByte    = 8
	TypeShort   = 9
	TypeInt     = 10
	TypeLong    = 11
)

var typeCodeSigs = map[int]byte{
	TypeBoolean: 'Z',
	TypeChar:    'C',
	TypeFloat:   'F',
	TypeDouble:  'D',
	TypeByte:    'B',
	TypeShort:   'S',
	TypeInt:     'I',
	TypeLong:    'J',
}

// AllocObject returns a zeroed instance of c, initializing c first. The
// result is recorded as a local root of th.
func (rt *Runtime) AllocObject(th *Thread, c *Class) gc.Address {
	return rt.AllocObjectSized(th, c, c.size)
}

// AllocObjectSized is AllocObject with an explicit size, which is never
// taken below the class's instance size.
func (rt *Runtime) AllocObjectSized(th *Thread, c *Class, size uint64) gc.Address {
	if c.IsArray() || c.IsPrimitive() || c.IsInterface() || c.Flags&AccAbstract != 0 {
		rt.ThrowNew(th, rt.exc.instantiation, c.Name.String())
	}
	rt.InitClass(th, c)
	if size < c.size {
		size = c.size
	}

	addr := rt.heap.AllocPinned(rt.objectKind, size)
	if addr == gc.Null {
		rt.throwOOM(th, size)
	}
	// The block is zeroed; storing the dispatch pointer is what makes it
	// mark-safe, so it goes last.
	rt.storeWord(addr+DispatchOffset, c.vtable.addr)
	if rt.overridesFinalize(c) {
		rt.must(rt.heap.RegisterFinalizer(addr, rt.finalizeObject))
	}
	th.Keep(addr)
	rt.unpin(addr)

	if rt.tracer.Level().ShouldEmit(trace.ScopeObject) {
		trace.Point(rt.tracer, trace.ScopeObject, "alloc", c.Name.String(),
			"addr", addr.String(), "size", strconv.FormatUint(size, 10))
	}
	return addr
}

func (rt *Runtime) overridesFinalize(c *Class) bool {
	return c.vtable.Slot(FinalizeSlot) != rt.object.vtable.Slot(FinalizeSlot)
}

// HasFinalizer reports whether obj is registered for finalization.
func (rt *Runtime) HasFinalizer(obj gc.Address) bool {
	return rt.heap.HasFinalizer(obj)
}

func (rt *Runtime) finalizeObject(addr gc.Address) {
	c := rt.ClassOf(addr)
	if c == nil {
		return
	}
	m := c.vtable.Slot(FinalizeSlot)
	if m == nil || m.Impl == nil {
		return
	}
	if rt.finalizer == nil {
		rt.finalizer = rt.AttachThread("Finalizer")
	}
	th := rt.finalizer
	mark := th.Frame()
	th.Keep(addr)
	if exc := rt.catchAll(th, func() { m.Impl(th, addr) }); exc != gc.Null {
		trace.Point(rt.tracer, trace.ScopeCollector, "finalize-threw", c.Name.String(),
			"exception", rt.ClassOf(exc).Name.String())
	}
	th.PopFrame(mark)
}

// arraySize returns header + count*elemSize, false when the product does
// not fit in the address space.
func arraySize(count int32, elemSize uint64) (uint64, bool) {
	n, err := safecast.Conv[uint64](count)
	if err != nil {
		return 0, false
	}
	hi, lo := bits.Mul64(n, elemSize)
	if hi != 0 {
		return 0, false
	}
	total, carry := bits.Add64(lo, ArrayHeaderSize, 0)
	if carry != 0 {
		return 0, false
	}
	return total, true
}

func (rt *Runtime) checkLength(th *Thread, count int32) {
	if count < 0 {
		rt.ThrowNew(th, rt.exc.negativeArraySize, strconv.Itoa(int(count)))
	}
}

// NewObjectArray allocates an array of count references to elem, every
// slot set to init.
func (rt *Runtime) NewObjectArray(th *Thread, count int32, elem *Class, init gc.Address) gc.Address {
	rt.checkLength(th, count)
	if elem == nil || elem.IsPrimitive() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "reference array of primitive element")
	}
	ac, err := rt.FindArrayClass(elem)
	if err != nil {
		rt.throwOOM(th, 0)
	}
	size, ok := arraySize(count, gc.WordSize)
	if !ok {
		rt.throwOOM(th, 0)
	}
	addr := rt.heap.AllocPinned(rt.arrayKind, size)
	if addr == gc.Null {
		rt.throwOOM(th, size)
	}
	rt.storeWord(addr+ArrayLengthOffset, gc.Address(count))
	if init != gc.Null {
		for i := range gc.Address(count) {
			rt.storeWord(addr+ArrayHeaderSize+i*gc.WordSize, init)
		}
	}
	rt.storeWord(addr+DispatchOffset, ac.vtable.addr)
	th.Keep(addr)
	rt.unpin(addr)
	return addr
}

// NewPrimArray allocates a zeroed array of count values of the primitive
// class elem. Its block is pointer-free and never scanned.
func (rt *Runtime) NewPrimArray(th *Thread, elem *Class, count int32) gc.Address {
	rt.checkLength(th, count)
	if elem == nil || !elem.IsPrimitive() || elem.elemSize == 0 {
		rt.ThrowNew(th, rt.exc.illegalArgument, "primitive array of non-primitive element")
	}
	ac, err := rt.FindArrayClass(elem)
	if err != nil {
		rt.throwOOM(th, 0)
	}
	size, ok := arraySize(count, elem.elemSize)
	if !ok {
		rt.throwOOM(th, 0)
	}
	addr := rt.heap.AllocPinned(gc.PtrFree, size)
	if addr == gc.Null {
		rt.throwOOM(th, size)
	}
	rt.storeWord(addr+ArrayLengthOffset, gc.Address(count))
	rt.storeWord(addr+DispatchOffset, ac.vtable.addr)
	th.Keep(addr)
	rt.unpin(addr)
	return addr
}

// NewArray allocates a primitive array from a newarray type code.
func (rt *Runtime) NewArray(th *Thread, typeCode int, count int32) gc.Address {
	sig, ok := typeCodeSigs[typeCode]
	if !ok {
		rt.Abort(FatalBadTypeCode, "newarray: unknown type code "+strconv.Itoa(typeCode))
	}
	return rt.NewPrimArray(th, rt.prims[sig], count)
}

// NewMultiArray allocates a rectangular array of class ac with one length
// per leading dimension. Trailing dimensions are left null.
func (rt *Runtime) NewMultiArray(th *Thread, ac *Class, sizes ...int32) gc.Address {
	if ac == nil || !ac.IsArray() || len(sizes) == 0 {
		rt.ThrowNew(th, rt.exc.illegalArgument, "multi-array needs an array class and a size")
	}
	depth := 0
	for k := ac; k.IsArray(); k = k.element {
		depth++
	}
	if len(sizes) > depth {
		rt.ThrowNew(th, rt.exc.illegalArgument, "more sizes than array dimensions")
	}
	for _, n := range sizes {
		rt.checkLength(th, n)
	}
	return rt.newMulti(th, ac, sizes)
}

func (rt *Runtime) newMulti(th *Thread, ac *Class, sizes []int32) gc.Address {
	elem := ac.element
	if elem.IsPrimitive() {
		return rt.NewPrimArray(th, elem, sizes[0])
	}
	arr := rt.NewObjectArray(th, sizes[0], elem, gc.Null)
	if len(sizes) > 1 {
		for i := range gc.Address(sizes[0]) {
			sub := rt.newMulti(th, elem, sizes[1:])
			rt.storeWord(arr+ArrayHeaderSize+i*gc.WordSize, sub)
		}
	}
	return arr
}

// AllocBytes returns size zeroed pointer-free bytes, or Null.
func (rt *Runtime) AllocBytes(size uint64) gc.Address {
	return rt.heap.Alloc(gc.PtrFree, size)
}

// AllocBytesChecked is AllocBytes that throws the out-of-memory error
// instead of returning Null. The block is a local root of th.
func (rt *Runtime) AllocBytesChecked(th *Thread, size uint64) gc.Address {
	addr := rt.heap.AllocPinned(gc.PtrFree, size)
	if addr == gc.Null {
		rt.throwOOM(th, size)
	}
	th.Keep(addr)
	rt.unpin(addr)
	return addr
}

// throwOOM throws the preallocated error. Nothing on this path allocates.
func (rt *Runtime) throwOOM(th *Thread, size uint64) {
	trace.Point(rt.tracer, trace.ScopeCollector, "out-of-memory", "",
		"request", strconv.FormatUint(size, 10))
	rt.Throw(th, rt.oom)
}
