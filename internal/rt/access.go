package rt

import (
	"strconv"

	"gcjrt/internal/gc"
)

// ClassOf returns the class of the object at obj, or nil for null and for
// blocks that are not managed objects.
func (rt *Runtime) ClassOf(obj gc.Address) *Class {
	if obj == gc.Null {
		return nil
	}
	vt, err := rt.heap.LoadWord(obj + DispatchOffset)
	if err != nil || vt == gc.Null {
		return nil
	}
	klass, err := rt.heap.LoadWord(vt)
	if err != nil {
		return nil
	}
	c, _ := rt.ClassAt(klass)
	return c
}

// IsInstanceOf reports whether obj is a non-null instance of c.
func (rt *Runtime) IsInstanceOf(obj gc.Address, c *Class) bool {
	if obj == gc.Null {
		return false
	}
	return c.IsAssignableFrom(rt.ClassOf(obj))
}

// IsInstance reports whether obj is a non-null instance of c.
func (c *Class) IsInstance(obj gc.Address) bool {
	return c.rt.IsInstanceOf(obj, c)
}

// CheckCast throws ClassCastException unless obj is null or an instance
// of c.
func (rt *Runtime) CheckCast(th *Thread, obj gc.Address, c *Class) gc.Address {
	if obj != gc.Null && !rt.IsInstanceOf(obj, c) {
		rt.ThrowNew(th, rt.exc.classCast, rt.ClassOf(obj).String()+" cannot be cast to "+c.String())
	}
	return obj
}

// Invoke calls the virtual method name/sig on obj.
func (rt *Runtime) Invoke(th *Thread, obj gc.Address, name, sig string) {
	c := rt.ClassOf(obj)
	if c == nil {
		rt.ThrowNew(th, rt.exc.nullPointer, "invoke "+name)
	}
	m := c.MethodByName(name, sig)
	if m == nil || m.Index < 0 {
		rt.ThrowNew(th, rt.exc.illegalArgument, c.String()+"."+name+sig)
	}
	if impl := c.vtable.Slot(m.Index); impl != nil && impl.Impl != nil {
		impl.Impl(th, obj)
	}
}

func (rt *Runtime) fieldAddr(th *Thread, obj gc.Address, f *Field) gc.Address {
	if f.IsStatic() {
		rt.InitClass(th, f.Class)
		return f.Class.staticsAddr + gc.Address(f.Offset)
	}
	if obj == gc.Null {
		rt.ThrowNew(th, rt.exc.nullPointer, "field "+f.Name.String())
	}
	return obj + gc.Address(f.Offset)
}

// GetField reads a primitive field as raw bits. obj is ignored for static
// fields.
func (rt *Runtime) GetField(th *Thread, obj gc.Address, f *Field) uint64 {
	addr := rt.fieldAddr(th, obj, f)
	v, err := rt.heap.LoadUint(addr, int(f.Width()))
	rt.must(err)
	return v
}

// SetField writes the low bits of v to a primitive field.
func (rt *Runtime) SetField(th *Thread, obj gc.Address, f *Field, v uint64) {
	if f.IsRef() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "field "+f.Name.String()+" holds a reference")
	}
	addr := rt.fieldAddr(th, obj, f)
	rt.must(rt.heap.StoreUint(addr, int(f.Width()), v))
}

// GetObjectField reads a reference field.
func (rt *Runtime) GetObjectField(th *Thread, obj gc.Address, f *Field) gc.Address {
	if !f.IsRef() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "field "+f.Name.String()+" is primitive")
	}
	return rt.loadWord(rt.fieldAddr(th, obj, f))
}

// SetObjectField stores a reference field, checking the value's type.
func (rt *Runtime) SetObjectField(th *Thread, obj gc.Address, f *Field, v gc.Address) {
	if !f.IsRef() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "field "+f.Name.String()+" is primitive")
	}
	rt.CheckCast(th, v, f.Type)
	rt.storeWord(rt.fieldAddr(th, obj, f), v)
}

// ArrayLength returns the element count of arr.
func (rt *Runtime) ArrayLength(th *Thread, arr gc.Address) int32 {
	if arr == gc.Null {
		rt.ThrowNew(th, rt.exc.nullPointer, "array length of null")
	}
	return int32(rt.loadWord(arr + ArrayLengthOffset))
}

func (rt *Runtime) elementAddr(th *Thread, arr gc.Address, i int32) (gc.Address, *Class) {
	n := rt.ArrayLength(th, arr)
	c := rt.ClassOf(arr)
	if c == nil || !c.IsArray() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "not an array")
	}
	if i < 0 || i >= n {
		rt.ThrowNew(th, rt.exc.arrayIndexOutOfBounds, strconv.Itoa(int(i)))
	}
	return arr + ArrayHeaderSize + gc.Address(i)*gc.Address(c.ElementSize()), c
}

// GetElement reads element i of a primitive array as raw bits.
func (rt *Runtime) GetElement(th *Thread, arr gc.Address, i int32) uint64 {
	addr, c := rt.elementAddr(th, arr, i)
	if !c.element.IsPrimitive() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "reference array")
	}
	v, err := rt.heap.LoadUint(addr, int(c.ElementSize()))
	rt.must(err)
	return v
}

// SetElement writes element i of a primitive array.
func (rt *Runtime) SetElement(th *Thread, arr gc.Address, i int32, v uint64) {
	addr, c := rt.elementAddr(th, arr, i)
	if !c.element.IsPrimitive() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "reference array")
	}
	rt.must(rt.heap.StoreUint(addr, int(c.ElementSize()), v))
}

// GetObjectElement reads element i of a reference array.
func (rt *Runtime) GetObjectElement(th *Thread, arr gc.Address, i int32) gc.Address {
	addr, c := rt.elementAddr(th, arr, i)
	if c.element.IsPrimitive() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "primitive array")
	}
	return rt.loadWord(addr)
}

// SetObjectElement stores v as element i of a reference array after the
// array store check.
func (rt *Runtime) SetObjectElement(th *Thread, arr gc.Address, i int32, v gc.Address) {
	addr, c := rt.elementAddr(th, arr, i)
	if c.element.IsPrimitive() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "primitive array")
	}
	rt.CheckArrayStore(th, arr, v)
	rt.storeWord(addr, v)
}

// CheckArrayStore throws ArrayStoreException unless v is null or an
// instance of arr's element class.
func (rt *Runtime) CheckArrayStore(th *Thread, arr, v gc.Address) {
	if v == gc.Null {
		return
	}
	c := rt.ClassOf(arr)
	if c == nil || !c.IsArray() {
		rt.ThrowNew(th, rt.exc.illegalArgument, "not an array")
	}
	if !rt.IsInstanceOf(v, c.element) {
		rt.ThrowNew(th, rt.exc.arrayStore, rt.ClassOf(v).String())
	}
}
