package rt

import "gcjrt/internal/gc"

// maxDescriptorEntries bounds the table walks of markClass.
const maxDescriptorEntries = 1 << 16

// MarkObject is the mark procedure of the object kind. It reports the
// dispatch table, the lock record, the class and every reference field.
// Blocks whose dispatch word is still null are under construction and
// report nothing. Class objects are walked through the slots stored in
// their memory.
func (rt *Runtime) MarkObject(addr gc.Address, ms *gc.MarkStack) {
	vt := ms.Load(addr + DispatchOffset)
	if vt == gc.Null {
		return
	}
	ms.Push(vt)
	ms.PushSlot(addr + SyncOffset)
	klass := ms.Load(vt)
	ms.Push(klass)

	if cc := rt.classClass; cc != nil && klass == cc.addr {
		rt.markClass(addr, ms)
		return
	}
	v, ok := rt.classByAddr.Load(klass)
	if !ok {
		return
	}
	for k := v.(*Class); k != nil && k != rt.object; k = k.Super {
		for _, off := range k.refOffsets {
			ms.PushSlot(addr + gc.Address(off))
		}
	}
}

func (rt *Runtime) markClass(addr gc.Address, ms *gc.MarkStack) {
	slot := func(i int) gc.Address { return ms.Load(addr + classSlot(i)) }
	count := func(i int) int { return int(min(slot(i), maxDescriptorEntries)) }

	ms.Push(slot(classNextSlot))
	ms.Push(slot(classNameSlot))
	ms.Push(slot(classSuperSlot))

	var mirror *Class
	if v, ok := rt.classByAddr.Load(addr); ok {
		mirror = v.(*Class)
	}

	consts := slot(classConstantsSlot)
	ms.Push(consts)
	for i := range count(classConstCountSlot) {
		if mirror != nil && i < len(mirror.Constants) && mirror.Constants[i].Tag == ConstInt {
			continue
		}
		ms.PushSlot(consts + gc.Address(i*gc.WordSize))
	}

	methods := slot(classMethodsSlot)
	ms.Push(methods)
	if mirror != nil && !mirror.IsArray() && !mirror.IsPrimitive() {
		for i := range count(classMethodCountSlot) {
			base := methods + gc.Address(i*methodEntryWords*gc.WordSize)
			ms.PushSlot(base)
			ms.PushSlot(base + gc.WordSize)
		}
	}

	fields := slot(classFieldsSlot)
	statics := slot(classStaticsSlot)
	ms.Push(fields)
	ms.Push(statics)
	for i := range count(classFieldCountSlot) {
		base := fields + gc.Address(i*fieldEntryWords*gc.WordSize)
		ms.PushSlot(base)
		ms.PushSlot(base + gc.WordSize)
		packed := ms.Load(base + 2*gc.WordSize)
		flags := FieldFlags(packed >> fieldFlagsShift)
		if flags&FieldStatic != 0 && flags&FieldRef != 0 && statics != gc.Null {
			off := packed & (1<<fieldFlagsShift - 1)
			ms.PushSlot(statics + off)
		}
	}

	ms.Push(slot(classVTableSlot))
	ifaces := slot(classInterfacesSlot)
	ms.Push(ifaces)
	for i := range count(classIfaceCountSlot) {
		ms.PushSlot(ifaces + gc.Address(i*gc.WordSize))
	}
	ms.Push(slot(classLoaderSlot))
	ms.Push(slot(classThreadSlot))
}

// MarkArray is the mark procedure of reference arrays: header words, the
// class and every element.
func (rt *Runtime) MarkArray(addr gc.Address, ms *gc.MarkStack) {
	vt := ms.Load(addr + DispatchOffset)
	if vt == gc.Null {
		return
	}
	ms.Push(vt)
	ms.PushSlot(addr + SyncOffset)
	ms.Push(ms.Load(vt))
	n := ms.Load(addr + ArrayLengthOffset)
	for i := range n {
		ms.PushSlot(addr + ArrayHeaderSize + i*gc.WordSize)
	}
}
