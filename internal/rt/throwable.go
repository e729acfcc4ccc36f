package rt

import (
	"unicode/utf16"

	"fortio.org/safecast"

	"gcjrt/internal/gc"
)

type exceptionClasses struct {
	throwable             *Class
	exception             *Class
	error                 *Class
	runtime               *Class
	vmError               *Class
	outOfMemory           *Class
	linkage               *Class
	noClassDef            *Class
	initializerError      *Class
	negativeArraySize     *Class
	illegalArgument       *Class
	illegalThreadState    *Class
	illegalMonitorState   *Class
	nullPointer           *Class
	interrupted           *Class
	indexOutOfBounds      *Class
	arrayIndexOutOfBounds *Class
	classCast             *Class
	arrayStore            *Class
	instantiation         *Class

	messageField *Field
	causeField   *Field
}

func (rt *Runtime) bootstrapExceptions() {
	e := &rt.exc
	e.throwable = rt.MustDefineClass(ClassSpec{
		Name:       "java.lang.Throwable",
		Super:      rt.object,
		Interfaces: []*Class{rt.serializable},
		Flags:      AccPublic,
		Fields: []FieldSpec{
			{Name: "message", Type: rt.charArray},
			{Name: "cause", Type: rt.object},
		},
	})
	rt.markInitialized(e.throwable)
	e.messageField = e.throwable.FieldByName("message")
	e.causeField = e.throwable.FieldByName("cause")

	def := func(name string, super *Class) *Class {
		c := rt.MustDefineClass(ClassSpec{Name: name, Super: super, Flags: AccPublic})
		rt.markInitialized(c)
		return c
	}
	e.exception = def("java.lang.Exception", e.throwable)
	e.error = def("java.lang.Error", e.throwable)
	e.runtime = def("java.lang.RuntimeException", e.exception)
	e.vmError = def("java.lang.VirtualMachineError", e.error)
	e.outOfMemory = def("java.lang.OutOfMemoryError", e.vmError)
	e.linkage = def("java.lang.LinkageError", e.error)
	e.noClassDef = def("java.lang.NoClassDefFoundError", e.linkage)
	e.initializerError = def("java.lang.ExceptionInInitializerError", e.linkage)
	e.negativeArraySize = def("java.lang.NegativeArraySizeException", e.runtime)
	e.illegalArgument = def("java.lang.IllegalArgumentException", e.runtime)
	e.illegalThreadState = def("java.lang.IllegalThreadStateException", e.illegalArgument)
	e.illegalMonitorState = def("java.lang.IllegalMonitorStateException", e.runtime)
	e.nullPointer = def("java.lang.NullPointerException", e.runtime)
	e.interrupted = def("java.lang.InterruptedException", e.exception)
	e.indexOutOfBounds = def("java.lang.IndexOutOfBoundsException", e.runtime)
	e.arrayIndexOutOfBounds = def("java.lang.ArrayIndexOutOfBoundsException", e.indexOutOfBounds)
	e.classCast = def("java.lang.ClassCastException", e.runtime)
	e.arrayStore = def("java.lang.ArrayStoreException", e.runtime)
	e.instantiation = def("java.lang.InstantiationException", e.exception)
}

// NewString returns a char array holding s as UTF-16.
func (rt *Runtime) NewString(th *Thread, s string) gc.Address {
	units := utf16.Encode([]rune(s))
	n, err := safecast.Conv[int32](len(units))
	if err != nil {
		rt.ThrowNew(th, rt.exc.illegalArgument, "string too long")
	}
	arr := rt.NewPrimArray(th, rt.prims['C'], n)
	if n == 0 {
		return arr
	}
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		buf[2*i], buf[2*i+1] = byte(u), byte(u>>8)
	}
	rt.must(rt.heap.StoreBytes(arr+ArrayHeaderSize, buf))
	return arr
}

// GoString decodes a char array.
func (rt *Runtime) GoString(arr gc.Address) string {
	if arr == gc.Null {
		return ""
	}
	n, err := rt.heap.LoadWord(arr + ArrayLengthOffset)
	if err != nil || n == 0 {
		return ""
	}
	buf, err := rt.heap.LoadBytes(arr+ArrayHeaderSize, 2*int(n))
	if err != nil {
		return ""
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}

func (rt *Runtime) bootstrapThread() {
	runnable := rt.MustDefineClass(ClassSpec{
		Name:  "java.lang.Runnable",
		Super: rt.object,
		Flags: AccPublic | AccInterface | AccAbstract,
		Methods: []MethodSpec{
			{Name: "run", Sig: "()V", Flags: AccPublic | AccAbstract},
		},
	})
	rt.markInitialized(runnable)
	rt.threadCls = rt.MustDefineClass(ClassSpec{
		Name:       "java.lang.Thread",
		Super:      rt.object,
		Interfaces: []*Class{runnable},
		Flags:      AccPublic,
		Fields: []FieldSpec{
			{Name: "name", Type: rt.charArray},
			{Name: "priority", Type: rt.prims['I']},
			{Name: "daemon", Type: rt.prims['Z']},
			{Name: "data", Type: rt.object},
		},
	})
	rt.markInitialized(rt.threadCls)
	rt.threadName = rt.threadCls.FieldByName("name")
	rt.threadPriority = rt.threadCls.FieldByName("priority")
	rt.threadData = rt.threadCls.FieldByName("data")
}
