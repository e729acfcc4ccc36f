package rt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"gcjrt/internal/gc"
	"gcjrt/internal/natthread"
	"gcjrt/internal/trace"
)

// Thread priorities.
const (
	MinPriority  = 1
	NormPriority = 5
	MaxPriority  = 10
)

// Options configures a Runtime.
type Options struct {
	MaxHeapBytes     uint64
	CollectThreshold uint64
	// DefaultPriority is given to new threads; zero means NormPriority.
	DefaultPriority int
	// MaxPriority caps SetPriority; zero means MaxPriority.
	MaxPriority int
	Tracer      trace.Tracer
	// CrashOutput receives the ring buffer dump on a fatal error; nil means
	// stderr.
	CrashOutput io.Writer
	// OnFatal observes fatal errors before the abort panic is raised.
	OnFatal func(*FatalError)
}

// Runtime owns the heap, the class pool and every managed thread.
type Runtime struct {
	heap   *gc.Heap
	tracer trace.Tracer

	objectKind gc.Kind
	arrayKind  gc.Kind

	defaultPriority int
	maxPriority     int
	crashOut        io.Writer
	onFatal         func(*FatalError)

	defineMu    sync.Mutex
	classes     sync.Map // name -> *Class
	classByAddr sync.Map // class object address -> *Class
	classHead   atomic.Pointer[Class]
	bootPins    []gc.Address
	methodIDs   atomic.Uint64

	utf8        sync.Map // string -> *Utf8Const
	utf8ByAddr  sync.Map // address -> *Utf8Const
	monitors    sync.Map // lock record address -> *monitor
	threads     sync.Map // *Thread -> *Thread
	threadByObj sync.Map // thread object address -> *Thread

	group natthread.Group

	object       *Class
	classClass   *Class
	threadCls    *Class
	cloneable    *Class
	serializable *Class
	charArray    *Class
	prims        map[byte]*Class
	exc          exceptionClasses

	threadName     *Field
	threadPriority *Field
	threadData     *Field

	oom gc.Address

	finalizeMu sync.Mutex
	finalizer  *Thread

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// New creates a runtime with a fresh heap and the core classes loaded.
func New(opts Options) (r *Runtime, err error) {
	prio := opts.DefaultPriority
	if prio == 0 {
		prio = NormPriority
	}
	maxPrio := opts.MaxPriority
	if maxPrio == 0 {
		maxPrio = MaxPriority
	}
	if maxPrio < MinPriority || maxPrio > MaxPriority {
		return nil, fmt.Errorf("max priority %d outside [%d, %d]", maxPrio, MinPriority, MaxPriority)
	}
	if prio < MinPriority || prio > maxPrio {
		return nil, fmt.Errorf("default priority %d outside [%d, %d]", prio, MinPriority, maxPrio)
	}

	tracer := trace.OrNop(opts.Tracer)
	rt := &Runtime{
		heap: gc.NewHeap(gc.Options{
			MaxBytes:         opts.MaxHeapBytes,
			CollectThreshold: opts.CollectThreshold,
			Tracer:           tracer,
		}),
		tracer:          tracer,
		defaultPriority: prio,
		maxPriority:     maxPrio,
		crashOut:        opts.CrashOutput,
		onFatal:         opts.OnFatal,
		prims:           make(map[byte]*Class),
	}
	if rt.crashOut == nil {
		rt.crashOut = os.Stderr
	}
	rt.objectKind = rt.heap.NewKind("object", rt.MarkObject)
	rt.arrayKind = rt.heap.NewKind("array", rt.MarkArray)
	rt.heap.AddRootScanner(rt.scanRoots)
	rt.heap.OnFree(rt.blockFreed)

	defer func() {
		if rec := recover(); rec != nil {
			var fe *FatalError
			if e, ok := rec.(error); ok && errors.As(e, &fe) {
				r, err = nil, fmt.Errorf("bootstrap: %w", fe)
				return
			}
			panic(rec)
		}
	}()

	span := trace.Begin(rt.tracer, trace.ScopeRuntime, "bootstrap", 0)
	rt.bootstrap()
	span.WithExtra("classes", fmt.Sprint(rt.ClassCount())).End("")
	return rt, nil
}

func (rt *Runtime) bootstrap() {
	nop := func(*Thread, gc.Address) {}
	rt.object = rt.MustDefineClass(ClassSpec{
		Name:  "java.lang.Object",
		Flags: AccPublic,
		Methods: []MethodSpec{
			{Name: "finalize", Sig: "()V", Impl: nop},
			{Name: "hashCode", Sig: "()I", Impl: nop},
			{Name: "toString", Sig: "()Ljava/lang/String;", Impl: nop},
		},
	})
	cls := rt.MustDefineClass(ClassSpec{
		Name:  "java.lang.Class",
		Super: rt.object,
		Flags: AccPublic | AccFinal,
	})
	cls.size = classObjectSize
	rt.writeClassWord(cls, classSizeSlot, classObjectSize)

	rt.classClass = cls
	rt.classByAddr.Range(func(k, _ any) bool {
		rt.storeWord(k.(gc.Address)+DispatchOffset, cls.vtable.addr)
		return true
	})
	for _, p := range rt.bootPins {
		rt.unpin(p)
	}
	rt.bootPins = nil

	for _, p := range primitiveTable {
		rt.definePrimitive(p.name, p.sig, p.size)
	}
	for _, c := range []*Class{rt.object, cls} {
		rt.markInitialized(c)
	}

	iface := AccPublic | AccInterface | AccAbstract
	rt.cloneable = rt.MustDefineClass(ClassSpec{Name: "java.lang.Cloneable", Super: rt.object, Flags: iface})
	rt.serializable = rt.MustDefineClass(ClassSpec{Name: "java.io.Serializable", Super: rt.object, Flags: iface})
	rt.markInitialized(rt.cloneable)
	rt.markInitialized(rt.serializable)

	charArray, err := rt.FindArrayClass(rt.prims['C'])
	if err != nil {
		rt.Abort(FatalBootstrap, err.Error())
	}
	rt.charArray = charArray

	rt.bootstrapExceptions()
	rt.bootstrapThread()

	oom := rt.heap.AllocPinned(rt.objectKind, rt.exc.outOfMemory.size)
	if oom == gc.Null {
		rt.Abort(FatalBootstrap, "cannot allocate the out-of-memory singleton")
	}
	rt.storeWord(oom+DispatchOffset, rt.exc.outOfMemory.vtable.addr)
	rt.oom = oom
	rt.unpin(oom)
}

func (rt *Runtime) markInitialized(c *Class) {
	c.state.Store(uint32(StateDone))
	rt.writeClassWord(c, classStateSlot, gc.Address(StateDone))
}

// Heap returns the collector backing the runtime.
func (rt *Runtime) Heap() *gc.Heap { return rt.heap }

// Tracer returns the runtime's tracer.
func (rt *Runtime) Tracer() trace.Tracer { return rt.tracer }

// ObjectClass returns java.lang.Object.
func (rt *Runtime) ObjectClass() *Class { return rt.object }

// ClassClass returns java.lang.Class.
func (rt *Runtime) ClassClass() *Class { return rt.classClass }

// ThreadClass returns java.lang.Thread.
func (rt *Runtime) ThreadClass() *Class { return rt.threadCls }

// ObjectKind returns the collector kind of objects and class objects.
func (rt *Runtime) ObjectKind() gc.Kind { return rt.objectKind }

// ArrayKind returns the collector kind of reference arrays.
func (rt *Runtime) ArrayKind() gc.Kind { return rt.arrayKind }

// OutOfMemory returns the preallocated out-of-memory error object.
func (rt *Runtime) OutOfMemory() gc.Address { return rt.oom }

// FindClass looks a class up by its dotted name, array names included.
func (rt *Runtime) FindClass(name string) (*Class, error) {
	if v, ok := rt.classes.Load(name); ok {
		return v.(*Class), nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
}

// ClassAt returns the class whose class object lives at addr.
func (rt *Runtime) ClassAt(addr gc.Address) (*Class, bool) {
	v, ok := rt.classByAddr.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*Class), true
}

// ClassCount returns the number of loaded classes.
func (rt *Runtime) ClassCount() int {
	n := 0
	rt.classByAddr.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Classes walks the class pool through the chain pointers stored in the
// class objects, newest first.
func (rt *Runtime) Classes() []*Class {
	var out []*Class
	c := rt.classHead.Load()
	for c != nil {
		out = append(out, c)
		next := rt.loadWord(c.addr + classSlot(classNextSlot))
		if next == gc.Null {
			break
		}
		var ok bool
		if c, ok = rt.ClassAt(next); !ok {
			rt.Abort(FatalHeapCorrupt, fmt.Sprintf("class chain points at %s", next))
		}
	}
	return out
}

// Collect forces a collection and runs the finalizers it queued.
func (rt *Runtime) Collect() int {
	rt.heap.Collect()
	return rt.RunFinalizers()
}

// RunFinalizers runs queued finalizers on the finalizer thread.
func (rt *Runtime) RunFinalizers() int {
	rt.finalizeMu.Lock()
	defer rt.finalizeMu.Unlock()
	return rt.heap.RunFinalizers()
}

// TotalMemory returns the bytes held by live heap blocks.
func (rt *Runtime) TotalMemory() uint64 { return rt.heap.HeapSize() }

// FreeMemory returns the bytes that can still be allocated before the
// heap ceiling is reached.
func (rt *Runtime) FreeMemory() uint64 { return rt.heap.FreeBytes() }

// MaxMemory returns the heap ceiling.
func (rt *Runtime) MaxMemory() uint64 { return rt.heap.MaxBytes() }

// Shutdown waits for started threads, runs every outstanding finalizer and
// releases the heap. Later allocations fail.
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(rt.shutdown)
}

func (rt *Runtime) shutdown() {
	span := trace.Begin(rt.tracer, trace.ScopeRuntime, "shutdown", 0)
	rt.group.WaitAll()

	rt.finalizeMu.Lock()
	n := rt.heap.FinalizeAll()
	rt.finalizeMu.Unlock()

	rt.closed.Store(true)
	rt.threads.Range(func(_, v any) bool {
		th := v.(*Thread)
		if th.attached {
			th.alive.Store(false)
			th.state.Store(uint32(ThreadTerminated))
		}
		return true
	})
	rt.heap.Close()
	span.WithExtra("finalized", fmt.Sprint(n)).End("")
}

// Closed reports whether Shutdown has run.
func (rt *Runtime) Closed() bool { return rt.closed.Load() }

// Abort reports a fatal internal-consistency failure and panics with a
// *FatalError. Managed handlers never catch it.
func (rt *Runtime) Abort(code FatalCode, msg string) {
	fe := &FatalError{Code: code, Message: msg}
	trace.Fatal(rt.tracer, code.String(), msg)
	if ring := trace.RingOf(rt.tracer); ring != nil && rt.crashOut != nil {
		fmt.Fprintf(rt.crashOut, "%s\nlast trace events:\n", fe)
		_ = ring.Dump(rt.crashOut, trace.FormatText)
	}
	if rt.onFatal != nil {
		rt.onFatal(fe)
	}
	panic(fe)
}

func (rt *Runtime) scanRoots(ms *gc.MarkStack) {
	rt.classByAddr.Range(func(k, _ any) bool {
		ms.Push(k.(gc.Address))
		return true
	})
	rt.utf8ByAddr.Range(func(k, _ any) bool {
		ms.Push(k.(gc.Address))
		return true
	})
	ms.Push(rt.oom)
	rt.threads.Range(func(_, v any) bool {
		v.(*Thread).pushRoots(ms)
		return true
	})
	rt.monitors.Range(func(k, v any) bool {
		if v.(*monitor).busy() {
			ms.Push(k.(gc.Address))
		}
		return true
	})
}

func (rt *Runtime) blockFreed(addr gc.Address) {
	rt.monitors.Delete(addr)
}

func (rt *Runtime) must(err error) {
	if err != nil {
		rt.Abort(FatalHeapCorrupt, err.Error())
	}
}

func (rt *Runtime) unpin(addr gc.Address) {
	rt.must(rt.heap.Unpin(addr))
}

func (rt *Runtime) loadWord(addr gc.Address) gc.Address {
	v, err := rt.heap.LoadWord(addr)
	rt.must(err)
	return v
}

func (rt *Runtime) storeWord(addr, v gc.Address) {
	rt.must(rt.heap.StoreWord(addr, v))
}
