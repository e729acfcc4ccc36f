package rt

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"gcjrt/internal/gc"
	"gcjrt/internal/natthread"
	"gcjrt/internal/trace"
)

// ThreadState is the observable lifecycle state of a managed thread.
type ThreadState uint32

const (
	ThreadNew ThreadState = iota
	ThreadRunnable
	ThreadSleeping
	ThreadWaitingJoin
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNew:
		return "new"
	case ThreadRunnable:
		return "runnable"
	case ThreadSleeping:
		return "sleeping"
	case ThreadWaitingJoin:
		return "waiting-join"
	case ThreadTerminated:
		return "terminated"
	}
	return "ThreadState(" + strconv.Itoa(int(s)) + ")"
}

// nativeStateSize is the size of the pointer-free block accounted to each
// thread's native state.
const nativeStateSize = 64

// nativeState is the per-thread wait record shared by sleep and join.
type nativeState struct {
	mu     natthread.Mutex
	cond   *natthread.Cond
	handle *natthread.Thread

	// joiner heads the list of threads joining this one; next links this
	// thread while it is on another thread's list. Both are guarded by the
	// monitor of the joined thread's object.
	joiner *nativeState
	next   *nativeState

	// pending records a wake-up delivered while the owner was not yet
	// blocked. Guarded by mu, as is waiting.
	pending bool
	waiting ThreadState

	block gc.Address
}

func newNativeState(name string, priority int) *nativeState {
	ns := &nativeState{handle: natthread.NewThread(name, priority)}
	ns.cond = natthread.NewCond(&ns.mu)
	return ns
}

// wake marks a pending wake-up and notifies the owner if it is blocked.
func (ns *nativeState) wake() {
	ns.mu.Lock()
	ns.pending = true
	ns.cond.NotifyAll()
	ns.mu.Unlock()
}

// Thread is a managed thread: a java.lang.Thread object, its native
// handle and the roots it holds.
type Thread struct {
	rt       *Runtime
	obj      gc.Address
	name     string
	entry    func(th *Thread)
	native   *nativeState
	attached bool

	started     bool // guarded by obj's monitor
	alive       atomic.Bool
	interrupted atomic.Bool
	state       atomic.Uint32

	rootsMu  sync.Mutex
	locals   []gc.Address
	eh       *EHInfo
	uncaught gc.Address
}

func (rt *Runtime) newThread(name string, priority int, entry func(*Thread)) *Thread {
	th := &Thread{rt: rt, name: name, entry: entry, native: newNativeState(name, priority)}
	rt.threads.Store(th, th)
	return th
}

// initObject allocates th's java.lang.Thread object and native block using
// creator's local roots, or th's own when creator is nil.
func (rt *Runtime) initObject(creator, th *Thread, priority int) {
	if creator == nil {
		creator = th
	}
	obj := rt.AllocObject(creator, rt.threadCls)
	name := rt.NewString(creator, th.name)
	rt.storeWord(obj+gc.Address(rt.threadName.Offset), name)
	rt.must(rt.heap.StoreUint(obj+gc.Address(rt.threadPriority.Offset), 4, uint64(priority)))
	th.native.block = rt.AllocBytesChecked(creator, nativeStateSize)
	rt.storeWord(obj+gc.Address(rt.threadData.Offset), th.native.block)

	th.rootsMu.Lock()
	th.obj = obj
	th.rootsMu.Unlock()
	rt.threadByObj.Store(obj, th)
	if creator == th {
		th.PopFrame(0)
	}
}

// NewThread creates an unstarted thread that will run entry. The creator's
// priority is inherited.
func (rt *Runtime) NewThread(creator *Thread, name string, entry func(th *Thread)) *Thread {
	prio := rt.defaultPriority
	if creator != nil && creator.obj != gc.Null {
		prio = rt.Priority(creator)
	}
	th := rt.newThread(name, prio, entry)
	rt.initObject(creator, th, prio)
	th.state.Store(uint32(ThreadNew))
	trace.Point(rt.tracer, trace.ScopeThread, "new", name, "obj", th.obj.String())
	return th
}

// AttachThread registers the calling goroutine as a running managed
// thread. Attached threads are never started or joined by the runtime;
// Shutdown marks them terminated.
func (rt *Runtime) AttachThread(name string) *Thread {
	if rt.closed.Load() {
		rt.Abort(FatalRuntimeClosed, "attach "+strconv.Quote(name)+" after shutdown")
	}
	th := rt.newThread(name, rt.defaultPriority, nil)
	th.attached = true
	th.started = true
	rt.initObject(th, th, rt.defaultPriority)
	th.alive.Store(true)
	th.state.Store(uint32(ThreadRunnable))
	trace.Point(rt.tracer, trace.ScopeThread, "attach", name, "obj", th.obj.String())
	return th
}

// ThreadOf returns the managed thread whose java.lang.Thread object is obj.
func (rt *Runtime) ThreadOf(obj gc.Address) (*Thread, bool) {
	v, ok := rt.threadByObj.Load(obj)
	if !ok {
		return nil, false
	}
	return v.(*Thread), true
}

// Threads returns every thread the runtime knows about.
func (rt *Runtime) Threads() []*Thread {
	var out []*Thread
	rt.threads.Range(func(_, v any) bool {
		out = append(out, v.(*Thread))
		return true
	})
	return out
}

// Start launches t on a new native thread. Starting a thread twice throws
// IllegalThreadStateException on th.
func (rt *Runtime) Start(th, t *Thread) {
	rt.Synchronized(th, t.obj, func() {
		if t.started {
			rt.ThrowNew(th, rt.exc.illegalThreadState, t.name)
		}
		t.started = true
		t.alive.Store(true)
		t.state.Store(uint32(ThreadRunnable))
	})
	rt.group.Create(t.native.handle, rt.run, t)
}

func (rt *Runtime) run(arg any) {
	t := arg.(*Thread)
	span := trace.Begin(rt.tracer, trace.ScopeThread, "run", 0)
	defer func() {
		rt.finish(t)
		span.End(t.name)
	}()
	if t.entry == nil {
		return
	}
	exc := rt.catchAll(t, func() { t.entry(t) })
	if exc == gc.Null {
		return
	}
	t.rootsMu.Lock()
	t.uncaught = exc
	t.rootsMu.Unlock()
	trace.Point(rt.tracer, trace.ScopeThread, "uncaught", rt.Describe(exc), "thread", t.name)
}

// finish marks t dead and wakes every joiner.
func (rt *Runtime) finish(t *Thread) {
	rt.MonitorEnter(t, t.obj)
	t.alive.Store(false)
	t.state.Store(uint32(ThreadTerminated))
	for j := t.native.joiner; j != nil; j = j.next {
		j.wake()
	}
	rt.MonitorExit(t, t.obj)

	t.ehFree()
	t.PopFrame(0)
}

// beginWait records that th is about to block in state s. Caller holds
// th.native.mu.
func (rt *Runtime) beginWait(th *Thread, s ThreadState) {
	ns := th.native
	if ns.waiting != 0 {
		was := ns.waiting
		ns.mu.Unlock()
		rt.Abort(FatalWaitReentered, fmt.Sprintf("thread %q blocks %s while already %s", th.name, s, was))
	}
	ns.waiting = s
	th.state.Store(uint32(s))
}

func (rt *Runtime) endWait(th *Thread) {
	ns := th.native
	ns.waiting = 0
	ns.pending = false
	th.state.Store(uint32(ThreadRunnable))
}

// Sleep blocks th for ms milliseconds plus ns nanoseconds, or until it is
// interrupted. An interrupt before or during the sleep throws
// InterruptedException and clears the flag. A zero duration returns at
// once.
func (rt *Runtime) Sleep(th *Thread, ms int64, ns int32) {
	if !natthread.ValidTimeout(ms, ns) {
		rt.ThrowNew(th, rt.exc.illegalArgument, "timeout value out of range")
	}
	me := th.native
	me.mu.Lock()
	me.pending = false
	if th.interrupted.Load() {
		me.mu.Unlock()
		rt.throwInterrupted(th)
	}
	if ms == 0 && ns == 0 {
		me.mu.Unlock()
		return
	}
	rt.beginWait(th, ThreadSleeping)
	_ = me.cond.Wait(ms, ns)
	rt.endWait(th)
	me.mu.Unlock()

	if th.interrupted.Load() {
		rt.throwInterrupted(th)
	}
}

// Join blocks th until t terminates, the timeout elapses or th is
// interrupted. A zero timeout waits indefinitely. A thread that was never
// started or has finished is joined at once.
func (rt *Runtime) Join(th, t *Thread, ms int64, ns int32) {
	if !natthread.ValidTimeout(ms, ns) {
		rt.ThrowNew(th, rt.exc.illegalArgument, "timeout value out of range")
	}
	if th.interrupted.Load() {
		rt.throwInterrupted(th)
	}
	me := th.native
	me.mu.Lock()
	me.pending = false
	me.mu.Unlock()

	linked := false
	rt.Synchronized(th, t.obj, func() {
		if !t.alive.Load() {
			return
		}
		me.next = t.native.joiner
		t.native.joiner = me
		linked = true
	})
	if !linked {
		return
	}

	me.mu.Lock()
	rt.beginWait(th, ThreadWaitingJoin)
	if !me.pending && !th.interrupted.Load() {
		_ = me.cond.Wait(ms, ns)
	}
	rt.endWait(th)
	me.mu.Unlock()

	found := false
	rt.Synchronized(th, t.obj, func() {
		var prev *nativeState
		for j := t.native.joiner; j != nil; prev, j = j, j.next {
			if j != me {
				continue
			}
			if prev == nil {
				t.native.joiner = j.next
			} else {
				prev.next = j.next
			}
			j.next = nil
			found = true
			break
		}
	})
	if !found {
		rt.Abort(FatalJoinerMissing, fmt.Sprintf("thread %q vanished from the joiners of %q", th.name, t.name))
	}
	if th.interrupted.Load() {
		rt.throwInterrupted(th)
	}
}

// Interrupt sets t's interrupt flag and wakes it from a sleep or join.
func (rt *Runtime) Interrupt(th, t *Thread) {
	t.interrupted.Store(true)
	t.native.wake()
	t.native.handle.Interrupt()
	trace.Point(rt.tracer, trace.ScopeThread, "interrupt", t.name, "by", th.Name())
}

// Interrupted reports and clears th's interrupt flag.
func (rt *Runtime) Interrupted(th *Thread) bool {
	if !th.interrupted.Swap(false) {
		return false
	}
	th.native.handle.ClearInterrupt()
	return true
}

// IsInterrupted reports t's interrupt flag without clearing it.
func (rt *Runtime) IsInterrupted(t *Thread) bool {
	return t.interrupted.Load()
}

func (rt *Runtime) throwInterrupted(th *Thread) {
	rt.Interrupted(th)
	rt.ThrowNew(th, rt.exc.interrupted, th.name)
}

// SetPriority changes t's priority. Values outside [MinPriority,
// MaxPriority] throw IllegalArgumentException; values above the
// runtime's ceiling are lowered to it.
func (rt *Runtime) SetPriority(th, t *Thread, p int) {
	if p < MinPriority || p > MaxPriority {
		rt.ThrowNew(th, rt.exc.illegalArgument, "priority "+strconv.Itoa(p))
	}
	p = min(p, rt.maxPriority)
	rt.must(rt.heap.StoreUint(t.obj+gc.Address(rt.threadPriority.Offset), 4, uint64(p)))
	t.native.handle.SetPriority(p)
}

// Priority returns t's priority as stored in its thread object.
func (rt *Runtime) Priority(t *Thread) int {
	v, err := rt.heap.LoadUint(t.obj+gc.Address(rt.threadPriority.Offset), 4)
	if err != nil {
		return t.native.handle.Priority()
	}
	return int(int32(uint32(v)))
}

// Yield offers the processor to other threads.
func (rt *Runtime) Yield() {
	natthread.Yield()
}

// Name returns the thread's name.
func (th *Thread) Name() string {
	if th == nil {
		return "<none>"
	}
	return th.name
}

// Object returns the java.lang.Thread object.
func (th *Thread) Object() gc.Address { return th.obj }

// IsAlive reports whether the thread has started and not finished.
func (th *Thread) IsAlive() bool { return th.alive.Load() }

// State returns the lifecycle state.
func (th *Thread) State() ThreadState { return ThreadState(th.state.Load()) }

// Attached reports whether the thread was registered with AttachThread.
func (th *Thread) Attached() bool { return th.attached }

// Uncaught returns the exception that terminated the thread, or Null.
func (th *Thread) Uncaught() gc.Address {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	return th.uncaught
}

// Done is closed when a started thread's entry returns.
func (th *Thread) Done() <-chan struct{} { return th.native.handle.Done() }

// Keep records addr as a local root of th and returns it. Go variables are
// invisible to the collector; anything held across an allocation must be
// kept.
func (th *Thread) Keep(addr gc.Address) gc.Address {
	if th == nil || addr == gc.Null {
		return addr
	}
	th.rootsMu.Lock()
	th.locals = append(th.locals, addr)
	th.rootsMu.Unlock()
	return addr
}

// Frame returns a mark for PopFrame.
func (th *Thread) Frame() int {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	return len(th.locals)
}

// PopFrame drops the local roots recorded since mark, then keeps the
// given results.
func (th *Thread) PopFrame(mark int, keep ...gc.Address) {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	if mark >= 0 && mark < len(th.locals) {
		clear(th.locals[mark:])
		th.locals = th.locals[:mark]
	}
	for _, a := range keep {
		if a != gc.Null {
			th.locals = append(th.locals, a)
		}
	}
}

// Locals returns the number of local roots th holds.
func (th *Thread) Locals() int { return th.Frame() }

// InFlight returns the exception th is currently throwing, or Null.
func (th *Thread) InFlight() gc.Address {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	if th.eh == nil {
		return gc.Null
	}
	return th.eh.Value
}

// ehAlloc returns th's exception record, allocating it on first throw.
func (th *Thread) ehAlloc() *EHInfo {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	if th.eh == nil {
		th.eh = &EHInfo{}
	}
	return th.eh
}

func (th *Thread) ehFree() {
	th.rootsMu.Lock()
	th.eh = nil
	th.rootsMu.Unlock()
}

func (th *Thread) ehInfo() *EHInfo {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	return th.eh
}

func (th *Thread) pushRoots(ms *gc.MarkStack) {
	th.rootsMu.Lock()
	defer th.rootsMu.Unlock()
	ms.Push(th.obj)
	for _, a := range th.locals {
		ms.Push(a)
	}
	if th.eh != nil {
		ms.Push(th.eh.Value)
	}
	ms.Push(th.uncaught)
}
