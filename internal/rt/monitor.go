package rt

import (
	"sync"
	"sync/atomic"

	"gcjrt/internal/gc"
)

// monitor is the inflated intrinsic lock of one object. The object's sync
// word holds the address of a pointer-free lock record; the record address
// keys the monitor table and the entry is dropped when the record is freed.
type monitor struct {
	mu     sync.Mutex
	entry  *sync.Cond
	notify *sync.Cond
	owner  *Thread
	count  int
	gen    uint64

	// users counts threads inside or entering the monitor. A busy record
	// is a root so the entry cannot be dropped under them.
	users atomic.Int32
}

func newMonitor() *monitor {
	m := &monitor{}
	m.entry = sync.NewCond(&m.mu)
	m.notify = sync.NewCond(&m.mu)
	return m
}

func (m *monitor) busy() bool { return m.users.Load() > 0 }

// inflate returns the monitor of obj, installing a lock record on first
// use, and registers the caller as a user.
func (rt *Runtime) inflate(th *Thread, obj gc.Address) *monitor {
	if obj == gc.Null {
		rt.ThrowNew(th, rt.exc.nullPointer, "monitor of null")
	}
	rec := rt.loadWord(obj + SyncOffset)
	if rec != gc.Null {
		v, _ := rt.monitors.LoadOrStore(rec, newMonitor())
		m := v.(*monitor)
		m.users.Add(1)
		return m
	}

	fresh := rt.heap.AllocPinned(gc.PtrFree, gc.WordSize)
	if fresh == gc.Null {
		rt.throwOOM(th, gc.WordSize)
	}
	swapped, err := rt.heap.CompareAndSwapWord(obj+SyncOffset, gc.Null, fresh)
	rt.must(err)
	rec = fresh
	if !swapped {
		rec = rt.loadWord(obj + SyncOffset)
	}
	v, _ := rt.monitors.LoadOrStore(rec, newMonitor())
	m := v.(*monitor)
	m.users.Add(1)
	rt.unpin(fresh)
	return m
}

func (rt *Runtime) lookupMonitor(obj gc.Address) *monitor {
	if obj == gc.Null {
		return nil
	}
	rec, err := rt.heap.LoadWord(obj + SyncOffset)
	if err != nil || rec == gc.Null {
		return nil
	}
	v, ok := rt.monitors.Load(rec)
	if !ok {
		return nil
	}
	return v.(*monitor)
}

// MonitorEnter acquires the intrinsic lock of obj. It is reentrant.
func (rt *Runtime) MonitorEnter(th *Thread, obj gc.Address) {
	m := rt.inflate(th, obj)
	m.mu.Lock()
	for m.owner != nil && m.owner != th {
		m.entry.Wait()
	}
	m.owner = th
	m.count++
	m.mu.Unlock()
}

// MonitorExit releases one level of th's hold on obj's lock. Exiting a
// monitor th does not own throws IllegalMonitorStateException.
func (rt *Runtime) MonitorExit(th *Thread, obj gc.Address) {
	m := rt.lookupMonitor(obj)
	if m == nil {
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "monitor not owned")
	}
	m.mu.Lock()
	if m.owner != th {
		m.mu.Unlock()
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "monitor not owned")
	}
	m.count--
	if m.count == 0 {
		m.owner = nil
		m.entry.Signal()
	}
	m.mu.Unlock()
	m.users.Add(-1)
}

// HoldsLock reports whether th owns obj's lock.
func (rt *Runtime) HoldsLock(th *Thread, obj gc.Address) bool {
	m := rt.lookupMonitor(obj)
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner == th
}

// Synchronized runs fn holding obj's lock. The lock is released when fn
// returns or throws.
func (rt *Runtime) Synchronized(th *Thread, obj gc.Address, fn func()) {
	rt.MonitorEnter(th, obj)
	defer rt.MonitorExit(th, obj)
	fn()
}

// monitorWait releases obj's lock completely, blocks until a
// monitorNotifyAll and reacquires the lock at the same depth.
func (rt *Runtime) monitorWait(th *Thread, obj gc.Address) {
	m := rt.lookupMonitor(obj)
	if m == nil {
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "wait without owning the monitor")
	}
	m.mu.Lock()
	if m.owner != th {
		m.mu.Unlock()
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "wait without owning the monitor")
	}
	saved := m.count
	m.owner, m.count = nil, 0
	m.entry.Signal()
	gen := m.gen
	for m.gen == gen {
		m.notify.Wait()
	}
	for m.owner != nil {
		m.entry.Wait()
	}
	m.owner, m.count = th, saved
	m.mu.Unlock()
}

// monitorNotifyAll wakes every thread in monitorWait on obj.
func (rt *Runtime) monitorNotifyAll(th *Thread, obj gc.Address) {
	m := rt.lookupMonitor(obj)
	if m == nil {
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "notify without owning the monitor")
	}
	m.mu.Lock()
	if m.owner != th {
		m.mu.Unlock()
		rt.ThrowNew(th, rt.exc.illegalMonitorState, "notify without owning the monitor")
	}
	m.gen++
	m.notify.Broadcast()
	m.mu.Unlock()
}
