package rt

import (
	"gcjrt/internal/gc"
	"gcjrt/internal/trace"
)

// InitClass runs the static initializer of c once, superclasses first.
// Threads that find c being initialized by another thread wait on the
// class object's monitor; a recursive request from the initializing thread
// returns at once. An initializer that throws leaves c in StateError and
// later requests throw NoClassDefFoundError.
func (rt *Runtime) InitClass(th *Thread, c *Class) {
	if c.State() == StateDone {
		return
	}
	obj := c.addr
	rt.MonitorEnter(th, obj)
wait:
	for {
		switch c.State() {
		case StateDone:
			rt.MonitorExit(th, obj)
			return
		case StateError:
			rt.MonitorExit(th, obj)
			rt.ThrowNew(th, rt.exc.noClassDef, c.Name.String())
		case StateInProgress:
			if c.initThread.Load() == th {
				rt.MonitorExit(th, obj)
				return
			}
			rt.monitorWait(th, obj)
		default:
			break wait
		}
	}
	c.state.Store(uint32(StateInProgress))
	c.initThread.Store(th)
	rt.writeClassWord(c, classStateSlot, gc.Address(StateInProgress))
	rt.writeClassWord(c, classThreadSlot, th.obj)
	rt.MonitorExit(th, obj)

	span := trace.Begin(rt.tracer, trace.ScopeObject, "clinit", 0)
	var exc gc.Address
	if c.Super != nil {
		exc = rt.catchAll(th, func() { rt.InitClass(th, c.Super) })
	}
	if exc == gc.Null && c.init != nil {
		exc = rt.catchAll(th, func() { c.init(th, c) })
	}

	final := StateDone
	if exc != gc.Null {
		final = StateError
	}
	rt.MonitorEnter(th, obj)
	c.initThread.Store(nil)
	c.state.Store(uint32(final))
	rt.writeClassWord(c, classThreadSlot, gc.Null)
	rt.writeClassWord(c, classStateSlot, gc.Address(final))
	rt.monitorNotifyAll(th, obj)
	rt.MonitorExit(th, obj)
	span.WithExtra("class", c.Name.String()).End(final.String())

	if exc != gc.Null {
		if !rt.IsInstanceOf(exc, rt.exc.error) {
			exc = rt.newThrowable(th, rt.exc.initializerError, "", exc)
		}
		rt.Throw(th, exc)
	}
}
