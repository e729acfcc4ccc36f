package rt

import (
	"fmt"

	"gcjrt/internal/gc"
	"gcjrt/internal/trace"
)

// Language tags an exception with the runtime that raised it. Handler
// tables of another language never match.
type Language uint64

// LangJava is "GNUCJAVA" packed big-endian.
const LangJava Language = 0x474e55434a415641

// ehVersion is the layout version of EHInfo records.
const ehVersion = 1

// MatchInfo selects the exceptions a handler catches: zero catches
// everything, a class object address catches that class and its
// subclasses, a name token address with the low bit set is resolved by
// name at match time.
type MatchInfo uint64

// MatchAll is the catch-all descriptor.
const MatchAll MatchInfo = 0

// MatchClass encodes a direct class reference.
func MatchClass(c *Class) MatchInfo { return MatchInfo(c.addr) }

// MatchName encodes a class name token.
func MatchName(u *Utf8Const) MatchInfo { return MatchInfo(u.addr) | 1 }

// MatchFunc is called for each handler while searching for one that
// catches the exception in flight. It returns the payload on a match and
// Null otherwise.
type MatchFunc func(info *EHInfo, match MatchInfo, table *ExceptionTable) gc.Address

// EHInfo is a thread's in-flight exception record.
type EHInfo struct {
	Match    MatchFunc
	Language Language
	Version  int
	Value    gc.Address
}

// Handler is one catch clause.
type Handler struct {
	Match MatchInfo
	Run   func(th *Thread, exc gc.Address)
}

// ExceptionTable lists the catch clauses of a Try, searched in order.
type ExceptionTable struct {
	Language Language
	Version  int
	Handlers []Handler
}

// Catch builds a table of Java handlers.
func Catch(handlers ...Handler) *ExceptionTable {
	return &ExceptionTable{Language: LangJava, Version: ehVersion, Handlers: handlers}
}

// unwind is the panic value carrying a managed exception up the Go stack.
type unwind struct {
	th *Thread
}

func (u *unwind) String() string {
	return fmt.Sprintf("uncaught managed exception on thread %q", u.th.name)
}

// Throw installs payload as th's in-flight exception and unwinds to the
// nearest Try that catches it. A null payload becomes a new
// NullPointerException. Throwing while an exception is already in flight
// is fatal.
func (rt *Runtime) Throw(th *Thread, payload gc.Address) {
	if th == nil {
		rt.Abort(FatalNoThread, "throw without a current thread")
	}
	if v := th.InFlight(); v != gc.Null {
		rt.Abort(FatalDoubleThrow, fmt.Sprintf("thread %q: throw while %s is in flight", th.name, v))
	}
	if payload == gc.Null {
		payload = rt.newThrowable(th, rt.exc.nullPointer, "", gc.Null)
	}

	info := th.ehAlloc()
	th.rootsMu.Lock()
	info.Match = rt.TypeMatcher
	info.Language = LangJava
	info.Version = ehVersion
	info.Value = payload
	th.rootsMu.Unlock()

	if rt.tracer.Level().ShouldEmit(trace.ScopeObject) {
		name := "?"
		if c := rt.ClassOf(payload); c != nil {
			name = c.Name.String()
		}
		trace.Point(rt.tracer, trace.ScopeObject, "throw", name, "thread", th.name)
	}
	panic(&unwind{th: th})
}

// TypeMatcher is the matcher Throw installs. Foreign tables never match;
// MatchAll matches any payload; otherwise the payload must be an instance
// of the class match names.
func (rt *Runtime) TypeMatcher(info *EHInfo, match MatchInfo, table *ExceptionTable) gc.Address {
	if info == nil || table == nil || table.Language != LangJava || info.Language != LangJava {
		return gc.Null
	}
	if match == MatchAll {
		return info.Value
	}
	var c *Class
	if match&1 != 0 {
		tok, ok := rt.Utf8At(gc.Address(match &^ 1))
		if !ok {
			return gc.Null
		}
		found, err := rt.FindClass(tok.String())
		if err != nil {
			return gc.Null
		}
		c = found
	} else {
		found, ok := rt.ClassAt(gc.Address(match))
		if !ok {
			return gc.Null
		}
		c = found
	}
	if rt.IsInstanceOf(info.Value, c) {
		return info.Value
	}
	return gc.Null
}

// FetchAndClear returns th's in-flight exception and clears the slot. The
// payload stays a local root of th. Calling it with nothing in flight is
// fatal.
func (rt *Runtime) FetchAndClear(th *Thread) gc.Address {
	th.rootsMu.Lock()
	info := th.eh
	if info == nil {
		th.rootsMu.Unlock()
		rt.Abort(FatalNoExceptionInfo, fmt.Sprintf("thread %q never threw", th.name))
	}
	v := info.Value
	if v == gc.Null {
		th.rootsMu.Unlock()
		rt.Abort(FatalNothingInFlight, fmt.Sprintf("thread %q has no exception in flight", th.name))
	}
	info.Value = gc.Null
	th.locals = append(th.locals, v)
	th.rootsMu.Unlock()
	return v
}

// Try runs body. If body throws, the handlers of table are tried in order
// with the in-flight exception's matcher; the first that matches receives
// the fetched exception after body's frames have unwound. With no match
// the exception keeps unwinding. Fatal errors are never caught.
func (rt *Runtime) Try(th *Thread, table *ExceptionTable, body func()) {
	var handler *Handler
	var exc gc.Address
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			u, ok := r.(*unwind)
			if !ok || u.th != th || table == nil {
				panic(r)
			}
			info := th.ehInfo()
			for i := range table.Handlers {
				if info.Match(info, table.Handlers[i].Match, table) != gc.Null {
					handler = &table.Handlers[i]
					exc = rt.FetchAndClear(th)
					return
				}
			}
			panic(r)
		}()
		body()
	}()
	if handler != nil && handler.Run != nil {
		handler.Run(th, exc)
	}
}

// catchAll runs fn and returns the exception it threw, or Null.
func (rt *Runtime) catchAll(th *Thread, fn func()) gc.Address {
	var caught gc.Address
	rt.Try(th, Catch(Handler{Match: MatchAll, Run: func(_ *Thread, e gc.Address) { caught = e }}), fn)
	return caught
}

// ThrowNew allocates an instance of the throwable class c with message msg
// and throws it.
func (rt *Runtime) ThrowNew(th *Thread, c *Class, msg string) {
	rt.Throw(th, rt.newThrowable(th, c, msg, gc.Null))
}

func (rt *Runtime) newThrowable(th *Thread, c *Class, msg string, cause gc.Address) gc.Address {
	obj := rt.AllocObject(th, c)
	if msg != "" {
		rt.storeWord(obj+gc.Address(rt.exc.messageField.Offset), rt.NewString(th, msg))
	}
	if cause != gc.Null {
		rt.storeWord(obj+gc.Address(rt.exc.causeField.Offset), cause)
	}
	return obj
}

// Message returns the detail message of a throwable, or "".
func (rt *Runtime) Message(exc gc.Address) string {
	if exc == gc.Null {
		return ""
	}
	s, err := rt.heap.LoadWord(exc + gc.Address(rt.exc.messageField.Offset))
	if err != nil || s == gc.Null {
		return ""
	}
	return rt.GoString(s)
}

// Cause returns the cause recorded on a throwable, or Null.
func (rt *Runtime) Cause(exc gc.Address) gc.Address {
	if exc == gc.Null {
		return gc.Null
	}
	c, err := rt.heap.LoadWord(exc + gc.Address(rt.exc.causeField.Offset))
	if err != nil {
		return gc.Null
	}
	return c
}

// Describe renders a throwable as "ClassName: message".
func (rt *Runtime) Describe(exc gc.Address) string {
	c := rt.ClassOf(exc)
	if c == nil {
		return "null"
	}
	if msg := rt.Message(exc); msg != "" {
		return c.Name.String() + ": " + msg
	}
	return c.Name.String()
}
