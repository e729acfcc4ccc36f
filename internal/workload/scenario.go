// Package workload drives the runtime through the canned scenarios, the
// stress run and the heap-dump workload used by the CLI.
package workload

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"gcjrt/internal/gc"
	"gcjrt/internal/rt"
)

// ErrUnknownScenario is returned for a name Run does not know.
var ErrUnknownScenario = errors.New("unknown scenario")

// Result is the outcome of one scenario.
type Result struct {
	Name    string
	Passed  bool
	Detail  string
	Elapsed time.Duration
}

type scenario struct {
	name string
	desc string
	run  func(r *rt.Runtime, main *rt.Thread, c *checker)
}

var scenarios = []scenario{
	{"finalize", "finalizer registration follows finalize overrides", runFinalize},
	{"join", "join waits for a running thread to terminate", runJoin},
	{"sleep", "interrupt cuts a long sleep short", runSleep},
	{"catch", "type matcher honours catch-all and subclass handlers", runCatch},
}

// Names lists the scenarios in run order.
func Names() []string {
	out := make([]string, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.name
	}
	return out
}

// Describe returns the one-line description of a scenario.
func Describe(name string) string {
	for _, s := range scenarios {
		if s.name == name {
			return s.desc
		}
	}
	return ""
}

// Run executes the named scenario, or every scenario for "all", each
// against a fresh runtime built from opts.
func Run(name string, opts rt.Options) ([]Result, error) {
	var selected []scenario
	switch name {
	case "", "all":
		selected = scenarios
	default:
		i := slices.IndexFunc(scenarios, func(s scenario) bool { return s.name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %q (expected: %s|all)", ErrUnknownScenario, name, strings.Join(Names(), "|"))
		}
		selected = scenarios[i : i+1]
	}

	results := make([]Result, 0, len(selected))
	for _, s := range selected {
		res, err := runOne(s, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func runOne(s scenario, opts rt.Options) (Result, error) {
	r, err := rt.New(opts)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", s.name, err)
	}
	defer r.Shutdown()
	main := r.AttachThread("main")

	c := &checker{}
	start := time.Now()
	if exc := catchAll(r, main, func() { s.run(r, main, c) }); exc != gc.Null {
		c.failf("uncaught %s", r.Describe(exc))
	}
	return Result{
		Name:    s.name,
		Passed:  len(c.failures) == 0,
		Detail:  c.detail(),
		Elapsed: time.Since(start),
	}, nil
}

type checker struct {
	failures []string
	notes    []string
}

func (c *checker) failf(format string, args ...any) {
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

func (c *checker) notef(format string, args ...any) {
	c.notes = append(c.notes, fmt.Sprintf(format, args...))
}

func (c *checker) detail() string {
	if len(c.failures) > 0 {
		return strings.Join(c.failures, "; ")
	}
	return strings.Join(c.notes, "; ")
}

func catchAll(r *rt.Runtime, th *rt.Thread, fn func()) gc.Address {
	exc := gc.Null
	r.Try(th, rt.Catch(rt.Handler{Match: rt.MatchAll, Run: func(_ *rt.Thread, e gc.Address) { exc = e }}), fn)
	return exc
}

func mustClass(r *rt.Runtime, name string) *rt.Class {
	c, err := r.FindClass(name)
	if err != nil {
		r.Abort(rt.FatalBootstrap, err.Error())
	}
	return c
}

func runFinalize(r *rt.Runtime, main *rt.Thread, c *checker) {
	var ran atomic.Int32
	withFinalizer := r.MustDefineClass(rt.ClassSpec{
		Name:  "scenario.Resource",
		Super: r.ObjectClass(),
		Methods: []rt.MethodSpec{{Name: "finalize", Sig: "()V", Impl: func(*rt.Thread, gc.Address) {
			ran.Add(1)
		}}},
	})
	plain := r.MustDefineClass(rt.ClassSpec{Name: "scenario.Plain", Super: r.ObjectClass()})

	mark := main.Frame()
	res := r.AllocObject(main, withFinalizer)
	obj := r.AllocObject(main, plain)
	if !r.HasFinalizer(res) {
		c.failf("no finalizer registered for %s", withFinalizer)
	}
	if r.HasFinalizer(obj) {
		c.failf("finalizer registered for %s", plain)
	}

	main.PopFrame(mark)
	n := r.Collect()
	if ran.Load() != 1 {
		c.failf("finalizer ran %d times after collection", ran.Load())
	}
	r.Collect()
	if r.Heap().Contains(res) || r.Heap().Contains(obj) {
		c.failf("unreachable objects survived")
	}
	c.notef("%d finalizer(s) run", n)
}

func runJoin(r *rt.Runtime, main *rt.Thread, c *checker) {
	interrupted := mustClass(r, "java.lang.InterruptedException")
	b := r.NewThread(main, "B", func(self *rt.Thread) { r.Sleep(self, 20, 0) })

	var joinErr atomic.Value
	var waited atomic.Int64
	a := r.NewThread(main, "A", func(self *rt.Thread) {
		start := time.Now()
		r.Try(self, rt.Catch(rt.Handler{Match: rt.MatchClass(interrupted), Run: func(*rt.Thread, gc.Address) {
			joinErr.Store("join interrupted")
		}}), func() {
			r.Join(self, b, 0, 0)
		})
		waited.Store(int64(time.Since(start)))
		if b.IsAlive() {
			joinErr.Store("B alive after join")
		}
	})

	r.Start(main, b)
	r.Start(main, a)
	r.Join(main, a, 0, 0)

	if v := joinErr.Load(); v != nil {
		c.failf("%s", v)
	}
	if exc := a.Uncaught(); exc != gc.Null {
		c.failf("A failed: %s", r.Describe(exc))
	}
	if b.State() != rt.ThreadTerminated {
		c.failf("B state = %s", b.State())
	}
	c.notef("A waited %v", time.Duration(waited.Load()).Round(time.Millisecond))
}

func runSleep(r *rt.Runtime, main *rt.Thread, c *checker) {
	interrupted := mustClass(r, "java.lang.InterruptedException")
	var caught atomic.Bool
	var slept atomic.Int64
	a := r.NewThread(main, "A", func(self *rt.Thread) {
		start := time.Now()
		r.Try(self, rt.Catch(rt.Handler{Match: rt.MatchClass(interrupted), Run: func(*rt.Thread, gc.Address) {
			caught.Store(true)
		}}), func() {
			r.Sleep(self, 1000, 0)
		})
		slept.Store(int64(time.Since(start)))
	})
	b := r.NewThread(main, "B", func(self *rt.Thread) {
		r.Sleep(self, 10, 0)
		r.Interrupt(self, a)
	})

	r.Start(main, a)
	r.Start(main, b)
	r.Join(main, a, 0, 0)
	r.Join(main, b, 0, 0)

	d := time.Duration(slept.Load())
	if !caught.Load() {
		c.failf("sleep was not interrupted")
	}
	if d >= 500*time.Millisecond {
		c.failf("sleep returned after %v", d)
	}
	if r.IsInterrupted(a) {
		c.failf("interrupt flag still set")
	}
	c.notef("slept %v", d.Round(time.Millisecond))
}

func runCatch(r *rt.Runtime, main *rt.Thread, c *checker) {
	runtimeExc := mustClass(r, "java.lang.RuntimeException")
	illegalArg := mustClass(r, "java.lang.IllegalArgumentException")
	errorCls := mustClass(r, "java.lang.Error")
	oom := r.OutOfMemory()

	info := &rt.EHInfo{Language: rt.LangJava, Value: oom}
	table := rt.Catch()
	if r.TypeMatcher(info, rt.MatchAll, table) != oom {
		c.failf("catch-all rejected %s", r.ClassOf(oom))
	}
	if r.TypeMatcher(info, rt.MatchClass(errorCls), table) != oom {
		c.failf("Error handler rejected its subclass")
	}
	if r.TypeMatcher(info, rt.MatchClass(runtimeExc), table) != gc.Null {
		c.failf("RuntimeException handler accepted an Error")
	}

	var which string
	r.Try(main, rt.Catch(rt.Handler{Match: rt.MatchAll, Run: func(*rt.Thread, gc.Address) { which = "outer" }}), func() {
		r.Try(main, rt.Catch(
			rt.Handler{Match: rt.MatchClass(errorCls), Run: func(*rt.Thread, gc.Address) { which = "error" }},
			rt.Handler{Match: rt.MatchClass(runtimeExc), Run: func(*rt.Thread, gc.Address) { which = "runtime" }},
		), func() {
			r.ThrowNew(main, illegalArg, "scenario")
		})
	})
	if which != "runtime" {
		c.failf("IllegalArgumentException caught by %q handler", which)
	}

	which = ""
	r.Try(main, rt.Catch(rt.Handler{Match: rt.MatchAll, Run: func(*rt.Thread, gc.Address) { which = "outer" }}), func() {
		r.Try(main, rt.Catch(rt.Handler{Match: rt.MatchClass(errorCls), Run: func(*rt.Thread, gc.Address) { which = "error" }}), func() {
			r.ThrowNew(main, illegalArg, "scenario")
		})
	})
	if which != "outer" {
		c.failf("unmatched exception reached %q", which)
	}
}
