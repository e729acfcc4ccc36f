package rt

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"gcjrt/internal/gc"
)

func TestInitRunsSuperclassFirst(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var order []string
	parent := r.MustDefineClass(ClassSpec{
		Name:  "Parent",
		Super: r.ObjectClass(),
		Init:  func(*Thread, *Class) { order = append(order, "parent") },
	})
	child := r.MustDefineClass(ClassSpec{
		Name:  "Child",
		Super: parent,
		Init:  func(*Thread, *Class) { order = append(order, "child") },
	})
	r.AllocObject(th, child)
	r.AllocObject(th, child)
	if !slices.Equal(order, []string{"parent", "child"}) {
		t.Fatalf("init order = %v", order)
	}
	if parent.State() != StateDone || child.State() != StateDone {
		t.Fatalf("states = %s, %s", parent.State(), child.State())
	}
}

func TestRecursiveInitProceeds(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var inner ClassState
	c := r.MustDefineClass(ClassSpec{
		Name:  "SelfRef",
		Super: r.ObjectClass(),
		Init: func(it *Thread, self *Class) {
			r.AllocObject(it, self)
			inner = self.State()
		},
	})
	r.InitClass(th, c)
	if inner != StateInProgress {
		t.Fatalf("state seen by the recursive request = %s", inner)
	}
	if c.State() != StateDone {
		t.Fatalf("final state = %s", c.State())
	}
}

func TestFailedInitPoisonsClass(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var runs int
	c := r.MustDefineClass(ClassSpec{
		Name:  "Broken",
		Super: r.ObjectClass(),
		Init: func(it *Thread, _ *Class) {
			runs++
			r.ThrowNew(it, r.exc.illegalArgument, "bad static")
		},
	})

	var first gc.Address
	r.Try(th, Catch(Handler{Match: MatchAll, Run: func(_ *Thread, e gc.Address) { first = e }}), func() {
		r.AllocObject(th, c)
	})
	if r.ClassOf(first) != r.exc.initializerError {
		t.Fatalf("first failure = %s", r.ClassOf(first))
	}
	if !r.IsInstanceOf(r.Cause(first), r.exc.illegalArgument) || r.Message(r.Cause(first)) != "bad static" {
		t.Fatalf("cause = %s", r.Describe(r.Cause(first)))
	}
	if c.State() != StateError {
		t.Fatalf("state = %s", c.State())
	}

	if got := thrown(r, th, func() { r.AllocObject(th, c) }); got != "java.lang.NoClassDefFoundError" {
		t.Fatalf("second allocation threw %q", got)
	}
	if runs != 1 {
		t.Fatalf("initializer ran %d times", runs)
	}
}

func TestInitErrorsPassThroughUnwrapped(t *testing.T) {
	r, th := newRuntime(t, Options{})
	c := r.MustDefineClass(ClassSpec{
		Name:  "Hungry",
		Super: r.ObjectClass(),
		Init:  func(it *Thread, _ *Class) { r.Throw(it, r.OutOfMemory()) },
	})
	if got := thrown(r, th, func() { r.InitClass(th, c) }); got != "java.lang.OutOfMemoryError" {
		t.Fatalf("init threw %q", got)
	}
}

func TestConcurrentInitRunsOnce(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	var runs atomic.Int32
	c := r.MustDefineClass(ClassSpec{
		Name:  "Slow",
		Super: r.ObjectClass(),
		Init: func(*Thread, *Class) {
			runs.Add(1)
			time.Sleep(20 * time.Millisecond)
		},
	})

	var mu sync.Mutex
	var states []ClassState
	var g errgroup.Group
	for range 5 {
		th := r.AttachThread("init")
		g.Go(func() error {
			r.AllocObject(th, c)
			mu.Lock()
			states = append(states, c.State())
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if runs.Load() != 1 {
		t.Fatalf("initializer ran %d times", runs.Load())
	}
	for _, s := range states {
		if s != StateDone {
			t.Fatalf("a thread returned from init in state %s", s)
		}
	}
}
