package rt

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"gcjrt/internal/gc"
)

// waitState polls until t reaches s or a second passes.
func waitState(t *testing.T, th *Thread, s ThreadState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for th.State() != s {
		if time.Now().After(deadline) {
			t.Fatalf("thread %s stuck in %s, want %s", th.Name(), th.State(), s)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestThreadLifecycle(t *testing.T) {
	r, main := newRuntime(t, Options{})
	var ran atomic.Bool
	w := r.NewThread(main, "worker", func(*Thread) { ran.Store(true) })
	if w.State() != ThreadNew || w.IsAlive() {
		t.Fatalf("new thread state = %s alive=%v", w.State(), w.IsAlive())
	}
	if r.ClassOf(w.Object()) != r.ThreadClass() {
		t.Fatalf("thread object class = %s", r.ClassOf(w.Object()))
	}
	if got, ok := r.ThreadOf(w.Object()); !ok || got != w {
		t.Fatalf("thread lookup by object failed")
	}
	if name := r.GetObjectField(main, w.Object(), r.threadName); r.GoString(name) != "worker" {
		t.Fatalf("name field = %q", r.GoString(name))
	}

	r.Start(main, w)
	r.Join(main, w, 0, 0)
	if !ran.Load() || w.IsAlive() || w.State() != ThreadTerminated {
		t.Fatalf("after join: ran=%v alive=%v state=%s", ran.Load(), w.IsAlive(), w.State())
	}
	if w.Uncaught() != gc.Null {
		t.Fatalf("unexpected uncaught exception")
	}
}

func TestStartTwiceThrows(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "once", func(*Thread) {})
	r.Start(main, w)
	if got := thrown(r, main, func() { r.Start(main, w) }); got != "java.lang.IllegalThreadStateException" {
		t.Fatalf("second start threw %q", got)
	}
	r.Join(main, w, 0, 0)
	if got := thrown(r, main, func() { r.Start(main, w) }); got != "java.lang.IllegalThreadStateException" {
		t.Fatalf("restart of a finished thread threw %q", got)
	}
}

func TestConcurrentStartRunsOnce(t *testing.T) {
	r, main := newRuntime(t, Options{})
	var runs atomic.Int32
	w := r.NewThread(main, "contended", func(*Thread) { runs.Add(1) })

	const callers = 8
	var rejected atomic.Int32
	var g errgroup.Group
	for i := range callers {
		caller := r.AttachThread("starter-" + string(rune('a'+i)))
		g.Go(func() error {
			if thrown(r, caller, func() { r.Start(caller, w) }) == "java.lang.IllegalThreadStateException" {
				rejected.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.Join(main, w, 0, 0)
	if runs.Load() != 1 || rejected.Load() != callers-1 {
		t.Fatalf("runs = %d, rejected = %d", runs.Load(), rejected.Load())
	}
}

func TestUncaughtExceptionIsRecorded(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "crasher", func(self *Thread) {
		r.ThrowNew(self, r.exc.illegalArgument, "boom")
	})
	r.Start(main, w)
	r.Join(main, w, 0, 0)
	exc := w.Uncaught()
	if r.Describe(exc) != "java.lang.IllegalArgumentException: boom" {
		t.Fatalf("uncaught = %q", r.Describe(exc))
	}
	r.Collect()
	if !r.Heap().Contains(exc) {
		t.Fatalf("uncaught exception freed")
	}
}

func TestInterruptWakesSleeper(t *testing.T) {
	r, main := newRuntime(t, Options{})
	var caught atomic.Bool
	var elapsed atomic.Int64
	sleeper := r.NewThread(main, "sleeper", func(self *Thread) {
		start := time.Now()
		r.Try(self, Catch(Handler{Match: MatchClass(r.exc.interrupted), Run: func(*Thread, gc.Address) {
			caught.Store(true)
		}}), func() {
			r.Sleep(self, 10_000, 0)
		})
		elapsed.Store(int64(time.Since(start)))
		if r.IsInterrupted(self) {
			r.ThrowNew(self, r.exc.illegalThreadState, "flag not cleared")
		}
	})
	r.Start(main, sleeper)
	waitState(t, sleeper, ThreadSleeping)
	r.Interrupt(main, sleeper)
	r.Join(main, sleeper, 0, 0)

	if !caught.Load() {
		t.Fatalf("sleep was not interrupted")
	}
	if d := time.Duration(elapsed.Load()); d > 5*time.Second {
		t.Fatalf("sleep returned after %v", d)
	}
	if sleeper.Uncaught() != gc.Null {
		t.Fatalf("sleeper failed: %s", r.Describe(sleeper.Uncaught()))
	}
}

func TestSleepWithPendingInterrupt(t *testing.T) {
	r, main := newRuntime(t, Options{})
	r.Interrupt(main, main)
	if !r.IsInterrupted(main) {
		t.Fatalf("flag not set")
	}
	start := time.Now()
	if got := thrown(r, main, func() { r.Sleep(main, 5_000, 0) }); got != "java.lang.InterruptedException" {
		t.Fatalf("sleep threw %q", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep blocked despite the pending interrupt")
	}
	if r.Interrupted(main) {
		t.Fatalf("interrupt flag survived the exception")
	}
}

func TestSleepTimesOut(t *testing.T) {
	r, main := newRuntime(t, Options{})
	start := time.Now()
	r.Sleep(main, 20, 500)
	if d := time.Since(start); d < 15*time.Millisecond {
		t.Fatalf("sleep returned after %v", d)
	}
	if main.State() != ThreadRunnable {
		t.Fatalf("state after sleep = %s", main.State())
	}
	r.Sleep(main, 0, 0)
	if got := thrown(r, main, func() { r.Sleep(main, -1, 0) }); got != "java.lang.IllegalArgumentException" {
		t.Fatalf("negative sleep threw %q", got)
	}
	if got := thrown(r, main, func() { r.Sleep(main, 0, 1_000_000) }); got != "java.lang.IllegalArgumentException" {
		t.Fatalf("nanos overflow threw %q", got)
	}
}

func TestInterruptedClearsFlag(t *testing.T) {
	r, main := newRuntime(t, Options{})
	if r.Interrupted(main) {
		t.Fatalf("fresh thread interrupted")
	}
	r.Interrupt(main, main)
	if !r.Interrupted(main) || r.Interrupted(main) {
		t.Fatalf("Interrupted did not test-and-clear")
	}
}

func TestJoinWaitsForTermination(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "slow", func(self *Thread) { r.Sleep(self, 50, 0) })
	r.Start(main, w)
	start := time.Now()
	r.Join(main, w, 0, 0)
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("join returned before the target finished")
	}
	if w.IsAlive() {
		t.Fatalf("joined thread still alive")
	}
	if w.native.joiner != nil || main.native.next != nil {
		t.Fatalf("joiner left linked")
	}
}

func TestJoinTimeout(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "long", func(self *Thread) {
		r.Try(self, Catch(Handler{Match: MatchAll}), func() { r.Sleep(self, 10_000, 0) })
	})
	r.Start(main, w)
	waitState(t, w, ThreadSleeping)

	start := time.Now()
	r.Join(main, w, 20, 0)
	if d := time.Since(start); d < 15*time.Millisecond || d > 5*time.Second {
		t.Fatalf("timed join took %v", d)
	}
	if !w.IsAlive() {
		t.Fatalf("target finished early")
	}
	r.Interrupt(main, w)
	r.Join(main, w, 0, 0)
	if w.IsAlive() {
		t.Fatalf("target still alive after interrupt and join")
	}
}

func TestJoinUnstartedReturnsAtOnce(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "idle", nil)
	done := make(chan struct{})
	go func() {
		r.Join(main, w, 0, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("join of an unstarted thread blocked")
	}
}

func TestInterruptWakesJoiner(t *testing.T) {
	r, main := newRuntime(t, Options{})
	release := make(chan struct{})
	target := r.NewThread(main, "target", func(*Thread) { <-release })
	r.Start(main, target)

	var got atomic.Value
	joiner := r.NewThread(main, "joiner", func(self *Thread) {
		got.Store(thrown(r, self, func() { r.Join(self, target, 0, 0) }))
	})
	r.Start(main, joiner)
	waitState(t, joiner, ThreadWaitingJoin)
	r.Interrupt(main, joiner)
	r.Join(main, joiner, 0, 0)
	if got.Load() != "java.lang.InterruptedException" {
		t.Fatalf("interrupted join delivered %v", got.Load())
	}
	if target.native.joiner != nil {
		t.Fatalf("interrupted joiner left on the list")
	}
	close(release)
	r.Join(main, target, 0, 0)
}

func TestManyJoinersAllWake(t *testing.T) {
	r, main := newRuntime(t, Options{})
	target := r.NewThread(main, "target", func(self *Thread) { r.Sleep(self, 30, 0) })
	r.Start(main, target)

	var g errgroup.Group
	for range 6 {
		j := r.AttachThread("joiner")
		g.Go(func() error {
			r.Join(j, target, 0, 0)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("a joiner missed the wake-up")
	}
}

func TestShortLivedThreadsJoinWithoutLostWakeups(t *testing.T) {
	r, main := newRuntime(t, Options{})
	for i := range 50 {
		w := r.NewThread(main, "blip", func(*Thread) {})
		r.Start(main, w)
		if i%2 == 0 {
			r.Yield()
		}
		r.Join(main, w, 2_000, 0)
		if w.IsAlive() {
			t.Fatalf("join %d timed out", i)
		}
	}
}

func TestSelfJoinWaitsForTimeout(t *testing.T) {
	r, main := newRuntime(t, Options{})
	start := time.Now()
	r.Join(main, main, 10, 0)
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("self join returned immediately")
	}
	if main.native.joiner != nil {
		t.Fatalf("self join left the list dirty")
	}
}

func TestSetPriority(t *testing.T) {
	r, main := newRuntime(t, Options{MaxPriority: 7})
	if got := r.Priority(main); got != NormPriority {
		t.Fatalf("default priority = %d", got)
	}
	r.SetPriority(main, main, 9)
	if got := r.Priority(main); got != 7 {
		t.Fatalf("priority above the ceiling = %d, want 7", got)
	}
	if main.native.handle.Priority() != 7 {
		t.Fatalf("native priority = %d", main.native.handle.Priority())
	}
	for _, p := range []int{0, 11, -3} {
		if got := thrown(r, main, func() { r.SetPriority(main, main, p) }); got != "java.lang.IllegalArgumentException" {
			t.Fatalf("priority %d threw %q", p, got)
		}
	}

	r.SetPriority(main, main, 3)
	child := r.NewThread(main, "child", nil)
	if got := r.Priority(child); got != 3 {
		t.Fatalf("child priority = %d, want inherited 3", got)
	}
}

func TestWaitReentryIsFatal(t *testing.T) {
	r, main := newRuntime(t, Options{})
	main.native.mu.Lock()
	main.native.waiting = ThreadSleeping
	main.native.mu.Unlock()
	expectFatal(t, FatalWaitReentered, func() { r.Sleep(main, 1, 0) })
}

func TestThreadObjectsSurviveCollection(t *testing.T) {
	r, main := newRuntime(t, Options{})
	mark := main.Frame()
	w := r.NewThread(main, "kept", nil)
	main.PopFrame(mark)
	r.Collect()
	if !r.Heap().Contains(w.Object()) || !r.Heap().Contains(w.native.block) {
		t.Fatalf("thread object or its native block was freed")
	}
}

func TestJoinFinishedThreadReturnsAtOnce(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "short", func(*Thread) {})
	r.Start(main, w)
	<-w.Done()
	r.Join(main, w, 0, 0)
	for _, ms := range []int64{0, 1, 10_000} {
		start := time.Now()
		r.Join(main, w, ms, 0)
		if d := time.Since(start); d > 500*time.Millisecond {
			t.Fatalf("join(%d) of a finished thread took %v", ms, d)
		}
	}
}

func TestNewThreadWithoutCreatorSurvivesCollection(t *testing.T) {
	r, main := newRuntime(t, Options{CollectThreshold: 1})
	w := r.NewThread(nil, "orphan", nil)
	if !r.Heap().Contains(w.Object()) || w.Name() != "orphan" {
		t.Fatalf("thread object lost during construction")
	}
	if w.Locals() != 0 {
		t.Fatalf("construction left %d locals on the new thread", w.Locals())
	}
	r.Collect()
	if got, ok := r.ThreadOf(w.Object()); !ok || got != w {
		t.Fatalf("thread object not registered after collection")
	}
	if r.Priority(w) != NormPriority {
		t.Fatalf("priority = %d, want %d", r.Priority(w), NormPriority)
	}
	r.Start(main, w)
	r.Join(main, w, 0, 0)
	if w.State() != ThreadTerminated {
		t.Fatalf("state = %s", w.State())
	}
}

func TestJoinRejectsBadTimeouts(t *testing.T) {
	r, main := newRuntime(t, Options{})
	w := r.NewThread(main, "idle", nil)
	if got := thrown(r, main, func() { r.Join(main, w, -1, 0) }); got != "java.lang.IllegalArgumentException" {
		t.Fatalf("negative join threw %q", got)
	}
	if got := thrown(r, main, func() { r.Join(main, w, 0, 1_000_000) }); got != "java.lang.IllegalArgumentException" {
		t.Fatalf("nanos overflow threw %q", got)
	}
}

func TestJoinWithPendingInterruptFailsFast(t *testing.T) {
	r, main := newRuntime(t, Options{})
	release := make(chan struct{})
	w := r.NewThread(main, "busy", func(*Thread) { <-release })
	r.Start(main, w)
	defer func() {
		close(release)
		r.Join(main, w, 0, 0)
	}()

	r.Interrupt(main, main)
	start := time.Now()
	if got := thrown(r, main, func() { r.Join(main, w, 0, 0) }); got != "java.lang.InterruptedException" {
		t.Fatalf("join with pending interrupt threw %q", got)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("join blocked for %v", d)
	}
	if !w.IsAlive() {
		t.Fatalf("target finished early")
	}
	if w.native.joiner != nil {
		t.Fatalf("failed join left a joiner linked")
	}
	if r.IsInterrupted(main) {
		t.Fatalf("interrupt flag not cleared by the exception")
	}
}
