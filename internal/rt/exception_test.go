package rt

import (
	"slices"
	"testing"

	"gcjrt/internal/gc"
)

func TestTryCatchesBySubclass(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var got gc.Address
	r.Try(th, Catch(Handler{Match: MatchClass(r.exc.illegalArgument), Run: func(_ *Thread, e gc.Address) { got = e }}), func() {
		r.ThrowNew(th, r.exc.illegalThreadState, "twice")
	})
	if got == gc.Null {
		t.Fatalf("handler did not run")
	}
	if r.Describe(got) != "java.lang.IllegalThreadStateException: twice" {
		t.Fatalf("caught %q", r.Describe(got))
	}
	if th.InFlight() != gc.Null {
		t.Fatalf("exception still in flight after the handler")
	}
}

func TestUnmatchedExceptionReachesOuterTry(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var order []string
	var got gc.Address
	outer := Catch(Handler{Match: MatchClass(r.exc.runtime), Run: func(_ *Thread, e gc.Address) {
		order = append(order, "outer")
		got = e
	}})
	inner := Catch(
		Handler{Match: MatchClass(r.exc.interrupted), Run: func(*Thread, gc.Address) { order = append(order, "interrupted") }},
		Handler{Match: MatchClass(r.exc.arrayStore), Run: func(*Thread, gc.Address) { order = append(order, "store") }},
	)
	r.Try(th, outer, func() {
		r.Try(th, inner, func() {
			defer func() { order = append(order, "unwound") }()
			r.ThrowNew(th, r.exc.classCast, "")
		})
		order = append(order, "after inner")
	})
	if !slices.Equal(order, []string{"unwound", "outer"}) {
		t.Fatalf("order = %v", order)
	}
	if !r.IsInstanceOf(got, r.exc.classCast) {
		t.Fatalf("outer caught %s", r.ClassOf(got))
	}
}

func TestHandlersAreSearchedInOrder(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var which string
	r.Try(th, Catch(
		Handler{Match: MatchClass(r.exc.exception), Run: func(*Thread, gc.Address) { which = "exception" }},
		Handler{Match: MatchAll, Run: func(*Thread, gc.Address) { which = "all" }},
	), func() {
		r.ThrowNew(th, r.exc.nullPointer, "")
	})
	if which != "exception" {
		t.Fatalf("handler = %q", which)
	}
}

func TestMatchByName(t *testing.T) {
	r, th := newRuntime(t, Options{})
	tok, _ := r.MakeUtf8Const("java.lang.RuntimeException")
	missing, _ := r.MakeUtf8Const("com.example.Missing")
	var which string
	r.Try(th, Catch(
		Handler{Match: MatchName(missing), Run: func(*Thread, gc.Address) { which = "missing" }},
		Handler{Match: MatchName(tok), Run: func(*Thread, gc.Address) { which = "runtime" }},
	), func() {
		r.ThrowNew(th, r.exc.negativeArraySize, "-1")
	})
	if which != "runtime" {
		t.Fatalf("handler = %q", which)
	}
}

func TestForeignTablesNeverMatch(t *testing.T) {
	r, th := newRuntime(t, Options{})
	foreign := &ExceptionTable{Language: Language(0x432b2b00), Version: ehVersion, Handlers: []Handler{
		{Match: MatchAll, Run: func(*Thread, gc.Address) { t.Fatalf("foreign handler ran") }},
	}}
	got := thrown(r, th, func() {
		r.Try(th, foreign, func() { r.ThrowNew(th, r.exc.illegalArgument, "") })
	})
	if got != "java.lang.IllegalArgumentException" {
		t.Fatalf("escaped %q", got)
	}

	info := &EHInfo{Language: LangJava, Value: r.OutOfMemory()}
	if v := r.TypeMatcher(info, MatchAll, foreign); v != gc.Null {
		t.Fatalf("matcher accepted a foreign table")
	}
	if v := r.TypeMatcher(info, MatchAll, Catch()); v != r.OutOfMemory() {
		t.Fatalf("catch-all returned %s", v)
	}
	if v := r.TypeMatcher(info, MatchClass(r.exc.exception), Catch()); v != gc.Null {
		t.Fatalf("error matched an Exception handler")
	}
}

func TestThrowNullBecomesNullPointer(t *testing.T) {
	r, th := newRuntime(t, Options{})
	if got := thrown(r, th, func() { r.Throw(th, gc.Null) }); got != "java.lang.NullPointerException" {
		t.Fatalf("throw null delivered %q", got)
	}
	if got := thrown(r, th, func() { r.MonitorEnter(th, gc.Null) }); got != "java.lang.NullPointerException" {
		t.Fatalf("null monitor delivered %q", got)
	}
}

func TestFetchAndClearFatalPaths(t *testing.T) {
	r, th := newRuntime(t, Options{})
	fresh := r.AttachThread("fresh")
	expectFatal(t, FatalNoExceptionInfo, func() { r.FetchAndClear(fresh) })

	if got := thrown(r, th, func() { r.ThrowNew(th, r.exc.illegalArgument, "") }); got == "" {
		t.Fatalf("nothing thrown")
	}
	expectFatal(t, FatalNothingInFlight, func() { r.FetchAndClear(th) })
}

func TestThrowWhileInFlightIsFatal(t *testing.T) {
	r, th := newRuntime(t, Options{})
	expectFatal(t, FatalDoubleThrow, func() {
		r.Try(th, Catch(Handler{Match: MatchAll}), func() {
			defer r.ThrowNew(th, r.exc.illegalArgument, "second")
			r.ThrowNew(th, r.exc.nullPointer, "first")
		})
	})
}

func TestThrowWithoutThreadIsFatal(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	expectFatal(t, FatalNoThread, func() { r.Throw(nil, r.OutOfMemory()) })
}

func TestTryIgnoresOtherThreadsAndPanics(t *testing.T) {
	r, th := newRuntime(t, Options{})
	other := r.AttachThread("other")
	defer func() {
		if rec := recover(); rec != "plain panic" {
			t.Fatalf("recovered %v", rec)
		}
	}()
	r.Try(th, Catch(Handler{Match: MatchAll}), func() {
		r.Try(other, Catch(Handler{Match: MatchAll}), func() { panic("plain panic") })
	})
}

func TestCaughtExceptionStaysRooted(t *testing.T) {
	r, th := newRuntime(t, Options{})
	mark := th.Frame()
	var exc gc.Address
	r.Try(th, Catch(Handler{Match: MatchAll, Run: func(_ *Thread, e gc.Address) { exc = e }}), func() {
		r.ThrowNew(th, r.exc.illegalArgument, "kept")
	})
	r.Collect()
	if !r.Heap().Contains(exc) || r.Message(exc) != "kept" {
		t.Fatalf("caught exception lost before its frame was popped")
	}
	th.PopFrame(mark)
	r.Collect()
	if r.Heap().Contains(exc) {
		t.Fatalf("exception survived its frame")
	}
}
