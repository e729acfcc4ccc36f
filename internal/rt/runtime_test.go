package rt

import (
	"errors"
	"io"
	"slices"
	"testing"

	"gcjrt/internal/gc"
)

func newRuntime(t *testing.T, opts Options) (*Runtime, *Thread) {
	t.Helper()
	if opts.CrashOutput == nil {
		opts.CrashOutput = io.Discard
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, r.AttachThread("main")
}

func expectFatal(t *testing.T, code FatalCode, fn func()) {
	t.Helper()
	defer func() {
		rec := recover()
		fe, ok := rec.(*FatalError)
		if !ok {
			t.Fatalf("recovered %v, want fatal %s", rec, code)
		}
		if fe.Code != code {
			t.Fatalf("fatal code = %s, want %s", fe.Code, code)
		}
	}()
	fn()
}

// thrown runs fn and returns the class name of the exception it threw, or
// "" if it returned normally.
func thrown(r *Runtime, th *Thread, fn func()) string {
	exc := r.catchAll(th, fn)
	if exc == gc.Null {
		return ""
	}
	return r.ClassOf(exc).Name.String()
}

func TestBootstrapDefinesCoreClasses(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	for _, name := range []string{
		"java.lang.Object",
		"java.lang.Class",
		"java.lang.Thread",
		"java.lang.Throwable",
		"java.lang.OutOfMemoryError",
		"java.lang.ArrayStoreException",
		"[C",
	} {
		c, err := r.FindClass(name)
		if err != nil {
			t.Fatalf("find %s: %v", name, err)
		}
		if c.State() != StateDone {
			t.Fatalf("%s state = %s", name, c.State())
		}
		if r.ClassOf(c.Addr()) != r.ClassClass() {
			t.Fatalf("class object of %s is not an instance of Class", name)
		}
	}
	if _, err := r.FindClass("no.such.Class"); !errors.Is(err, ErrClassNotFound) {
		t.Fatalf("missing class err = %v", err)
	}

	oomClass, _ := r.FindClass("java.lang.OutOfMemoryError")
	if !r.IsInstanceOf(r.OutOfMemory(), oomClass) {
		t.Fatalf("out-of-memory singleton has class %s", r.ClassOf(r.OutOfMemory()))
	}

	chain := r.Classes()
	if len(chain) != r.ClassCount() {
		t.Fatalf("class chain has %d entries, pool has %d", len(chain), r.ClassCount())
	}
	if !slices.Contains(chain, r.ThreadClass()) {
		t.Fatalf("thread class missing from the chain")
	}
}

func TestNewRejectsBadPriorities(t *testing.T) {
	if _, err := New(Options{MaxPriority: 11}); err == nil {
		t.Fatalf("max priority 11 accepted")
	}
	if _, err := New(Options{DefaultPriority: 8, MaxPriority: 6}); err == nil {
		t.Fatalf("default above max accepted")
	}
}

func TestFieldLayout(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	obj := r.ObjectClass()
	c, err := r.DefineClass(ClassSpec{
		Name:  "Layout",
		Super: obj,
		Fields: []FieldSpec{
			{Name: "b", Type: r.prims['B']},
			{Name: "l", Type: r.prims['J']},
			{Name: "o", Type: obj},
			{Name: "i", Type: r.prims['I']},
			{Name: "s", Type: obj, Static: true},
		},
	})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	want := map[string]uint64{"b": 16, "l": 24, "o": 32, "i": 40, "s": 0}
	for name, off := range want {
		if f := c.FieldByName(name); f == nil || f.Offset != off {
			t.Fatalf("field %s = %+v, want offset %d", name, f, off)
		}
	}
	if c.Size() != 48 {
		t.Fatalf("size = %d, want 48", c.Size())
	}
	if refs := c.ReferenceOffsets(); !slices.Equal(refs, []uint64{32}) {
		t.Fatalf("reference offsets = %v", refs)
	}

	sub, err := r.DefineClass(ClassSpec{
		Name:   "Layout2",
		Super:  c,
		Fields: []FieldSpec{{Name: "p", Type: obj}},
	})
	if err != nil {
		t.Fatalf("define subclass: %v", err)
	}
	if f := sub.FieldByName("p"); f.Offset != 48 {
		t.Fatalf("subclass field offset = %d", f.Offset)
	}
	if sub.FieldByName("l") == nil {
		t.Fatalf("inherited field not found")
	}
}

func TestDefineClassErrors(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	obj := r.ObjectClass()
	var ce *ClassError

	if _, err := r.DefineClass(ClassSpec{Name: "NoSuper"}); !errors.As(err, &ce) || ce.Kind != ClassErrNoSuper {
		t.Fatalf("no super err = %v", err)
	}
	if _, err := r.DefineClass(ClassSpec{Name: "Sub", Super: r.ClassClass()}); !errors.As(err, &ce) || ce.Kind != ClassErrFinalSuper {
		t.Fatalf("final super err = %v", err)
	}
	if _, err := r.DefineClass(ClassSpec{Name: "Dup", Super: obj, Fields: []FieldSpec{
		{Name: "x", Type: r.prims['I']},
		{Name: "x", Type: r.prims['I']},
	}}); !errors.As(err, &ce) || ce.Kind != ClassErrDuplicateField {
		t.Fatalf("duplicate field err = %v", err)
	}
	if _, err := r.DefineClass(ClassSpec{Name: "Void", Super: obj, Fields: []FieldSpec{
		{Name: "v", Type: r.prims['V']},
	}}); !errors.As(err, &ce) || ce.Kind != ClassErrFieldType {
		t.Fatalf("void field err = %v", err)
	}
	if _, err := r.DefineClass(ClassSpec{Name: "java.lang.Object", Super: obj}); !errors.Is(err, ErrClassExists) {
		t.Fatalf("redefinition err = %v", err)
	}
}

func TestVTableOverridesAndAppends(t *testing.T) {
	r, th := newRuntime(t, Options{})
	var calls []string
	base := r.MustDefineClass(ClassSpec{
		Name:  "Base",
		Super: r.ObjectClass(),
		Methods: []MethodSpec{
			{Name: "speak", Sig: "()V", Impl: func(*Thread, gc.Address) { calls = append(calls, "base") }},
		},
	})
	derived := r.MustDefineClass(ClassSpec{
		Name:  "Derived",
		Super: base,
		Methods: []MethodSpec{
			{Name: "speak", Sig: "()V", Impl: func(*Thread, gc.Address) { calls = append(calls, "derived") }},
			{Name: "toString", Sig: "()Ljava/lang/String;"},
		},
	})

	speak := base.MethodByName("speak", "()V")
	if speak.Index != 4 {
		t.Fatalf("new method slot = %d, want 4", speak.Index)
	}
	if m := derived.MethodByName("speak", "()V"); m.Index != speak.Index {
		t.Fatalf("override slot = %d, want %d", m.Index, speak.Index)
	}
	if m := derived.MethodByName("toString", "()Ljava/lang/String;"); m.Index != 3 {
		t.Fatalf("toString slot = %d", m.Index)
	}
	if len(derived.VTable().Methods) != len(base.VTable().Methods) {
		t.Fatalf("vtable grew on override")
	}

	r.Invoke(th, r.AllocObject(th, derived), "speak", "()V")
	r.Invoke(th, r.AllocObject(th, base), "speak", "()V")
	if !slices.Equal(calls, []string{"derived", "base"}) {
		t.Fatalf("dispatch = %v", calls)
	}

	if _, err := r.DefineClass(ClassSpec{Name: "Bad", Super: r.ObjectClass(), Methods: []MethodSpec{
		{Name: "m", Sig: "V"},
	}}); err == nil {
		t.Fatalf("malformed signature accepted")
	}
}

func TestUtf8Constants(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	if HashUtf8("") != 0 || HashUtf8("a") != 97 || HashUtf8("hello") != 6354 {
		t.Fatalf("hashes: %d %d %d", HashUtf8(""), HashUtf8("a"), HashUtf8("hello"))
	}
	a, err := r.MakeUtf8Const("héllo")
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	b, _ := r.MakeUtf8Const("héllo")
	if a != b || !EqualUtf8Consts(a, b) {
		t.Fatalf("constants not interned")
	}
	got, err := r.ReadUtf8(a.Addr())
	if err != nil || got != "héllo" {
		t.Fatalf("read back %q, %v", got, err)
	}
	if k, _ := r.Heap().KindOf(a.Addr()); k != gc.PtrFree {
		t.Fatalf("token block kind = %v", k)
	}
}

func TestSignaturesAndAssignability(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	objArr, err := r.FindClassFromSignature("[Ljava/lang/Object;")
	if err != nil {
		t.Fatalf("object array: %v", err)
	}
	if objArr.ComponentType() != r.ObjectClass() {
		t.Fatalf("component = %s", objArr.ComponentType())
	}
	intArr, err := r.FindClassFromSignature("[I")
	if err != nil || intArr.Signature() != "[I" {
		t.Fatalf("int array = %v, %v", intArr, err)
	}
	again, _ := r.FindArrayClass(r.prims['I'])
	if again != intArr {
		t.Fatalf("array class not cached")
	}
	throwableArr, _ := r.FindArrayClass(r.exc.throwable)
	cloneable, _ := r.FindClass("java.lang.Cloneable")

	cases := []struct {
		to, from *Class
		want     bool
	}{
		{r.ObjectClass(), intArr, true},
		{cloneable, intArr, true},
		{objArr, throwableArr, true},
		{throwableArr, objArr, false},
		{objArr, intArr, false},
		{r.exc.runtime, r.exc.nullPointer, true},
		{r.exc.nullPointer, r.exc.runtime, false},
		{r.prims['I'], r.prims['J'], false},
	}
	for _, tc := range cases {
		if got := tc.to.IsAssignableFrom(tc.from); got != tc.want {
			t.Fatalf("%s.IsAssignableFrom(%s) = %v", tc.to, tc.from, got)
		}
	}
	for _, bad := range []string{"", "Lfoo", "Q", "[Lno/Such;"} {
		if _, err := r.FindClassFromSignature(bad); err == nil {
			t.Fatalf("signature %q resolved", bad)
		}
	}
}

func TestShutdownRejectsUse(t *testing.T) {
	r, _ := newRuntime(t, Options{})
	r.Shutdown()
	if !r.Closed() {
		t.Fatalf("runtime not closed")
	}
	if _, err := r.DefineClass(ClassSpec{Name: "Late", Super: r.ObjectClass()}); !errors.Is(err, ErrClosed) {
		t.Fatalf("define after shutdown err = %v", err)
	}
	expectFatal(t, FatalRuntimeClosed, func() { r.AttachThread("late") })
}

func TestHeapSizeQueries(t *testing.T) {
	r, th := newRuntime(t, Options{MaxHeapBytes: 1 << 20})
	if r.MaxMemory() != 1<<20 {
		t.Fatalf("max = %d", r.MaxMemory())
	}
	if _, err := r.FindArrayClass(r.prims['B']); err != nil {
		t.Fatalf("byte array class: %v", err)
	}
	r.Collect()
	before := r.TotalMemory()
	mark := th.Frame()
	r.NewPrimArray(th, r.prims['B'], 4096)
	if r.TotalMemory() < before+4096 {
		t.Fatalf("total %d did not grow from %d", r.TotalMemory(), before)
	}
	if r.TotalMemory()+r.FreeMemory() != r.MaxMemory() {
		t.Fatalf("total %d + free %d != max", r.TotalMemory(), r.FreeMemory())
	}
	th.PopFrame(mark)
	r.Collect()
	if r.TotalMemory() != before {
		t.Fatalf("total after collection = %d, want %d", r.TotalMemory(), before)
	}
}
