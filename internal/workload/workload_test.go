package workload

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"gcjrt/internal/gc"
	"gcjrt/internal/rt"
)

func newRuntime(t *testing.T) (*rt.Runtime, *rt.Thread) {
	t.Helper()
	r, err := rt.New(rt.Options{CrashOutput: io.Discard})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, r.AttachThread("main")
}

func TestScenariosPass(t *testing.T) {
	results, err := Run("all", rt.Options{CrashOutput: io.Discard})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var names []string
	for _, res := range results {
		names = append(names, res.Name)
		if !res.Passed {
			t.Fatalf("scenario %s failed: %s", res.Name, res.Detail)
		}
	}
	if !slices.Equal(names, Names()) {
		t.Fatalf("ran %v, want %v", names, Names())
	}
}

func TestRunSingleScenario(t *testing.T) {
	results, err := Run("sleep", rt.Options{CrashOutput: io.Discard})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || results[0].Name != "sleep" || !results[0].Passed {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Elapsed >= time.Second {
		t.Fatalf("sleep scenario took %v", results[0].Elapsed)
	}
	if Describe("sleep") == "" || Describe("nope") != "" {
		t.Fatalf("describe mismatch")
	}
}

func TestRunUnknownScenario(t *testing.T) {
	if _, err := Run("teleport", rt.Options{}); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("err = %v", err)
	}
}

func TestStressReclaimsWorkerLists(t *testing.T) {
	r, main := newRuntime(t)
	rep, err := Stress(context.Background(), r, main, StressConfig{Threads: 4, Objects: 200, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	if rep.Counter != 4*200 {
		t.Fatalf("counter = %d", rep.Counter)
	}
	if rep.LiveAfter >= rep.LiveBefore {
		t.Fatalf("collection reclaimed nothing: %d -> %d", rep.LiveBefore, rep.LiveAfter)
	}
	if rep.Collections == 0 || rep.FreedBlocks == 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestStressRejectsBadSizes(t *testing.T) {
	r, main := newRuntime(t)
	if _, err := Stress(context.Background(), r, main, StressConfig{Threads: 0, Objects: 1}); err == nil {
		t.Fatalf("zero threads accepted")
	}
}

func TestPopulateHeapKeepsTree(t *testing.T) {
	r, main := newRuntime(t)
	root, err := PopulateHeap(r, main, 31)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if root == gc.Null || !r.Heap().Contains(root) {
		t.Fatalf("tree root lost")
	}
	node, err := r.FindClass("dump.Node")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	live := 0
	for _, b := range r.Heap().Blocks() {
		if b.Kind == r.ObjectKind() && r.ClassOf(b.Addr) == node {
			live++
		}
	}
	if live != 31 {
		t.Fatalf("%d nodes live after collection, want 31", live)
	}
	if got := r.GoString(r.GetObjectField(main, root, node.FieldByName("label"))); got != "node-0" {
		t.Fatalf("root label = %q", got)
	}
}
