package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRingTracerKeepsLastEventsInOrder(t *testing.T) {
	ring := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d"} {
		Point(ring, ScopeObject, name, "")
	}
	got := ring.Snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(got))
	}
	for i, want := range []string{"b", "c", "d"} {
		if got[i].Name != want {
			t.Fatalf("event %d = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestLevelFiltersScopes(t *testing.T) {
	ring := NewRingTracer(8, LevelPhase)
	Point(ring, ScopeCollector, "gc", "")
	Point(ring, ScopeThread, "thread.start", "")
	Point(ring, ScopeObject, "alloc", "")
	got := ring.Snapshot()
	if len(got) != 1 || got[0].Name != "gc" {
		t.Fatalf("phase level kept %v, want only gc", got)
	}
}

func TestFatalBypassesLevel(t *testing.T) {
	ring := NewRingTracer(8, LevelError)
	Point(ring, ScopeRuntime, "init", "")
	Fatal(ring, "abort", "joiner missing")
	got := ring.Snapshot()
	if len(got) != 1 || got[0].Kind != KindFatal {
		t.Fatalf("got %v, want one fatal event", got)
	}
}

func TestStreamNDJSONCarriesExtra(t *testing.T) {
	var buf bytes.Buffer
	st := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(st, ScopeObject, "alloc", "java.lang.Object", "size", "16")

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("invalid ndjson %q: %v", buf.String(), err)
	}
	if decoded["name"] != "alloc" || decoded["scope"] != "object" {
		t.Fatalf("unexpected event %v", decoded)
	}
	extra, _ := decoded["extra"].(map[string]any)
	if extra["size"] != "16" {
		t.Fatalf("extra = %v, want size=16", extra)
	}
}

func TestTextFormatSortsExtra(t *testing.T) {
	ev := &Event{Kind: KindPoint, Scope: ScopeThread, Name: "join", Extra: map[string]string{"z": "1", "a": "2"}}
	line := string(FormatEvent(ev, FormatText))
	if !strings.Contains(line, "thread:join {a=2, z=1}") {
		t.Fatalf("unexpected text line %q", line)
	}
}

func TestNewOffReturnsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Enabled() {
		t.Fatalf("off tracer should be disabled")
	}
	if RingOf(tr) != nil {
		t.Fatalf("nop tracer has no ring")
	}
}

func TestBothModeExposesRing(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelDetail, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	span := Begin(tr, ScopeThread, "sleep", 0)
	span.End("interrupted")
	ring := RingOf(tr)
	if ring == nil {
		t.Fatalf("expected ring tracer")
	}
	if n := len(ring.Snapshot()); n != 2 {
		t.Fatalf("ring has %d events, want 2", n)
	}
	if !strings.Contains(buf.String(), "thread:sleep (interrupted)") {
		t.Fatalf("stream output missing end event: %q", buf.String())
	}
}

func TestHeartbeatReportsStatus(t *testing.T) {
	ring := NewRingTracer(16, LevelPhase)
	hb := StartHeartbeat(ring, time.Millisecond)
	if hb == nil {
		t.Fatalf("StartHeartbeat returned nil for enabled tracer")
	}
	hb.SetStatus(func() string { return "joining=1" })
	deadline := time.Now().Add(2 * time.Second)
	for {
		found := false
		for _, ev := range ring.Snapshot() {
			if ev.Kind == KindHeartbeat && strings.HasSuffix(ev.Detail, " joining=1") {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no heartbeat carried the status: %v", ring.Snapshot())
		}
		time.Sleep(time.Millisecond)
	}
	hb.Stop()
	hb.Stop()

	if StartHeartbeat(ring, 0) != nil {
		t.Fatalf("zero interval should disable the heartbeat")
	}
	var nilBeat *Heartbeat
	nilBeat.SetStatus(nil)
	nilBeat.Stop()
}
