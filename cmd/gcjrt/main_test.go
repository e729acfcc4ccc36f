package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"

	"gcjrt/internal/heapdump"
	"gcjrt/internal/version"
)

func TestReadColorMode(t *testing.T) {
	cases := map[string]colorMode{
		"":     colorAuto,
		"AUTO": colorAuto,
		" on ": colorOn,
		"off":  colorOff,
	}
	for in, want := range cases {
		got, err := readColorMode(in)
		if err != nil || got != want {
			t.Fatalf("readColorMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := readColorMode("rainbow"); err == nil {
		t.Fatalf("bad mode accepted")
	}
}

func TestPrintSummaryAlignsColumns(t *testing.T) {
	color.NoColor = true
	snap := heapdump.Snapshot{Schema: heapdump.SchemaVersion, HeapBytes: 96, MaxBytes: 1024}
	rows := []heapdump.ClassSummary{
		{Class: "java.lang.Thread", Blocks: 1, Bytes: 64},
		{Class: "[C", Blocks: 2, Bytes: 32},
	}
	var buf bytes.Buffer
	printSummary(&buf, snap, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("output:\n%s", buf.String())
	}
	if len(lines[1]) != len(lines[2]) || len(lines[2]) != len(lines[3]) {
		t.Fatalf("columns not aligned:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[3], "[C ") {
		t.Fatalf("last row = %q", lines[3])
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := renderVersionJSON(&buf, version.Current()); err != nil {
		t.Fatalf("render: %v", err)
	}
	var got version.Info
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != version.Version || got.GoVersion == "" {
		t.Fatalf("info = %+v", got)
	}
}
