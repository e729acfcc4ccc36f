package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, `
[heap]
max_bytes = 1048576
collect_threshold = 65536

[threads]
default_priority = 4
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Discover(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path = %q, want %q", cfg.Path, path)
	}
	if cfg.Heap.MaxBytes != 1<<20 || cfg.Heap.CollectThreshold != 64<<10 {
		t.Fatalf("heap = %+v", cfg.Heap)
	}
	if cfg.Threads.DefaultPriority != 4 || cfg.Threads.MaxPriority != 10 {
		t.Fatalf("threads = %+v", cfg.Threads)
	}
	if cfg.Trace.Mode != "ring" {
		t.Fatalf("unset key lost its default: %+v", cfg.Trace)
	}

	opts := cfg.RuntimeOptions()
	if opts.MaxHeapBytes != 1<<20 || opts.DefaultPriority != 4 {
		t.Fatalf("runtime options = %+v", opts)
	}
}

func TestDiscoverWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if cfg.Path != "" || cfg.Heap != Default().Heap {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		body string
		key  string
	}{
		{"[threads]\nmax_priority = 12\n", "[threads].max_priority"},
		{"[threads]\ndefault_priority = 9\nmax_priority = 6\n", "[threads].default_priority"},
		{"[heap]\nmax_bytes = 100\ncollect_threshold = 200\n", "[heap].collect_threshold"},
		{"[trace]\nlevel = \"loud\"\n", "[trace].level"},
		{"[trace]\nmode = \"tape\"\n", "[trace].mode"},
		{"[trace]\nformat = \"xml\"\n", "[trace].format"},
		{"[heap]\nmax_byte = 1\n", "unknown keys: heap.max_byte"},
		{"[heap\n", "failed to parse TOML"},
	}
	for _, tc := range cases {
		path := writeFile(t, t.TempDir(), tc.body)
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tc.key) {
			t.Fatalf("body %q: err = %v, want mention of %s", tc.body, err, tc.key)
		}
	}
}
