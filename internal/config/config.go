// Package config loads gcjrt.toml, the runtime's optional settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"gcjrt/internal/rt"
	"gcjrt/internal/trace"
)

// FileName is the settings file looked up from the working directory
// upward.
const FileName = "gcjrt.toml"

// Config is the decoded settings file.
type Config struct {
	Heap    HeapConfig    `toml:"heap"`
	Threads ThreadsConfig `toml:"threads"`
	Trace   TraceConfig   `toml:"trace"`

	// Path is the file the values came from, empty for defaults.
	Path string `toml:"-"`
}

// HeapConfig sizes the collected heap.
type HeapConfig struct {
	MaxBytes         uint64 `toml:"max_bytes"`
	CollectThreshold uint64 `toml:"collect_threshold"`
}

// ThreadsConfig sets thread priorities.
type ThreadsConfig struct {
	DefaultPriority int `toml:"default_priority"`
	MaxPriority     int `toml:"max_priority"`
}

// TraceConfig mirrors the --trace flags.
type TraceConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

// Default returns the settings used when no file is found.
func Default() Config {
	return Config{
		Heap: HeapConfig{
			MaxBytes:         64 << 20,
			CollectThreshold: 4 << 20,
		},
		Threads: ThreadsConfig{
			DefaultPriority: rt.NormPriority,
			MaxPriority:     rt.MaxPriority,
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "ring",
			Format:   "auto",
			Output:   "-",
			RingSize: 4096,
		},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest FileName above startDir, or the defaults.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load decodes path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first out-of-range value, naming its key.
func (c Config) Validate() error {
	if c.Heap.MaxBytes == 0 {
		return fmt.Errorf("[heap].max_bytes must be positive")
	}
	if c.Heap.CollectThreshold > c.Heap.MaxBytes {
		return fmt.Errorf("[heap].collect_threshold %d exceeds max_bytes %d", c.Heap.CollectThreshold, c.Heap.MaxBytes)
	}
	if p := c.Threads.MaxPriority; p < rt.MinPriority || p > rt.MaxPriority {
		return fmt.Errorf("[threads].max_priority %d outside [%d, %d]", p, rt.MinPriority, rt.MaxPriority)
	}
	if p := c.Threads.DefaultPriority; p < rt.MinPriority || p > c.Threads.MaxPriority {
		return fmt.Errorf("[threads].default_priority %d outside [%d, %d]", p, rt.MinPriority, c.Threads.MaxPriority)
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		return fmt.Errorf("[trace].format: %w", err)
	}
	if c.Trace.RingSize < 0 {
		return fmt.Errorf("[trace].ring_size must not be negative")
	}
	return nil
}

// RuntimeOptions converts the heap and thread sections.
func (c Config) RuntimeOptions() rt.Options {
	return rt.Options{
		MaxHeapBytes:     c.Heap.MaxBytes,
		CollectThreshold: c.Heap.CollectThreshold,
		DefaultPriority:  c.Threads.DefaultPriority,
		MaxPriority:      c.Threads.MaxPriority,
	}
}
