package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1 // span start
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd // span end
	// KindPoint represents an instant event.
	KindPoint     // instant event
	KindHeartbeat // periodic liveness signal
	KindFatal     // fatal failure, emitted at every level above off
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// bypassesLevel reports whether events of this kind ignore scope filtering.
func (k Kind) bypassesLevel() bool {
	return k == KindHeartbeat || k == KindFatal
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent higher-level/coarser events.
type Scope uint8

const (
	// ScopeRuntime covers runtime init/shutdown and fatal failures.
	ScopeRuntime Scope = iota + 1
	// ScopeCollector covers collection cycles and finalizer runs.
	ScopeCollector
	// ScopeThread covers managed thread transitions.
	ScopeThread
	ScopeObject // single allocations and throws (most detailed)
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeRuntime:
		return "runtime"
	case ScopeCollector:
		return "collector"
	case ScopeThread:
		return "thread"
	case ScopeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         // wall-clock timestamp
	Seq      uint64            // global sequence number (monotonic)
	Kind     Kind              // event kind
	Scope    Scope             // granularity level
	SpanID   uint64            // unique span identifier
	ParentID uint64            // parent span (0 if root)
	GID      uint64            // goroutine ID (for concurrent spans)
	Name     string            // e.g., "gc", "thread.start", "throw"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}
