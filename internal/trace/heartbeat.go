package trace

import (
	"strconv"
	"sync"
	"time"
)

// Heartbeat emits a periodic event while a workload runs. A trace whose
// heartbeats keep arriving after span ends stop points at a thread stuck
// in a join, sleep or monitor; the status callback says which.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	status func() string
}

// StartHeartbeat starts emitting heartbeats every interval. It returns nil
// when tracing is disabled or interval is not positive.
func StartHeartbeat(tracer Tracer, interval time.Duration) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// SetStatus installs fn to describe runtime state in each beat, such as
// how many threads are blocked. A nil fn removes it.
func (h *Heartbeat) SetStatus(fn func() string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.status = fn
	h.mu.Unlock()
}

func (h *Heartbeat) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var beat uint64
	for {
		select {
		case <-ticker.C:
			beat++
			h.beat(beat)
		case <-h.stop:
			return
		}
	}
}

func (h *Heartbeat) beat(n uint64) {
	detail := "#" + strconv.FormatUint(n, 10)
	h.mu.Lock()
	status := h.status
	h.mu.Unlock()
	if status != nil {
		if s := status(); s != "" {
			detail += " " + s
		}
	}
	h.tracer.Emit(&Event{
		Time:   time.Now(),
		Seq:    NextSeq(),
		Kind:   KindHeartbeat,
		Scope:  ScopeRuntime,
		GID:    getGoroutineID(),
		Name:   "heartbeat",
		Detail: detail,
	})
}

// Stop ends the heartbeat and waits for the last beat. Safe to call more
// than once and on nil.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
