package natthread

import (
	"sync"
	"time"
)

// Mutex is a non-reentrant lock.
type Mutex struct {
	mu sync.Mutex
}

// Lock acquires m.
func (m *Mutex) Lock() { m.mu.Lock() }

// Unlock releases m.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// TryLock acquires m if it is free.
func (m *Mutex) TryLock() bool { return m.mu.TryLock() }

// Cond is a condition variable bound to a Mutex. All methods require the
// mutex to be held by the caller.
type Cond struct {
	m       *Mutex
	waiters []chan struct{}
}

// NewCond returns a condition variable that uses m.
func NewCond(m *Mutex) *Cond {
	return &Cond{m: m}
}

// Mutex returns the lock c is bound to.
func (c *Cond) Mutex() *Mutex { return c.m }

// Wait releases the mutex, blocks until notified or until the timeout
// elapses, then reacquires the mutex. (0, 0) waits without a deadline.
// It returns ErrTimedOut on timeout and ErrBadTimeout without waiting when
// the timeout is malformed.
func (c *Cond) Wait(millis int64, nanos int32) error {
	d, err := Duration(millis, nanos)
	if err != nil {
		return err
	}
	ch := make(chan struct{}, 1)
	c.waiters = append(c.waiters, ch)
	c.m.Unlock()

	notified := true
	if d == 0 {
		<-ch
	} else {
		timer := time.NewTimer(d)
		select {
		case <-ch:
		case <-timer.C:
			notified = false
		}
		timer.Stop()
	}

	c.m.Lock()
	if !notified {
		if !c.remove(ch) {
			// notified between the timer firing and relocking
			return nil
		}
		return ErrTimedOut
	}
	return nil
}

func (c *Cond) remove(ch chan struct{}) bool {
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Notify wakes the longest waiting goroutine, if any.
func (c *Cond) Notify() {
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	ch <- struct{}{}
}

// NotifyAll wakes every waiting goroutine.
func (c *Cond) NotifyAll() {
	for _, ch := range c.waiters {
		ch <- struct{}{}
	}
	c.waiters = nil
}

// Waiters returns the number of goroutines blocked in Wait.
func (c *Cond) Waiters() int {
	return len(c.waiters)
}
