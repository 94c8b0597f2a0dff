package testutil

import (
	"sync"
	"time"
)

// Clock is a controllable time source. Pass Clock.Now wherever a
// func() time.Time is accepted.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to 2025-01-01 00:00:00 UTC, or to the first
// argument when one is given.
func NewClock(now ...time.Time) *Clock {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(now) > 0 {
		t = now[0]
	}
	return &Clock{now: t}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Ticker is a manually driven ticker. Its New method matches the ticker
// factory signature used by the scheduler.
type Ticker struct {
	mu      sync.Mutex
	c       chan time.Time
	period  time.Duration
	stopped bool
	created chan struct{}
	at      time.Time
	once    sync.Once
}

// NewTicker returns an idle Ticker.
func NewTicker() *Ticker {
	return &Ticker{
		c:       make(chan time.Time),
		created: make(chan struct{}),
		at:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// New records the requested period and hands out the tick channel.
func (t *Ticker) New(d time.Duration) (<-chan time.Time, func()) {
	t.mu.Lock()
	t.period = d
	t.mu.Unlock()
	t.once.Do(func() { close(t.created) })
	return t.c, t.stop
}

// Tick delivers one tick and blocks until the receiver has taken it.
func (t *Ticker) Tick() {
	<-t.created
	t.mu.Lock()
	t.at = t.at.Add(t.period)
	at := t.at
	t.mu.Unlock()
	t.c <- at
}

// TryTick delivers a tick only if the receiver is waiting right now and
// reports whether it was delivered, like a real ticker dropping ticks for
// a slow reader.
func (t *Ticker) TryTick() bool {
	<-t.created
	select {
	case t.c <- time.Now():
		return true
	default:
		return false
	}
}

// WaitStarted blocks until New has been called.
func (t *Ticker) WaitStarted() {
	<-t.created
}

// Period returns the duration passed to New.
func (t *Ticker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Stopped reports whether the stop function has been called.
func (t *Ticker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Ticker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}
