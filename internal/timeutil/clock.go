// Package timeutil provides a testable abstraction over time operations.
//
// The capture pipeline reads the clock for file names and sample
// timestamps, ticks the synthetic GPS generator, arms the positioning fix
// timeout and schedules signal-loss retries. All of these go through Clock
// so tests can drive them with MockClock.Advance.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker delivering the time every d.
	NewTicker(d time.Duration) Ticker

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel
	// or re-arm the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop cancels the call. It reports whether the call was still pending.
	Stop() bool

	// Reset re-arms the call to run d from now. It reports whether the call
	// was still pending.
	Reset(d time.Duration) bool
}

// Ticker holds a channel that delivers "ticks" of a clock at intervals.
type Ticker interface {
	// C returns the channel on which the ticks are delivered.
	C() <-chan time.Time

	// Stop turns off a ticker.
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// AfterFunc calls f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// MockClock is a manually advanced clock for tests. Nothing fires until
// Advance moves the clock past a deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	calls   []*mockCall
	tickers []*mockTicker
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d, delivers one tick to every ticker
// that is due and runs due AfterFunc callbacks. Callbacks run on the
// calling goroutine after the clock lock is released, so they may schedule
// further calls; those are not considered until the next Advance.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	calls := append([]*mockCall(nil), c.calls...)
	tickers := append([]*mockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.tick(now)
	}
	for _, call := range calls {
		call.run(now)
	}
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := &mockCall{clock: c, fn: f, deadline: c.now.Add(d), pending: true}
	c.calls = append(c.calls, call)
	return call
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// PendingTimers returns the number of AfterFunc calls that have neither
// run nor been stopped.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	calls := append([]*mockCall(nil), c.calls...)
	c.mu.Unlock()

	n := 0
	for _, call := range calls {
		call.mu.Lock()
		if call.pending {
			n++
		}
		call.mu.Unlock()
	}
	return n
}

// ActiveTickers returns the number of tickers that have not been stopped.
func (c *MockClock) ActiveTickers() int {
	c.mu.Lock()
	tickers := append([]*mockTicker(nil), c.tickers...)
	c.mu.Unlock()

	n := 0
	for _, t := range tickers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type mockCall struct {
	clock *MockClock
	fn    func()

	mu       sync.Mutex
	deadline time.Time
	pending  bool
}

func (m *mockCall) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.pending
	m.pending = false
	return was
}

func (m *mockCall) Reset(d time.Duration) bool {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.pending
	m.pending = true
	m.deadline = now.Add(d)
	return was
}

func (m *mockCall) run(now time.Time) {
	m.mu.Lock()
	if !m.pending || now.Before(m.deadline) {
		m.mu.Unlock()
		return
	}
	m.pending = false
	m.mu.Unlock()
	m.fn()
}

type mockTicker struct {
	ch       chan time.Time
	interval time.Duration

	mu      sync.Mutex
	next    time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// tick delivers at most one tick per Advance; a full channel drops it, as
// time.Ticker does for slow receivers.
func (t *mockTicker) tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.interval)
}
