package geolocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fieldtrack/internal/serialmux"
	"github.com/banshee-data/fieldtrack/internal/timeutil"
)

var fixLine = gga("092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,")

type recorder struct {
	mu      sync.Mutex
	samples []Position
	errs    []error
}

func (r *recorder) onSample(p Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, p)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.errs)
}

func newTestPositioning() (*SerialPositioning, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	return NewSerialPositioning(serialmux.NewDisabledSerialMux(), clock, 5), clock
}

func TestSerialPositioning_DeliversFixes(t *testing.T) {
	p, _ := newTestPositioning()
	_, ok := p.LastKnown()
	assert.False(t, ok)

	rec := &recorder{}
	_, err := p.Subscribe(rec.onSample, rec.onError, Options{Timeout: 30 * time.Second})
	require.NoError(t, err)

	p.HandleLine(fixLine)
	p.HandleLine("$GPGSV,garbage")

	samples, errs := rec.counts()
	assert.Equal(t, 1, samples)
	assert.Equal(t, 0, errs)

	last, ok := p.LastKnown()
	require.True(t, ok)
	assert.InDelta(t, 53.361336, last.Lat, 1e-6)
}

func TestSerialPositioning_TimeoutEndsSubscription(t *testing.T) {
	p, clock := newTestPositioning()
	rec := &recorder{}
	_, err := p.Subscribe(rec.onSample, rec.onError, Options{Timeout: 30 * time.Second})
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	p.HandleLine(fixLine) // resets the timeout
	clock.Advance(20 * time.Second)
	_, errs := rec.counts()
	assert.Equal(t, 0, errs)

	clock.Advance(10 * time.Second)
	samples, errs := rec.counts()
	assert.Equal(t, 1, samples)
	require.Equal(t, 1, errs)
	assert.ErrorIs(t, rec.errs[0], ErrSignalLoss)

	// The subscription has ended.
	p.HandleLine(fixLine)
	clock.Advance(time.Minute)
	samples, errs = rec.counts()
	assert.Equal(t, 1, samples)
	assert.Equal(t, 1, errs)
}

func TestSerialPositioning_Unsubscribe(t *testing.T) {
	p, clock := newTestPositioning()
	rec := &recorder{}
	h, err := p.Subscribe(rec.onSample, rec.onError, Options{Timeout: 30 * time.Second})
	require.NoError(t, err)

	p.Unsubscribe(h)
	p.Unsubscribe(h)
	p.HandleLine(fixLine)
	clock.Advance(time.Minute)

	samples, errs := rec.counts()
	assert.Equal(t, 0, samples)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestSerialPositioning_CachedFix(t *testing.T) {
	p, clock := newTestPositioning()
	p.HandleLine(fixLine)
	clock.Advance(2 * time.Second)

	stale := &recorder{}
	_, err := p.Subscribe(stale.onSample, stale.onError, Options{MaximumAge: time.Second})
	require.NoError(t, err)

	fresh := &recorder{}
	_, err = p.Subscribe(fresh.onSample, fresh.onError, Options{MaximumAge: 5 * time.Second})
	require.NoError(t, err)

	// Delivered before Subscribe returned.
	n, _ := fresh.counts()
	assert.Equal(t, 1, n)
	n, _ = stale.counts()
	assert.Equal(t, 0, n)
}

func TestSerialPositioning_CachedFixPrecedesNewer(t *testing.T) {
	p, _ := newTestPositioning()
	p.HandleLine(fixLine)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var got []time.Time
	onSample := func(pos Position) {
		mu.Lock()
		first := len(got) == 0
		got = append(got, pos.Timestamp)
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}

	subscribed := make(chan struct{})
	go func() {
		defer close(subscribed)
		_, err := p.Subscribe(onSample, nil, Options{MaximumAge: time.Minute})
		assert.NoError(t, err)
	}()
	<-entered

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		p.HandleLine(gga("092751.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"))
	}()
	select {
	case <-handled:
		t.Fatal("newer fix delivered while the cached fix was still in its callback")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-subscribed
	<-handled

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.True(t, got[0].Before(got[1]), "got %v", got)
}

func TestSerialPositioning_Run(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux(port)
	clock := timeutil.NewMockClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	p := NewSerialPositioning(mux, clock, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		port.AddReadData([]byte(fixLine + "\r\n"))
		_, ok := p.LastKnown()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
