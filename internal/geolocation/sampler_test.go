package geolocation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fieldtrack/internal/timeutil"
)

type fakeSubscription struct {
	handle   Handle
	onSample func(Position)
	onError  func(error)
	opts     Options
}

type fakePositioning struct {
	mu           sync.Mutex
	subs         []fakeSubscription
	unsubscribed []Handle
	subscribeErr error
}

func (f *fakePositioning) Subscribe(onSample func(Position), onError func(error), opts Options) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return 0, f.subscribeErr
	}
	h := Handle(len(f.subs) + 1)
	f.subs = append(f.subs, fakeSubscription{handle: h, onSample: onSample, onError: onError, opts: opts})
	return h, nil
}

func (f *fakePositioning) Unsubscribe(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, h)
}

func (f *fakePositioning) LastKnown() (Position, bool) { return Position{}, false }

func (f *fakePositioning) sub(i int) fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakePositioning) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type sampleSink struct {
	mu         sync.Mutex
	samples    []Position
	advisories []string
}

func (s *sampleSink) request(interval time.Duration, debug bool) Request {
	return Request{
		Interval: interval,
		Debug:    debug,
		OnSample: func(p Position) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.samples = append(s.samples, p)
		},
		OnAdvisory: func(msg string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.advisories = append(s.advisories, msg)
		},
	}
}

func (s *sampleSink) snapshot() ([]Position, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Position(nil), s.samples...), append([]string(nil), s.advisories...)
}

func (s *sampleSink) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

var samplerStart = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestSampler_DebugRandomWalk(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	s := NewSampler(nil, clock, DefaultSamplerConfig())
	s.SetRandom(func() float64 { return 0.5 })
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(5*time.Second, true)))
	assert.True(t, s.Running())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.sampleCount() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.sampleCount() == 2 }, time.Second, time.Millisecond)

	samples, _ := sink.snapshot()
	assert.InDelta(t, DebugOriginLon+0.00005, samples[0].Lon, 1e-12)
	assert.InDelta(t, DebugOriginLat+0.00005, samples[0].Lat, 1e-12)
	assert.InDelta(t, DebugOriginLon+0.0001, samples[1].Lon, 1e-12)
	assert.Equal(t, 50.0, samples[0].Altitude)
	assert.True(t, samples[0].HasAltitude)
	assert.Equal(t, 50.0, samples[0].Accuracy)
	assert.Equal(t, samplerStart.Add(time.Second), samples[0].Timestamp)
	assert.Equal(t, samplerStart.Add(2*time.Second), samples[1].Timestamp)

	s.Stop()
	assert.False(t, s.Running())
	assert.Equal(t, 0, clock.ActiveTickers())
}

func TestSampler_DebugSeed(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	s := NewSampler(nil, clock, DefaultSamplerConfig())
	s.SetRandom(func() float64 { return 0 })
	sink := &sampleSink{}

	req := sink.request(0, true)
	req.Seed = &Position{Lon: 1.5, Lat: 50.25}
	require.NoError(t, s.Start(req))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.sampleCount() == 1 }, time.Second, time.Millisecond)
	samples, _ := sink.snapshot()
	assert.Equal(t, 1.5, samples[0].Lon)
	assert.Equal(t, 50.25, samples[0].Lat)
	s.Stop()
}

func TestSampler_LiveSubscribeOptions(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	pos := &fakePositioning{}
	s := NewSampler(pos, clock, DefaultSamplerConfig())
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(5*time.Second, false)))
	require.Equal(t, 1, pos.subCount())
	assert.Equal(t, Options{HighAccuracy: true, MaximumAge: 5 * time.Second, Timeout: 30 * time.Second}, pos.sub(0).opts)

	pos.sub(0).onSample(Position{Lon: 1, Lat: 2, Timestamp: samplerStart})
	assert.Equal(t, 1, sink.sampleCount())

	s.Stop()
	assert.Equal(t, []Handle{1}, pos.unsubscribed)
}

func TestSampler_SignalLossRetries(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	pos := &fakePositioning{}
	s := NewSampler(pos, clock, DefaultSamplerConfig())
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(5*time.Second, false)))
	pos.sub(0).onError(ErrSignalLoss)

	_, advisories := sink.snapshot()
	assert.Equal(t, []string{SignalAdvisory}, advisories)
	assert.True(t, s.Running(), "signal loss must not stop sampling")
	assert.Equal(t, 1, pos.subCount())

	clock.Advance(4 * time.Second)
	assert.Equal(t, 1, pos.subCount())
	clock.Advance(time.Second)
	require.Equal(t, 2, pos.subCount())

	pos.sub(1).onSample(Position{Timestamp: samplerStart})
	assert.Equal(t, 1, sink.sampleCount())
	s.Stop()
}

func TestSampler_StopCancelsRetry(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	pos := &fakePositioning{}
	s := NewSampler(pos, clock, DefaultSamplerConfig())
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(time.Second, false)))
	pos.sub(0).onError(ErrSignalLoss)
	s.Stop()

	clock.Advance(time.Minute)
	assert.Equal(t, 1, pos.subCount())
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestSampler_SubscribeErrorRetries(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	pos := &fakePositioning{subscribeErr: errors.New("receiver busy")}
	s := NewSampler(pos, clock, DefaultSamplerConfig())
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(time.Second, false)))
	_, advisories := sink.snapshot()
	assert.Equal(t, []string{SignalAdvisory}, advisories)

	pos.mu.Lock()
	pos.subscribeErr = nil
	pos.mu.Unlock()
	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, pos.subCount())
	s.Stop()
}

func TestSampler_LateCallbacksDropped(t *testing.T) {
	clock := timeutil.NewMockClock(samplerStart)
	pos := &fakePositioning{}
	s := NewSampler(pos, clock, DefaultSamplerConfig())
	sink := &sampleSink{}

	require.NoError(t, s.Start(sink.request(time.Second, false)))
	first := pos.sub(0)

	// Restarting replaces the run; callbacks from the first one are stale.
	require.NoError(t, s.Start(sink.request(time.Second, false)))
	first.onSample(Position{})
	first.onError(ErrSignalLoss)
	samples, advisories := sink.snapshot()
	assert.Empty(t, samples)
	assert.Empty(t, advisories)

	second := pos.sub(1)
	s.Stop()
	second.onSample(Position{})
	assert.Equal(t, 0, sink.sampleCount())
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestSampler_LiveRequiresPositioning(t *testing.T) {
	s := NewSampler(nil, timeutil.NewMockClock(samplerStart), DefaultSamplerConfig())
	err := s.Start(Request{})
	assert.ErrorIs(t, err, ErrNoPositioning)
	assert.False(t, s.Running())
	s.Stop()
}
