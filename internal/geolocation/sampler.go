package geolocation

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/timeutil"
)

// SignalAdvisory is the message shown to the user while waiting for a fix.
const SignalAdvisory = "Waiting for GPS signal"

// Debug generator origin used when there is no previous point.
const (
	DebugOriginLon = -3.188889
	DebugOriginLat = 55.936
)

// ErrNoPositioning is returned when live sampling is requested without a
// positioning source.
var ErrNoPositioning = errors.New("no positioning source configured")

// SamplerConfig holds the timing parameters of a Sampler.
type SamplerConfig struct {
	HighAccuracy  bool
	SignalTimeout time.Duration
	RetryDelay    time.Duration
	DebugPeriod   time.Duration
}

// DefaultSamplerConfig returns the stock timings: 30s signal timeout, 5s
// retry delay, one synthetic sample per second.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		HighAccuracy:  true,
		SignalTimeout: 30 * time.Second,
		RetryDelay:    5 * time.Second,
		DebugPeriod:   time.Second,
	}
}

// Request describes one sampling run.
type Request struct {
	// Interval is passed to the positioning source as the maximum age of a
	// cached fix.
	Interval time.Duration
	// Debug replaces the positioning source with a synthetic random walk.
	Debug bool
	// Seed is the starting point of the random walk; nil uses the default
	// origin.
	Seed       *Position
	OnSample   func(Position)
	OnAdvisory func(string)
}

// Sampler delivers raw position samples for one capture at a time. Starting
// a new run stops the previous one; callbacks belonging to a stopped run are
// dropped.
type Sampler struct {
	positioning Positioning
	clock       timeutil.Clock
	cfg         SamplerConfig

	mu      sync.Mutex
	gen     uint64
	running bool
	req     Request
	rnd     func() float64

	// live mode
	handle     Handle
	subscribed bool
	retry      timeutil.Timer

	// debug mode
	ticker  timeutil.Ticker
	stopGen chan struct{}
	lon     float64
	lat     float64
}

// NewSampler creates a Sampler. positioning may be nil when only debug
// sampling is used.
func NewSampler(positioning Positioning, clock timeutil.Clock, cfg SamplerConfig) *Sampler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Sampler{
		positioning: positioning,
		clock:       clock,
		cfg:         cfg,
		rnd:         r.Float64,
	}
}

// SetRandom replaces the source of the debug random walk. f must return
// values in [0, 1).
func (s *Sampler) SetRandom(f func() float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd = f
}

// Start stops any current run and begins a new one.
func (s *Sampler) Start(req Request) error {
	if !req.Debug && s.positioning == nil {
		return ErrNoPositioning
	}
	s.Stop()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.running = true
	s.req = req

	if req.Debug {
		s.lon, s.lat = DebugOriginLon, DebugOriginLat
		if req.Seed != nil {
			s.lon, s.lat = req.Seed.Lon, req.Seed.Lat
		}
		s.ticker = s.clock.NewTicker(s.cfg.DebugPeriod)
		s.stopGen = make(chan struct{})
		go s.generate(gen, s.ticker, s.stopGen)
		s.mu.Unlock()
		monitoring.Logf("gps: debug sampling every %s", s.cfg.DebugPeriod)
		return nil
	}
	s.mu.Unlock()

	s.subscribe(gen)
	return nil
}

// Stop cancels the current run. It is safe to call when not running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	s.gen++
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stopGen)
		s.ticker = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	h, subscribed := s.handle, s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	if subscribed {
		s.positioning.Unsubscribe(h)
	}
}

// Running reports whether a run is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) generate(gen uint64, ticker timeutil.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C():
			s.debugTick(gen, now)
		}
	}
}

func (s *Sampler) debugTick(gen uint64, now time.Time) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.lon += s.rnd() / 10000
	s.lat += s.rnd() / 10000
	pos := Position{
		Lon:         s.lon,
		Lat:         s.lat,
		Altitude:    s.rnd() * 100,
		HasAltitude: true,
		Accuracy:    s.rnd() * 100,
		Timestamp:   now,
	}
	cb := s.req.OnSample
	s.mu.Unlock()

	if cb != nil {
		cb(pos)
	}
}

func (s *Sampler) subscribe(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	opts := Options{
		HighAccuracy: s.cfg.HighAccuracy,
		MaximumAge:   s.req.Interval,
		Timeout:      s.cfg.SignalTimeout,
	}
	s.mu.Unlock()

	h, err := s.positioning.Subscribe(
		func(p Position) { s.onSample(gen, p) },
		func(err error) { s.onError(gen, err) },
		opts,
	)
	if err != nil {
		s.onError(gen, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.positioning.Unsubscribe(h)
		return
	}
	s.handle = h
	s.subscribed = true
	s.mu.Unlock()
}

func (s *Sampler) onSample(gen uint64, p Position) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	cb := s.req.OnSample
	s.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

// onError schedules a fresh subscription after the retry delay. Signal loss
// never ends the run.
func (s *Sampler) onError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.subscribed = false
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = s.clock.AfterFunc(s.cfg.RetryDelay, func() { s.subscribe(gen) })
	advisory := s.req.OnAdvisory
	s.mu.Unlock()

	monitoring.Logf("gps: %v; retrying in %s", err, s.cfg.RetryDelay)
	if advisory != nil {
		advisory(SignalAdvisory)
	}
}
