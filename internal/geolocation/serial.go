package geolocation

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/serialmux"
	"github.com/banshee-data/fieldtrack/internal/timeutil"
)

// SerialPositioning implements Positioning over a GPS receiver attached to a
// serial mux. Run must be active for subscribers to receive fixes.
type SerialPositioning struct {
	mux     serialmux.SerialMuxInterface
	clock   timeutil.Clock
	decoder *Decoder

	mu         sync.Mutex
	last       Position
	lastAt     time.Time
	hasLast    bool
	nextHandle Handle
	subs       map[Handle]*subscription
}

type subscription struct {
	// order is held across each callback so a subscriber sees fixes one at
	// a time, oldest first.
	order sync.Mutex

	mu       sync.Mutex
	done     bool
	timeout  time.Duration
	timer    timeutil.Timer
	onSample func(Position)
	onError  func(error)
}

// NewSerialPositioning returns a Positioning fed by mux. HDOP is converted to
// metres with uereMeters.
func NewSerialPositioning(mux serialmux.SerialMuxInterface, clock timeutil.Clock, uereMeters float64) *SerialPositioning {
	return &SerialPositioning{
		mux:     mux,
		clock:   clock,
		decoder: NewDecoder(uereMeters),
		subs:    make(map[Handle]*subscription),
	}
}

// Run reads sentences from the mux until ctx is done or the mux closes.
func (p *SerialPositioning) Run(ctx context.Context) error {
	id, lines := p.mux.Subscribe()
	defer p.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.HandleLine(line)
		}
	}
}

// HandleLine decodes one sentence and delivers any resulting fix.
func (p *SerialPositioning) HandleLine(line string) {
	pos, ok, err := p.decoder.Decode(line, p.clock.Now())
	if err != nil {
		monitoring.Debugf("gps: %v", err)
		return
	}
	if !ok {
		return
	}

	p.mu.Lock()
	p.last = pos
	p.lastAt = p.clock.Now()
	p.hasLast = true
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.deliver(pos)
	}
}

// Subscribe registers callbacks for new fixes. A cached fix younger than
// opts.MaximumAge is delivered before Subscribe returns, on the caller's
// goroutine. If no fix arrives within opts.Timeout the subscription ends and
// onError receives ErrSignalLoss.
// HighAccuracy is accepted for interface parity; a serial receiver has a
// single mode.
func (p *SerialPositioning) Subscribe(onSample func(Position), onError func(error), opts Options) (Handle, error) {
	s := &subscription{
		timeout:  opts.Timeout,
		onSample: onSample,
		onError:  onError,
	}
	// Fixes decoded after registration wait until the cached one is out.
	s.order.Lock()
	defer s.order.Unlock()

	p.mu.Lock()
	p.nextHandle++
	h := p.nextHandle
	p.subs[h] = s
	cached, fresh := p.last, p.hasLast && opts.MaximumAge > 0 && p.clock.Since(p.lastAt) <= opts.MaximumAge
	p.mu.Unlock()

	if opts.Timeout > 0 {
		s.mu.Lock()
		s.timer = p.clock.AfterFunc(opts.Timeout, func() { p.expire(h) })
		s.mu.Unlock()
	}
	if fresh {
		s.deliverLocked(cached)
	}
	return h, nil
}

// Unsubscribe ends a subscription. No callbacks fire after it returns,
// except one already in progress.
func (p *SerialPositioning) Unsubscribe(h Handle) {
	p.mu.Lock()
	s, ok := p.subs[h]
	delete(p.subs, h)
	p.mu.Unlock()
	if ok {
		s.close()
	}
}

// LastKnown returns the most recent valid fix.
func (p *SerialPositioning) LastKnown() (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

func (p *SerialPositioning) expire(h Handle) {
	p.mu.Lock()
	s, ok := p.subs[h]
	delete(p.subs, h)
	p.mu.Unlock()
	if !ok || !s.close() {
		return
	}
	if s.onError != nil {
		s.onError(ErrSignalLoss)
	}
}

func (s *subscription) deliver(pos Position) {
	s.order.Lock()
	defer s.order.Unlock()
	s.deliverLocked(pos)
}

// deliverLocked runs onSample; the caller holds s.order.
func (s *subscription) deliverLocked(pos Position) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.timeout)
	}
	cb := s.onSample
	s.mu.Unlock()
	if cb != nil {
		cb(pos)
	}
}

// close marks the subscription finished and reports whether it was open.
func (s *subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}
