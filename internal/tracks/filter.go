package tracks

import (
	"time"

	"github.com/banshee-data/fieldtrack/internal/geolocation"
	"github.com/banshee-data/fieldtrack/internal/monitoring"
)

// SampleFilter admits a sample when its accuracy is better than the
// threshold and its timestamp is strictly later than the last admitted
// timestamp plus the sample interval. The only state it keeps is the last
// admitted timestamp, which changes only on admission.
type SampleFilter struct {
	threshold    float64
	interval     time.Duration
	lastAccepted time.Time
}

// NewSampleFilter returns a filter whose interval gate is measured from
// since, normally the capture start time.
func NewSampleFilter(thresholdMeters float64, interval time.Duration, since time.Time) *SampleFilter {
	return &SampleFilter{
		threshold:    thresholdMeters,
		interval:     interval,
		lastAccepted: since,
	}
}

// Admit reports whether p is admitted and, if so, records its timestamp.
// An interval of zero disables throttling, but timestamps must still
// advance.
func (f *SampleFilter) Admit(p geolocation.Position) bool {
	if !(p.Accuracy < f.threshold) {
		monitoring.Debugf("ignore point: accuracy %.1fm", p.Accuracy)
		return false
	}
	next := f.lastAccepted.Add(f.interval)
	if !p.Timestamp.After(next) {
		monitoring.Debugf("ignore point: %s not after %s", p.Timestamp.Format(time.RFC3339Nano), next.Format(time.RFC3339Nano))
		return false
	}
	f.lastAccepted = p.Timestamp
	return true
}

// SetInterval changes the minimum spacing between admitted samples.
func (f *SampleFilter) SetInterval(d time.Duration) {
	f.interval = d
}

// Interval returns the minimum spacing between admitted samples.
func (f *SampleFilter) Interval() time.Duration { return f.interval }

// LastAccepted returns the timestamp of the last admitted sample, or the
// starting time if none has been admitted.
func (f *SampleFilter) LastAccepted() time.Time { return f.lastAccepted }
