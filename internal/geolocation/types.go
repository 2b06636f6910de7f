// Package geolocation produces position samples for track capture, either
// from a GPS receiver or from a synthetic debug generator.
package geolocation

import (
	"errors"
	"time"
)

// ErrSignalLoss is reported to a subscriber when no usable fix arrives
// within the subscription timeout. The subscription ends when it fires.
var ErrSignalLoss = errors.New("gps signal lost")

// Position is one raw sample from the positioning source.
type Position struct {
	Lon         float64   `json:"lon"`
	Lat         float64   `json:"lat"`
	Altitude    float64   `json:"altitude,omitempty"`
	HasAltitude bool      `json:"has_altitude"`
	Accuracy    float64   `json:"accuracy"` // horizontal, metres
	Timestamp   time.Time `json:"timestamp"`
}

// Options mirror the watch options of a device location service.
type Options struct {
	HighAccuracy bool
	// MaximumAge is the oldest cached fix that may be delivered on
	// subscribe. Zero disables cached delivery.
	MaximumAge time.Duration
	// Timeout bounds the wait for each fix.
	Timeout time.Duration
}

// Handle identifies an active subscription.
type Handle uint64

// Positioning is the device location service the sampler subscribes to.
type Positioning interface {
	Subscribe(onSample func(Position), onError func(error), opts Options) (Handle, error)
	Unsubscribe(Handle)
	// LastKnown returns the most recent fix, if any.
	LastKnown() (Position, bool)
}
