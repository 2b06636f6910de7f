// Package tracks implements GPS track capture: sample admission, the
// in-memory point buffer, and the capture state machine that reconciles a
// GPX file with its annotation record.
package tracks

import "time"

// TrackPoint is one admitted sample. Points are immutable once appended.
type TrackPoint struct {
	Lon          float64   `json:"lon"`
	Lat          float64   `json:"lat"`
	Elevation    float64   `json:"ele,omitempty"`
	HasElevation bool      `json:"has_ele"`
	Time         time.Time `json:"time"`
}

// TrackBuffer is the ordered, append-only list of points of one capture.
type TrackBuffer struct {
	points []TrackPoint
}

// Append adds p to the end of the buffer.
func (b *TrackBuffer) Append(p TrackPoint) {
	b.points = append(b.points, p)
}

// Start returns the first point.
func (b *TrackBuffer) Start() (TrackPoint, bool) {
	if len(b.points) == 0 {
		return TrackPoint{}, false
	}
	return b.points[0], true
}

// Last returns the most recent point.
func (b *TrackBuffer) Last() (TrackPoint, bool) {
	if len(b.points) == 0 {
		return TrackPoint{}, false
	}
	return b.points[len(b.points)-1], true
}

func (b *TrackBuffer) IsEmpty() bool { return len(b.points) == 0 }

func (b *TrackBuffer) Len() int { return len(b.points) }

// Points returns a copy of the buffered points.
func (b *TrackBuffer) Points() []TrackPoint {
	return append([]TrackPoint(nil), b.points...)
}

// Clear drops all points.
func (b *TrackBuffer) Clear() {
	b.points = nil
}
