package tracks

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gonum.org/v1/gonum/floats"
)

// Summary describes a completed track.
type Summary struct {
	Points              int           `json:"points"`
	DistanceMeters      float64       `json:"distance_m"`
	ElevationGainMeters float64       `json:"elevation_gain_m"`
	ElevationLossMeters float64       `json:"elevation_loss_m"`
	MinElevation        float64       `json:"min_elevation_m,omitempty"`
	MaxElevation        float64       `json:"max_elevation_m,omitempty"`
	Duration            time.Duration `json:"duration_ns"`
	AverageSpeedMPS     float64       `json:"average_speed_mps"`
}

// Summarize computes distance, elevation change and speed for points in
// order. Elevation statistics use only points with a known elevation.
func Summarize(points []TrackPoint) Summary {
	s := Summary{Points: len(points)}
	if len(points) < 2 {
		return s
	}

	legs := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		a := orb.Point{points[i-1].Lon, points[i-1].Lat}
		b := orb.Point{points[i].Lon, points[i].Lat}
		legs = append(legs, geo.DistanceHaversine(a, b))
	}
	s.DistanceMeters = floats.Sum(legs)

	var elevations, gains, losses []float64
	for _, p := range points {
		if !p.HasElevation {
			continue
		}
		if n := len(elevations); n > 0 {
			if d := p.Elevation - elevations[n-1]; d > 0 {
				gains = append(gains, d)
			} else {
				losses = append(losses, -d)
			}
		}
		elevations = append(elevations, p.Elevation)
	}
	if len(elevations) > 0 {
		s.MinElevation = floats.Min(elevations)
		s.MaxElevation = floats.Max(elevations)
	}
	s.ElevationGainMeters = floats.Sum(gains)
	s.ElevationLossMeters = floats.Sum(losses)

	s.Duration = points[len(points)-1].Time.Sub(points[0].Time)
	if s.Duration > 0 {
		s.AverageSpeedMPS = s.DistanceMeters / s.Duration.Seconds()
	}
	return s
}
