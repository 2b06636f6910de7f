package geolocation

import (
	"fmt"
	"math"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/fieldtrack/internal/serialmux"
)

// ggaAltitudeField is the index of the altitude field in a GGA sentence.
const ggaAltitudeField = 8

// Decoder turns a stream of NMEA sentences into positions. RMC sentences
// supply the calendar date that GGA sentences lack; GGA sentences carry the
// fix itself.
type Decoder struct {
	uere    float64
	date    nmea.Date
	hasDate bool
}

// NewDecoder returns a decoder that converts HDOP to metres using the given
// user equivalent range error.
func NewDecoder(uereMeters float64) *Decoder {
	return &Decoder{uere: uereMeters}
}

// Decode consumes one sentence. ok is true only for a GGA sentence with a
// valid fix. now supplies the date until an RMC sentence has been seen.
func (d *Decoder) Decode(line string, now time.Time) (pos Position, ok bool, err error) {
	switch serialmux.ClassifySentence(line) {
	case serialmux.SentenceGGA, serialmux.SentenceRMC:
	default:
		return Position{}, false, nil
	}

	s, err := nmea.Parse(line)
	if err != nil {
		return Position{}, false, fmt.Errorf("parse nmea sentence: %w", err)
	}

	switch m := s.(type) {
	case nmea.RMC:
		if m.Date.Valid {
			d.date = m.Date
			d.hasDate = true
		}
		return Position{}, false, nil
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid || m.FixQuality == "" {
			return Position{}, false, nil
		}
		pos = Position{
			Lon:       m.Longitude,
			Lat:       m.Latitude,
			Accuracy:  d.accuracy(m.HDOP),
			Timestamp: d.timestamp(m.Time, now),
		}
		if len(m.Fields) > ggaAltitudeField && m.Fields[ggaAltitudeField] != "" {
			pos.Altitude = m.Altitude
			pos.HasAltitude = true
		}
		return pos, true, nil
	}
	return Position{}, false, nil
}

func (d *Decoder) accuracy(hdop float64) float64 {
	if hdop <= 0 {
		return math.Inf(1) // unknown
	}
	return hdop * d.uere
}

func (d *Decoder) timestamp(t nmea.Time, now time.Time) time.Time {
	now = now.UTC()
	if !t.Valid {
		return now
	}
	year, month, day := now.Date()
	if d.hasDate {
		year, month, day = 2000+d.date.YY, time.Month(d.date.MM), d.date.DD
	}
	ts := time.Date(year, month, day, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
	return nearestDay(ts, now)
}

// nearestDay corrects a date taken from the wrong side of UTC midnight: a
// 23:59:59 fix decoded just after midnight, or a 00:00:01 fix decoded
// before the next RMC updates the date. Skews beyond rolloverWindow mean
// the receiver and the host disagree on the date itself and are left alone.
func nearestDay(ts, now time.Time) time.Time {
	const (
		halfDay        = 12 * time.Hour
		rolloverWindow = 36 * time.Hour
	)
	switch skew := ts.Sub(now); {
	case skew > halfDay && skew < rolloverWindow:
		return ts.AddDate(0, 0, -1)
	case skew < -halfDay && skew > -rolloverWindow:
		return ts.AddDate(0, 0, 1)
	}
	return ts
}
