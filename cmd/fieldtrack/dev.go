package main

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/fieldtrack/internal/serialmux"
)

// devSentences returns a loop of GGA/RMC pairs walking a small circle, for
// replaying through the mock receiver in --dev mode.
func devSentences(start time.Time, n int) []string {
	const (
		centreLat = 55.9533
		centreLon = -3.1883
		radius    = 0.001
	)
	out := make([]string, 0, 2*n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second).UTC()
		angle := 2 * math.Pi * float64(i) / float64(n)
		lat := centreLat + radius*math.Sin(angle)
		lon := centreLon + radius*math.Cos(angle)
		latField, ns := nmeaCoord(lat, 2, "N", "S")
		lonField, ew := nmeaCoord(lon, 3, "E", "W")
		hms := ts.Format("150405") + ".00"

		out = append(out,
			serialmux.FormatSentence(fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,08,0.9,%.1f,M,46.9,M,,",
				hms, latField, ns, lonField, ew, 45+5*math.Sin(angle))),
			serialmux.FormatSentence(fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,0.5,0.0,%s,,,A",
				hms, latField, ns, lonField, ew, ts.Format("020106"))),
		)
	}
	return out
}

// nmeaCoord formats decimal degrees as NMEA (d)ddmm.mmmm with hemisphere.
func nmeaCoord(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), minutes), hemi
}
