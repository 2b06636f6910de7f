package gpx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gpxgo "github.com/tkrajina/gpxgo/gpx"

	"github.com/banshee-data/fieldtrack/internal/fsutil"
)

// ReadPoints parses a GPX document and returns every track point in file
// order, across all tracks and segments.
func ReadPoints(r io.Reader) ([]Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gpx: %w", err)
	}
	doc, err := gpxgo.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	var points []Point
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				pt := Point{
					Lon:  p.Longitude,
					Lat:  p.Latitude,
					Time: p.Timestamp,
				}
				if p.Elevation.NotNull() {
					pt.Elevation = p.Elevation.Value()
					pt.HasElevation = true
				}
				points = append(points, pt)
			}
		}
	}

	// gpxgo drops fractional seconds, so point times are taken from the raw
	// <time> text when it parses.
	raw, err := trackPointTimes(data)
	if err != nil || len(raw) != len(points) {
		return points, nil
	}
	for i, s := range raw {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			points[i].Time = t
		}
	}
	return points, nil
}

// trackPointTimes returns the <time> text of every trkpt in document order,
// "" where a point has none.
func trackPointTimes(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var times []string
	inPoint := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return times, nil
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch {
			case el.Name.Local == "trkpt":
				inPoint = true
				times = append(times, "")
			case el.Name.Local == "time" && inPoint && times[len(times)-1] == "":
				var s string
				if err := dec.DecodeElement(&s, &el); err != nil {
					return nil, err
				}
				times[len(times)-1] = strings.TrimSpace(s)
			}
		case xml.EndElement:
			if el.Name.Local == "trkpt" {
				inPoint = false
			}
		}
	}
}

// ReadFile reads the track points of the GPX file at path.
func ReadFile(fsys fsutil.FileSystem, path string) ([]Point, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gpx: %w", err)
	}
	return ReadPoints(bytes.NewReader(data))
}
