// Package gpx builds, persists and reads the GPX 1.1 track files written
// during a capture.
package gpx

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Namespace is the GPX 1.1 XML namespace.
const Namespace = "http://www.topografix.com/GPX/1/1"

// pointTimeLayout keeps milliseconds so fixes from receivers faster than
// 1 Hz stay distinct.
const pointTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Point is one track point. Elevation is written only when HasElevation is
// set.
type Point struct {
	Lon          float64
	Lat          float64
	Elevation    float64
	HasElevation bool
	Time         time.Time
}

// FileName derives the track file name from the capture start time: the
// ISO-8601 timestamp with whitespace and colons replaced by underscores.
func FileName(start time.Time) string {
	name := formatTime(start) + ".gpx"
	return strings.Map(func(r rune) rune {
		if r == ':' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}

// Document is an in-memory GPX document with a single track segment.
// It is not safe for concurrent use; take a Snapshot to marshal elsewhere.
type Document struct {
	creator string
	created time.Time
	points  []Point
}

// NewDocument creates an empty document stamped with its creation time.
func NewDocument(creator string, created time.Time) *Document {
	return &Document{creator: creator, created: created}
}

// Append adds a point to the end of the track segment.
func (d *Document) Append(p Point) {
	d.points = append(d.points, p)
}

// Len returns the number of track points.
func (d *Document) Len() int { return len(d.points) }

// Snapshot returns an independent copy of the document.
func (d *Document) Snapshot() *Document {
	return &Document{
		creator: d.creator,
		created: d.created,
		points:  append([]Point(nil), d.points...),
	}
}

type xmlGPX struct {
	XMLName  xml.Name    `xml:"gpx"`
	Xmlns    string      `xml:"xmlns,attr"`
	Version  string      `xml:"version,attr"`
	Creator  string      `xml:"creator,attr"`
	Metadata xmlMetadata `xml:"metadata"`
	Track    xmlTrack    `xml:"trk"`
}

type xmlMetadata struct {
	Time string `xml:"time"`
}

type xmlTrack struct {
	Segment xmlSegment `xml:"trkseg"`
}

type xmlSegment struct {
	Points []xmlPoint `xml:"trkpt"`
}

type xmlPoint struct {
	Lat  string  `xml:"lat,attr"`
	Lon  string  `xml:"lon,attr"`
	Ele  *string `xml:"ele,omitempty"`
	Time string  `xml:"time"`
}

// Marshal serialises the whole document, XML declaration included.
func (d *Document) Marshal() ([]byte, error) {
	doc := xmlGPX{
		Xmlns:    Namespace,
		Version:  "1.1",
		Creator:  d.creator,
		Metadata: xmlMetadata{Time: formatTime(d.created)},
	}
	doc.Track.Segment.Points = make([]xmlPoint, 0, len(d.points))
	for _, p := range d.points {
		xp := xmlPoint{
			Lat:  strconv.FormatFloat(p.Lat, 'f', 6, 64),
			Lon:  strconv.FormatFloat(p.Lon, 'f', 6, 64),
			Time: p.Time.UTC().Format(pointTimeLayout),
		}
		if p.HasElevation {
			ele := strconv.FormatFloat(p.Elevation, 'f', -1, 64)
			xp.Ele = &ele
		}
		doc.Track.Segment.Points = append(doc.Track.Segment.Points, xp)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal gpx: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
