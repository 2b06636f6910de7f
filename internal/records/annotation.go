// Package records stores the annotation records that captures are linked
// to. A track capture owns one record whose GPX field names its track file.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

const (
	// GPXFieldID identifies the field holding a track's GPX file path.
	GPXFieldID = "fieldtrip-gpx"
	// TypeTrack is the record type of track captures.
	TypeTrack = "track"
)

// Point is a record's location. Alt is nil when altitude is unknown.
type Point struct {
	Lon float64  `json:"lon"`
	Lat float64  `json:"lat"`
	Alt *float64 `json:"alt,omitempty"`
}

// Style holds display hints for a field.
type Style struct {
	StrokeColor string `json:"strokeColor,omitempty"`
}

// Field is one named value of a record.
type Field struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Val   string `json:"val"`
	Style *Style `json:"style,omitempty"`
}

// Annotation is a record in the store.
type Annotation struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Editor    string    `json:"editor,omitempty"`
	Point     Point     `json:"point"`
	Fields    []Field   `json:"fields,omitempty"`
	Rate      float64   `json:"rate,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field returns the field with the given id, or nil.
func (a *Annotation) Field(id string) *Field {
	for i := range a.Fields {
		if a.Fields[i].ID == id {
			return &a.Fields[i]
		}
	}
	return nil
}

// SetField replaces the field with f.ID, or appends f.
func (a *Annotation) SetField(f Field) {
	if existing := a.Field(f.ID); existing != nil {
		*existing = f
		return
	}
	a.Fields = append(a.Fields, f)
}

// GPXPath returns the value of the GPX field, or "".
func (a *Annotation) GPXPath() string {
	if f := a.Field(GPXFieldID); f != nil {
		return f.Val
	}
	return ""
}

// StrokeColor returns the track colour stored on the GPX field, or "".
func (a *Annotation) StrokeColor() string {
	if f := a.Field(GPXFieldID); f != nil && f.Style != nil {
		return f.Style.StrokeColor
	}
	return ""
}

// Clone returns a deep copy.
func (a *Annotation) Clone() *Annotation {
	c := *a
	if a.Point.Alt != nil {
		alt := *a.Point.Alt
		c.Point.Alt = &alt
	}
	c.Fields = make([]Field, len(a.Fields))
	for i, f := range a.Fields {
		c.Fields[i] = f
		if f.Style != nil {
			style := *f.Style
			c.Fields[i].Style = &style
		}
	}
	return &c
}

// Feature renders the record as a GeoJSON point feature.
func (a *Annotation) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{a.Point.Lon, a.Point.Lat})
	f.ID = a.ID
	f.Properties["type"] = a.Type
	f.Properties["name"] = a.Name
	if a.Point.Alt != nil {
		f.Properties["alt"] = *a.Point.Alt
	}
	if path := a.GPXPath(); path != "" {
		f.Properties["gpx"] = path
	}
	if color := a.StrokeColor(); color != "" {
		f.Properties["strokeColor"] = color
	}
	return f
}

// Store is the record store a capture reconciles with.
type Store interface {
	// Save creates the record when id is empty, otherwise creates or
	// replaces the record with that id. It returns the record id and sets
	// a.ID and the timestamps.
	Save(ctx context.Context, id string, a *Annotation) (string, error)
	Get(ctx context.Context, id string) (*Annotation, error)
	Delete(ctx context.Context, id string) error
	// List returns records of the given type, or all records when
	// recordType is empty, oldest first.
	List(ctx context.Context, recordType string) ([]*Annotation, error)
	// AssetsDir is the directory track files are written to.
	AssetsDir() string
}
