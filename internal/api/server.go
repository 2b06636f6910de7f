// Package api serves the HTTP control surface of the capture controller
// and read access to the record store.
package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/fieldtrack/internal/fsutil"
	"github.com/banshee-data/fieldtrack/internal/gpx"
	"github.com/banshee-data/fieldtrack/internal/httputil"
	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/records"
	"github.com/banshee-data/fieldtrack/internal/security"
	"github.com/banshee-data/fieldtrack/internal/tracks"
	"github.com/banshee-data/fieldtrack/internal/units"
	"github.com/banshee-data/fieldtrack/internal/version"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Options tune request defaults.
type Options struct {
	// DebugDefault is used when a start request does not say whether to
	// use the synthetic sampler.
	DebugDefault bool
	// Units is the default display unit for completion summaries.
	Units string
}

// Server exposes the capture controller over HTTP.
type Server struct {
	ctrl   *tracks.Controller
	store  records.Store
	fsys   fsutil.FileSystem
	events *EventHub
	opts   Options
}

// NewServer returns a server for ctrl. events may be nil when no stream is
// wanted; it should be the controller's listener otherwise.
func NewServer(ctrl *tracks.Controller, store records.Store, fsys fsutil.FileSystem, events *EventHub, opts Options) *Server {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if !units.IsValid(opts.Units) {
		opts.Units = units.KPH
	}
	return &Server{
		ctrl:   ctrl,
		store:  store,
		fsys:   fsys,
		events: events,
		opts:   opts,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/capture/start", s.startCapture)
	mux.HandleFunc("/capture/pause", s.pauseCapture)
	mux.HandleFunc("/capture/resume", s.resumeCapture)
	mux.HandleFunc("/capture/complete", s.completeCapture)
	mux.HandleFunc("/capture/discard", s.discardCapture)
	mux.HandleFunc("/capture/status", s.showStatus)
	if s.events != nil {
		mux.Handle("/capture/events", s.events)
	}
	mux.HandleFunc("/records", s.listRecords)
	mux.HandleFunc("GET /records/{id}/track", s.showTrack)
	mux.HandleFunc("/version", s.showVersion)
	return mux
}

type startRequest struct {
	Annotation *records.Annotation `json:"annotation"`
	Rate       *float64            `json:"rate,omitempty"`
	Debug      *bool               `json:"debug,omitempty"`
}

type resumeRequest struct {
	Rate  *float64 `json:"rate,omitempty"`
	Debug *bool    `json:"debug,omitempty"`
}

type completionResponse struct {
	tracks.Completion
	SaveError   string `json:"save_error,omitempty"`
	RecordError string `json:"record_error,omitempty"`

	Units        string  `json:"units"`
	Distance     float64 `json:"distance"`
	DistanceUnit string  `json:"distance_unit"`
	AverageSpeed float64 `json:"average_speed"`
}

func newCompletionResponse(c tracks.Completion, unit string) completionResponse {
	resp := completionResponse{
		Completion:   c,
		Units:        unit,
		Distance:     units.ConvertDistance(c.Summary.DistanceMeters, unit),
		DistanceUnit: units.DistanceLabel(unit),
		AverageSpeed: units.ConvertSpeed(c.Summary.AverageSpeedMPS, unit),
	}
	if c.SaveErr != nil {
		resp.SaveError = c.SaveErr.Error()
	}
	if c.RecordErr != nil {
		resp.RecordError = c.RecordErr.Error()
	}
	return resp
}

func (s *Server) startCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req startRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rate := -1.0
	if req.Rate != nil {
		if *req.Rate < 0 {
			httputil.BadRequest(w, "rate must be non-negative")
			return
		}
		rate = *req.Rate
	}
	debug := s.opts.DebugDefault
	if req.Debug != nil {
		debug = *req.Debug
	}

	snap, err := s.ctrl.Start(r.Context(), req.Annotation, rate, debug)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) pauseCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.ctrl.Pause()
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) resumeCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req resumeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rate := -1.0
	if req.Rate != nil {
		if *req.Rate < 0 {
			httputil.BadRequest(w, "rate must be non-negative")
			return
		}
		rate = *req.Rate
	}
	debug := s.ctrl.Status().Debug
	if req.Debug != nil {
		debug = *req.Debug
	}

	if err := s.ctrl.Resume(rate, debug); err != nil {
		if errors.Is(err, tracks.ErrNoActiveCapture) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) completeCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	unit := s.opts.Units
	if q := r.URL.Query().Get("units"); q != "" {
		if !units.IsValid(q) {
			httputil.BadRequest(w, "units must be one of: "+units.GetValidUnitsString())
			return
		}
		unit = q
	}
	// The final write must not be cut short by a client disconnect.
	done, err := s.ctrl.Complete(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, tracks.ErrNoActiveCapture) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, newCompletionResponse(done, unit))
}

func (s *Server) discardCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctrl.Discard(context.WithoutCancel(r.Context())); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	list, err := s.store.List(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, a := range list {
		fc.Append(a.Feature())
	}
	httputil.WriteJSONOK(w, fc)
}

type trackPoint struct {
	Lon  float64   `json:"lon"`
	Lat  float64   `json:"lat"`
	Ele  *float64  `json:"ele,omitempty"`
	Time time.Time `json:"time"`
}

type trackResponse struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	StrokeColor string       `json:"strokeColor,omitempty"`
	Points      []trackPoint `json:"points"`
}

// showTrack reads a record's GPX file back for display.
func (s *Server) showTrack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.Get(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		httputil.NotFound(w, "record not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	path := a.GPXPath()
	if path == "" {
		httputil.NotFound(w, "record has no track")
		return
	}
	if err := security.ValidatePathWithinDirectory(path, s.store.AssetsDir()); err != nil {
		monitoring.Logf("api: refusing track %s of record %s: %v", path, id, err)
		httputil.WriteJSONError(w, http.StatusForbidden, "track file outside assets directory")
		return
	}
	pts, err := gpx.ReadFile(s.fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "track file not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	resp := trackResponse{
		ID:          a.ID,
		Name:        a.Name,
		StrokeColor: a.StrokeColor(),
		Points:      make([]trackPoint, 0, len(pts)),
	}
	for _, p := range pts {
		tp := trackPoint{Lon: p.Lon, Lat: p.Lat, Time: p.Time}
		if p.HasElevation {
			ele := p.Elevation
			tp.Ele = &ele
		}
		resp.Points = append(resp.Points, tp)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
