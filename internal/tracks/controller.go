package tracks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/fieldtrack/internal/config"
	"github.com/banshee-data/fieldtrack/internal/fsutil"
	"github.com/banshee-data/fieldtrack/internal/geolocation"
	"github.com/banshee-data/fieldtrack/internal/gpx"
	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/records"
	"github.com/banshee-data/fieldtrack/internal/timeutil"
)

// ErrNoActiveCapture is returned by commands that need a capture in progress.
var ErrNoActiveCapture = errors.New("no active capture")

// State is the lifecycle state of the capture controller.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StatePaused    State = "paused"
)

// Sampler is the source of raw samples for a capture.
// *geolocation.Sampler satisfies it.
type Sampler interface {
	Start(req geolocation.Request) error
	Stop()
	Running() bool
}

// ControllerConfig holds the collaborators and parameters of a Controller.
type ControllerConfig struct {
	Sampler     Sampler
	Positioning geolocation.Positioning // optional; seeds the record point
	Store       records.Store
	FS          fsutil.FileSystem
	Clock       timeutil.Clock
	Listener    Listener

	// DefaultRate is the sample interval in seconds used when Start is
	// given a negative rate.
	DefaultRate       float64
	AccuracyThreshold float64
	AutoSaveEvery     int
	Creator           string
}

// ControllerConfigFromCapture fills the tunable parameters from cfg.
func ControllerConfigFromCapture(cfg *config.CaptureConfig) ControllerConfig {
	return ControllerConfig{
		DefaultRate:       cfg.GetSampleIntervalSeconds(),
		AccuracyThreshold: cfg.GetAccuracyThresholdMeters(),
		AutoSaveEvery:     cfg.GetAutoSaveEveryNPoints(),
		Creator:           cfg.GetCreator(),
	}
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State     State       `json:"state"`
	RecordID  string      `json:"record_id,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	Path      string      `json:"path,omitempty"`
	Rate      float64     `json:"rate,omitempty"`
	Debug     bool        `json:"debug,omitempty"`
	Points    int         `json:"points"`
	Pending   int         `json:"pending"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	LastPoint *TrackPoint `json:"last_point,omitempty"`
}

// Completion reports the outcome of Complete.
type Completion struct {
	RecordID string  `json:"record_id"`
	FileName string  `json:"file_name"`
	Path     string  `json:"path"`
	Points   int     `json:"points"`
	Empty    bool    `json:"empty"`
	Summary  Summary `json:"summary"`
	// SaveErr is the error of the final GPX write, if any.
	SaveErr error `json:"-"`
	// RecordErr is the error of the final record update or, for an empty
	// capture, of the record delete.
	RecordErr error `json:"-"`
}

type capture struct {
	recordID   string
	annotation *records.Annotation
	fileName   string
	startedAt  time.Time
	rate       float64
	debug      bool

	filter *SampleFilter
	buffer TrackBuffer
	doc    *gpx.Document
	writer *gpx.Writer

	pending int
	seq     uint64
}

type flushJob struct {
	writer *gpx.Writer
	doc    *gpx.Document
	seq    uint64
}

// Controller is the track capture state machine. Commands are serialised
// by opMu and may perform I/O. Sample callbacks take only mu, which is
// never held across I/O or listener calls.
type Controller struct {
	cfg ControllerConfig

	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	capture *capture

	flushes sync.WaitGroup
}

// NewController returns an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.DefaultRate < 0 {
		cfg.DefaultRate = config.DefaultSampleIntervalSeconds
	}
	if cfg.AccuracyThreshold <= 0 {
		cfg.AccuracyThreshold = config.DefaultAccuracyThresholdMeters
	}
	if cfg.AutoSaveEvery <= 0 {
		cfg.AutoSaveEvery = config.DefaultAutoSaveEveryNPoints
	}
	if cfg.Creator == "" {
		cfg.Creator = config.DefaultCreator
	}
	return &Controller{cfg: cfg, state: StateIdle}
}

func rateInterval(rate float64) time.Duration {
	return time.Duration(rate * float64(time.Second))
}

// Start begins a capture linked to annotation. When a capture already
// exists it is left untouched and its snapshot returned. A negative rate
// uses the configured default. If the record cannot be saved the
// controller stays idle and the error is returned.
func (c *Controller) Start(ctx context.Context, annotation *records.Annotation, rate float64, debug bool) (Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	if annotation == nil {
		annotation = &records.Annotation{}
	}
	if rate < 0 {
		rate = c.cfg.DefaultRate
	}

	now := c.cfg.Clock.Now()
	fileName := gpx.FileName(now)
	path := filepath.Join(c.cfg.Store.AssetsDir(), fileName)

	a := annotation.Clone()
	if a.Type == "" {
		a.Type = records.TypeTrack
	}
	a.Rate = rate
	if c.cfg.Positioning != nil {
		if pos, ok := c.cfg.Positioning.LastKnown(); ok {
			a.Point = records.Point{Lon: pos.Lon, Lat: pos.Lat}
			if pos.HasAltitude {
				alt := pos.Altitude
				a.Point.Alt = &alt
			}
		}
	}
	gpxField := records.Field{ID: records.GPXFieldID, Val: path}
	if f := a.Field(records.GPXFieldID); f != nil {
		gpxField.Label = f.Label
		gpxField.Style = f.Style
	}
	a.SetField(gpxField)

	id, err := c.cfg.Store.Save(ctx, "", a)
	if err != nil {
		return Snapshot{State: StateIdle}, fmt.Errorf("save track record: %w", err)
	}

	cp := &capture{
		recordID:   id,
		annotation: a,
		fileName:   fileName,
		startedAt:  now,
		rate:       rate,
		debug:      debug,
		filter:     NewSampleFilter(c.cfg.AccuracyThreshold, rateInterval(rate), now),
		doc:        gpx.NewDocument(c.cfg.Creator, now),
		writer:     gpx.NewWriter(c.cfg.FS, path),
	}

	c.mu.Lock()
	c.gen++
	c.capture = cp
	c.state = StateCapturing
	req := c.requestLocked()
	c.mu.Unlock()

	if err := c.cfg.Sampler.Start(req); err != nil {
		c.mu.Lock()
		c.gen++
		c.capture = nil
		c.state = StateIdle
		c.mu.Unlock()
		if derr := c.cfg.Store.Delete(ctx, id); derr != nil {
			monitoring.Logf("tracks: delete record %s after failed start: %v", id, derr)
		}
		return Snapshot{State: StateIdle}, fmt.Errorf("start sampler: %w", err)
	}

	monitoring.Logf("tracks: capture %s started, file %s, rate %gs, debug %v", id, path, rate, debug)
	snap := c.Status()
	c.cfg.Listener.StateChanged(snap)
	return snap, nil
}

// requestLocked builds a sampler request bound to the current generation.
func (c *Controller) requestLocked() geolocation.Request {
	gen := c.gen
	cp := c.capture
	req := geolocation.Request{
		Interval:   rateInterval(cp.rate),
		Debug:      cp.debug,
		OnSample:   func(p geolocation.Position) { c.onSample(gen, p) },
		OnAdvisory: func(msg string) { c.onAdvisory(gen, msg) },
	}
	if last, ok := cp.buffer.Last(); ok {
		req.Seed = &geolocation.Position{
			Lon:         last.Lon,
			Lat:         last.Lat,
			Altitude:    last.Elevation,
			HasAltitude: last.HasElevation,
			Timestamp:   last.Time,
		}
	}
	return req
}

// Pause stops sampling while keeping the capture. It is a no-op unless
// capturing.
func (c *Controller) Pause() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateCapturing {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StatePaused
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.cfg.Sampler.Stop()
	c.cfg.Listener.StateChanged(snap)
}

// Resume restarts sampling of a paused capture. A negative rate keeps the
// current one. Resuming while capturing is a no-op.
func (c *Controller) Resume(rate float64, debug bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNoActiveCapture
	case StateCapturing:
		c.mu.Unlock()
		return nil
	}
	cp := c.capture
	if rate >= 0 {
		cp.rate = rate
		cp.filter.SetInterval(rateInterval(rate))
	}
	cp.debug = debug
	c.gen++
	c.state = StateCapturing
	req := c.requestLocked()
	c.mu.Unlock()

	if err := c.cfg.Sampler.Start(req); err != nil {
		c.mu.Lock()
		c.gen++
		c.state = StatePaused
		c.mu.Unlock()
		return fmt.Errorf("start sampler: %w", err)
	}

	c.cfg.Listener.StateChanged(c.Status())
	return nil
}

// Complete finishes the capture. An empty capture deletes its record;
// otherwise the record point is moved to the first track point and the
// full GPX document is written before returning. Failures are logged and
// reported in the Completion; the controller always ends idle.
func (c *Controller) Complete(ctx context.Context) (Completion, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return Completion{}, ErrNoActiveCapture
	}
	c.gen++
	cp := c.capture
	points := cp.buffer.Points()
	doc := cp.doc.Snapshot()
	cp.seq++
	seq := cp.seq
	c.mu.Unlock()

	c.cfg.Sampler.Stop()

	done := Completion{
		RecordID: cp.recordID,
		FileName: cp.fileName,
		Path:     cp.writer.Path(),
		Points:   len(points),
		Summary:  Summarize(points),
	}

	if len(points) == 0 {
		done.Empty = true
		if err := c.cfg.Store.Delete(ctx, cp.recordID); err != nil {
			done.RecordErr = fmt.Errorf("delete empty track record: %w", err)
			monitoring.Logf("tracks: %v", done.RecordErr)
		}
		if err := cp.writer.Remove(); err != nil {
			monitoring.Logf("tracks: %v", err)
		}
		monitoring.Logf("tracks: capture %s completed without points", cp.recordID)
	} else {
		a, err := c.cfg.Store.Get(ctx, cp.recordID)
		if err != nil {
			monitoring.Logf("tracks: reload record %s: %v; using start copy", cp.recordID, err)
			a = cp.annotation.Clone()
		}
		first := points[0]
		a.Point = records.Point{Lon: first.Lon, Lat: first.Lat}
		if first.HasElevation {
			ele := first.Elevation
			a.Point.Alt = &ele
		}
		if _, err := c.cfg.Store.Save(ctx, cp.recordID, a); err != nil {
			done.RecordErr = fmt.Errorf("update track record: %w", err)
			monitoring.Logf("tracks: %v", done.RecordErr)
		}

		data, err := doc.Marshal()
		if err == nil {
			err = cp.writer.Save(seq, data)
		}
		if err != nil {
			done.SaveErr = err
			monitoring.Logf("tracks: final save of %s: %v", cp.writer.Path(), err)
		}
		monitoring.Logf("tracks: capture %s completed, %d points, %.0fm", cp.recordID, len(points), done.Summary.DistanceMeters)
	}

	c.mu.Lock()
	c.capture = nil
	c.state = StateIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.cfg.Listener.CaptureCompleted(done)
	c.cfg.Listener.StateChanged(snap)
	return done, nil
}

// Discard abandons the capture, deleting its record and GPX file. Cleanup
// is best-effort; failures are logged and joined into the returned error.
// Discarding when idle is a no-op.
func (c *Controller) Discard(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	cp := c.capture
	c.capture = nil
	c.state = StateIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.cfg.Sampler.Stop()

	var errs []error
	if err := cp.writer.Remove(); err != nil {
		monitoring.Logf("tracks: %v", err)
		errs = append(errs, err)
	}
	if err := c.cfg.Store.Delete(ctx, cp.recordID); err != nil && !errors.Is(err, records.ErrNotFound) {
		err = fmt.Errorf("delete track record: %w", err)
		monitoring.Logf("tracks: %v", err)
		errs = append(errs, err)
	}
	monitoring.Logf("tracks: capture %s discarded", cp.recordID)

	c.cfg.Listener.CaptureDiscarded(cp.recordID)
	c.cfg.Listener.StateChanged(snap)
	return errors.Join(errs...)
}

func (c *Controller) onSample(gen uint64, p geolocation.Position) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateCapturing {
		c.mu.Unlock()
		return
	}
	cp := c.capture
	if !cp.filter.Admit(p) {
		c.mu.Unlock()
		return
	}

	pt := TrackPoint{
		Lon:          p.Lon,
		Lat:          p.Lat,
		Elevation:    p.Altitude,
		HasElevation: p.HasAltitude,
		Time:         p.Timestamp,
	}
	cp.buffer.Append(pt)
	cp.doc.Append(gpx.Point(pt))
	cp.pending++

	var job *flushJob
	if cp.pending >= c.cfg.AutoSaveEvery {
		cp.pending = 0
		cp.seq++
		job = &flushJob{writer: cp.writer, doc: cp.doc.Snapshot(), seq: cp.seq}
		c.flushes.Add(1)
	}
	c.mu.Unlock()

	c.cfg.Listener.PointAccepted(pt)
	if job != nil {
		go c.flush(job)
	}
}

func (c *Controller) flush(job *flushJob) {
	defer c.flushes.Done()

	data, err := job.doc.Marshal()
	if err == nil {
		err = job.writer.Save(job.seq, data)
	}
	switch {
	case err == nil:
		monitoring.Debugf("tracks: autosaved %d points to %s", job.doc.Len(), job.writer.Path())
	case errors.Is(err, gpx.ErrWriterClosed):
		monitoring.Debugf("tracks: autosave skipped, %s discarded", job.writer.Path())
	default:
		monitoring.Logf("tracks: autosave %s: %v", job.writer.Path(), err)
	}
}

func (c *Controller) onAdvisory(gen uint64, msg string) {
	c.mu.Lock()
	current := gen == c.gen && c.state == StateCapturing
	c.mu.Unlock()
	if current {
		c.cfg.Listener.SignalAdvisory(msg)
	}
}

// Wait blocks until all in-flight autosaves have finished.
func (c *Controller) Wait() {
	c.flushes.Wait()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state}
	cp := c.capture
	if cp == nil {
		return snap
	}
	snap.RecordID = cp.recordID
	snap.FileName = cp.fileName
	snap.Path = cp.writer.Path()
	snap.Rate = cp.rate
	snap.Debug = cp.debug
	snap.Points = cp.buffer.Len()
	snap.Pending = cp.pending
	snap.StartedAt = cp.startedAt
	if last, ok := cp.buffer.Last(); ok {
		snap.LastPoint = &last
	}
	return snap
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current capture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Started reports whether a capture exists, paused or not.
func (c *Controller) Started() bool { return c.State() != StateIdle }

// Paused reports whether a capture exists with its sampler stopped.
func (c *Controller) Paused() bool { return c.State() == StatePaused }

// Running reports whether samples are being recorded.
func (c *Controller) Running() bool { return c.State() == StateCapturing }

// Points returns a copy of the buffered points of the current capture.
func (c *Controller) Points() []TrackPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	return c.capture.buffer.Points()
}
