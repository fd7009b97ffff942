// Package engine is the prediction engine facade. It owns one window, one
// calibrator and one pipeline; engines share nothing, so several can run in
// the same process. The engine performs no I/O of its own.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/skywatch/internal/arbiter"
	"github.com/rewired-gh/skywatch/internal/calibrate"
	"github.com/rewired-gh/skywatch/internal/detector"
	"github.com/rewired-gh/skywatch/internal/forecast"
	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/window"
)

// Options configures an Engine.
type Options struct {
	WindowCapacity int
	Retention      time.Duration
	// HistorySize bounds the in-memory prediction history.
	HistorySize int
	// Location is the station's time zone; nil disables time-of-day shaping.
	Location    *time.Location
	Arbiter     arbiter.Config
	Tunings     map[string]detector.Tuning
	Calibration calibrate.Options
	// Clock stamps predictions. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// DefaultOptions returns a week of one-minute readings and catalog detectors.
func DefaultOptions() Options {
	return Options{
		WindowCapacity: 20160,
		Retention:      168 * time.Hour,
		HistorySize:    2880,
		Arbiter:        arbiter.DefaultConfig(),
		Tunings:        detector.DefaultTunings(),
		Calibration:    calibrate.DefaultOptions(),
	}
}

// Stats is a point-in-time view of engine bookkeeping.
type Stats struct {
	Readings     int             `json:"readings"`
	Capacity     int             `json:"capacity"`
	Retention    time.Duration   `json:"retention"`
	Revision     uint64          `json:"revision"`
	Events       int             `json:"events"`
	StateVersion uint64          `json:"state_version"`
	Predictions  int             `json:"predictions"`
	Latest       *models.Reading `json:"latest,omitempty"`
}

// Engine turns a stream of readings into predictions.
type Engine struct {
	window     *window.Window
	pipeline   *forecast.Pipeline
	calibrator *calibrate.Calibrator
	clock      func() time.Time

	mu       sync.Mutex
	cached   *models.Prediction
	cacheRev uint64
	cacheVer uint64

	historyMu   sync.RWMutex
	history     []models.Prediction
	historySize int
}

// New builds an engine. history supplies past readings to calibration; when
// nil the engine's own window is used.
func New(opts Options, history calibrate.HistorySource) (*Engine, error) {
	if opts.HistorySize < 1 {
		return nil, fmt.Errorf("%w: history size must be at least 1", models.ErrConfigInvalid)
	}
	w, err := window.New(opts.WindowCapacity, opts.Retention)
	if err != nil {
		return nil, err
	}
	detectors, baseline, bounds, err := detector.Build(opts.Tunings)
	if err != nil {
		return nil, err
	}
	pipeline := forecast.NewPipeline(detectors, arbiter.New(opts.Arbiter), opts.Location)

	if history == nil {
		history = w
	}
	calOpts := opts.Calibration
	if calOpts.Retention == 0 {
		calOpts.Retention = opts.Retention
	}
	cal, err := calibrate.New(pipeline, baseline, bounds, history, calOpts)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		window:      w,
		pipeline:    pipeline,
		calibrator:  cal,
		clock:       clock,
		historySize: opts.HistorySize,
	}, nil
}

// Ingest validates a reading and appends it to the window.
func (e *Engine) Ingest(r models.Reading) error {
	return e.window.Ingest(r)
}

// Restore warm-starts the window from persisted readings.
func (e *Engine) Restore(readings []models.Reading) (accepted, rejected int) {
	return e.window.Restore(readings)
}

// Record appends a tagged event to the calibration log.
func (e *Engine) Record(ctx context.Context, event models.Event) error {
	return e.calibrator.Record(ctx, event)
}

// LoadEvents restores a persisted event log.
func (e *Engine) LoadEvents(events []models.Event) (loaded, skipped int) {
	return e.calibrator.Load(events)
}

// Events returns a copy of the event log.
func (e *Engine) Events() []models.Event {
	return e.calibrator.Events()
}

// CurrentPrediction returns the prediction for the current window and state.
// It is recomputed only when a reading has been ingested or a new state has
// been published since the last call.
func (e *Engine) CurrentPrediction() models.Prediction {
	readings, rev := e.window.SnapshotWithRevision()
	state := e.calibrator.State()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached != nil && e.cacheRev == rev && e.cacheVer == state.Version {
		return *e.cached
	}
	p := e.pipeline.Evaluate(e.clock(), readings, state).Prediction
	e.cached, e.cacheRev, e.cacheVer = &p, rev, state.Version
	return p
}

// Predict evaluates the window now and appends the result to the history.
func (e *Engine) Predict(ctx context.Context) (models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return models.Prediction{}, err
	}
	readings, rev := e.window.SnapshotWithRevision()
	state := e.calibrator.State()
	p := e.pipeline.Evaluate(e.clock(), readings, state).Prediction

	e.mu.Lock()
	e.cached, e.cacheRev, e.cacheVer = &p, rev, state.Version
	e.mu.Unlock()

	e.historyMu.Lock()
	e.history = append(e.history, p)
	if over := len(e.history) - e.historySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.historyMu.Unlock()
	return p, nil
}

// Explain evaluates the window and returns what every detector saw.
func (e *Engine) Explain() forecast.Result {
	return e.pipeline.Evaluate(e.clock(), e.window.Snapshot(), e.calibrator.State())
}

// History returns recorded predictions with timestamps in [from, to].
func (e *Engine) History(from, to time.Time) ([]models.Prediction, error) {
	if to.Before(from) {
		return nil, errors.New("history range end precedes start")
	}
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	var out []models.Prediction
	for _, p := range e.history {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Recalibrate replays the event log synchronously.
func (e *Engine) Recalibrate(ctx context.Context) (calibrate.Report, error) {
	return e.calibrator.Recalibrate(ctx)
}

// TriggerRecalibration requests a background recalibration.
func (e *Engine) TriggerRecalibration() {
	e.calibrator.Trigger()
}

// Run services background recalibration until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.calibrator.Run(ctx)
}

// State returns the published detector parameters.
func (e *Engine) State() *detector.State {
	return e.calibrator.State()
}

// Bounds returns the detector clamp ranges.
func (e *Engine) Bounds() map[string]detector.Bounds {
	return e.calibrator.Bounds()
}

// Detectors returns the configured detectors in evaluation order.
func (e *Engine) Detectors() []detector.Detector {
	return e.pipeline.Detectors()
}

// Window exposes the reading window for history reconstruction.
func (e *Engine) Window() *window.Window {
	return e.window
}

// Stats reports engine bookkeeping.
func (e *Engine) Stats() Stats {
	s := Stats{
		Readings:     e.window.Len(),
		Capacity:     e.window.Capacity(),
		Retention:    e.window.Retention(),
		Revision:     e.window.Revision(),
		Events:       len(e.calibrator.Events()),
		StateVersion: e.calibrator.State().Version,
	}
	if r, ok := e.window.Latest(); ok {
		s.Latest = &r
	}
	e.historyMu.RLock()
	s.Predictions = len(e.history)
	e.historyMu.RUnlock()
	return s
}
