// Package calibrate tunes detector parameters from human-tagged events.
//
// The event log is append-only. Recalibration never mutates the published
// state: it replays every active event against a fresh copy of the baseline,
// using history reconstructed at each event's time, and publishes the result
// with a single atomic swap. Replaying the same log over the same history
// therefore always converges to the same parameter values.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/skywatch/internal/detector"
	"github.com/rewired-gh/skywatch/internal/forecast"
	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/models"
)

// HistorySource reconstructs the readings visible at a past instant.
type HistorySource interface {
	ReadingsBetween(from, to time.Time) ([]models.Reading, error)
}

// EventStore persists recorded events. Optional.
type EventStore interface {
	SaveEvent(event *models.Event) error
}

// Options configures a Calibrator.
type Options struct {
	// LearningRate is the EMA factor applied to every adjustment.
	LearningRate float64
	// BatchSize is the number of new events that triggers a recalibration.
	BatchSize int
	// Retention is how far back history is reconstructed for each event.
	Retention time.Duration
	Store     EventStore
	// OnReport is called after every published recalibration.
	OnReport func(Report)
}

// DefaultOptions returns the standard calibration settings.
func DefaultOptions() Options {
	return Options{
		LearningRate: 0.2,
		BatchSize:    5,
		Retention:    168 * time.Hour,
	}
}

// Divergence is a rejected adjustment that would have left its clamp range.
type Divergence struct {
	EventID  string
	Detector string
	Param    string // empty for the weight
	Current  float64
	Proposed float64
	Range    detector.Range
}

func (d *Divergence) Error() string {
	name := d.Param
	if name == "" {
		name = "weight"
	}
	return fmt.Sprintf("%s.%s: %.4g -> %.4g outside [%.4g, %.4g] (event %s)",
		d.Detector, name, d.Current, d.Proposed, d.Range.Min, d.Range.Max, d.EventID)
}

func (d *Divergence) Unwrap() error { return models.ErrCalibrationDivergence }

// Report summarises one recalibration.
type Report struct {
	Version        uint64        `json:"version"`
	Events         int           `json:"events"`
	TruePositives  int           `json:"true_positives"`
	FalseNegatives int           `json:"false_negatives"`
	FalsePositives int           `json:"false_positives"`
	Skipped        int           `json:"skipped"`
	Divergences    []*Divergence `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// Calibrator owns the event log and the published detector state.
type Calibrator struct {
	pipeline *forecast.Pipeline
	baseline *detector.State
	bounds   map[string]detector.Bounds
	specs    map[string]map[string]detector.ParamSpec
	history  HistorySource
	opts     Options

	state atomic.Pointer[detector.State]

	mu      sync.RWMutex
	events  []models.Event
	ids     map[string]struct{}
	pending int

	runMu   sync.Mutex
	trigger chan struct{}
}

// New returns a calibrator publishing baseline as version 0.
func New(pipeline *forecast.Pipeline, baseline *detector.State, bounds map[string]detector.Bounds,
	history HistorySource, opts Options) (*Calibrator, error) {
	if pipeline == nil || baseline == nil || history == nil {
		return nil, errors.New("calibrator requires a pipeline, a baseline state and a history source")
	}
	if opts.LearningRate <= 0 || opts.LearningRate > 1 {
		return nil, fmt.Errorf("%w: learning rate %g outside (0, 1]", models.ErrConfigInvalid, opts.LearningRate)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", models.ErrConfigInvalid)
	}
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive", models.ErrConfigInvalid)
	}

	specs := make(map[string]map[string]detector.ParamSpec)
	for _, d := range pipeline.Detectors() {
		m := make(map[string]detector.ParamSpec)
		for _, s := range d.Params() {
			m[s.Name] = s
		}
		specs[d.Name()] = m
	}

	c := &Calibrator{
		pipeline: pipeline,
		baseline: baseline.Clone(),
		bounds:   bounds,
		specs:    specs,
		history:  history,
		opts:     opts,
		ids:      make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
	}
	initial := baseline.Clone()
	initial.Version = 0
	c.state.Store(initial)
	return c, nil
}

// State returns the currently published parameters. Callers must not modify it.
func (c *Calibrator) State() *detector.State {
	return c.state.Load()
}

// Bounds returns the clamp ranges.
func (c *Calibrator) Bounds() map[string]detector.Bounds {
	return c.bounds
}

// Record validates and appends an event. It never touches the published state;
// once BatchSize events have accumulated a recalibration is triggered.
func (c *Calibrator) Record(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	_, dup := c.ids[event.ID]
	c.mu.RUnlock()
	if dup {
		return duplicateEvent(event.ID)
	}
	// Persist outside the lock; the store rejects a concurrent duplicate by ID.
	if c.opts.Store != nil {
		if err := c.opts.Store.SaveEvent(&event); err != nil {
			return fmt.Errorf("failed to persist event: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.ids[event.ID]; dup {
		return duplicateEvent(event.ID)
	}
	c.events = append(c.events, event)
	c.ids[event.ID] = struct{}{}

	c.pending++
	if c.pending >= c.opts.BatchSize {
		c.pending = 0
		c.Trigger()
	}
	return nil
}

func duplicateEvent(id string) error {
	return fmt.Errorf("%w: duplicate event ID %s", models.ErrInvalidEvent, id)
}

// Load restores a persisted event log without triggering recalibration.
// Invalid or duplicate events are skipped and counted.
func (c *Calibrator) Load(events []models.Event) (loaded, skipped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			skipped++
			continue
		}
		if _, dup := c.ids[ev.ID]; dup {
			skipped++
			continue
		}
		c.events = append(c.events, ev)
		c.ids[ev.ID] = struct{}{}
		loaded++
	}
	return loaded, skipped
}

// Events returns a copy of the event log in arrival order.
func (c *Calibrator) Events() []models.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Trigger requests a background recalibration. It never blocks.
func (c *Calibrator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run recalibrates on every trigger until ctx is cancelled.
func (c *Calibrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			report, err := c.Recalibrate(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Recalibration failed: %v", err)
				}
				continue
			}
			logger.Info("Recalibrated to version %d: %d events, %d TP, %d FN, %d FP, %d skipped, %d divergences",
				report.Version, report.Events, report.TruePositives, report.FalseNegatives,
				report.FalsePositives, report.Skipped, len(report.Divergences))
		}
	}
}

// active returns the events not superseded by a later correction, ordered by
// timestamp then ID.
func active(events []models.Event) []models.Event {
	superseded := make(map[string]bool)
	for _, ev := range events {
		if ev.Supersedes != "" {
			superseded[ev.Supersedes] = true
		}
	}
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if !superseded[ev.ID] {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recalibrate replays the event log from the baseline and publishes the
// resulting state. Only one recalibration runs at a time; readers of State are
// never blocked. On error nothing is published.
func (c *Calibrator) Recalibrate(ctx context.Context) (Report, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	start := time.Now()
	events := active(c.Events())
	state := c.baseline.Clone()
	report := Report{Events: len(events)}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		readings, err := c.history.ReadingsBetween(ev.Timestamp.Add(-c.opts.Retention), ev.Timestamp)
		if err != nil {
			return report, fmt.Errorf("failed to reconstruct history for event %s: %w", ev.ID, err)
		}
		if len(readings) < 2 {
			report.Skipped++
			continue
		}
		c.apply(ev, readings, state, &report)
	}

	state.Version = c.state.Load().Version + 1
	c.state.Store(state)
	report.Version = state.Version
	report.Duration = time.Since(start)
	if c.opts.OnReport != nil {
		c.opts.OnReport(report)
	}
	return report, nil
}

func (c *Calibrator) apply(ev models.Event, readings []models.Reading, state *detector.State, report *Report) {
	res := c.pipeline.Evaluate(ev.Timestamp, readings, state)
	alpha := c.opts.LearningRate

	switch ev.Label {
	case models.LabelNoneOfAbove:
		for _, d := range c.pipeline.Detectors() {
			if _, fired := res.Fired[d.Name()]; fired && d.Specific() {
				c.falsePositive(ev, d.Name(), state, alpha, report)
			}
		}

	case models.LabelFalsePositive:
		for _, cand := range res.Prediction.Ranked {
			if cand.Specific {
				c.falsePositive(ev, cand.Detector, state, alpha, report)
				break
			}
		}

	default:
		target := string(ev.Label)
		if _, fired := res.Fired[target]; fired {
			report.TruePositives++
			c.moveWeight(ev, target, state, alpha/4, true, report)
		} else {
			in, ok := res.Inputs[target]
			if !ok || in.Trends.Insufficient() {
				report.Skipped++
			} else {
				report.FalseNegatives++
				c.falseNegative(ev, target, in, state, alpha, report)
			}
		}
		for _, d := range c.pipeline.Detectors() {
			if d.Name() == target || !d.Specific() {
				continue
			}
			if _, fired := res.Fired[d.Name()]; fired {
				c.falsePositive(ev, d.Name(), state, alpha, report)
			}
		}
	}
}

// falseNegative relaxes every gate that blocked the detector toward the
// observed value and raises its weight.
func (c *Calibrator) falseNegative(ev models.Event, name string, in detector.Input, state *detector.State, alpha float64, report *Report) {
	p := state.Detectors[name]
	for _, spec := range c.sortedSpecs(name) {
		if !spec.Gating() {
			continue
		}
		obs := spec.Observe(in)
		if math.IsNaN(obs) || math.IsInf(obs, 0) {
			continue
		}
		v := p.Values[spec.Name]
		if (obs-v)*spec.Relax <= 0 {
			continue
		}
		c.setParam(ev, name, spec.Name, v+alpha*(obs-v), state, report)
	}
	c.moveWeight(ev, name, state, alpha/2, true, report)
}

// falsePositive tightens every gate by a fixed fraction of its range and
// lowers the weight.
func (c *Calibrator) falsePositive(ev models.Event, name string, state *detector.State, alpha float64, report *Report) {
	report.FalsePositives++
	p := state.Detectors[name]
	for _, spec := range c.sortedSpecs(name) {
		if !spec.Gating() {
			continue
		}
		r := c.bounds[name].Params[spec.Name]
		v := p.Values[spec.Name]
		c.setParam(ev, name, spec.Name, v-spec.Relax*alpha*0.25*(r.Max-r.Min), state, report)
	}
	c.moveWeight(ev, name, state, alpha/2, false, report)
}

func (c *Calibrator) moveWeight(ev models.Event, name string, state *detector.State, rate float64, up bool, report *Report) {
	p := state.Detectors[name]
	r := c.bounds[name].Weight
	proposed := p.Weight + rate*(r.Max-p.Weight)
	if !up {
		proposed = p.Weight - rate*(p.Weight-r.Min)
	}
	if !r.Contains(proposed) {
		c.diverge(report, &Divergence{EventID: ev.ID, Detector: name, Current: p.Weight, Proposed: proposed, Range: r})
		return
	}
	p.Weight = proposed
	state.Detectors[name] = p
}

func (c *Calibrator) setParam(ev models.Event, name, param string, proposed float64, state *detector.State, report *Report) {
	p := state.Detectors[name]
	r := c.bounds[name].Params[param]
	if !r.Contains(proposed) {
		c.diverge(report, &Divergence{
			EventID: ev.ID, Detector: name, Param: param,
			Current: p.Values[param], Proposed: proposed, Range: r,
		})
		return
	}
	p.Values[param] = proposed
}

func (c *Calibrator) diverge(report *Report, d *Divergence) {
	report.Divergences = append(report.Divergences, d)
	logger.Warn("Calibration step rejected: %v", d)
}

// sortedSpecs returns a detector's parameter specs in name order so replay is
// deterministic regardless of map iteration.
func (c *Calibrator) sortedSpecs(name string) []detector.ParamSpec {
	m := c.specs[name]
	out := make([]detector.ParamSpec, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
