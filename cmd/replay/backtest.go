package main

import (
	"context"
	"sort"
	"time"

	"github.com/rewired-gh/skywatch/internal/engine"
	"github.com/rewired-gh/skywatch/internal/models"
)

// BacktestOptions controls a replay.
type BacktestOptions struct {
	// Step is the minimum spacing between replayed predictions.
	Step time.Duration
	// Tolerance is how far from an event a matching prediction may be.
	Tolerance time.Duration
	// MinConfidence is the alert threshold a matching prediction must reach.
	MinConfidence float64
}

// Outcome is how the replay lined up with one tagged event.
type Outcome struct {
	Event      models.Event
	Matched    bool
	Confidence float64       // best matching confidence
	Lead       time.Duration // event time minus first matching prediction; negative when late
}

// Summary is the result of a replay.
type Summary struct {
	Readings    int
	Rejected    int
	Predictions int
	Dominant    map[models.Condition]int
	Outcomes    []Outcome
	// Unconfirmed counts alert-worthy predictions with no matching event.
	Unconfirmed map[models.Condition]int
	Hits        map[models.Label]int
	Misses      map[models.Label]int
}

// Backtest replays readings through eng, predicting at most once per Step,
// and matches the predictions against the positive events.
func Backtest(ctx context.Context, eng *engine.Engine, setClock func(time.Time), readings []models.Reading, events []models.Event, opts BacktestOptions) (Summary, error) {
	s := Summary{
		Dominant:    make(map[models.Condition]int),
		Unconfirmed: make(map[models.Condition]int),
		Hits:        make(map[models.Label]int),
		Misses:      make(map[models.Label]int),
	}

	var preds []models.Prediction
	var last time.Time
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		if err := eng.Ingest(r); err != nil {
			s.Rejected++
			continue
		}
		s.Readings++
		if !last.IsZero() && r.Timestamp.Sub(last) < opts.Step {
			continue
		}
		setClock(r.Timestamp)
		p, err := eng.Predict(ctx)
		if err != nil {
			return s, err
		}
		last = r.Timestamp
		preds = append(preds, p)
		s.Dominant[p.Dominant]++
	}
	s.Predictions = len(preds)

	positives := positiveEvents(events)
	for _, ev := range positives {
		o := match(ev, preds, opts)
		s.Outcomes = append(s.Outcomes, o)
		if o.Matched {
			s.Hits[ev.Label]++
		} else {
			s.Misses[ev.Label]++
		}
	}

	for _, p := range preds {
		if !alertWorthy(p, opts.MinConfidence) {
			continue
		}
		if !confirmed(p, positives, opts.Tolerance) {
			s.Unconfirmed[p.Dominant]++
		}
	}
	return s, nil
}

func alertWorthy(p models.Prediction, minConfidence float64) bool {
	return p.Dominant.Severe() && p.Reliable && p.Confidence >= minConfidence
}

func within(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	return d >= -tol && d <= tol
}

func match(ev models.Event, preds []models.Prediction, opts BacktestOptions) Outcome {
	o := Outcome{Event: ev}
	cond := ev.Label.Condition()
	for _, p := range preds {
		if p.Dominant != cond || !within(p.Timestamp, ev.Timestamp, opts.Tolerance) || !alertWorthy(p, opts.MinConfidence) {
			continue
		}
		if !o.Matched {
			o.Lead = ev.Timestamp.Sub(p.Timestamp)
		}
		o.Matched = true
		if p.Confidence > o.Confidence {
			o.Confidence = p.Confidence
		}
	}
	return o
}

func confirmed(p models.Prediction, positives []models.Event, tol time.Duration) bool {
	for _, ev := range positives {
		if ev.Label.Condition() == p.Dominant && within(p.Timestamp, ev.Timestamp, tol) {
			return true
		}
	}
	return false
}

// positiveEvents returns the non-superseded events that confirm a condition,
// in time order.
func positiveEvents(events []models.Event) []models.Event {
	superseded := make(map[string]bool)
	for _, ev := range events {
		if ev.Supersedes != "" {
			superseded[ev.Supersedes] = true
		}
	}
	var out []models.Event
	for _, ev := range events {
		if superseded[ev.ID] || ev.Label.Condition() == models.ConditionNone {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
