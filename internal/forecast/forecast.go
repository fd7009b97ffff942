// Package forecast runs one prediction cycle: trends, detectors and
// arbitration over a snapshot of readings and a parameter state.
package forecast

import (
	"time"

	"github.com/rewired-gh/skywatch/internal/arbiter"
	"github.com/rewired-gh/skywatch/internal/detector"
	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

// Result is a prediction together with what each detector saw.
type Result struct {
	Prediction  models.Prediction
	Inputs      map[string]detector.Input
	Fired       map[string]models.Candidate
	Reliability trend.Reliability
}

// Pipeline is immutable after construction and safe for concurrent use.
type Pipeline struct {
	detectors []detector.Detector
	arbiter   *arbiter.Arbiter
	location  *time.Location
}

// NewPipeline builds a pipeline. location may be nil when the station's time
// zone is unknown.
func NewPipeline(detectors []detector.Detector, arb *arbiter.Arbiter, location *time.Location) *Pipeline {
	return &Pipeline{detectors: detectors, arbiter: arb, location: location}
}

// Detectors returns the pipeline's detector set.
func (p *Pipeline) Detectors() []detector.Detector { return p.detectors }

// Inputs computes the per-detector inputs for a snapshot. Trends are computed
// once per distinct look-back.
func (p *Pipeline) Inputs(readings []models.Reading) (map[string]detector.Input, trend.Reliability) {
	inputs := make(map[string]detector.Input, len(p.detectors))
	if len(readings) == 0 {
		return inputs, trend.Reliability{Insufficient: true}
	}
	latest := readings[len(readings)-1]

	var local *time.Time
	if p.location != nil {
		lt := latest.Timestamp.In(p.location)
		local = &lt
	}

	sets := make(map[time.Duration]trend.Set)
	var order []trend.Set
	for _, d := range p.detectors {
		lb := d.Lookback()
		s, ok := sets[lb]
		if !ok {
			s = trend.ComputeSet(readings, lb)
			sets[lb] = s
			order = append(order, s)
		}
		inputs[d.Name()] = detector.Input{Latest: latest, Trends: s, LocalTime: local}
	}
	return inputs, trend.Summarize(order...)
}

// Evaluate produces a prediction at time at. An empty snapshot yields an
// unreliable "none" prediction.
func (p *Pipeline) Evaluate(at time.Time, readings []models.Reading, state *detector.State) Result {
	inputs, rel := p.Inputs(readings)
	fired := make(map[string]models.Candidate)

	var candidates []models.Candidate
	if len(readings) > 0 {
		for _, d := range p.detectors {
			c, ok := d.Detect(inputs[d.Name()], state.Params(d.Name()))
			if !ok {
				continue
			}
			fired[d.Name()] = c
			candidates = append(candidates, c)
		}
	}

	pred := p.arbiter.Arbitrate(at, candidates, rel)
	if state != nil {
		pred.StateVersion = state.Version
	}
	return Result{Prediction: pred, Inputs: inputs, Fired: fired, Reliability: rel}
}
