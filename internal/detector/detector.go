// Package detector implements the rule-based pattern detectors.
//
// Every detector is an independent implementation of one capability: given the
// latest reading, the trends over its look-back and its current parameters,
// propose a candidate condition or abstain. Thresholds and weights are never
// hard-coded in the rules; they are read from a State published by the
// calibrator, so feedback can move them within their clamp ranges.
package detector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

// Detector names. Specific detectors share their name with the condition they
// propose and with the event label that confirms it.
const (
	NameThunderstorm = "thunderstorm"
	NameFog          = "fog"
	NameFrost        = "frost"
	NameFire         = "fire"
	NameTrend        = "trend"
)

// Input is what a detector sees for one evaluation.
type Input struct {
	Latest models.Reading
	Trends trend.Set
	// LocalTime is the latest reading's wall-clock time at the station, or nil
	// when no station location is configured.
	LocalTime *time.Time
}

// ParamSpec describes one tunable parameter and its default clamp.
type ParamSpec struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	// Relax is +1 or -1: the direction in which moving the value makes the
	// detector fire more readily. Zero marks a shaping parameter that
	// calibration never moves.
	Relax float64
	// Observe extracts the measured value the parameter is compared against.
	Observe func(Input) float64
}

// Gating reports whether calibration may move the parameter.
func (p ParamSpec) Gating() bool { return p.Relax != 0 && p.Observe != nil }

// Detector proposes at most one candidate per evaluation.
type Detector interface {
	Name() string
	// Specific is false only for the generic trend fallback.
	Specific() bool
	Lookback() time.Duration
	Params() []ParamSpec
	Detect(in Input, p Params) (models.Candidate, bool)
}

// Params are the live parameters of one detector.
type Params struct {
	Weight float64            `json:"weight"`
	Values map[string]float64 `json:"values"`
}

// Get returns a parameter value, or NaN if it is unknown.
func (p Params) Get(name string) float64 {
	v, ok := p.Values[name]
	if !ok {
		return math.NaN()
	}
	return v
}

func (p Params) clone() Params {
	values := make(map[string]float64, len(p.Values))
	for k, v := range p.Values {
		values[k] = v
	}
	return Params{Weight: p.Weight, Values: values}
}

// State is the complete parameter set consumed by one prediction cycle. A
// published State is never modified; updates publish a fresh copy.
type State struct {
	Version   uint64            `json:"version"`
	Detectors map[string]Params `json:"detectors"`
}

// Params returns the parameters for a detector name.
func (s *State) Params(name string) Params {
	if s == nil {
		return Params{}
	}
	return s.Detectors[name]
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{Version: s.Version, Detectors: make(map[string]Params, len(s.Detectors))}
	for name, p := range s.Detectors {
		out.Detectors[name] = p.clone()
	}
	return out
}

// Range is an inclusive clamp.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= r.Min && v <= r.Max
}

// Bounds are the clamp ranges of one detector's parameters.
type Bounds struct {
	Weight Range            `json:"weight"`
	Params map[string]Range `json:"params"`
}

// ParamTuning overrides one parameter's value and clamp.
type ParamTuning struct {
	Value float64
	Min   float64
	Max   float64
}

// Tuning configures one detector.
type Tuning struct {
	Lookback  time.Duration
	Weight    float64
	WeightMin float64
	WeightMax float64
	Params    map[string]ParamTuning
}

// Default weight clamp.
const (
	DefaultWeight    = 1.0
	DefaultWeightMin = 0.25
	DefaultWeightMax = 2.0

	// Legal envelope for configured weight clamps.
	MinWeight = 0.05
	MaxWeight = 5.0

	// Legal envelope for look-back intervals.
	MinLookback = 5 * time.Minute
	MaxLookback = 720 * time.Hour
)

// Catalog returns one detector of each kind with its default look-back, in
// evaluation order.
func Catalog() []Detector {
	return []Detector{
		NewThunderstorm(time.Hour),
		NewFog(2 * time.Hour),
		NewFrost(time.Hour),
		NewFire(3 * time.Hour),
		NewTrend(3 * time.Hour),
	}
}

// DefaultTunings returns the catalog defaults keyed by detector name.
func DefaultTunings() map[string]Tuning {
	out := make(map[string]Tuning)
	for _, d := range Catalog() {
		t := Tuning{
			Lookback:  d.Lookback(),
			Weight:    DefaultWeight,
			WeightMin: DefaultWeightMin,
			WeightMax: DefaultWeightMax,
			Params:    make(map[string]ParamTuning),
		}
		for _, p := range d.Params() {
			t.Params[p.Name] = ParamTuning{Value: p.Default, Min: p.Min, Max: p.Max}
		}
		out[d.Name()] = t
	}
	return out
}

// Build constructs the detector set, the baseline state and the clamp bounds
// from tunings. Detectors missing from tunings use catalog defaults, missing
// parameters use their defaults, and unknown detectors or parameters are
// rejected.
func Build(tunings map[string]Tuning) ([]Detector, *State, map[string]Bounds, error) {
	defaults := DefaultTunings()
	for name := range tunings {
		if _, ok := defaults[name]; !ok {
			return nil, nil, nil, fmt.Errorf("%w: unknown detector %q", models.ErrConfigInvalid, name)
		}
	}

	var detectors []Detector
	state := &State{Detectors: make(map[string]Params)}
	bounds := make(map[string]Bounds)

	for _, proto := range Catalog() {
		name := proto.Name()
		t, ok := tunings[name]
		if !ok {
			t = defaults[name]
		}
		if t.Lookback < MinLookback || t.Lookback > MaxLookback {
			return nil, nil, nil, fmt.Errorf("%w: detectors.%s.lookback %s outside [%s, %s]",
				models.ErrConfigInvalid, name, t.Lookback, MinLookback, MaxLookback)
		}
		weight := Range{Min: t.WeightMin, Max: t.WeightMax}
		if weight.Min < MinWeight || weight.Max > MaxWeight || weight.Min > weight.Max {
			return nil, nil, nil, fmt.Errorf("%w: detectors.%s weight range [%g, %g] is invalid (allowed within [%g, %g])",
				models.ErrConfigInvalid, name, weight.Min, weight.Max, MinWeight, MaxWeight)
		}
		if !weight.Contains(t.Weight) {
			return nil, nil, nil, fmt.Errorf("%w: detectors.%s.weight %g outside [%g, %g]",
				models.ErrConfigInvalid, name, t.Weight, weight.Min, weight.Max)
		}

		specs := proto.Params()
		known := make(map[string]ParamSpec, len(specs))
		for _, s := range specs {
			known[s.Name] = s
		}
		for pname := range t.Params {
			if _, ok := known[pname]; !ok {
				return nil, nil, nil, fmt.Errorf("%w: detectors.%s has unknown parameter %q", models.ErrConfigInvalid, name, pname)
			}
		}

		p := Params{Weight: t.Weight, Values: make(map[string]float64, len(specs))}
		b := Bounds{Weight: weight, Params: make(map[string]Range, len(specs))}
		for _, s := range specs {
			pt, ok := t.Params[s.Name]
			if !ok {
				pt = ParamTuning{Value: s.Default, Min: s.Min, Max: s.Max}
			}
			r := Range{Min: pt.Min, Max: pt.Max}
			if r.Min > r.Max {
				return nil, nil, nil, fmt.Errorf("%w: detectors.%s.params.%s min %g > max %g",
					models.ErrConfigInvalid, name, s.Name, r.Min, r.Max)
			}
			// Configured clamps must stay inside the catalog envelope.
			if r.Min < s.Min || r.Max > s.Max {
				return nil, nil, nil, fmt.Errorf("%w: detectors.%s.params.%s clamp [%g, %g] outside [%g, %g]",
					models.ErrConfigInvalid, name, s.Name, r.Min, r.Max, s.Min, s.Max)
			}
			if !r.Contains(pt.Value) {
				return nil, nil, nil, fmt.Errorf("%w: detectors.%s.params.%s value %g outside [%g, %g]",
					models.ErrConfigInvalid, name, s.Name, pt.Value, r.Min, r.Max)
			}
			p.Values[s.Name] = pt.Value
			b.Params[s.Name] = r
		}

		detectors = append(detectors, withLookback(proto, t.Lookback))
		state.Detectors[name] = p
		bounds[name] = b
	}
	return detectors, state, bounds, nil
}

func withLookback(d Detector, lookback time.Duration) Detector {
	switch d.Name() {
	case NameThunderstorm:
		return NewThunderstorm(lookback)
	case NameFog:
		return NewFog(lookback)
	case NameFrost:
		return NewFrost(lookback)
	case NameFire:
		return NewFire(lookback)
	default:
		return NewTrend(lookback)
	}
}

// Names returns the detector names of a set, sorted.
func Names(detectors []Detector) []string {
	out := make([]string, 0, len(detectors))
	for _, d := range detectors {
		out = append(out, d.Name())
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scaled maps a rule score in [0,1] into a strength, giving any firing rule a
// minimum presence and applying the calibrated weight.
func scaled(score, weight float64) float64 {
	return clamp01((0.2 + 0.8*clamp01(score)) * weight)
}
