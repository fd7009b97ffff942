package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

// Generic trend parameter names.
const (
	ParamPressureBand    = "pressure_band"
	ParamTemperatureBand = "temperature_band"
	ParamHumidityBand    = "humidity_band"
	ParamStrengthCeiling = "strength_ceiling"
)

// Trend is the generic fallback: it reports the metric moving furthest outside
// its stable band. Its strength is capped below what a specific detector
// produces for a clear signal, so it only dominates when nothing else fires.
type Trend struct {
	lookback time.Duration
}

// NewTrend returns the generic trend detector.
func NewTrend(lookback time.Duration) *Trend {
	return &Trend{lookback: lookback}
}

func (d *Trend) Name() string            { return NameTrend }
func (d *Trend) Specific() bool          { return false }
func (d *Trend) Lookback() time.Duration { return d.lookback }

func (d *Trend) Params() []ParamSpec {
	return []ParamSpec{
		{Name: ParamPressureBand, Default: 1, Min: 0.2, Max: 5},
		{Name: ParamTemperatureBand, Default: 2, Min: 0.5, Max: 6},
		{Name: ParamHumidityBand, Default: 10, Min: 2, Max: 30},
		{Name: ParamStrengthCeiling, Default: 0.4, Min: 0.1, Max: 0.6},
	}
}

func (d *Trend) Detect(in Input, p Params) (models.Candidate, bool) {
	bands := []struct {
		t    trend.Trend
		band float64
	}{
		{in.Trends.Pressure, p.Get(ParamPressureBand)},
		{in.Trends.Temperature, p.Get(ParamTemperatureBand)},
		{in.Trends.Humidity, p.Get(ParamHumidityBand)},
	}

	var best trend.Trend
	bestNorm := 0.0
	for _, b := range bands {
		if b.t.Insufficient || b.band <= 0 {
			continue
		}
		if norm := math.Abs(b.t.Slope) / b.band; norm > bestNorm {
			best, bestNorm = b.t, norm
		}
	}
	if bestNorm <= 1 {
		return models.Candidate{}, false
	}

	ceiling := p.Get(ParamStrengthCeiling)
	strength := clamp01(ceiling * (0.25 + 0.75*clamp01((bestNorm-1)/4)) * p.Weight)

	return models.Candidate{
		Condition: trendCondition(best),
		Detector:  d.Name(),
		Strength:  strength,
		Specific:  false,
		Detail:    fmt.Sprintf("%s %+.2f/h over %s", best.Metric, best.Slope, d.lookback),
	}, true
}

func trendCondition(t trend.Trend) models.Condition {
	rising := t.Slope > 0
	switch t.Metric {
	case models.MetricPressure:
		if rising {
			return models.ConditionImproving
		}
		return models.ConditionDeteriorating
	case models.MetricTemperature:
		if rising {
			return models.ConditionWarming
		}
		return models.ConditionCooling
	default:
		if rising {
			return models.ConditionMoistening
		}
		return models.ConditionDrying
	}
}
