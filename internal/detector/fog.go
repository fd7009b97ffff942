package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Fog parameter names.
const (
	ParamTemperatureSlopeAbsMax = "temperature_slope_abs_max"
	ParamHumiditySlopeAbsMax    = "humidity_slope_abs_max"
	ParamSpreadMax              = "spread_max"
)

// Fog fires on near-saturated, stagnant air with a small dew-point spread.
// Strength is modulated by the station's local hour when known: fog is most
// likely overnight and in the early morning.
type Fog struct {
	lookback time.Duration
}

// NewFog returns the fog detector.
func NewFog(lookback time.Duration) *Fog {
	return &Fog{lookback: lookback}
}

func (d *Fog) Name() string            { return NameFog }
func (d *Fog) Specific() bool          { return true }
func (d *Fog) Lookback() time.Duration { return d.lookback }

func (d *Fog) Params() []ParamSpec {
	return []ParamSpec{
		{
			Name: ParamHumidityMin, Default: 92, Min: 80, Max: 99, Relax: -1,
			Observe: func(in Input) float64 { return in.Latest.Humidity },
		},
		{
			Name: ParamTemperatureSlopeAbsMax, Default: 0.6, Min: 0.1, Max: 2, Relax: 1,
			Observe: func(in Input) float64 { return math.Abs(in.Trends.Temperature.Slope) },
		},
		{
			Name: ParamHumiditySlopeAbsMax, Default: 4, Min: 0.5, Max: 15, Relax: 1,
			Observe: func(in Input) float64 { return math.Abs(in.Trends.Humidity.Slope) },
		},
		{
			Name: ParamSpreadMax, Default: 2.5, Min: 0.5, Max: 5, Relax: 1,
			Observe: func(in Input) float64 {
				return DewPointSpread(in.Latest.Temperature, in.Latest.Humidity)
			},
		},
	}
}

func (d *Fog) Detect(in Input, p Params) (models.Candidate, bool) {
	tt, ht := in.Trends.Temperature, in.Trends.Humidity
	if tt.Insufficient || ht.Insufficient {
		return models.Candidate{}, false
	}
	humMin := p.Get(ParamHumidityMin)
	tMax := p.Get(ParamTemperatureSlopeAbsMax)
	hMax := p.Get(ParamHumiditySlopeAbsMax)
	spreadMax := p.Get(ParamSpreadMax)

	h := in.Latest.Humidity
	spread := DewPointSpread(in.Latest.Temperature, h)
	if h < humMin || math.Abs(tt.Slope) > tMax || math.Abs(ht.Slope) > hMax || !(spread <= spreadMax) {
		return models.Candidate{}, false
	}

	humFactor := clamp01((h - humMin) / (100 - humMin))
	stagnation := 1 - 0.5*(math.Abs(tt.Slope)/tMax+math.Abs(ht.Slope)/hMax)
	spreadFactor := clamp01(1 - spread/spreadMax)
	score := (0.4*humFactor + 0.3*clamp01(stagnation) + 0.3*spreadFactor) * timeFactor(in.LocalTime)

	return models.Candidate{
		Condition: models.ConditionFog,
		Detector:  d.Name(),
		Strength:  scaled(score, p.Weight),
		Specific:  true,
		Detail:    fmt.Sprintf("humidity %.0f%%, dew-point spread %.1f °C", h, spread),
	}, true
}

func timeFactor(local *time.Time) float64 {
	if local == nil {
		return 0.85
	}
	switch h := local.Hour(); {
	case h < 10:
		return 1.0
	case h < 16:
		return 0.4
	default:
		return 0.75
	}
}
