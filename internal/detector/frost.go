package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Frost parameter names.
const (
	ParamTemperatureMax      = "temperature_max"
	ParamTemperatureSlopeMax = "temperature_slope_max"
	ParamCoolingCeiling      = "cooling_ceiling"
)

// Frost fires when near-freezing air is still cooling. Steady pressure hints at
// clear skies and radiative cooling, which raises strength.
type Frost struct {
	lookback time.Duration
}

// NewFrost returns the frost detector.
func NewFrost(lookback time.Duration) *Frost {
	return &Frost{lookback: lookback}
}

func (d *Frost) Name() string            { return NameFrost }
func (d *Frost) Specific() bool          { return true }
func (d *Frost) Lookback() time.Duration { return d.lookback }

func (d *Frost) Params() []ParamSpec {
	return []ParamSpec{
		{
			Name: ParamTemperatureMax, Default: 2, Min: -2, Max: 5, Relax: 1,
			Observe: func(in Input) float64 { return in.Latest.Temperature },
		},
		{
			Name: ParamTemperatureSlopeMax, Default: -0.2, Min: -3, Max: 0, Relax: 1,
			Observe: func(in Input) float64 { return in.Trends.Temperature.Slope },
		},
		{
			Name: ParamHumidityMin, Default: 60, Min: 30, Max: 90, Relax: -1,
			Observe: func(in Input) float64 { return in.Latest.Humidity },
		},
		{Name: ParamCoolingCeiling, Default: 3, Min: 0.5, Max: 10},
	}
}

func (d *Frost) Detect(in Input, p Params) (models.Candidate, bool) {
	tt := in.Trends.Temperature
	if tt.Insufficient {
		return models.Candidate{}, false
	}
	tMax := p.Get(ParamTemperatureMax)
	slopeMax := p.Get(ParamTemperatureSlopeMax)
	humMin := p.Get(ParamHumidityMin)
	t, h := in.Latest.Temperature, in.Latest.Humidity
	if t > tMax || tt.Slope > slopeMax || h < humMin {
		return models.Candidate{}, false
	}

	cold := clamp01((tMax - t) / 4)
	cool := clamp01(-tt.Slope / p.Get(ParamCoolingCeiling))
	hum := clamp01((h - humMin) / (100 - humMin))
	clearSky := 0.5
	if pt := in.Trends.Pressure; pt.Sufficient() && math.Abs(pt.Slope) <= 1 {
		clearSky = 1
	}
	score := 0.45*cold + 0.3*cool + 0.1*hum + 0.15*clearSky

	return models.Candidate{
		Condition: models.ConditionFrost,
		Detector:  d.Name(),
		Strength:  scaled(score, p.Weight),
		Specific:  true,
		Detail:    fmt.Sprintf("temperature %.1f °C, cooling %.1f °C/h", t, tt.Slope),
	}, true
}
