package detector

import (
	"fmt"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Fire weather parameter names.
const (
	ParamHumidityMax      = "humidity_max"
	ParamTemperatureMin   = "temperature_min"
	ParamPressureSlopeMin = "pressure_slope_min"
)

// Fire fires on hot, dry air under steady or rising pressure.
type Fire struct {
	lookback time.Duration
}

// NewFire returns the fire weather detector.
func NewFire(lookback time.Duration) *Fire {
	return &Fire{lookback: lookback}
}

func (d *Fire) Name() string            { return NameFire }
func (d *Fire) Specific() bool          { return true }
func (d *Fire) Lookback() time.Duration { return d.lookback }

func (d *Fire) Params() []ParamSpec {
	return []ParamSpec{
		{
			Name: ParamHumidityMax, Default: 25, Min: 10, Max: 40, Relax: 1,
			Observe: func(in Input) float64 { return in.Latest.Humidity },
		},
		{
			Name: ParamTemperatureMin, Default: 28, Min: 18, Max: 40, Relax: -1,
			Observe: func(in Input) float64 { return in.Latest.Temperature },
		},
		{
			Name: ParamPressureSlopeMin, Default: -0.5, Min: -2, Max: 1, Relax: -1,
			Observe: func(in Input) float64 { return in.Trends.Pressure.Slope },
		},
	}
}

func (d *Fire) Detect(in Input, p Params) (models.Candidate, bool) {
	pt := in.Trends.Pressure
	if pt.Insufficient {
		return models.Candidate{}, false
	}
	hMax := p.Get(ParamHumidityMax)
	tMin := p.Get(ParamTemperatureMin)
	pMin := p.Get(ParamPressureSlopeMin)
	t, h := in.Latest.Temperature, in.Latest.Humidity
	if h > hMax || t < tMin || pt.Slope < pMin {
		return models.Candidate{}, false
	}

	dry := clamp01((hMax - h) / hMax)
	heat := clamp01((t - tMin) / 12)
	subsidence := clamp01((pt.Slope - pMin) / 2)
	score := 0.5*dry + 0.35*heat + 0.15*subsidence

	return models.Candidate{
		Condition: models.ConditionFire,
		Detector:  d.Name(),
		Strength:  scaled(score, p.Weight),
		Specific:  true,
		Detail:    fmt.Sprintf("humidity %.0f%%, temperature %.1f °C", h, t),
	}, true
}
