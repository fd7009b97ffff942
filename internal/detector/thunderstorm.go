package detector

import (
	"fmt"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Thunderstorm parameter names.
const (
	ParamPressureSlopeMax = "pressure_slope_max"
	ParamHumidityMin      = "humidity_min"
	ParamSlopeCeiling     = "slope_ceiling"
)

// Thunderstorm fires on a rapid pressure drop in humid air.
type Thunderstorm struct {
	lookback time.Duration
}

// NewThunderstorm returns the thunderstorm detector.
func NewThunderstorm(lookback time.Duration) *Thunderstorm {
	return &Thunderstorm{lookback: lookback}
}

func (d *Thunderstorm) Name() string            { return NameThunderstorm }
func (d *Thunderstorm) Specific() bool          { return true }
func (d *Thunderstorm) Lookback() time.Duration { return d.lookback }

func (d *Thunderstorm) Params() []ParamSpec {
	return []ParamSpec{
		{
			Name: ParamPressureSlopeMax, Default: -1.5, Min: -6, Max: -0.3, Relax: 1,
			Observe: func(in Input) float64 { return in.Trends.Pressure.Slope },
		},
		{
			Name: ParamHumidityMin, Default: 75, Min: 50, Max: 95, Relax: -1,
			Observe: func(in Input) float64 { return in.Latest.Humidity },
		},
		{Name: ParamSlopeCeiling, Default: 6, Min: 2, Max: 20},
	}
}

func (d *Thunderstorm) Detect(in Input, p Params) (models.Candidate, bool) {
	pt := in.Trends.Pressure
	if pt.Insufficient {
		return models.Candidate{}, false
	}
	slopeMax := p.Get(ParamPressureSlopeMax)
	humMin := p.Get(ParamHumidityMin)
	if pt.Slope > slopeMax || in.Latest.Humidity < humMin {
		return models.Candidate{}, false
	}

	drop := clamp01(-pt.Slope / p.Get(ParamSlopeCeiling))
	humid := clamp01((in.Latest.Humidity - humMin) / (100 - humMin))
	strength := scaled(0.7*drop+0.3*humid, p.Weight)

	return models.Candidate{
		Condition: models.ConditionThunderstorm,
		Detector:  d.Name(),
		Strength:  strength,
		Specific:  true,
		Detail: fmt.Sprintf("pressure %.1f hPa/h over %s, humidity %.0f%%",
			pt.Slope, d.lookback, in.Latest.Humidity),
	}, true
}
