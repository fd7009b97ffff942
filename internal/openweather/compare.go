package openweather

import (
	"math"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Status grades the agreement between a local and an official value.
type Status string

const (
	StatusExcellent        Status = "excellent"
	StatusGood             Status = "good"
	StatusCheckCalibration Status = "check_calibration"
	StatusNoData           Status = "no_data"
)

// Thresholds are the absolute differences up to which a metric is rated
// excellent and good.
type Thresholds struct {
	Excellent float64
	Good      float64
}

// DefaultThresholds per metric.
var DefaultThresholds = map[models.Metric]Thresholds{
	models.MetricTemperature: {Excellent: 1.1, Good: 2.8},
	models.MetricHumidity:    {Excellent: 5, Good: 10},
	models.MetricPressure:    {Excellent: 3, Good: 7},
}

// MetricComparison is one metric's local-versus-official difference.
type MetricComparison struct {
	Metric     models.Metric `json:"metric"`
	Local      float64       `json:"local"`
	Official   float64       `json:"official"`
	Difference float64       `json:"difference"`
	Status     Status        `json:"status"`
}

// Comparison is the full local-versus-official report.
type Comparison struct {
	LocalTime    time.Time          `json:"local_time"`
	OfficialTime time.Time          `json:"official_time"`
	Description  string             `json:"description,omitempty"`
	Metrics      []MetricComparison `json:"metrics"`
	Overall      Status             `json:"overall"`
}

func grade(absDiff float64, t Thresholds) Status {
	switch {
	case absDiff <= t.Excellent:
		return StatusExcellent
	case absDiff <= t.Good:
		return StatusGood
	default:
		return StatusCheckCalibration
	}
}

// Compare grades a local reading against an official observation.
func Compare(local models.Reading, official Observation) Comparison {
	c := Comparison{
		LocalTime:    local.Timestamp,
		OfficialTime: official.Timestamp,
		Description:  official.Description,
	}
	for _, m := range []models.Metric{models.MetricTemperature, models.MetricHumidity, models.MetricPressure} {
		var off float64
		switch m {
		case models.MetricTemperature:
			off = official.Temperature
		case models.MetricHumidity:
			off = official.Humidity
		default:
			off = official.Pressure
		}
		diff := local.Value(m) - off
		c.Metrics = append(c.Metrics, MetricComparison{
			Metric:     m,
			Local:      local.Value(m),
			Official:   off,
			Difference: diff,
			Status:     grade(math.Abs(diff), DefaultThresholds[m]),
		})
	}
	c.Overall = overall(c.Metrics)
	return c
}

// overall is excellent only when every metric is, check_calibration when any
// metric is, and good otherwise.
func overall(ms []MetricComparison) Status {
	if len(ms) == 0 {
		return StatusNoData
	}
	result := StatusExcellent
	for _, m := range ms {
		switch m.Status {
		case StatusCheckCalibration:
			return StatusCheckCalibration
		case StatusGood:
			result = StatusGood
		}
	}
	return result
}
