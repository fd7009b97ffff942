// Package models defines the core domain values for the skywatch prediction engine:
// sensor readings, human-tagged events, and the predictions derived from them.
// All models include built-in validation so nothing malformed reaches the engine.
package models

import (
	"fmt"
	"math"
	"time"
)

// Validated ranges for reading fields.
const (
	MinTemperature = -40.0
	MaxTemperature = 80.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
	MinPressure    = 870.0
	MaxPressure    = 1085.0
)

// Reading is one timestamped environmental sample. Pressure is already
// corrected by the station's calibration offset.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`   // UTC
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %
	Pressure    float64   `json:"pressure"`    // hPa
}

// Validate checks that every field is inside its legal range.
func (r *Reading) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp must be set", ErrOutOfRangeReading)
	}
	if err := checkRange("temperature", r.Temperature, MinTemperature, MaxTemperature); err != nil {
		return err
	}
	if err := checkRange("humidity", r.Humidity, MinHumidity, MaxHumidity); err != nil {
		return err
	}
	return checkRange("pressure", r.Pressure, MinPressure, MaxPressure)
}

func checkRange(field string, v, lo, hi float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return fmt.Errorf("%w: %s %.2f outside [%.0f, %.0f]", ErrOutOfRangeReading, field, v, lo, hi)
	}
	return nil
}

// Value returns the reading's value for the named metric.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricHumidity:
		return r.Humidity
	default:
		return r.Pressure
	}
}

// Metric names one of the sampled quantities.
type Metric string

const (
	MetricPressure    Metric = "pressure"
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)
