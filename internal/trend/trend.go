// Package trend derives rate-of-change signals from a window of readings.
//
// A trend compares the latest value of a metric with the value of the reading
// nearest to, but not after, the look-back boundary:
//
//	slope = (latest - base) / elapsed hours
//
// When the history does not reach the boundary the earliest reading is used and
// the trend is marked partial; there is no extrapolation. Fewer than two readings
// in the span yields an insufficient trend with zero slope, which callers must
// read as "no signal" rather than "stable". All functions are pure.
package trend

import (
	"sort"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Trend is the rate of change of one metric over one look-back interval.
type Trend struct {
	Metric       models.Metric `json:"metric"`
	Lookback     time.Duration `json:"lookback"`
	Slope        float64       `json:"slope"` // units per hour
	Delta        float64       `json:"delta"`
	Elapsed      time.Duration `json:"elapsed"`
	Count        int           `json:"count"`
	Insufficient bool          `json:"insufficient"`
	Partial      bool          `json:"partial"` // history shorter than the look-back
}

// Sufficient reports whether the trend carries a usable signal.
func (t Trend) Sufficient() bool { return !t.Insufficient }

// Compute returns the trend of metric over lookback. readings must be ordered
// oldest first, as produced by the window.
func Compute(metric models.Metric, readings []models.Reading, lookback time.Duration) Trend {
	t := Trend{Metric: metric, Lookback: lookback}
	n := len(readings)
	if n < 2 || lookback <= 0 {
		t.Insufficient = true
		t.Count = n
		return t
	}

	latest := readings[n-1]
	boundary := latest.Timestamp.Add(-lookback)

	// First index strictly after the boundary; the base is the one before it.
	after := sort.Search(n, func(i int) bool {
		return readings[i].Timestamp.After(boundary)
	})
	baseIdx := after - 1
	if baseIdx < 0 {
		baseIdx = 0
		t.Partial = true
	}

	t.Count = n - baseIdx
	elapsed := latest.Timestamp.Sub(readings[baseIdx].Timestamp)
	if t.Count < 2 || elapsed <= 0 {
		t.Insufficient = true
		return t
	}

	t.Delta = latest.Value(metric) - readings[baseIdx].Value(metric)
	t.Elapsed = elapsed
	t.Slope = t.Delta / elapsed.Hours()
	return t
}

// Set holds the trends of all three metrics over the same look-back.
type Set struct {
	Lookback    time.Duration `json:"lookback"`
	Pressure    Trend         `json:"pressure"`
	Temperature Trend         `json:"temperature"`
	Humidity    Trend         `json:"humidity"`
}

// ComputeSet computes pressure, temperature and humidity trends together.
func ComputeSet(readings []models.Reading, lookback time.Duration) Set {
	return Set{
		Lookback:    lookback,
		Pressure:    Compute(models.MetricPressure, readings, lookback),
		Temperature: Compute(models.MetricTemperature, readings, lookback),
		Humidity:    Compute(models.MetricHumidity, readings, lookback),
	}
}

// Get returns the trend for metric.
func (s Set) Get(m models.Metric) Trend {
	switch m {
	case models.MetricTemperature:
		return s.Temperature
	case models.MetricHumidity:
		return s.Humidity
	default:
		return s.Pressure
	}
}

// Insufficient reports whether any metric in the set lacks data.
func (s Set) Insufficient() bool {
	return s.Pressure.Insufficient || s.Temperature.Insufficient || s.Humidity.Insufficient
}

// Reliability summarises the trends consumed during one evaluation.
type Reliability struct {
	Insufficient bool `json:"insufficient"`
	Partial      bool `json:"partial"`
	MinCount     int  `json:"min_count"`
}

// Summarize folds a collection of trend sets into one reliability value.
func Summarize(sets ...Set) Reliability {
	r := Reliability{MinCount: -1}
	if len(sets) == 0 {
		r.Insufficient = true
		r.MinCount = 0
		return r
	}
	for _, s := range sets {
		for _, t := range []Trend{s.Pressure, s.Temperature, s.Humidity} {
			if t.Insufficient {
				r.Insufficient = true
			}
			if t.Partial {
				r.Partial = true
			}
			if r.MinCount < 0 || t.Count < r.MinCount {
				r.MinCount = t.Count
			}
		}
	}
	return r
}
