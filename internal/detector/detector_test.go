package detector

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// series builds n readings spaced step apart, interpolating each metric
// linearly from its first to its last value.
func series(n int, step time.Duration, temp, hum, pres [2]float64) []models.Reading {
	out := make([]models.Reading, n)
	for i := range out {
		f := 0.0
		if n > 1 {
			f = float64(i) / float64(n-1)
		}
		out[i] = models.Reading{
			Timestamp:   base.Add(time.Duration(i) * step),
			Temperature: temp[0] + f*(temp[1]-temp[0]),
			Humidity:    hum[0] + f*(hum[1]-hum[0]),
			Pressure:    pres[0] + f*(pres[1]-pres[0]),
		}
	}
	return out
}

func input(readings []models.Reading, lookback time.Duration) Input {
	return Input{
		Latest: readings[len(readings)-1],
		Trends: trend.ComputeSet(readings, lookback),
	}
}

func defaults(t *testing.T) *State {
	t.Helper()
	_, state, _, err := Build(nil)
	if err != nil {
		t.Fatalf("failed to build default detectors: %v", err)
	}
	return state
}

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDewPoint(t *testing.T) {
	tests := []struct {
		name     string
		temp     float64
		humidity float64
		want     float64
	}{
		{"saturated", 20, 100, 20},
		{"half humidity", 20, 50, 9.26},
		{"cold", 0, 80, -3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DewPoint(tt.temp, tt.humidity)
			if !approx(got, tt.want, 0.1) {
				t.Errorf("DewPoint(%v, %v) = %.2f, want %.2f", tt.temp, tt.humidity, got, tt.want)
			}
		})
	}
	if !math.IsInf(DewPoint(20, 0), -1) {
		t.Error("expected -Inf dew point for zero humidity")
	}
}

func TestThunderstorm(t *testing.T) {
	state := defaults(t)
	d := NewThunderstorm(time.Hour)

	t.Run("rapid drop in humid air fires", func(t *testing.T) {
		readings := series(7, 5*time.Minute, [2]float64{25, 25}, [2]float64{85, 85}, [2]float64{1013, 1005})
		c, ok := d.Detect(input(readings, time.Hour), state.Params(NameThunderstorm))
		if !ok {
			t.Fatal("expected thunderstorm to fire")
		}
		if c.Condition != models.ConditionThunderstorm || !c.Specific {
			t.Errorf("unexpected candidate: %+v", c)
		}
		if !approx(c.Strength, 0.856, 0.001) {
			t.Errorf("expected strength ~0.856, got %.4f", c.Strength)
		}
	})

	t.Run("dry air abstains", func(t *testing.T) {
		readings := series(7, 5*time.Minute, [2]float64{25, 25}, [2]float64{60, 60}, [2]float64{1013, 1005})
		if _, ok := d.Detect(input(readings, time.Hour), state.Params(NameThunderstorm)); ok {
			t.Error("expected abstain below humidity minimum")
		}
	})

	t.Run("slow drop abstains", func(t *testing.T) {
		readings := series(13, 5*time.Minute, [2]float64{25, 25}, [2]float64{85, 85}, [2]float64{1013, 1012})
		if _, ok := d.Detect(input(readings, time.Hour), state.Params(NameThunderstorm)); ok {
			t.Error("expected abstain for -1 hPa/h")
		}
	})

	t.Run("single reading abstains", func(t *testing.T) {
		readings := series(1, 5*time.Minute, [2]float64{25, 25}, [2]float64{90, 90}, [2]float64{1013, 1013})
		if _, ok := d.Detect(input(readings, time.Hour), state.Params(NameThunderstorm)); ok {
			t.Error("expected abstain with insufficient pressure trend")
		}
	})
}

func TestFog(t *testing.T) {
	state := defaults(t)
	d := NewFog(2 * time.Hour)
	readings := series(13, 10*time.Minute, [2]float64{10, 10}, [2]float64{98, 98}, [2]float64{1015, 1015})

	in := input(readings, 2*time.Hour)
	c, ok := d.Detect(in, state.Params(NameFog))
	if !ok {
		t.Fatal("expected fog to fire in saturated still air")
	}
	if !approx(c.Strength, 0.7875, 0.01) {
		t.Errorf("expected strength ~0.79 without local time, got %.4f", c.Strength)
	}

	morning := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	afternoon := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	in.LocalTime = &morning
	am, _ := d.Detect(in, state.Params(NameFog))
	in.LocalTime = &afternoon
	pm, _ := d.Detect(in, state.Params(NameFog))
	if am.Strength <= pm.Strength {
		t.Errorf("expected morning fog (%.3f) stronger than afternoon (%.3f)", am.Strength, pm.Strength)
	}

	t.Run("warming air abstains", func(t *testing.T) {
		warm := series(13, 10*time.Minute, [2]float64{8, 12}, [2]float64{98, 98}, [2]float64{1015, 1015})
		if _, ok := d.Detect(input(warm, 2*time.Hour), state.Params(NameFog)); ok {
			t.Error("expected abstain when temperature moves 2 °C/h")
		}
	})

	t.Run("large spread abstains", func(t *testing.T) {
		dry := series(13, 10*time.Minute, [2]float64{10, 10}, [2]float64{80, 80}, [2]float64{1015, 1015})
		if _, ok := d.Detect(input(dry, 2*time.Hour), state.Params(NameFog)); ok {
			t.Error("expected abstain at 80% humidity")
		}
	})
}

func TestFrost(t *testing.T) {
	state := defaults(t)
	d := NewFrost(time.Hour)

	readings := series(13, 5*time.Minute, [2]float64{4, -1}, [2]float64{70, 70}, [2]float64{1015, 1015})
	c, ok := d.Detect(input(readings, time.Hour), state.Params(NameFrost))
	if !ok {
		t.Fatal("expected frost to fire")
	}
	if !approx(c.Strength, 0.85, 0.001) {
		t.Errorf("expected strength ~0.85, got %.4f", c.Strength)
	}

	warmer := series(13, 5*time.Minute, [2]float64{8, 4}, [2]float64{70, 70}, [2]float64{1015, 1015})
	if _, ok := d.Detect(input(warmer, time.Hour), state.Params(NameFrost)); ok {
		t.Error("expected abstain above temperature maximum")
	}

	steady := series(13, 5*time.Minute, [2]float64{0, 0}, [2]float64{70, 70}, [2]float64{1015, 1015})
	if _, ok := d.Detect(input(steady, time.Hour), state.Params(NameFrost)); ok {
		t.Error("expected abstain when temperature is not falling")
	}
}

func TestFire(t *testing.T) {
	state := defaults(t)
	d := NewFire(3 * time.Hour)

	readings := series(19, 10*time.Minute, [2]float64{35, 35}, [2]float64{15, 15}, [2]float64{1010, 1010})
	c, ok := d.Detect(input(readings, 3*time.Hour), state.Params(NameFire))
	if !ok {
		t.Fatal("expected fire weather to fire")
	}
	if !approx(c.Strength, 0.5533, 0.001) {
		t.Errorf("expected strength ~0.553, got %.4f", c.Strength)
	}

	humid := series(19, 10*time.Minute, [2]float64{35, 35}, [2]float64{30, 30}, [2]float64{1010, 1010})
	if _, ok := d.Detect(input(humid, 3*time.Hour), state.Params(NameFire)); ok {
		t.Error("expected abstain above humidity maximum")
	}

	falling := series(19, 10*time.Minute, [2]float64{35, 35}, [2]float64{15, 15}, [2]float64{1010, 1004})
	if _, ok := d.Detect(input(falling, 3*time.Hour), state.Params(NameFire)); ok {
		t.Error("expected abstain under falling pressure")
	}
}

func TestTrend(t *testing.T) {
	state := defaults(t)
	d := NewTrend(3 * time.Hour)

	tests := []struct {
		name     string
		readings []models.Reading
		want     models.Condition
		fires    bool
	}{
		{
			name:     "stable",
			readings: series(19, 10*time.Minute, [2]float64{20, 20.5}, [2]float64{50, 52}, [2]float64{1013, 1013.5}),
			fires:    false,
		},
		{
			name:     "pressure rising",
			readings: series(19, 10*time.Minute, [2]float64{20, 20}, [2]float64{50, 50}, [2]float64{1005, 1014}),
			want:     models.ConditionImproving,
			fires:    true,
		},
		{
			name:     "pressure falling",
			readings: series(19, 10*time.Minute, [2]float64{20, 20}, [2]float64{50, 50}, [2]float64{1014, 1005}),
			want:     models.ConditionDeteriorating,
			fires:    true,
		},
		{
			name:     "warming dominates",
			readings: series(19, 10*time.Minute, [2]float64{10, 25}, [2]float64{50, 50}, [2]float64{1013, 1015}),
			want:     models.ConditionWarming,
			fires:    true,
		},
		{
			name:     "drying",
			readings: series(19, 10*time.Minute, [2]float64{20, 20}, [2]float64{80, 20}, [2]float64{1013, 1013}),
			want:     models.ConditionDrying,
			fires:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := d.Detect(input(tt.readings, 3*time.Hour), state.Params(NameTrend))
			if ok != tt.fires {
				t.Fatalf("expected fires=%v, got %v (%+v)", tt.fires, ok, c)
			}
			if !ok {
				return
			}
			if c.Condition != tt.want {
				t.Errorf("expected %s, got %s", tt.want, c.Condition)
			}
			if c.Specific {
				t.Error("trend candidates must not be specific")
			}
			if c.Strength > 0.4+1e-9 {
				t.Errorf("strength %.3f exceeds ceiling", c.Strength)
			}
		})
	}
}

func TestWeightScalesStrength(t *testing.T) {
	state := defaults(t)
	d := NewFire(3 * time.Hour)
	readings := series(19, 10*time.Minute, [2]float64{35, 35}, [2]float64{15, 15}, [2]float64{1010, 1010})
	in := input(readings, 3*time.Hour)

	p := state.Params(NameFire)
	base, _ := d.Detect(in, p)
	p.Weight = 0.5
	half, _ := d.Detect(in, p)
	if !approx(half.Strength, base.Strength/2, 1e-9) {
		t.Errorf("expected half strength %.4f, got %.4f", base.Strength/2, half.Strength)
	}
	p.Weight = 2
	double, _ := d.Detect(in, p)
	if double.Strength > 1 {
		t.Errorf("strength must be clamped to 1, got %.4f", double.Strength)
	}
}

func TestBuild(t *testing.T) {
	detectors, state, bounds, err := Build(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detectors) != 5 {
		t.Fatalf("expected 5 detectors, got %d", len(detectors))
	}
	if detectors[0].Name() != NameThunderstorm || detectors[4].Name() != NameTrend {
		t.Errorf("unexpected order: %v", []string{detectors[0].Name(), detectors[4].Name()})
	}
	if got := state.Params(NameFog).Get(ParamHumidityMin); got != 92 {
		t.Errorf("expected fog humidity_min 92, got %v", got)
	}
	if b := bounds[NameFrost]; b.Weight.Min != 0.25 || b.Weight.Max != 2 {
		t.Errorf("unexpected weight bounds: %+v", b.Weight)
	}

	t.Run("partial override keeps defaults", func(t *testing.T) {
		tunings := DefaultTunings()
		fog := tunings[NameFog]
		fog.Lookback = 90 * time.Minute
		fog.Params = map[string]ParamTuning{ParamSpreadMax: {Value: 3, Min: 1, Max: 4}}
		tunings[NameFog] = fog

		detectors, state, bounds, err := Build(tunings)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if detectors[1].Lookback() != 90*time.Minute {
			t.Errorf("expected lookback override, got %s", detectors[1].Lookback())
		}
		if got := state.Params(NameFog).Get(ParamSpreadMax); got != 3 {
			t.Errorf("expected spread_max 3, got %v", got)
		}
		if got := state.Params(NameFog).Get(ParamHumidityMin); got != 92 {
			t.Errorf("expected default humidity_min, got %v", got)
		}
		if r := bounds[NameFog].Params[ParamSpreadMax]; r.Min != 1 || r.Max != 4 {
			t.Errorf("unexpected clamp: %+v", r)
		}
	})

	invalid := []struct {
		name   string
		mutate func(map[string]Tuning)
	}{
		{"unknown detector", func(m map[string]Tuning) { m["hail"] = Tuning{} }},
		{"unknown parameter", func(m map[string]Tuning) {
			d := m[NameFire]
			d.Params["wind_min"] = ParamTuning{Value: 1, Max: 2}
			m[NameFire] = d
		}},
		{"value outside clamp", func(m map[string]Tuning) {
			d := m[NameFire]
			d.Params[ParamHumidityMax] = ParamTuning{Value: 50, Min: 10, Max: 40}
			m[NameFire] = d
		}},
		{"weight outside clamp", func(m map[string]Tuning) {
			d := m[NameFrost]
			d.Weight = 3
			m[NameFrost] = d
		}},
		{"zero lookback", func(m map[string]Tuning) {
			d := m[NameTrend]
			d.Lookback = 0
			m[NameTrend] = d
		}},
		{"lookback too short", func(m map[string]Tuning) {
			d := m[NameThunderstorm]
			d.Lookback = time.Nanosecond
			m[NameThunderstorm] = d
		}},
		{"lookback too long", func(m map[string]Tuning) {
			d := m[NameFog]
			d.Lookback = 9000 * time.Hour
			m[NameFog] = d
		}},
		{"clamp outside catalog range", func(m map[string]Tuning) {
			d := m[NameThunderstorm]
			d.Params[ParamPressureSlopeMax] = ParamTuning{Value: 40, Min: -6, Max: 50}
			m[NameThunderstorm] = d
		}},
		{"weight clamp outside envelope", func(m map[string]Tuning) {
			d := m[NameFrost]
			d.WeightMax = 10
			m[NameFrost] = d
		}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			tunings := DefaultTunings()
			tt.mutate(tunings)
			if _, _, _, err := Build(tunings); !errors.Is(err, models.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestStateClone(t *testing.T) {
	state := defaults(t)
	clone := state.Clone()
	clone.Version = 9
	clone.Detectors[NameFire].Values[ParamHumidityMax] = 30

	if state.Version != 0 {
		t.Error("clone shares version")
	}
	if state.Params(NameFire).Get(ParamHumidityMax) != 25 {
		t.Error("clone shares parameter maps")
	}
}

func TestGatingParamsObserve(t *testing.T) {
	readings := series(13, 5*time.Minute, [2]float64{4, -1}, [2]float64{70, 70}, [2]float64{1015, 1015})
	in := input(readings, time.Hour)
	for _, d := range Catalog() {
		for _, p := range d.Params() {
			if p.Relax != 0 && p.Observe == nil {
				t.Errorf("%s.%s has a relax direction but no observation", d.Name(), p.Name)
			}
			if p.Gating() && math.IsNaN(p.Observe(in)) {
				t.Errorf("%s.%s observed NaN", d.Name(), p.Name)
			}
			if p.Default < p.Min || p.Default > p.Max {
				t.Errorf("%s.%s default %v outside [%v, %v]", d.Name(), p.Name, p.Default, p.Min, p.Max)
			}
		}
	}
}
