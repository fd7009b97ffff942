package arbiter

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

var at = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func cand(cond models.Condition, detector string, strength float64, specific bool) models.Candidate {
	return models.Candidate{Condition: cond, Detector: detector, Strength: strength, Specific: specific}
}

func TestArbitrate_NoCandidates(t *testing.T) {
	a := New(DefaultConfig())

	p := a.Arbitrate(at, nil, trend.Reliability{})
	if p.Dominant != models.ConditionNone {
		t.Errorf("expected none, got %s", p.Dominant)
	}
	if p.Confidence != 0.2 {
		t.Errorf("expected floor confidence 0.2, got %v", p.Confidence)
	}
	if !p.Reliable {
		t.Error("expected reliable prediction")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("prediction failed validation: %v", err)
	}

	p = a.Arbitrate(at, nil, trend.Reliability{Insufficient: true})
	if p.Confidence != 0 || p.Reliable {
		t.Errorf("expected zero unreliable confidence, got %v reliable=%v", p.Confidence, p.Reliable)
	}
}

func TestArbitrate_Ranking(t *testing.T) {
	a := New(DefaultConfig())
	p := a.Arbitrate(at, []models.Candidate{
		cand(models.ConditionDeteriorating, "trend", 0.4, false),
		cand(models.ConditionThunderstorm, "thunderstorm", 0.856, true),
	}, trend.Reliability{})

	if p.Dominant != models.ConditionThunderstorm {
		t.Fatalf("expected thunderstorm dominant, got %s", p.Dominant)
	}
	want := 0.856 + 0.15*(1-0.856)*0.4
	if math.Abs(p.Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %.4f, got %.4f", want, p.Confidence)
	}
	if p.ID == "" || !p.Timestamp.Equal(at) {
		t.Errorf("unexpected identity: %q %s", p.ID, p.Timestamp)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("prediction failed validation: %v", err)
	}
}

func TestArbitrate_TieBreak(t *testing.T) {
	a := New(DefaultConfig())
	p := a.Arbitrate(at, []models.Candidate{
		cand(models.ConditionCooling, "trend", 0.5, false),
		cand(models.ConditionFrost, "frost", 0.5, true),
		cand(models.ConditionFog, "fog", 0.5, true),
	}, trend.Reliability{})

	got := []string{p.Ranked[0].Detector, p.Ranked[1].Detector, p.Ranked[2].Detector}
	want := []string{"fog", "frost", "trend"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestArbitrate_Contradiction(t *testing.T) {
	a := New(DefaultConfig())
	p := a.Arbitrate(at, []models.Candidate{
		cand(models.ConditionFire, "fire", 0.6, true),
		cand(models.ConditionMoistening, "trend", 0.4, false),
	}, trend.Reliability{})

	want := 0.6 - 0.25*0.4
	if math.Abs(p.Ranked[0].Confidence-want) > 1e-9 {
		t.Errorf("expected penalized confidence %.3f, got %.3f", want, p.Ranked[0].Confidence)
	}
}

func TestArbitrate_InsufficientCap(t *testing.T) {
	a := New(DefaultConfig())
	p := a.Arbitrate(at, []models.Candidate{
		cand(models.ConditionThunderstorm, "thunderstorm", 0.9, true),
	}, trend.Reliability{Insufficient: true})

	if p.Confidence > 0.5 {
		t.Errorf("expected confidence capped at 0.5, got %v", p.Confidence)
	}
	if p.Reliable {
		t.Error("expected unreliable prediction")
	}
}

func TestArbitrate_ConfidenceBounds(t *testing.T) {
	a := New(Config{Floor: 0.2, InsufficientCap: 0.5, AgreementBonus: 2, ContradictionPenalty: 2})
	p := a.Arbitrate(at, []models.Candidate{
		cand(models.ConditionFrost, "frost", 0.95, true),
		cand(models.ConditionCooling, "trend", 1, false),
		cand(models.ConditionFire, "fire", 0.1, true),
	}, trend.Reliability{})

	for _, c := range p.Ranked {
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("%s confidence %v outside [0,1]", c.Detector, c.Confidence)
		}
	}
}

func TestArbitrate_DoesNotMutateInput(t *testing.T) {
	a := New(DefaultConfig())
	in := []models.Candidate{
		cand(models.ConditionCooling, "trend", 0.2, false),
		cand(models.ConditionFrost, "frost", 0.8, true),
	}
	a.Arbitrate(at, in, trend.Reliability{})
	if in[0].Detector != "trend" || in[0].Confidence != 0 {
		t.Errorf("input slice was modified: %+v", in[0])
	}
}

func TestAffinitySymmetry(t *testing.T) {
	for p := range supports {
		if !Supports(p.b, p.a) {
			t.Errorf("support %s->%s is not symmetric", p.a, p.b)
		}
		if Contradicts(p.a, p.b) {
			t.Errorf("%s and %s both support and contradict", p.a, p.b)
		}
	}
	for p := range contradicts {
		if !Contradicts(p.b, p.a) {
			t.Errorf("contradiction %s->%s is not symmetric", p.a, p.b)
		}
	}
}
