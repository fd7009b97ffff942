// Package arbiter ranks detector candidates and resolves them into a single
// prediction with a calibrated confidence.
package arbiter

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/trend"
)

// Config holds the confidence shaping constants.
type Config struct {
	// Floor is the confidence reported for "none" when trends are reliable.
	Floor float64 `mapstructure:"confidence_floor"`
	// InsufficientCap bounds every confidence when any trend lacked data.
	InsufficientCap float64 `mapstructure:"insufficient_cap"`
	// AgreementBonus is the largest boost supporting candidates can add.
	AgreementBonus float64 `mapstructure:"agreement_bonus"`
	// ContradictionPenalty is the largest cut contradicting candidates can take.
	ContradictionPenalty float64 `mapstructure:"contradiction_penalty"`
}

// DefaultConfig returns the standard shaping constants.
func DefaultConfig() Config {
	return Config{
		Floor:                0.2,
		InsufficientCap:      0.5,
		AgreementBonus:       0.15,
		ContradictionPenalty: 0.25,
	}
}

type pair struct{ a, b models.Condition }

var supports = symmetric(
	pair{models.ConditionThunderstorm, models.ConditionDeteriorating},
	pair{models.ConditionThunderstorm, models.ConditionMoistening},
	pair{models.ConditionFog, models.ConditionMoistening},
	pair{models.ConditionFog, models.ConditionCooling},
	pair{models.ConditionFrost, models.ConditionCooling},
	pair{models.ConditionFrost, models.ConditionImproving},
	pair{models.ConditionFire, models.ConditionDrying},
	pair{models.ConditionFire, models.ConditionWarming},
	pair{models.ConditionFire, models.ConditionImproving},
)

var contradicts = symmetric(
	pair{models.ConditionThunderstorm, models.ConditionFire},
	pair{models.ConditionThunderstorm, models.ConditionImproving},
	pair{models.ConditionFog, models.ConditionFire},
	pair{models.ConditionFog, models.ConditionDrying},
	pair{models.ConditionFrost, models.ConditionFire},
	pair{models.ConditionFrost, models.ConditionWarming},
	pair{models.ConditionFire, models.ConditionMoistening},
	pair{models.ConditionDeteriorating, models.ConditionImproving},
)

func symmetric(pairs ...pair) map[pair]bool {
	m := make(map[pair]bool, 2*len(pairs))
	for _, p := range pairs {
		m[p] = true
		m[pair{p.b, p.a}] = true
	}
	return m
}

// Supports reports whether two conditions reinforce each other.
func Supports(a, b models.Condition) bool { return supports[pair{a, b}] }

// Contradicts reports whether two conditions are mutually exclusive signals.
func Contradicts(a, b models.Condition) bool { return contradicts[pair{a, b}] }

// Arbiter turns candidates into predictions. It is stateless and safe for
// concurrent use.
type Arbiter struct {
	cfg Config
}

// New returns an arbiter using cfg.
func New(cfg Config) *Arbiter {
	return &Arbiter{cfg: cfg}
}

// Config returns the arbiter's shaping constants.
func (a *Arbiter) Config() Config { return a.cfg }

// Arbitrate ranks candidates by strength, assigns each a confidence and picks
// the dominant condition. Ties in strength prefer specific detectors, then
// detector name, so identical inputs always give identical output.
func (a *Arbiter) Arbitrate(at time.Time, candidates []models.Candidate, rel trend.Reliability) models.Prediction {
	ranked := make([]models.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Strength != ranked[j].Strength {
			return ranked[i].Strength > ranked[j].Strength
		}
		if ranked[i].Specific != ranked[j].Specific {
			return ranked[i].Specific
		}
		return ranked[i].Detector < ranked[j].Detector
	})

	for i := range ranked {
		ranked[i].Confidence = a.confidence(i, ranked, rel)
	}

	p := models.Prediction{
		ID:        uuid.New().String(),
		Timestamp: at,
		Ranked:    ranked,
		Dominant:  models.ConditionNone,
		Reliable:  !rel.Insufficient,
	}
	if len(ranked) == 0 {
		p.Confidence = a.cfg.Floor
		if rel.Insufficient {
			p.Confidence = 0
		}
		return p
	}
	p.Dominant = ranked[0].Condition
	p.Confidence = ranked[0].Confidence
	return p
}

func (a *Arbiter) confidence(i int, ranked []models.Candidate, rel trend.Reliability) float64 {
	c := ranked[i]
	var support, contra float64
	for j, other := range ranked {
		if j == i {
			continue
		}
		if Supports(c.Condition, other.Condition) {
			support += other.Strength
		}
		if Contradicts(c.Condition, other.Condition) {
			contra += other.Strength
		}
	}

	conf := c.Strength +
		a.cfg.AgreementBonus*(1-c.Strength)*math.Min(1, support) -
		a.cfg.ContradictionPenalty*math.Min(1, contra)
	if rel.Insufficient {
		conf = math.Min(conf, a.cfg.InsufficientCap)
	}
	return math.Max(0, math.Min(1, conf))
}
