package models

import (
	"errors"
	"time"
)

// Condition is a forecast outcome proposed by a detector.
type Condition string

const (
	ConditionThunderstorm Condition = "thunderstorm"
	ConditionFog          Condition = "fog"
	ConditionFrost        Condition = "frost"
	ConditionFire         Condition = "fire"

	// Generic trend outcomes: sign of the dominant metric's slope.
	ConditionDeteriorating Condition = "deteriorating" // pressure falling
	ConditionImproving     Condition = "improving"     // pressure rising
	ConditionWarming       Condition = "warming"
	ConditionCooling       Condition = "cooling"
	ConditionMoistening    Condition = "moistening"
	ConditionDrying        Condition = "drying"

	ConditionNone Condition = "none"
)

// Severe reports whether the condition warrants an alert.
func (c Condition) Severe() bool {
	switch c {
	case ConditionThunderstorm, ConditionFrost, ConditionFire, ConditionFog:
		return true
	}
	return false
}

// Candidate is one detector's proposal within a prediction.
type Candidate struct {
	Condition  Condition `json:"condition"`
	Detector   string    `json:"detector"`
	Strength   float64   `json:"strength"`
	Confidence float64   `json:"confidence"`
	Specific   bool      `json:"specific"`
	Detail     string    `json:"detail,omitempty"`
}

// Prediction is the engine's output for one evaluation cycle. It is never
// modified after being emitted.
type Prediction struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	Ranked       []Candidate `json:"ranked"`
	Dominant     Condition   `json:"dominant"`
	Confidence   float64     `json:"confidence"`
	Reliable     bool        `json:"reliable"` // false when any trend lacked data
	StateVersion uint64      `json:"state_version"`
}

// Validate checks the structural invariants of a prediction.
func (p *Prediction) Validate() error {
	if p.ID == "" {
		return errors.New("prediction ID must not be empty")
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	if p.Dominant == "" {
		return errors.New("dominant condition must be set")
	}
	if len(p.Ranked) == 0 && p.Dominant != ConditionNone {
		return errors.New("dominant condition requires at least one candidate")
	}
	if len(p.Ranked) > 0 && p.Ranked[0].Condition != p.Dominant {
		return errors.New("dominant condition must be the top ranked candidate")
	}
	for _, c := range p.Ranked {
		if c.Strength < 0.0 || c.Strength > 1.0 {
			return errors.New("candidate strength must be between 0.0 and 1.0")
		}
	}
	return nil
}
