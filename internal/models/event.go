package models

import (
	"fmt"
	"strings"
	"time"
)

// Label is the fixed taxonomy a human can tag an observation with.
type Label string

const (
	LabelThunderstorm  Label = "thunderstorm"
	LabelFog           Label = "fog"
	LabelFrost         Label = "frost"
	LabelFire          Label = "fire"
	LabelNoneOfAbove   Label = "none_of_above"
	LabelFalsePositive Label = "false_positive"
)

// Labels lists the taxonomy in display order.
var Labels = []Label{
	LabelThunderstorm, LabelFog, LabelFrost, LabelFire, LabelNoneOfAbove, LabelFalsePositive,
}

// ParseLabel accepts a label in any case, with dashes or underscores.
func ParseLabel(s string) (Label, error) {
	norm := Label(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, l := range Labels {
		if l == norm {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: unknown label %q", ErrInvalidEvent, s)
}

// Condition returns the condition a positive label confirms, or ConditionNone
// for the negative labels.
func (l Label) Condition() Condition {
	switch l {
	case LabelThunderstorm:
		return ConditionThunderstorm
	case LabelFog:
		return ConditionFog
	case LabelFrost:
		return ConditionFrost
	case LabelFire:
		return ConditionFire
	default:
		return ConditionNone
	}
}

// Intensity is an optional qualifier on a tagged event.
type Intensity string

const (
	IntensityLight    Intensity = "light"
	IntensityModerate Intensity = "moderate"
	IntensityHeavy    Intensity = "heavy"
)

// Event is a human-supplied ground-truth tag. Events are append-only; a
// correction is a new event whose Supersedes field names the corrected one.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      Label     `json:"label"`
	Intensity  Intensity `json:"intensity,omitempty"`
	Note       string    `json:"note,omitempty"`
	Supersedes string    `json:"supersedes,omitempty"`
}

// Validate checks that all event fields are valid.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event ID must not be empty", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: event timestamp must be set", ErrInvalidEvent)
	}
	if _, err := ParseLabel(string(e.Label)); err != nil {
		return err
	}
	switch e.Intensity {
	case "", IntensityLight, IntensityModerate, IntensityHeavy:
	default:
		return fmt.Errorf("%w: unknown intensity %q", ErrInvalidEvent, e.Intensity)
	}
	if e.Supersedes == e.ID {
		return fmt.Errorf("%w: event cannot supersede itself", ErrInvalidEvent)
	}
	return nil
}
