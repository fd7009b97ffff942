// Package monitor decides which predictions are worth a notification.
//
// A prediction is actionable when its dominant condition is severe, the trends
// behind it were reliable, and its confidence clears the configured minimum.
// Actionable predictions are then deduplicated per condition: a condition that
// was already notified within the cooldown is suppressed unless the new
// confidence enters the high-confidence zone for the first time.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// highConfidence is the zone whose first entry bypasses the cooldown.
const highConfidence = 0.8

// notifiedRecord tracks a previously sent notification for cooldown deduplication.
type notifiedRecord struct {
	Confidence float64
	SentAt     time.Time
}

// Monitor gates prediction notifications. Safe for concurrent use.
type Monitor struct {
	minConfidence float64
	now           func() time.Time

	mu       sync.Mutex
	notified map[models.Condition]notifiedRecord
}

// New creates a Monitor that only passes predictions at or above minConfidence.
func New(minConfidence float64) *Monitor {
	return &Monitor{
		minConfidence: minConfidence,
		now:           time.Now,
		notified:      make(map[models.Condition]notifiedRecord),
	}
}

// Actionable reports whether a single prediction warrants an alert, ignoring
// the cooldown.
func (m *Monitor) Actionable(p models.Prediction) bool {
	return p.Dominant.Severe() && p.Reliable && p.Confidence >= m.minConfidence
}

// Select returns the actionable predictions. Returns a non-nil slice.
func (m *Monitor) Select(preds []models.Prediction) []models.Prediction {
	result := []models.Prediction{}
	for _, p := range preds {
		if m.Actionable(p) {
			result = append(result, p)
		}
	}
	return result
}

func isHighConfidence(c float64) bool { return c >= highConfidence }

// FilterRecentlySent removes predictions whose condition was notified within
// cooldown, unless the confidence is entering the high-confidence zone for the
// first time. Returns a non-nil slice.
func (m *Monitor) FilterRecentlySent(preds []models.Prediction, cooldown time.Duration) []models.Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := []models.Prediction{}
	for _, p := range preds {
		rec, exists := m.notified[p.Dominant]
		if exists && now.Sub(rec.SentAt) < cooldown {
			escalating := isHighConfidence(p.Confidence) && !isHighConfidence(rec.Confidence)
			if !escalating {
				continue
			}
		}
		result = append(result, p)
	}
	return result
}

// RecordNotified marks the dominant condition of each prediction as notified
// now. Call this after a successful send.
func (m *Monitor) RecordNotified(preds []models.Prediction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, p := range preds {
		m.notified[p.Dominant] = notifiedRecord{Confidence: p.Confidence, SentAt: now}
	}
}

// Cleared returns the notified conditions that are no longer dominant in p
// and forgets them, so a recurrence is notified without waiting for the
// cooldown. The result is sorted by condition name.
func (m *Monitor) Cleared(p models.Prediction) []models.Condition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared []models.Condition
	for cond := range m.notified {
		if cond != p.Dominant {
			cleared = append(cleared, cond)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	for _, cond := range cleared {
		delete(m.notified, cond)
	}
	return cleared
}
