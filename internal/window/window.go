// Package window maintains the bounded, time-ordered history of recent readings
// that every downstream computation reads from.
//
// A Window is bounded both by a reading count and by a retention horizon. Ages are
// measured against the newest reading, not the wall clock, so replaying the same
// readings always produces the same window. Ingestion takes the write lock for the
// whole append-and-evict step; readers receive copies and never observe a
// partially evicted window.
package window

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/skywatch/internal/models"
)

// Window is a concurrency-safe rolling history of readings.
type Window struct {
	mu       sync.RWMutex
	readings []models.Reading
	revision uint64

	capacity  int
	retention time.Duration
}

// New creates an empty window bounded by capacity readings and retention age.
func New(capacity int, retention time.Duration) (*Window, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("window capacity must be at least 1, got %d", capacity)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("window retention must be positive, got %v", retention)
	}
	return &Window{
		readings:  make([]models.Reading, 0, min(capacity, 4096)),
		capacity:  capacity,
		retention: retention,
	}, nil
}

// Ingest validates and appends a reading, then evicts from the front until both
// bounds hold. A rejected reading leaves the window untouched.
func (w *Window) Ingest(r models.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Timestamp = r.Timestamp.UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.readings); n > 0 {
		latest := w.readings[n-1].Timestamp
		if !r.Timestamp.After(latest) {
			return fmt.Errorf("%w: %s is not after latest %s",
				models.ErrOutOfOrderReading, r.Timestamp.Format(time.RFC3339Nano), latest.Format(time.RFC3339Nano))
		}
	}

	w.readings = append(w.readings, r)
	w.evictLocked()
	w.revision++
	return nil
}

// Restore bulk-loads readings, typically from the store at startup. Readings
// are sorted first; those rejected by Ingest rules are skipped and counted.
func (w *Window) Restore(readings []models.Reading) (accepted, rejected int) {
	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	for _, r := range sorted {
		if err := w.Ingest(r); err != nil {
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected
}

func (w *Window) evictLocked() {
	n := len(w.readings)
	if n == 0 {
		return
	}
	newest := w.readings[n-1].Timestamp
	drop := 0
	for drop < n-1 {
		over := n-drop > w.capacity
		aged := newest.Sub(w.readings[drop].Timestamp) > w.retention
		if !over && !aged {
			break
		}
		drop++
	}
	// Reslicing drops the prefix; the next growing append copies only the
	// live readings, so the backing array stays proportional to the window.
	w.readings = w.readings[drop:]
}

// Snapshot returns a copy of the window's readings, oldest first.
func (w *Window) Snapshot() []models.Reading {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Reading, len(w.readings))
	copy(out, w.readings)
	return out
}

// SnapshotWithRevision returns the readings together with the revision they
// belong to, read under one lock.
func (w *Window) SnapshotWithRevision() ([]models.Reading, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Reading, len(w.readings))
	copy(out, w.readings)
	return out, w.revision
}

// ReadingsBetween returns the retained readings with from <= ts <= to.
func (w *Window) ReadingsBetween(from, to time.Time) ([]models.Reading, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	lo := sort.Search(len(w.readings), func(i int) bool {
		return !w.readings[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(w.readings), func(i int) bool {
		return w.readings[i].Timestamp.After(to)
	})
	if lo >= hi {
		return []models.Reading{}, nil
	}
	out := make([]models.Reading, hi-lo)
	copy(out, w.readings[lo:hi])
	return out, nil
}

// Latest returns the newest reading, if any.
func (w *Window) Latest() (models.Reading, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.readings) == 0 {
		return models.Reading{}, false
	}
	return w.readings[len(w.readings)-1], true
}

// Len returns the number of retained readings.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.readings)
}

// Revision increments on every accepted reading.
func (w *Window) Revision() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revision
}

// Capacity returns the configured count bound.
func (w *Window) Capacity() int { return w.capacity }

// Retention returns the configured age bound.
func (w *Window) Retention() time.Duration { return w.retention }
