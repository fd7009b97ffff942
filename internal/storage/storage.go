// Package storage provides SQLite-backed persistence for readings, tagged events,
// and emitted predictions.
//
// The prediction engine keeps its working set in memory; storage exists so a
// restart can warm the window and the event log, so calibration can reconstruct
// history older than the window, and so prediction history survives restarts.
// Timestamps are stored as UTC Unix nanoseconds.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/skywatch/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	ts          INTEGER PRIMARY KEY,
	temperature REAL NOT NULL,
	humidity    REAL NOT NULL,
	pressure    REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	ts         INTEGER NOT NULL,
	label      TEXT NOT NULL,
	intensity  TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	supersedes TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS predictions (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	dominant      TEXT NOT NULL,
	confidence    REAL NOT NULL,
	reliable      INTEGER NOT NULL,
	state_version INTEGER NOT NULL,
	ranked        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_ts ON predictions(ts);
`

// Storage wraps a SQLite database.
type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath. Use ":memory:" for
// an ephemeral database.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping() error {
	return s.db.Ping()
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// bounds converts an inclusive range to nanoseconds, saturating zero times.
func bounds(from, to time.Time) (int64, int64) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = nanos(from)
	}
	if !to.IsZero() {
		hi = nanos(to)
	}
	return lo, hi
}

// SaveReading stores a reading. Readings are keyed by timestamp, so a second
// reading at the same instant is rejected.
func (s *Storage) SaveReading(r *models.Reading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO readings (ts, temperature, humidity, pressure) VALUES (?, ?, ?, ?)`,
		nanos(r.Timestamp), r.Temperature, r.Humidity, r.Pressure,
	)
	if err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// ReadingsBetween returns readings with timestamps in [from, to], oldest
// first. A zero bound is open.
func (s *Storage) ReadingsBetween(from, to time.Time) ([]models.Reading, error) {
	lo, hi := bounds(from, to)
	rows, err := s.db.Query(
		`SELECT ts, temperature, humidity, pressure FROM readings WHERE ts >= ? AND ts <= ? ORDER BY ts`,
		lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		var ts int64
		var r models.Reading
		if err := rows.Scan(&ts, &r.Temperature, &r.Humidity, &r.Pressure); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp = fromNanos(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountReadings returns the number of stored readings.
func (s *Storage) CountReadings() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// PruneReadings deletes readings older than before.
func (s *Storage) PruneReadings(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM readings WHERE ts < ?`, nanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	return res.RowsAffected()
}

// SaveEvent stores a tagged event.
func (s *Storage) SaveEvent(e *models.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO events (id, ts, label, intensity, note, supersedes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nanos(e.Timestamp), string(e.Label), string(e.Intensity), e.Note, e.Supersedes, nanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

const eventColumns = `id, ts, label, intensity, note, supersedes`

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		var e models.Event
		var ts int64
		var label, intensity string
		if err := rows.Scan(&e.ID, &ts, &label, &intensity, &e.Note, &e.Supersedes); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = fromNanos(ts)
		e.Label = models.Label(label)
		e.Intensity = models.Intensity(intensity)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Events returns the full event log ordered by timestamp then ID.
func (s *Storage) Events() ([]models.Event, error) {
	rows, err := s.db.Query(`SELECT ` + eventColumns + ` FROM events ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// RecentEvents returns up to limit events, newest first.
func (s *Storage) RecentEvents(limit int) ([]models.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// SavePrediction stores an emitted prediction.
func (s *Storage) SavePrediction(p *models.Prediction) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}
	ranked, err := json.Marshal(p.Ranked)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO predictions (id, ts, dominant, confidence, reliable, state_version, ranked) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nanos(p.Timestamp), string(p.Dominant), p.Confidence, p.Reliable, p.StateVersion, string(ranked),
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// Predictions returns predictions with timestamps in [from, to], oldest first.
func (s *Storage) Predictions(from, to time.Time) ([]models.Prediction, error) {
	lo, hi := bounds(from, to)
	rows, err := s.db.Query(
		`SELECT id, ts, dominant, confidence, reliable, state_version, ranked
		 FROM predictions WHERE ts >= ? AND ts <= ? ORDER BY ts, id`,
		lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		var p models.Prediction
		var ts int64
		var dominant, ranked string
		if err := rows.Scan(&p.ID, &ts, &dominant, &p.Confidence, &p.Reliable, &p.StateVersion, &ranked); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.Timestamp = fromNanos(ts)
		p.Dominant = models.Condition(dominant)
		if err := json.Unmarshal([]byte(ranked), &p.Ranked); err != nil {
			return nil, fmt.Errorf("failed to decode candidates for %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PrunePredictions deletes predictions older than before.
func (s *Storage) PrunePredictions(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM predictions WHERE ts < ?`, nanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune predictions: %w", err)
	}
	return res.RowsAffected()
}
