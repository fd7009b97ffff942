// Package service wires the prediction engine to its collaborators: the
// SQLite store, the notification monitor, Telegram, the official-weather
// client and telemetry. Transports (HTTP, Telegram commands, the scheduler)
// talk to the engine only through a Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/skywatch/internal/calibrate"
	"github.com/rewired-gh/skywatch/internal/engine"
	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/monitor"
	"github.com/rewired-gh/skywatch/internal/openweather"
	"github.com/rewired-gh/skywatch/internal/telemetry"
)

var (
	// ErrNoReadings is returned when an operation needs at least one reading.
	ErrNoReadings = errors.New("no readings ingested yet")
	// ErrOfficialUnavailable is returned when no official-weather source is configured.
	ErrOfficialUnavailable = errors.New("official weather comparison is not configured")
	// ErrCalibrationDisabled is returned when recalibration is requested but turned off.
	ErrCalibrationDisabled = errors.New("calibration is disabled")
)

// Store is the persistence the service needs.
type Store interface {
	SaveReading(r *models.Reading) error
	ReadingsBetween(from, to time.Time) ([]models.Reading, error)
	Events() ([]models.Event, error)
	RecentEvents(limit int) ([]models.Event, error)
	SavePrediction(p *models.Prediction) error
	Predictions(from, to time.Time) ([]models.Prediction, error)
	PruneReadings(before time.Time) (int64, error)
	PrunePredictions(before time.Time) (int64, error)
}

// Notifier delivers alerts.
type Notifier interface {
	SendPrediction(p models.Prediction) error
	SendCleared(conds []models.Condition) error
	SendError(err error) error
	SendRecovery(failures int) error
}

// OfficialSource provides official current conditions.
type OfficialSource interface {
	FetchCurrent(ctx context.Context) (openweather.Observation, error)
}

// Deps are the collaborators of a Service. Notifier, Official and Metrics are optional.
type Deps struct {
	Engine   *engine.Engine
	Store    Store
	Monitor  *monitor.Monitor
	Notifier Notifier
	Official OfficialSource
	Metrics  *telemetry.Metrics
}

// Options tune the service.
type Options struct {
	// Cooldown suppresses repeated alerts for the same condition.
	Cooldown time.Duration
	// ReadingRetention is how long readings stay in the store.
	ReadingRetention time.Duration
	// PredictionRetention is how long predictions stay in the store.
	PredictionRetention time.Duration
	// Calibrate enables recalibration. When false, detector parameters stay at
	// their configured values; events are still recorded.
	Calibrate bool
	Clock     func() time.Time
}

// RestoreStats summarises a warm start.
type RestoreStats struct {
	Readings         int
	RejectedReadings int
	Events           int
	SkippedEvents    int
}

// Service coordinates the engine and its collaborators. Safe for concurrent use.
type Service struct {
	engine   *engine.Engine
	store    Store
	monitor  *monitor.Monitor
	notifier Notifier
	official OfficialSource
	metrics  *telemetry.Metrics
	opts     Options

	mu       sync.Mutex
	failures int
}

// New creates a service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Engine == nil || deps.Store == nil || deps.Monitor == nil {
		return nil, errors.New("service requires an engine, a store and a monitor")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.ReadingRetention <= 0 {
		opts.ReadingRetention = 30 * 24 * time.Hour
	}
	if opts.PredictionRetention <= 0 {
		opts.PredictionRetention = opts.ReadingRetention
	}
	return &Service{
		engine:   deps.Engine,
		store:    deps.Store,
		monitor:  deps.Monitor,
		notifier: deps.Notifier,
		official: deps.Official,
		metrics:  deps.Metrics,
		opts:     opts,
	}, nil
}

// Engine returns the underlying engine.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Restore warms the window from stored readings and the calibrator from the
// stored event log. With calibration enabled it then recalibrates once so the
// published state reflects every event recorded before the restart.
func (s *Service) Restore(ctx context.Context) (RestoreStats, error) {
	var stats RestoreStats
	from := s.opts.Clock().Add(-s.engine.Window().Retention())
	readings, err := s.store.ReadingsBetween(from, time.Time{})
	if err != nil {
		return stats, fmt.Errorf("failed to load readings: %w", err)
	}
	stats.Readings, stats.RejectedReadings = s.engine.Restore(readings)

	events, err := s.store.Events()
	if err != nil {
		return stats, fmt.Errorf("failed to load events: %w", err)
	}
	stats.Events, stats.SkippedEvents = s.engine.LoadEvents(events)

	if s.opts.Calibrate && stats.Events > 0 {
		if _, err := s.engine.Recalibrate(ctx); err != nil {
			return stats, fmt.Errorf("initial recalibration failed: %w", err)
		}
	}
	return stats, nil
}

// IngestReading validates and appends a reading, then persists it. A
// rejected reading is neither stored nor applied.
func (s *Service) IngestReading(ctx context.Context, r models.Reading) error {
	r.Timestamp = r.Timestamp.UTC()
	if err := s.engine.Ingest(r); err != nil {
		s.metrics.ReadingRejected(ctx, rejectReason(err))
		return err
	}
	s.metrics.ReadingIngested(ctx)
	if err := s.store.SaveReading(&r); err != nil {
		return fmt.Errorf("reading accepted but not persisted: %w", err)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrOutOfOrderReading):
		return "out_of_order"
	case errors.Is(err, models.ErrOutOfRangeReading):
		return "out_of_range"
	default:
		return "other"
	}
}

// TagEvent records a ground-truth tag observed now.
func (s *Service) TagEvent(ctx context.Context, label models.Label, intensity models.Intensity, note string) (models.Event, error) {
	return s.RecordEvent(ctx, models.Event{Label: label, Intensity: intensity, Note: note})
}

// RecordEvent records an event, assigning an ID and timestamp when missing.
// The calibrator persists it through the store.
func (s *Service) RecordEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.opts.Clock()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if err := s.engine.Record(ctx, ev); err != nil {
		return models.Event{}, err
	}
	s.metrics.EventRecorded(ctx, ev.Label)
	logger.Info("Recorded event %s (%s) at %s", ev.ID, ev.Label, ev.Timestamp.Format(time.RFC3339))
	return ev, nil
}

// CurrentPrediction returns the engine's current prediction.
func (s *Service) CurrentPrediction() models.Prediction {
	return s.engine.CurrentPrediction()
}

// RecentEvents returns the newest stored events first.
func (s *Service) RecentEvents(limit int) ([]models.Event, error) {
	return s.store.RecentEvents(limit)
}

// History returns stored predictions with timestamps in [from, to].
func (s *Service) History(from, to time.Time) ([]models.Prediction, error) {
	if !to.IsZero() && to.Before(from) {
		return nil, errors.New("history range end precedes start")
	}
	return s.store.Predictions(from, to)
}

// Recalibrate runs a recalibration synchronously.
func (s *Service) Recalibrate(ctx context.Context) (calibrate.Report, error) {
	if !s.opts.Calibrate {
		return calibrate.Report{}, ErrCalibrationDisabled
	}
	return s.engine.Recalibrate(ctx)
}

// TriggerRecalibration requests a background recalibration. No-op when
// calibration is disabled.
func (s *Service) TriggerRecalibration() {
	if !s.opts.Calibrate {
		return
	}
	s.engine.TriggerRecalibration()
}

// PredictAndNotify produces a prediction, stores it, and alerts on severe
// conditions that pass the monitor.
func (s *Service) PredictAndNotify(ctx context.Context) (models.Prediction, error) {
	p, err := s.engine.Predict(ctx)
	if err != nil {
		return p, err
	}
	s.metrics.PredictionMade(ctx, p)
	logger.Debug("Prediction %s: %s (%.2f, reliable=%v, state v%d)", p.ID, p.Dominant, p.Confidence, p.Reliable, p.StateVersion)

	if err := s.store.SavePrediction(&p); err != nil {
		return p, fmt.Errorf("failed to store prediction: %w", err)
	}

	if s.notifier == nil {
		return p, nil
	}

	if cleared := s.monitor.Cleared(p); len(cleared) > 0 {
		if err := s.notifier.SendCleared(cleared); err != nil {
			logger.Warn("Failed to send all-clear: %v", err)
		}
	}

	alerts := s.monitor.FilterRecentlySent(s.monitor.Select([]models.Prediction{p}), s.opts.Cooldown)
	for _, a := range alerts {
		if err := s.notifier.SendPrediction(a); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
			continue
		}
		s.monitor.RecordNotified([]models.Prediction{a})
		s.metrics.NotificationSent(ctx, a.Dominant)
		logger.Info("Sent %s alert (confidence %.2f)", a.Dominant, a.Confidence)
	}
	return p, nil
}

// RunCycle runs one prediction cycle and reports failure streaks: the first
// failure and the first success after failures are announced.
func (s *Service) RunCycle(ctx context.Context) error {
	_, err := s.PredictAndNotify(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		logger.Error("Prediction cycle failed: %v", err)
		if s.failures == 1 && s.notifier != nil {
			if sendErr := s.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return err
	}
	if s.failures > 0 && s.notifier != nil {
		if sendErr := s.notifier.SendRecovery(s.failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	s.failures = 0
	return nil
}

// Compare grades the latest reading against official current conditions.
// A stale cached observation is used when the upstream fetch fails.
func (s *Service) Compare(ctx context.Context) (openweather.Comparison, error) {
	if s.official == nil {
		return openweather.Comparison{}, ErrOfficialUnavailable
	}
	latest, ok := s.engine.Window().Latest()
	if !ok {
		return openweather.Comparison{}, ErrNoReadings
	}
	obs, err := s.official.FetchCurrent(ctx)
	if err != nil {
		s.metrics.OfficialFetchFailed(ctx)
		if obs.Timestamp.IsZero() {
			return openweather.Comparison{}, err
		}
		logger.Warn("Using cached official weather: %v", err)
	}
	return openweather.Compare(latest, obs), nil
}

// Prune deletes stored readings and predictions past their retention.
func (s *Service) Prune(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.opts.Clock()
	readings, err := s.store.PruneReadings(now.Add(-s.opts.ReadingRetention))
	if err != nil {
		return fmt.Errorf("failed to prune readings: %w", err)
	}
	preds, err := s.store.PrunePredictions(now.Add(-s.opts.PredictionRetention))
	if err != nil {
		return fmt.Errorf("failed to prune predictions: %w", err)
	}
	logger.Debug("Pruned %d readings and %d predictions", readings, preds)
	return nil
}
