package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rewired-gh/skywatch/internal/models"
)

const meterName = "github.com/rewired-gh/skywatch"

// Metrics records engine activity. A nil *Metrics records nothing.
type Metrics struct {
	readings      metric.Int64Counter
	rejected      metric.Int64Counter
	events        metric.Int64Counter
	predictions   metric.Int64Counter
	confidence    metric.Float64Histogram
	recalibration metric.Int64Counter
	divergences   metric.Int64Counter
	notifications metric.Int64Counter
	upstream      metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.readings, err = meter.Int64Counter("skywatch.readings.ingested",
		metric.WithDescription("Readings accepted into the window")); err != nil {
		return nil, fmt.Errorf("readings counter: %w", err)
	}
	if m.rejected, err = meter.Int64Counter("skywatch.readings.rejected",
		metric.WithDescription("Readings rejected at ingest")); err != nil {
		return nil, fmt.Errorf("rejected counter: %w", err)
	}
	if m.events, err = meter.Int64Counter("skywatch.events.recorded",
		metric.WithDescription("Human-tagged events recorded")); err != nil {
		return nil, fmt.Errorf("events counter: %w", err)
	}
	if m.predictions, err = meter.Int64Counter("skywatch.predictions",
		metric.WithDescription("Predictions produced")); err != nil {
		return nil, fmt.Errorf("predictions counter: %w", err)
	}
	if m.confidence, err = meter.Float64Histogram("skywatch.prediction.confidence",
		metric.WithDescription("Confidence of the dominant condition"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1)); err != nil {
		return nil, fmt.Errorf("confidence histogram: %w", err)
	}
	if m.recalibration, err = meter.Int64Counter("skywatch.calibration.runs",
		metric.WithDescription("Completed recalibrations")); err != nil {
		return nil, fmt.Errorf("recalibration counter: %w", err)
	}
	if m.divergences, err = meter.Int64Counter("skywatch.calibration.divergences",
		metric.WithDescription("Rejected out-of-range parameter updates")); err != nil {
		return nil, fmt.Errorf("divergence counter: %w", err)
	}
	if m.notifications, err = meter.Int64Counter("skywatch.notifications.sent",
		metric.WithDescription("Alerts delivered to Telegram")); err != nil {
		return nil, fmt.Errorf("notification counter: %w", err)
	}
	if m.upstream, err = meter.Int64Counter("skywatch.official.errors",
		metric.WithDescription("Failed official-weather fetches")); err != nil {
		return nil, fmt.Errorf("upstream counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) ReadingIngested(ctx context.Context) {
	if m == nil {
		return
	}
	m.readings.Add(ctx, 1)
}

// ReadingRejected counts a rejection, tagged by reason (out_of_range, out_of_order).
func (m *Metrics) ReadingRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) EventRecorded(ctx context.Context, label models.Label) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("label", string(label))))
}

func (m *Metrics) PredictionMade(ctx context.Context, p models.Prediction) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("condition", string(p.Dominant)),
		attribute.Bool("reliable", p.Reliable),
	)
	m.predictions.Add(ctx, 1, attrs)
	m.confidence.Record(ctx, p.Confidence, attrs)
}

func (m *Metrics) Recalibrated(ctx context.Context, divergences int) {
	if m == nil {
		return
	}
	m.recalibration.Add(ctx, 1)
	if divergences > 0 {
		m.divergences.Add(ctx, int64(divergences))
	}
}

func (m *Metrics) NotificationSent(ctx context.Context, cond models.Condition) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("condition", string(cond))))
}

func (m *Metrics) OfficialFetchFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.upstream.Add(ctx, 1)
}
