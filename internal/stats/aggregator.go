// Package stats keeps per-user, per-UTC-day visit and audio counters.
package stats

import (
	"context"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Counter is the storage behind the aggregator. Add must create the day's
// entry with zero counters when it does not exist yet.
type Counter interface {
	Add(ctx context.Context, userID, day string, visits int64, seconds float64) error
	Get(ctx context.Context, userID, day string) (*models.DailyStatistic, error)
}

// Aggregator records pipeline events into daily statistics
type Aggregator struct {
	counter Counter
	log     *logger.Logger
	now     func() time.Time

	visitsStarted metric.Int64Counter
	audioSeconds  metric.Float64Counter
}

// NewAggregator creates an aggregator over counter
func NewAggregator(counter Counter, log *logger.Logger) *Aggregator {
	meter := otel.Meter("halo/stats")
	visitsStarted, _ := meter.Int64Counter("halo_visits_started",
		metric.WithDescription("Visits that left NOT_STARTED"))
	audioSeconds, _ := meter.Float64Counter("halo_audio_seconds",
		metric.WithDescription("Recorded audio seconds"), metric.WithUnit("s"))

	return &Aggregator{
		counter:       counter,
		log:           log.WithComponent("stats"),
		now:           time.Now,
		visitsStarted: visitsStarted,
		audioSeconds:  audioSeconds,
	}
}

// RecordVisitStarted increments today's visit counter for the user
func (a *Aggregator) RecordVisitStarted(ctx context.Context, userID string) error {
	if err := a.counter.Add(ctx, userID, models.DayOf(a.now()), 1, 0); err != nil {
		return err
	}
	a.visitsStarted.Add(ctx, 1)
	return nil
}

// RecordAudioSeconds adds delta to today's audio counter. Non-positive deltas are ignored.
func (a *Aggregator) RecordAudioSeconds(ctx context.Context, userID string, delta float64) error {
	if delta <= 0 {
		return nil
	}
	if err := a.counter.Add(ctx, userID, models.DayOf(a.now()), 0, delta); err != nil {
		return err
	}
	a.audioSeconds.Add(ctx, delta)
	return nil
}

// Daily returns the user's statistics for day (YYYY-MM-DD). A day without
// activity reports zero counters.
func (a *Aggregator) Daily(ctx context.Context, userID, day string) (*models.DailyStatistic, error) {
	if day == "" {
		day = models.DayOf(a.now())
	}
	return a.counter.Get(ctx, userID, day)
}
