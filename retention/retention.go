// Package retention deletes samples past their useful age. The sweep is
// destructive, so out-of-range retention input fails loudly instead of being
// clamped.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
)

// Retention bounds, in days.
const (
	MinDays = 1
	MaxDays = 365
)

// Sweeper removes samples older than a retention threshold. Safe for
// concurrent use.
type Sweeper struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	metrics *sweeperMetrics
}

type sweeperMetrics struct {
	deleted prometheus.Counter
	sweeps  prometheus.Counter
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the sweeper's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithClock overrides the cutoff clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics registers sweep metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Sweeper) {
		if registry == nil {
			return
		}
		m := &sweeperMetrics{
			deleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "retention",
				Name: "deleted_total", Help: "Samples deleted by sweeps",
			}),
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "retention",
				Name: "sweeps_total", Help: "Completed sweeps",
			}),
		}
		registry.MustRegister(m.deleted, m.sweeps)
		s.metrics = m
	}
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store storage.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes samples whose reading timestamp is strictly older than
// now minus daysToKeep days and returns the number deleted. daysToKeep
// outside [1, 365] is rejected, never clamped.
func (s *Sweeper) Sweep(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep < MinDays || daysToKeep > MaxDays {
		return 0, errors.WrapInvalid(errors.ErrInvalidRetention, "retention", "Sweep",
			fmt.Sprintf("daysToKeep %d outside [%d, %d]", daysToKeep, MinDays, MaxDays))
	}

	cutoff := s.now().UTC().AddDate(0, 0, -daysToKeep)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, errors.WrapTransient(err, "retention", "Sweep", "store delete")
	}

	if s.metrics != nil {
		s.metrics.deleted.Add(float64(deleted))
		s.metrics.sweeps.Inc()
	}
	s.logger.Info("retention sweep completed",
		"days_to_keep", daysToKeep,
		"cutoff", cutoff.Format(time.RFC3339),
		"deleted", deleted)
	return deleted, nil
}

// Run sweeps on the given interval until the context is cancelled. Errors
// are logged; the loop keeps going.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, daysToKeep int) error {
	if daysToKeep < MinDays || daysToKeep > MaxDays {
		return errors.WrapInvalid(errors.ErrInvalidRetention, "retention", "Run",
			fmt.Sprintf("daysToKeep %d outside [%d, %d]", daysToKeep, MinDays, MaxDays))
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx, daysToKeep); err != nil {
				s.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}
