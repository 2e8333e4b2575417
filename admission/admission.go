// Package admission provides tiered rate limiting applied before requests
// reach the ingestion and query services. Counters use fixed windows keyed
// per client identity and per tier; each tier resets independently.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
)

// Tier names a rate-limit class.
type Tier string

const (
	// TierShort gates high-frequency single-record ingestion.
	TierShort Tier = "short"
	// TierMedium gates batch ingestion and query/stats calls.
	TierMedium Tier = "medium"
	// TierLong gates administrative operations such as retention sweeps.
	TierLong Tier = "long"
)

// Quota is one tier's request budget per fixed window.
type Quota struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// Config holds the per-tier quotas.
type Config struct {
	Short  Quota `json:"short"`
	Medium Quota `json:"medium"`
	Long   Quota `json:"long"`
}

// DefaultConfig returns the default tier quotas.
func DefaultConfig() Config {
	return Config{
		Short:  Quota{Limit: 50, Window: time.Second},
		Medium: Quota{Limit: 30, Window: 10 * time.Second},
		Long:   Quota{Limit: 5, Window: time.Minute},
	}
}

// CounterStore tracks request counts per fixed window. The in-memory store
// serves a single instance; the Redis store is required once the service
// scales horizontally.
type CounterStore interface {
	// Incr increments the counter for key in the current window and
	// returns the count after the increment. Windows are aligned to
	// multiples of window since the epoch.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Controller gates requests by client identity and tier.
type Controller struct {
	quotas   map[Tier]Quota
	counters CounterStore
	logger   *slog.Logger
	metrics  *controllerMetrics
}

type controllerMetrics struct {
	admitted *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics registers admission counters with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(c *Controller) {
		if registry == nil {
			return
		}
		m := &controllerMetrics{
			admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "admission",
				Name: "admitted_total", Help: "Requests admitted per tier",
			}, []string{"tier"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "admission",
				Name: "rejected_total", Help: "Requests rejected per tier",
			}, []string{"tier"}),
		}
		registry.MustRegister(m.admitted, m.rejected)
		c.metrics = m
	}
}

// NewController creates a controller over the given counter store.
// A nil store falls back to in-memory counters.
func NewController(cfg Config, store CounterStore, opts ...Option) *Controller {
	if store == nil {
		store = NewMemoryCounters()
	}
	c := &Controller{
		quotas: map[Tier]Quota{
			TierShort:  cfg.Short,
			TierMedium: cfg.Medium,
			TierLong:   cfg.Long,
		},
		counters: store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow admits or rejects one request. Exceeding the tier's quota yields a
// wrapped ErrRateLimited; the controller never retries or queues.
func (c *Controller) Allow(ctx context.Context, clientID string, tier Tier) error {
	quota, ok := c.quotas[tier]
	if !ok || quota.Limit <= 0 || quota.Window <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Controller", "Allow", fmt.Sprintf("unknown tier %q", tier))
	}

	key := fmt.Sprintf("admission:%s:%s", tier, clientID)
	count, err := c.counters.Incr(ctx, key, quota.Window)
	if err != nil {
		// A broken counter store must not take ingestion down with it;
		// fail open and surface the problem through logs and metrics.
		c.logger.Warn("admission counter store unavailable, failing open",
			"tier", tier, "client", clientID, "error", err)
		return nil
	}

	if count > int64(quota.Limit) {
		if c.metrics != nil {
			c.metrics.rejected.WithLabelValues(string(tier)).Inc()
		}
		return errors.WrapTransient(errors.ErrRateLimited, "Controller", "Allow",
			fmt.Sprintf("tier %s quota %d/%s exceeded for client %s",
				tier, quota.Limit, quota.Window, clientID))
	}

	if c.metrics != nil {
		c.metrics.admitted.WithLabelValues(string(tier)).Inc()
	}
	return nil
}
