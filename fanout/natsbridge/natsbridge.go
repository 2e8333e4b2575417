// Package natsbridge republishes fan-out samples onto NATS subjects so other
// services can consume the live telemetry stream. Publishing is best-effort:
// a failed publish is logged and counted, never surfaced to ingestion.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
)

// SubjectPrefix is prepended to the device ID to form the publish subject,
// e.g. telemetry.sample.plug-kitchen.
const SubjectPrefix = "telemetry.sample."

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Bridge forwards samples from a broadcaster subscription to NATS.
type Bridge struct {
	broadcaster *fanout.Broadcaster
	publisher   Publisher
	logger      *slog.Logger

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
	sub         *fanout.Subscription

	metrics *bridgeMetrics
}

type bridgeMetrics struct {
	published prometheus.Counter
	failed    prometheus.Counter
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics registers bridge metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(b *Bridge) {
		if registry == nil {
			return
		}
		m := &bridgeMetrics{
			published: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "natsbridge",
				Name: "published_total", Help: "Samples published to NATS",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "natsbridge",
				Name: "failed_total", Help: "Samples that failed to publish",
			}),
		}
		registry.MustRegister(m.published, m.failed)
		b.metrics = m
	}
}

// New creates a bridge over the given broadcaster and publisher.
func New(broadcaster *fanout.Broadcaster, publisher Publisher, opts ...Option) (*Bridge, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "natsbridge", "New", "nil publisher")
	}
	b := &Bridge{
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start subscribes to the broadcaster and launches the forwarding loop.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.ErrAlreadyStarted
	}

	b.shutdown = make(chan struct{})
	b.done = make(chan struct{})
	b.sub = b.broadcaster.Subscribe("natsbridge")
	b.running = true

	go b.forward(ctx)
	return nil
}

// Stop detaches from the broadcaster and waits for the loop to drain.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return nil
	}
	b.running = false

	close(b.shutdown)
	b.broadcaster.Unsubscribe(b.sub)

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "natsbridge", "Stop", "forward loop did not exit")
	}
}

func (b *Bridge) forward(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case sample, ok := <-b.sub.Samples():
			if !ok {
				return
			}
			subject := SubjectPrefix + sample.DeviceID
			payload, err := json.Marshal(sample)
			if err != nil {
				b.countFailure()
				b.logger.Error("failed to marshal sample for NATS",
					"sample_id", sample.ID, "error", err)
				continue
			}
			if err := b.publisher.Publish(subject, payload); err != nil {
				b.countFailure()
				b.logger.Warn("failed to publish sample to NATS",
					"subject", subject, "sample_id", sample.ID, "error", err)
				continue
			}
			if b.metrics != nil {
				b.metrics.published.Inc()
			}
		}
	}
}

func (b *Bridge) countFailure() {
	if b.metrics != nil {
		b.metrics.failed.Inc()
	}
}

// Connect dials NATS with sane reconnect settings for a long-lived bridge.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsbridge", "Connect",
			fmt.Sprintf("dial %s", url))
	}
	return conn, nil
}
