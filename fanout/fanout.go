// Package fanout provides the real-time broadcaster that pushes newly
// persisted samples to live subscribers. Publish is enqueue-and-return: a
// stalled subscriber can never delay or fail the ingestion call that
// triggered the publish. Delivery is best-effort with no replay; subscribers
// connected at emission time receive the sample at most once.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Subscription is one live subscriber connection. Created by Subscribe,
// destroyed by Unsubscribe; owns no samples.
type Subscription struct {
	name string
	ch   chan telemetry.Sample
}

// Name returns the subscriber's diagnostic name.
func (s *Subscription) Name() string { return s.name }

// Samples returns the delivery channel. The channel closes on Unsubscribe
// and on broadcaster shutdown.
func (s *Subscription) Samples() <-chan telemetry.Sample { return s.ch }

// Broadcaster fans published samples out to all live subscriptions on one
// logical channel.
type Broadcaster struct {
	queueSize  int
	bufferSize int
	logger     *slog.Logger

	// subsMu guards subs. The dispatcher holds the read lock while
	// delivering, so Unsubscribe may safely close a channel under the
	// write lock.
	subsMu sync.RWMutex
	subs   map[*Subscription]struct{}

	queue chan telemetry.Sample

	// lifecycleMu guards running and the queue close. Publish holds the
	// read lock across its send so Stop cannot close the queue between
	// the running check and the enqueue.
	lifecycleMu sync.RWMutex
	running     bool
	done        chan struct{}

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	metrics *broadcasterMetrics
}

type broadcasterMetrics struct {
	subscribers prometheus.Gauge
	published   prometheus.Counter
	delivered   prometheus.Counter
	dropped     *prometheus.CounterVec
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = logger }
}

// WithMetrics registers fan-out metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(b *Broadcaster) {
		if registry == nil {
			return
		}
		m := &broadcasterMetrics{
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: metric.Namespace, Subsystem: "fanout",
				Name: "subscribers", Help: "Currently connected subscribers",
			}),
			published: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "fanout",
				Name: "published_total", Help: "Samples accepted for fan-out",
			}),
			delivered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "fanout",
				Name: "delivered_total", Help: "Sample deliveries to subscribers",
			}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "fanout",
				Name: "dropped_total", Help: "Deliveries dropped per reason",
			}, []string{"reason"}),
		}
		registry.MustRegister(m.subscribers, m.published, m.delivered, m.dropped)
		b.metrics = m
	}
}

// NewBroadcaster creates a broadcaster. queueSize bounds the publish queue;
// bufferSize bounds each subscription's delivery channel.
func NewBroadcaster(queueSize, bufferSize int, opts ...Option) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &Broadcaster{
		queueSize:  queueSize,
		bufferSize: bufferSize,
		logger:     slog.Default(),
		subs:       make(map[*Subscription]struct{}),
		queue:      make(chan telemetry.Sample, queueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the dispatcher goroutine.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.ErrAlreadyStarted
	}
	b.done = make(chan struct{})
	b.running = true
	go b.dispatch(ctx)
	return nil
}

// Stop drains the publish queue and closes all subscriptions.
func (b *Broadcaster) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	if !b.running {
		b.lifecycleMu.Unlock()
		return nil
	}
	b.running = false
	close(b.queue)
	b.lifecycleMu.Unlock()

	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("fanout dispatcher did not drain within timeout")
	}

	b.subsMu.Lock()
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	if b.metrics != nil {
		b.metrics.subscribers.Set(0)
	}
	b.subsMu.Unlock()
	return nil
}

// Subscribe attaches a new subscriber to the channel.
func (b *Broadcaster) Subscribe(name string) *Subscription {
	sub := &Subscription{
		name: name,
		ch:   make(chan telemetry.Sample, b.bufferSize),
	}

	b.subsMu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.subsMu.Unlock()

	if b.metrics != nil {
		b.metrics.subscribers.Set(float64(count))
	}
	b.logger.Info("fanout subscriber connected", "subscriber", name, "total", count)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// once per subscription.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.subsMu.Lock()
	if _, ok := b.subs[sub]; !ok {
		b.subsMu.Unlock()
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	count := len(b.subs)
	b.subsMu.Unlock()

	if b.metrics != nil {
		b.metrics.subscribers.Set(float64(count))
	}
	b.logger.Info("fanout subscriber disconnected", "subscriber", sub.name, "total", count)
}

// Publish enqueues a sample for fan-out and returns immediately. When the
// queue is full the sample is dropped and counted; ingestion is never
// blocked or failed by fan-out.
func (b *Broadcaster) Publish(sample telemetry.Sample) {
	b.lifecycleMu.RLock()
	defer b.lifecycleMu.RUnlock()
	if !b.running {
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues("not_running").Inc()
		}
		return
	}

	select {
	case b.queue <- sample:
		b.published.Add(1)
		if b.metrics != nil {
			b.metrics.published.Inc()
		}
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues("queue_full").Inc()
		}
		b.logger.Warn("fanout queue full, sample dropped",
			"device", sample.DeviceID, "sample", sample.ID)
	}
}

// Stats returns a snapshot of fan-out counters.
func (b *Broadcaster) Stats() Stats {
	b.subsMu.RLock()
	subscribers := len(b.subs)
	b.subsMu.RUnlock()
	return Stats{
		Subscribers: subscribers,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// dispatch delivers queued samples to every live subscription. Delivery to
// a full subscriber buffer is dropped for that subscriber only.
func (b *Broadcaster) dispatch(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-b.queue:
			if !ok {
				return
			}

			b.subsMu.RLock()
			for sub := range b.subs {
				select {
				case sub.ch <- sample:
					b.delivered.Add(1)
					if b.metrics != nil {
						b.metrics.delivered.Inc()
					}
				default:
					b.dropped.Add(1)
					if b.metrics != nil {
						b.metrics.dropped.WithLabelValues("subscriber_full").Inc()
					}
				}
			}
			b.subsMu.RUnlock()
		}
	}
}
