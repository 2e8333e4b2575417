// Package kafkasink exports fan-out samples to a Kafka topic for downstream
// analytics pipelines. Writes are retried with backoff; a sample that still
// fails after retries is logged and dropped so ingestion never blocks on
// Kafka.
package kafkasink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/pkg/retry"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Writer is the subset of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Writer = (*kafka.Writer)(nil)

// Sink forwards samples from a broadcaster subscription to Kafka. Messages
// are keyed by device ID so a device's samples land on one partition in
// order.
type Sink struct {
	broadcaster *fanout.Broadcaster
	writer      Writer
	logger      *slog.Logger
	retryCfg    retry.Config

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
	sub         *fanout.Subscription

	metrics *sinkMetrics
}

type sinkMetrics struct {
	written prometheus.Counter
	dropped prometheus.Counter
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the sink's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithRetryConfig overrides the write retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Sink) { s.retryCfg = cfg }
}

// WithMetrics registers sink metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Sink) {
		if registry == nil {
			return
		}
		m := &sinkMetrics{
			written: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "kafkasink",
				Name: "written_total", Help: "Samples written to Kafka",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "kafkasink",
				Name: "dropped_total", Help: "Samples dropped after retries",
			}),
		}
		registry.MustRegister(m.written, m.dropped)
		s.metrics = m
	}
}

// NewWriter builds a kafka.Writer for the given brokers and topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
}

// New creates a sink over the given broadcaster and writer.
func New(broadcaster *fanout.Broadcaster, writer Writer, opts ...Option) (*Sink, error) {
	if writer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "kafkasink", "New", "nil writer")
	}
	s := &Sink{
		broadcaster: broadcaster,
		writer:      writer,
		logger:      slog.Default(),
		retryCfg:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start subscribes to the broadcaster and launches the export loop.
func (s *Sink) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.ErrAlreadyStarted
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.sub = s.broadcaster.Subscribe("kafkasink")
	s.running = true

	go s.export(ctx)
	return nil
}

// Stop detaches from the broadcaster, drains the loop and closes the writer.
func (s *Sink) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	close(s.shutdown)
	s.broadcaster.Unsubscribe(s.sub)

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "kafkasink", "Stop", "export loop did not exit")
	}
	return s.writer.Close()
}

func (s *Sink) export(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case sample, ok := <-s.sub.Samples():
			if !ok {
				return
			}
			s.write(ctx, sample)
		}
	}
}

func (s *Sink) write(ctx context.Context, sample telemetry.Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		s.drop(sample.ID, err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(sample.DeviceID),
		Value: payload,
		Time:  sample.Timestamp,
	}

	err = retry.Do(ctx, s.retryCfg, func() error {
		return s.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		s.drop(sample.ID, err)
		return
	}
	if s.metrics != nil {
		s.metrics.written.Inc()
	}
}

func (s *Sink) drop(sampleID string, err error) {
	if s.metrics != nil {
		s.metrics.dropped.Inc()
	}
	s.logger.Warn("dropping sample from Kafka export", "sample_id", sampleID, "error", err)
}
