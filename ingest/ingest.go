// Package ingest implements the write path: validation, device-registry
// admission, server-side stamping, persistence and fan-out. A record becomes
// a sample only here; nothing else in the system writes to the store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/pkg/worker"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Publisher receives every successfully persisted sample. Publish must not
// block; the broadcaster satisfies this.
type Publisher interface {
	Publish(sample telemetry.Sample)
}

// RecordFailure describes one record that validated and resolved but could
// not be persisted.
type RecordFailure struct {
	DeviceID string `json:"deviceId"`
	Error    string `json:"error"`
}

// BatchResult summarizes a batch ingestion. A batch that persists at least
// one record succeeds even when others were dropped or failed.
type BatchResult struct {
	Inserted       int             `json:"inserted"`
	DroppedUnknown []string        `json:"droppedUnknown,omitempty"`
	Failures       []RecordFailure `json:"failures,omitempty"`
}

type batchItem struct {
	sample telemetry.Sample
	report func(sample telemetry.Sample, err error)
}

// Service is the ingestion pipeline. All methods are safe for concurrent
// use.
type Service struct {
	store     storage.Store
	devices   registry.DeviceLookup
	publisher Publisher
	logger    *slog.Logger
	pool      *worker.Pool[batchItem]
	now       func() time.Time

	metrics *serviceMetrics
}

type serviceMetrics struct {
	ingested prometheus.Counter
	rejected *prometheus.CounterVec
	batches  prometheus.Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the receivedAt clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics registers ingestion metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Service) {
		if registry == nil {
			return
		}
		m := &serviceMetrics{
			ingested: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "ingest",
				Name: "samples_total", Help: "Samples persisted",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "ingest",
				Name: "rejected_total", Help: "Records rejected per reason",
			}, []string{"reason"}),
			batches: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: metric.Namespace, Subsystem: "ingest",
				Name:    "batch_size",
				Help:    "Accepted batch sizes",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			}),
		}
		registry.MustRegister(m.ingested, m.rejected, m.batches)
		s.metrics = m
	}
}

// NewService creates the ingestion service. The worker pool handles batch
// inserts; single-record ingestion runs inline.
func NewService(store storage.Store, devices registry.DeviceLookup, publisher Publisher, workers, queueSize int, opts ...Option) *Service {
	s := &Service{
		store:     store,
		devices:   devices,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewPool(workers, queueSize, s.processItem)
	return s
}

// Start launches the batch worker pool.
func (s *Service) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Stop drains in-flight batch work.
func (s *Service) Stop(timeout time.Duration) error {
	return s.pool.Stop(timeout)
}

// IngestOne validates and persists a single record, returning the stamped
// sample.
func (s *Service) IngestOne(ctx context.Context, input telemetry.Input) (telemetry.Sample, error) {
	if err := telemetry.ValidateInput(input); err != nil {
		s.countRejection("invalid")
		return telemetry.Sample{}, err
	}

	known, err := s.devices.Exists(ctx, input.DeviceID)
	if err != nil {
		return telemetry.Sample{}, errors.WrapTransient(err, "ingest", "IngestOne", "registry lookup")
	}
	if !known {
		s.countRejection("unknown_device")
		return telemetry.Sample{}, errors.WrapInvalid(errors.ErrUnknownDevice, "ingest", "IngestOne",
			fmt.Sprintf("device %q", input.DeviceID))
	}

	sample := s.stamp(input)
	if err := s.store.Append(ctx, sample); err != nil {
		s.countRejection("storage")
		return telemetry.Sample{}, errors.WrapTransient(errors.ErrStorageUnavailable, "ingest", "IngestOne", err.Error())
	}
	s.countIngested(1)
	s.publish(sample)
	return sample, nil
}

// IngestBatch ingests up to MaxBatchSize records. Any malformed record
// rejects the whole batch before anything is persisted. Records for unknown
// devices are dropped with a warning; the rest are inserted concurrently in
// no particular order. Per-record insert failures are collected into the
// result and reported as a partial-failure error while the successful
// records stay persisted.
func (s *Service) IngestBatch(ctx context.Context, inputs []telemetry.Input) (BatchResult, error) {
	if len(inputs) == 0 {
		s.countRejection("empty_batch")
		return BatchResult{}, errors.ErrEmptyBatch
	}
	if len(inputs) > telemetry.MaxBatchSize {
		s.countRejection("batch_too_large")
		return BatchResult{}, errors.WrapInvalid(errors.ErrBatchTooLarge, "ingest", "IngestBatch",
			fmt.Sprintf("%d records, limit %d", len(inputs), telemetry.MaxBatchSize))
	}
	if err := telemetry.ValidateBatch(inputs); err != nil {
		s.countRejection("invalid")
		return BatchResult{}, err
	}

	accepted, dropped, err := s.filterKnown(ctx, inputs)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{DroppedUnknown: dropped}
	if len(accepted) == 0 {
		s.countRejection("no_valid_records")
		return result, errors.ErrNoValidRecords
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []RecordFailure
		inserted int
	)
	report := func(sample telemetry.Sample, err error) {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures = append(failures, RecordFailure{DeviceID: sample.DeviceID, Error: err.Error()})
			return
		}
		inserted++
	}

	for _, input := range accepted {
		item := batchItem{sample: s.stamp(input), report: report}
		wg.Add(1)
		if err := s.pool.Submit(item); err != nil {
			// Pool saturated or not running; insert inline rather
			// than losing the record.
			s.processItem(ctx, item)
		}
	}
	wg.Wait()

	result.Inserted = inserted
	result.Failures = failures
	s.countIngested(inserted)
	if s.metrics != nil {
		s.metrics.batches.Observe(float64(len(accepted)))
	}

	if len(failures) > 0 {
		return result, errors.WrapTransient(errors.ErrPartialBatchFailure, "ingest", "IngestBatch",
			fmt.Sprintf("%d of %d records", len(failures), len(accepted)))
	}
	return result, nil
}

// filterKnown partitions inputs by registry membership. Unknown devices are
// logged and dropped, not fatal to the batch.
func (s *Service) filterKnown(ctx context.Context, inputs []telemetry.Input) (accepted []telemetry.Input, dropped []string, err error) {
	ids := make([]string, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		if _, ok := seen[input.DeviceID]; !ok {
			seen[input.DeviceID] = struct{}{}
			ids = append(ids, input.DeviceID)
		}
	}

	found, err := s.devices.FindMany(ctx, ids)
	if err != nil {
		return nil, nil, errors.WrapTransient(err, "ingest", "IngestBatch", "registry lookup")
	}
	known := make(map[string]struct{}, len(found))
	for _, device := range found {
		known[device.DeviceID] = struct{}{}
	}

	droppedSet := make(map[string]struct{})
	for _, input := range inputs {
		if _, ok := known[input.DeviceID]; ok {
			accepted = append(accepted, input)
			continue
		}
		if _, logged := droppedSet[input.DeviceID]; !logged {
			droppedSet[input.DeviceID] = struct{}{}
			dropped = append(dropped, input.DeviceID)
			s.countRejection("unknown_device")
			s.logger.Warn("dropping batch records for unregistered device", "device_id", input.DeviceID)
		}
	}
	return accepted, dropped, nil
}

func (s *Service) processItem(ctx context.Context, item batchItem) error {
	err := s.store.Append(ctx, item.sample)
	if err == nil {
		s.publish(item.sample)
	}
	item.report(item.sample, err)
	return err
}

// stamp assigns the server-side identity and arrival time.
func (s *Service) stamp(input telemetry.Input) telemetry.Sample {
	return telemetry.Sample{
		ID:         uuid.NewString(),
		DeviceID:   input.DeviceID,
		Category:   input.Category,
		Value:      input.Value,
		Status:     input.Status,
		Timestamp:  input.Timestamp.UTC(),
		ReceivedAt: s.now().UTC(),
	}
}

func (s *Service) publish(sample telemetry.Sample) {
	if s.publisher != nil {
		s.publisher.Publish(sample)
	}
}

func (s *Service) countIngested(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.ingested.Add(float64(n))
	}
}

func (s *Service) countRejection(reason string) {
	if s.metrics != nil {
		s.metrics.rejected.WithLabelValues(reason).Inc()
	}
}
