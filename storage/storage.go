// Package storage provides the pluggable backend interface for sample
// persistence.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// ErrClosed is returned by operations against a closed store.
var ErrClosed = errors.New("store closed")

// Filter selects samples for retrieval. Zero-value fields are open-ended.
//
// A sample matches a time bound when either its reading timestamp or its
// receivedAt falls inside [Start, End]. Devices that buffer readings offline
// and flush late would otherwise vanish from "recent" queries.
type Filter struct {
	// DeviceIDs restricts results to the given devices. Empty means all.
	DeviceIDs []string

	// Start and End bound the match window. Nil means unbounded on that side.
	Start *time.Time
	End   *time.Time
}

// MatchTime reports whether t or received satisfies the filter's bounds.
func (f Filter) MatchTime(t, received time.Time) bool {
	return f.inRange(t) || f.inRange(received)
}

func (f Filter) inRange(t time.Time) bool {
	if f.Start != nil && t.Before(*f.Start) {
		return false
	}
	if f.End != nil && t.After(*f.End) {
		return false
	}
	return true
}

// MatchDevice reports whether the device id passes the filter.
func (f Filter) MatchDevice(deviceID string) bool {
	if len(f.DeviceIDs) == 0 {
		return true
	}
	for _, id := range f.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Match reports whether a sample satisfies the whole filter.
func (f Filter) Match(s telemetry.Sample) bool {
	return f.MatchDevice(s.DeviceID) && f.MatchTime(s.Timestamp, s.ReceivedAt)
}

// Store is the pluggable backend interface for sample persistence.
//
// Samples are append-only: written once at ingestion, removed only by the
// retention sweeper. All implementations must be safe for concurrent use
// from multiple goroutines; the store provides its own concurrency control
// rather than relying on callers to serialize access.
//
// Implementations:
//   - memstore.Store: in-memory backend for tests and development
//   - badgerstore.Store: embedded durable backend on BadgerDB
type Store interface {
	// Append persists one sample. The sample carries its server-assigned
	// id and receivedAt; Append never mutates it.
	Append(ctx context.Context, sample telemetry.Sample) error

	// Find returns all samples matching the filter, in no particular
	// order. Callers sort for presentation.
	Find(ctx context.Context, filter Filter) ([]telemetry.Sample, error)

	// DeleteOlderThan removes samples whose reading timestamp is strictly
	// before cutoff and returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of stored samples.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
