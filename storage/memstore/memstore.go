// Package memstore provides an in-memory sample store for tests and
// single-node development. Safe for concurrent use.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	samples []telemetry.Sample
	closed  bool
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Append implements storage.Store.
func (s *Store) Append(ctx context.Context, sample telemetry.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.samples = append(s.samples, sample)
	return nil
}

// Find implements storage.Store.
func (s *Store) Find(ctx context.Context, filter storage.Filter) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	out := make([]telemetry.Sample, 0)
	for _, sample := range s.samples {
		if filter.Match(sample) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// DeleteOlderThan implements storage.Store.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}

	kept := s.samples[:0]
	deleted := 0
	for _, sample := range s.samples {
		if sample.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, sample)
	}
	s.samples = kept
	return deleted, nil
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return len(s.samples), nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.samples = nil
	return nil
}
