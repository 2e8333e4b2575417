// Package storetest provides a reusable conformance suite run against every
// storage.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Factory builds a fresh empty store for one subtest.
type Factory func(t *testing.T) storage.Store

func sample(deviceID string, ts time.Time, value float64) telemetry.Sample {
	return telemetry.Sample{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Category:   "power",
		Value:      value,
		Status:     true,
		Timestamp:  ts,
		ReceivedAt: ts.Add(time.Second),
	}
}

// Run exercises the storage.Store contract against the given factory.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("append and find all", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(time.Duration(i)*time.Minute), float64(i))))
		}

		got, err := s.Find(ctx, storage.Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 5)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("filter by device", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, sample("dev-001", base, 1)))
		require.NoError(t, s.Append(ctx, sample("dev-002", base, 2)))
		require.NoError(t, s.Append(ctx, sample("dev-002", base.Add(time.Minute), 3)))

		got, err := s.Find(ctx, storage.Filter{DeviceIDs: []string{"dev-002"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, sm := range got {
			assert.Equal(t, "dev-002", sm.DeviceID)
		}
	})

	t.Run("filter by time window matches either timestamp", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		// Reading taken long before the window but received inside it.
		late := sample("dev-001", base.Add(-48*time.Hour), 1)
		late.ReceivedAt = base.Add(time.Minute)
		require.NoError(t, s.Append(ctx, late))

		// Entirely outside the window.
		require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(-24*time.Hour), 2)))

		// Inside the window.
		require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(time.Minute), 3)))

		start := base
		end := base.Add(time.Hour)
		got, err := s.Find(ctx, storage.Filter{Start: &start, End: &end})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("open-ended bounds", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, sample("dev-001", base, 1)))
		require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(2*time.Hour), 2)))

		start := base.Add(time.Hour)
		got, err := s.Find(ctx, storage.Filter{Start: &start})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		end := base.Add(time.Hour)
		got, err = s.Find(ctx, storage.Filter{End: &end})
		require.NoError(t, err)
		// The early sample matches on its reading timestamp; its receivedAt
		// is also below the end bound.
		assert.Len(t, got, 1)
	})

	t.Run("delete older than", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(-40*24*time.Hour), 1)))
		require.NoError(t, s.Append(ctx, sample("dev-001", base.Add(-10*24*time.Hour), 2)))

		deleted, err := s.DeleteOlderThan(ctx, base.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// Sweep again: nothing left below the cutoff.
		deleted, err = s.DeleteOlderThan(ctx, base.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})

	t.Run("cutoff boundary is exclusive", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		cutoff := base
		require.NoError(t, s.Append(ctx, sample("dev-001", cutoff, 1)))

		deleted, err := s.DeleteOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 0, deleted, "sample exactly at cutoff must survive")
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		const writers = 8
		const perWriter = 25
		errCh := make(chan error, writers)
		for w := 0; w < writers; w++ {
			go func(w int) {
				var firstErr error
				for i := 0; i < perWriter; i++ {
					ts := base.Add(time.Duration(w*perWriter+i) * time.Second)
					if err := s.Append(ctx, sample(fmt.Sprintf("dev-%03d", w), ts, 1)); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				errCh <- firstErr
			}(w)
		}
		for w := 0; w < writers; w++ {
			require.NoError(t, <-errCh)
		}

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, writers*perWriter, n)
	})
}
