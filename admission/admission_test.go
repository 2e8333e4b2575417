package admission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

func TestAllowWithinQuota(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Allow(ctx, "client-a", TierShort), "request %d", i+1)
	}
}

func TestFiftyFirstRequestRejected(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Allow(ctx, "client-a", TierShort))
	}

	err := c.Allow(ctx, "client-a", TierShort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRateLimited)
}

func TestClientsCountedIndependently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Short = Quota{Limit: 2, Window: time.Second}
	c := NewController(cfg, nil)
	ctx := context.Background()

	require.NoError(t, c.Allow(ctx, "client-a", TierShort))
	require.NoError(t, c.Allow(ctx, "client-a", TierShort))
	assert.ErrorIs(t, c.Allow(ctx, "client-a", TierShort), errors.ErrRateLimited)

	// A different client has its own budget.
	require.NoError(t, c.Allow(ctx, "client-b", TierShort))
}

func TestTiersCountedIndependently(t *testing.T) {
	cfg := Config{
		Short:  Quota{Limit: 1, Window: time.Second},
		Medium: Quota{Limit: 1, Window: time.Second},
		Long:   Quota{Limit: 1, Window: time.Second},
	}
	c := NewController(cfg, nil)
	ctx := context.Background()

	require.NoError(t, c.Allow(ctx, "client-a", TierShort))
	assert.ErrorIs(t, c.Allow(ctx, "client-a", TierShort), errors.ErrRateLimited)

	// Exhausting short must not consume the medium or long budget.
	require.NoError(t, c.Allow(ctx, "client-a", TierMedium))
	require.NoError(t, c.Allow(ctx, "client-a", TierLong))
}

func TestWindowRollover(t *testing.T) {
	counters := NewMemoryCounters()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counters.now = func() time.Time { return now }

	cfg := DefaultConfig()
	cfg.Short = Quota{Limit: 1, Window: time.Second}
	c := NewController(cfg, counters)
	ctx := context.Background()

	require.NoError(t, c.Allow(ctx, "client-a", TierShort))
	assert.ErrorIs(t, c.Allow(ctx, "client-a", TierShort), errors.ErrRateLimited)

	// Next fixed window: the counter resets.
	now = now.Add(time.Second)
	require.NoError(t, c.Allow(ctx, "client-a", TierShort))
}

func TestUnknownTier(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	err := c.Allow(context.Background(), "client-a", Tier("bogus"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestMemoryCountersSweepExpiredEntries(t *testing.T) {
	m := NewMemoryCounters()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < pruneThreshold+1; i++ {
		_, err := m.Incr(ctx, fmt.Sprintf("client-%d:short", i), time.Second)
		require.NoError(t, err)
	}

	// Roll past every window; the next access over the threshold sweeps
	// the stale keys instead of growing the map forever.
	now = now.Add(2 * time.Second)
	_, err := m.Incr(ctx, "fresh:short", time.Second)
	require.NoError(t, err)

	m.mu.Lock()
	size := len(m.entries)
	m.mu.Unlock()
	assert.Equal(t, 1, size)
}

type brokenCounters struct{}

func (brokenCounters) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.ErrStorageUnavailable
}

func TestFailsOpenOnCounterStoreError(t *testing.T) {
	c := NewController(DefaultConfig(), brokenCounters{})
	assert.NoError(t, c.Allow(context.Background(), "client-a", TierShort))
}
