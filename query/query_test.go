package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage/memstore"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()

	reg := registry.NewMemory(
		telemetry.Device{DeviceID: "plug-kitchen", Type: "plug", Room: "kitchen"},
		telemetry.Device{DeviceID: "plug-office", Type: "plug", Room: "office"},
		telemetry.Device{DeviceID: "thermo-living", Type: "thermostat", Room: "living room"},
	)
	store := memstore.New()

	samples := []telemetry.Sample{
		{ID: "s-1", DeviceID: "plug-kitchen", Category: "power", Value: 100, Timestamp: baseTime.Add(-3 * time.Hour)},
		{ID: "s-2", DeviceID: "plug-kitchen", Category: "power", Value: 300, Timestamp: baseTime.Add(-1 * time.Hour)},
		{ID: "s-3", DeviceID: "plug-office", Category: "power", Value: 50, Timestamp: baseTime.Add(-2 * time.Hour)},
		{ID: "s-4", DeviceID: "thermo-living", Category: "temperature", Value: 21.5, Timestamp: baseTime.Add(-30 * time.Minute)},
		{ID: "s-5", DeviceID: "plug-kitchen", Category: "energy", Value: 1.2, Timestamp: baseTime.Add(-40 * time.Hour)},
	}
	for i := range samples {
		samples[i].ReceivedAt = samples[i].Timestamp
		require.NoError(t, store.Append(context.Background(), samples[i]))
	}

	engine := NewEngine(store, reg, WithClock(func() time.Time { return baseTime }))
	return engine, store
}

func ids(samples []telemetry.Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.ID
	}
	return out
}

func TestFindSortsNewestFirst(t *testing.T) {
	engine, _ := testEngine(t)

	samples, err := engine.Find(context.Background(), Params{})
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, []string{"s-4", "s-2", "s-3", "s-1", "s-5"}, ids(samples))
}

func TestFindByDevice(t *testing.T) {
	engine, _ := testEngine(t)

	samples, err := engine.Find(context.Background(), Params{DeviceIDs: []string{"plug-office"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-3"}, ids(samples))
}

func TestFindByRoomJoinsRegistry(t *testing.T) {
	engine, _ := testEngine(t)

	samples, err := engine.Find(context.Background(), Params{Room: "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-2", "s-1", "s-5"}, ids(samples))
}

func TestFindByTypeIntersectsDeviceIDs(t *testing.T) {
	engine, _ := testEngine(t)

	samples, err := engine.Find(context.Background(), Params{
		DeviceType: "plug",
		DeviceIDs:  []string{"plug-office", "thermo-living"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-3"}, ids(samples))
}

func TestFindUnmatchedRoomYieldsEmpty(t *testing.T) {
	engine, _ := testEngine(t)

	samples, err := engine.Find(context.Background(), Params{Room: "attic"})
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestFindSwapsInvertedBounds(t *testing.T) {
	engine, _ := testEngine(t)

	start := baseTime.Add(-2*time.Hour - time.Minute)
	end := baseTime

	forward, err := engine.Find(context.Background(), Params{Start: &start, End: &end})
	require.NoError(t, err)
	inverted, err := engine.Find(context.Background(), Params{Start: &end, End: &start})
	require.NoError(t, err)

	require.NotEmpty(t, forward)
	assert.Equal(t, ids(forward), ids(inverted))
}

func TestStatsAggregatesPerCategory(t *testing.T) {
	engine, _ := testEngine(t)

	stats, err := engine.Stats(context.Background(), "plug-kitchen", 24)
	require.NoError(t, err)

	// s-5 is 40h old and outside the window.
	require.Contains(t, stats, "power")
	assert.NotContains(t, stats, "energy")

	power := stats["power"]
	assert.Equal(t, 2, power.Count)
	assert.InDelta(t, 200, power.AvgValue, 1e-9)
	assert.InDelta(t, 100, power.MinValue, 1e-9)
	assert.InDelta(t, 300, power.MaxValue, 1e-9)
	assert.Equal(t, baseTime.Add(-time.Hour), power.LastReading)
}

func TestStatsDefaultsAndBounds(t *testing.T) {
	engine, _ := testEngine(t)

	_, err := engine.Stats(context.Background(), "plug-kitchen", 0)
	assert.NoError(t, err, "zero hours means the default lookback")

	for _, hours := range []int{-1, 169} {
		_, err := engine.Stats(context.Background(), "plug-kitchen", hours)
		assert.Error(t, err, "hours=%d", hours)
	}
}

func TestStatsUnknownDevice(t *testing.T) {
	engine, _ := testEngine(t)

	_, err := engine.Stats(context.Background(), "ghost-1", 24)
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)
}

func TestStatsWiderWindowIncludesOlderSamples(t *testing.T) {
	engine, _ := testEngine(t)

	stats, err := engine.Stats(context.Background(), "plug-kitchen", 48)
	require.NoError(t, err)
	require.Contains(t, stats, "energy")
	assert.Equal(t, 1, stats["energy"].Count)
}
