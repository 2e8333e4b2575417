package energy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/storage/memstore"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

func seedStore(t *testing.T, samples ...telemetry.Sample) *memstore.Store {
	t.Helper()
	store := memstore.New()
	for i, s := range samples {
		if s.Category == "" {
			s.Category = PowerCategory
		}
		if s.ReceivedAt.IsZero() {
			s.ReceivedAt = s.Timestamp
		}
		if s.ID == "" {
			s.ID = time.Now().Format("150405.000") + string(rune('a'+i))
		}
		require.NoError(t, store.Append(context.Background(), s))
	}
	return store
}

func at(day, clock string) time.Time {
	ts, err := time.Parse(time.RFC3339, day+"T"+clock+":00Z")
	if err != nil {
		panic(err)
	}
	return ts
}

func TestWindowTotalLeftHeldIntegration(t *testing.T) {
	// 100W held 00:00-00:30 plus 200W held 00:30-01:00 is 150 Wh.
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
		telemetry.Sample{DeviceID: "dev-001", Value: 200, Timestamp: at("2026-03-01", "00:30")},
	)
	in := NewIntegrator(store, time.UTC)

	report, err := in.WindowTotal(context.Background(), Window{
		Start: at("2026-03-01", "00:00"),
		End:   at("2026-03-01", "01:00"),
	})
	require.NoError(t, err)
	assert.InDelta(t, 150, report.TotalWh, 1e-9)
	assert.InDelta(t, 0.15, report.TotalKWh(), 1e-9)
	assert.InDelta(t, 150, report.PerDeviceWh["dev-001"], 1e-9)
}

func TestWindowTotalSumsAcrossDevices(t *testing.T) {
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
		telemetry.Sample{DeviceID: "dev-002", Value: 50, Timestamp: at("2026-03-01", "00:00")},
	)
	in := NewIntegrator(store, time.UTC)

	report, err := in.WindowTotal(context.Background(), Window{
		Start: at("2026-03-01", "00:00"),
		End:   at("2026-03-01", "02:00"),
	})
	require.NoError(t, err)
	assert.InDelta(t, 300, report.TotalWh, 1e-9)
	assert.InDelta(t, 200, report.PerDeviceWh["dev-001"], 1e-9)
	assert.InDelta(t, 100, report.PerDeviceWh["dev-002"], 1e-9)
}

func TestWindowTotalFiltersDeviceAndCategory(t *testing.T) {
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
		telemetry.Sample{DeviceID: "dev-002", Value: 900, Timestamp: at("2026-03-01", "00:00")},
		telemetry.Sample{DeviceID: "dev-001", Category: "temperature", Value: 21, Timestamp: at("2026-03-01", "00:10")},
	)
	in := NewIntegrator(store, time.UTC)

	report, err := in.WindowTotal(context.Background(), Window{
		Start:     at("2026-03-01", "00:00"),
		End:       at("2026-03-01", "01:00"),
		DeviceIDs: []string{"dev-001"},
	})
	require.NoError(t, err)
	// The temperature reading must not split dev-001's power hold.
	assert.InDelta(t, 100, report.TotalWh, 1e-9)
	assert.NotContains(t, report.PerDeviceWh, "dev-002")
}

func TestWindowTotalSwapsInvertedBounds(t *testing.T) {
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
	)
	in := NewIntegrator(store, time.UTC)

	report, err := in.WindowTotal(context.Background(), Window{
		Start: at("2026-03-01", "01:00"),
		End:   at("2026-03-01", "00:00"),
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, report.TotalWh, 1e-9)
}

func TestWindowTotalRejectsEmptyWindow(t *testing.T) {
	in := NewIntegrator(memstore.New(), time.UTC)

	_, err := in.WindowTotal(context.Background(), Window{
		Start: at("2026-03-01", "00:00"),
		End:   at("2026-03-01", "00:00"),
	})
	assert.Error(t, err)
}

func TestWindowTotalIdempotent(t *testing.T) {
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 123.4, Timestamp: at("2026-03-01", "03:17")},
		telemetry.Sample{DeviceID: "dev-001", Value: 56.7, Timestamp: at("2026-03-01", "09:41")},
	)
	in := NewIntegrator(store, time.UTC)
	w := Window{Start: at("2026-03-01", "00:00"), End: at("2026-03-02", "00:00")}

	first, err := in.WindowTotal(context.Background(), w)
	require.NoError(t, err)
	second, err := in.WindowTotal(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, first.TotalWh, second.TotalWh)
}

func TestDailyBucketsZeroSampleDaysPresent(t *testing.T) {
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
	)
	in := NewIntegrator(store, time.UTC)

	buckets, err := in.DailyBuckets(context.Background(),
		at("2026-03-01", "00:00"), at("2026-03-03", "00:00"), nil)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.InDelta(t, 2400, buckets[0].EnergyWh, 1e-9)
	assert.Zero(t, buckets[1].EnergyWh)
	assert.Zero(t, buckets[2].EnergyWh)
	assert.Equal(t, at("2026-03-02", "00:00"), buckets[1].PeriodStart)
}

func TestDailyBucketsTileToWindowTotal(t *testing.T) {
	// Readings at each day boundary so holds never straddle midnight.
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "00:00")},
		telemetry.Sample{DeviceID: "dev-001", Value: 250, Timestamp: at("2026-03-01", "18:00")},
		telemetry.Sample{DeviceID: "dev-001", Value: 80, Timestamp: at("2026-03-02", "00:00")},
		telemetry.Sample{DeviceID: "dev-002", Value: 40, Timestamp: at("2026-03-02", "00:00")},
		telemetry.Sample{DeviceID: "dev-002", Value: 75, Timestamp: at("2026-03-02", "12:00")},
	)
	in := NewIntegrator(store, time.UTC)

	report, err := in.WindowTotal(context.Background(), Window{
		Start: at("2026-03-01", "00:00"),
		End:   at("2026-03-03", "00:00"),
	})
	require.NoError(t, err)

	buckets, err := in.DailyBuckets(context.Background(),
		at("2026-03-01", "00:00"), at("2026-03-02", "00:00"), nil)
	require.NoError(t, err)

	var sum float64
	for _, b := range buckets {
		sum += b.EnergyWh
	}
	assert.InDelta(t, report.TotalWh, sum, 1e-6)
}

func TestDailyBucketsUseConfiguredTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	// 23:30 UTC on March 1st is already March 2nd in Amsterdam (UTC+1).
	store := seedStore(t,
		telemetry.Sample{DeviceID: "dev-001", Value: 100, Timestamp: at("2026-03-01", "23:30")},
	)
	in := NewIntegrator(store, loc)

	buckets, err := in.DailyBuckets(context.Background(),
		time.Date(2026, 3, 1, 12, 0, 0, 0, loc),
		time.Date(2026, 3, 2, 12, 0, 0, 0, loc), nil)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Zero(t, buckets[0].EnergyWh)
	// Held from 00:30 local to next midnight local: 23.5h at 100W.
	assert.InDelta(t, 2350, buckets[1].EnergyWh, 1e-9)
}
