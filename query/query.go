// Package query implements the read path over the sample store, joining the
// device registry for type and room filters and computing per-device
// statistics.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Stats lookback bounds, in hours.
const (
	MinStatsHours     = 1
	MaxStatsHours     = 168
	DefaultStatsHours = 24
)

// Params describe a sample query. Device ids, type and room combine
// conjunctively; inverted time bounds are swapped, not rejected.
type Params struct {
	DeviceIDs  []string
	DeviceType string
	Room       string
	Start      *time.Time
	End        *time.Time
}

// Engine answers sample queries. Safe for concurrent use.
type Engine struct {
	store   storage.Store
	devices registry.DeviceLookup
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the stats lookback clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a query engine over the given store and registry.
func NewEngine(store storage.Store, devices registry.DeviceLookup, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		devices: devices,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Find returns samples matching the params, newest reading first. A type or
// room filter that matches no registered device yields an empty result
// without touching the store.
func (e *Engine) Find(ctx context.Context, params Params) ([]telemetry.Sample, error) {
	deviceIDs, empty, err := e.resolveDevices(ctx, params)
	if err != nil {
		return nil, err
	}
	if empty {
		return []telemetry.Sample{}, nil
	}

	start, end := normalizeBounds(params.Start, params.End)
	samples, err := e.store.Find(ctx, storage.Filter{
		DeviceIDs: deviceIDs,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "query", "Find", "store lookup")
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.After(samples[j].Timestamp)
	})
	return samples, nil
}

// Stats aggregates a device's samples per category over the trailing
// lookback window. hours outside [1, 168] is invalid; zero means the
// default 24.
func (e *Engine) Stats(ctx context.Context, deviceID string, hours int) (map[string]telemetry.CategoryStats, error) {
	if hours == 0 {
		hours = DefaultStatsHours
	}
	if hours < MinStatsHours || hours > MaxStatsHours {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "query", "Stats",
			fmt.Sprintf("hours %d outside [%d, %d]", hours, MinStatsHours, MaxStatsHours))
	}

	known, err := e.devices.Exists(ctx, deviceID)
	if err != nil {
		return nil, errors.WrapTransient(err, "query", "Stats", "registry lookup")
	}
	if !known {
		return nil, errors.WrapInvalid(errors.ErrUnknownDevice, "query", "Stats",
			fmt.Sprintf("device %q", deviceID))
	}

	end := e.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	samples, err := e.store.Find(ctx, storage.Filter{
		DeviceIDs: []string{deviceID},
		Start:     &start,
		End:       &end,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "query", "Stats", "store lookup")
	}

	stats := make(map[string]telemetry.CategoryStats)
	for _, s := range samples {
		cur, ok := stats[s.Category]
		if !ok {
			stats[s.Category] = telemetry.CategoryStats{
				Count:       1,
				AvgValue:    s.Value,
				MinValue:    s.Value,
				MaxValue:    s.Value,
				LastReading: s.Timestamp,
			}
			continue
		}
		cur.AvgValue = (cur.AvgValue*float64(cur.Count) + s.Value) / float64(cur.Count+1)
		cur.Count++
		if s.Value < cur.MinValue {
			cur.MinValue = s.Value
		}
		if s.Value > cur.MaxValue {
			cur.MaxValue = s.Value
		}
		if s.Timestamp.After(cur.LastReading) {
			cur.LastReading = s.Timestamp
		}
		stats[s.Category] = cur
	}
	return stats, nil
}

// resolveDevices applies the registry join. The returned empty flag is true
// when a type/room filter matched nothing.
func (e *Engine) resolveDevices(ctx context.Context, params Params) ([]string, bool, error) {
	if params.DeviceType == "" && params.Room == "" {
		return params.DeviceIDs, false, nil
	}

	matched, err := e.devices.FindByTypeOrRoom(ctx, params.DeviceType, params.Room)
	if err != nil {
		return nil, false, errors.WrapTransient(err, "query", "Find", "registry lookup")
	}
	if len(matched) == 0 {
		return nil, true, nil
	}

	matchedIDs := make(map[string]struct{}, len(matched))
	for _, device := range matched {
		matchedIDs[device.DeviceID] = struct{}{}
	}

	if len(params.DeviceIDs) == 0 {
		ids := make([]string, 0, len(matched))
		for _, device := range matched {
			ids = append(ids, device.DeviceID)
		}
		return ids, false, nil
	}

	var ids []string
	for _, id := range params.DeviceIDs {
		if _, ok := matchedIDs[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, true, nil
	}
	return ids, false, nil
}

// normalizeBounds swaps inverted time bounds so [b, a] means [a, b].
func normalizeBounds(start, end *time.Time) (*time.Time, *time.Time) {
	if start != nil && end != nil && end.Before(*start) {
		return end, start
	}
	return start, end
}
