// Package energy derives energy figures from stored power samples by
// piecewise-constant integration: a reading holds from its timestamp until
// the next reading, the last one until the window end. Figures are
// accumulated in watt-hours at full float64 precision; conversion to kWh
// happens only at presentation.
package energy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// PowerCategory is the sample category the integrator consumes. Values are
// instantaneous power in watts.
const PowerCategory = "power"

// Window is a half-open integration interval [Start, End). Inverted bounds
// are swapped, matching query semantics. An empty DeviceIDs means all
// devices.
type Window struct {
	Start     time.Time
	End       time.Time
	DeviceIDs []string
}

// Report is the integration result for one window.
type Report struct {
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	TotalWh     float64            `json:"totalWh"`
	PerDeviceWh map[string]float64 `json:"perDeviceWh"`
}

// TotalKWh converts the total to kilowatt-hours.
func (r Report) TotalKWh() float64 { return r.TotalWh / 1000 }

// Integrator computes energy over stored samples. Safe for concurrent use.
type Integrator struct {
	store    storage.Store
	location *time.Location
}

// NewIntegrator creates an integrator. Calendar-day boundaries for daily
// buckets follow the given location; nil means UTC.
func NewIntegrator(store storage.Store, location *time.Location) *Integrator {
	if location == nil {
		location = time.UTC
	}
	return &Integrator{store: store, location: location}
}

// WindowTotal integrates power over the window, per device and in total.
// Devices with no samples inside the window contribute zero.
func (in *Integrator) WindowTotal(ctx context.Context, w Window) (Report, error) {
	start, end := w.Start, w.End
	if end.Before(start) {
		start, end = end, start
	}
	if !end.After(start) {
		return Report{}, errors.WrapInvalid(errors.ErrInvalidConfig, "energy", "WindowTotal",
			fmt.Sprintf("empty window [%s, %s)", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}

	byDevice, err := in.fetch(ctx, w.DeviceIDs, start, end)
	if err != nil {
		return Report{}, err
	}

	report := Report{Start: start, End: end, PerDeviceWh: make(map[string]float64, len(byDevice))}
	for deviceID, samples := range byDevice {
		wh := integrate(samples, start, end)
		report.PerDeviceWh[deviceID] = wh
		report.TotalWh += wh
	}
	return report, nil
}

// DailyBuckets integrates each calendar day from startDay through endDay
// inclusive, using the configured location's day boundaries. Days without
// samples produce a zero bucket, never a gap. Bucket energies tile to the
// whole-range total when readings align with day boundaries.
func (in *Integrator) DailyBuckets(ctx context.Context, startDay, endDay time.Time, deviceIDs []string) ([]telemetry.EnergyBucket, error) {
	first := dayStart(startDay, in.location)
	last := dayStart(endDay, in.location)
	if last.Before(first) {
		first, last = last, first
	}
	rangeEnd := last.AddDate(0, 0, 1)

	byDevice, err := in.fetch(ctx, deviceIDs, first, rangeEnd)
	if err != nil {
		return nil, err
	}

	var buckets []telemetry.EnergyBucket
	for day := first; day.Before(rangeEnd); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		var wh float64
		for _, samples := range byDevice {
			wh += integrate(within(samples, day, next), day, next)
		}
		buckets = append(buckets, telemetry.EnergyBucket{
			PeriodStart: day,
			PeriodEnd:   next.Add(-time.Millisecond),
			EnergyWh:    wh,
		})
	}
	return buckets, nil
}

// fetch returns the window's power samples partitioned by device and sorted
// ascending by reading timestamp.
func (in *Integrator) fetch(ctx context.Context, deviceIDs []string, start, end time.Time) (map[string][]telemetry.Sample, error) {
	samples, err := in.store.Find(ctx, storage.Filter{
		DeviceIDs: deviceIDs,
		Start:     &start,
		End:       &end,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "energy", "fetch", "store lookup")
	}

	byDevice := make(map[string][]telemetry.Sample)
	for _, s := range samples {
		// The store filter also matches on receivedAt and includes the
		// end bound; integration is over reading timestamps in [start, end).
		if s.Category != PowerCategory || s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}
		byDevice[s.DeviceID] = append(byDevice[s.DeviceID], s)
	}
	for _, group := range byDevice {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
	}
	return byDevice, nil
}

// within slices sorted samples down to those with reading timestamps in
// [start, end).
func within(samples []telemetry.Sample, start, end time.Time) []telemetry.Sample {
	lo := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Timestamp.Before(end)
	})
	return samples[lo:hi]
}

// integrate sums one device's left-held contributions over [start, end).
// samples must be sorted ascending and lie within the window.
func integrate(samples []telemetry.Sample, start, end time.Time) float64 {
	var wh float64
	for i, s := range samples {
		holdStart := s.Timestamp
		if holdStart.Before(start) {
			holdStart = start
		}
		holdEnd := end
		if i+1 < len(samples) && samples[i+1].Timestamp.Before(end) {
			holdEnd = samples[i+1].Timestamp
		}
		if holdEnd.After(holdStart) {
			wh += s.Value * holdEnd.Sub(holdStart).Hours()
		}
	}
	return wh
}

// dayStart truncates t to midnight in loc.
func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
