package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Memory is an in-memory DeviceLookup for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	devices map[string]telemetry.Device
}

var _ DeviceLookup = (*Memory)(nil)

// NewMemory creates a registry pre-populated with the given devices.
func NewMemory(devices ...telemetry.Device) *Memory {
	m := &Memory{devices: make(map[string]telemetry.Device, len(devices))}
	for _, d := range devices {
		m.devices[d.DeviceID] = d
	}
	return m
}

// Add registers or replaces a device record.
func (m *Memory) Add(device telemetry.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.DeviceID] = device
}

// Exists implements DeviceLookup.
func (m *Memory) Exists(ctx context.Context, deviceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.devices[deviceID]
	return ok, nil
}

// FindMany implements DeviceLookup.
func (m *Memory) FindMany(ctx context.Context, deviceIDs []string) ([]telemetry.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]telemetry.Device, 0, len(deviceIDs))
	seen := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if d, ok := m.devices[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindByTypeOrRoom implements DeviceLookup.
func (m *Memory) FindByTypeOrRoom(ctx context.Context, deviceType, room string) ([]telemetry.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]telemetry.Device, 0)
	for _, d := range m.devices {
		if deviceType != "" && d.Type != deviceType {
			continue
		}
		if room != "" && !strings.EqualFold(d.Room, room) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
