package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

func testDevices() []telemetry.Device {
	return []telemetry.Device{
		{DeviceID: "dev-001", Name: "Fridge", Type: "appliance", Room: "Kitchen", RatedPower: 150},
		{DeviceID: "dev-002", Name: "Heater", Type: "hvac", Room: "Living Room", RatedPower: 2000},
		{DeviceID: "dev-003", Name: "Lamp", Type: "light", Room: "kitchen", RatedPower: 9},
	}
}

func TestMemoryExists(t *testing.T) {
	m := NewMemory(testDevices()...)
	ctx := context.Background()

	ok, err := m.Exists(ctx, "dev-001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, "ghost-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryFindMany(t *testing.T) {
	m := NewMemory(testDevices()...)
	ctx := context.Background()

	got, err := m.FindMany(ctx, []string{"dev-001", "ghost-1", "dev-003", "dev-001"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "unknown ids absent, duplicates collapsed")

	got, err = m.FindMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryFindByTypeOrRoom(t *testing.T) {
	m := NewMemory(testDevices()...)
	ctx := context.Background()

	got, err := m.FindByTypeOrRoom(ctx, "hvac", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-002", got[0].DeviceID)

	// Room match is case-insensitive exact.
	got, err = m.FindByTypeOrRoom(ctx, "", "KITCHEN")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = m.FindByTypeOrRoom(ctx, "light", "kitchen")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dev-003", got[0].DeviceID)

	got, err = m.FindByTypeOrRoom(ctx, "nonexistent", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
