package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

func validInput(now time.Time) Input {
	return Input{
		DeviceID:  "dev-001",
		Category:  "power",
		Value:     125.5,
		Status:    true,
		Timestamp: now.Add(-time.Minute),
	}
}

func TestValidateInputAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(*Input)
		wantErr error
	}{
		{
			name:    "valid reading",
			mutate:  func(*Input) {},
			wantErr: nil,
		},
		{
			name:    "value above range",
			mutate:  func(in *Input) { in.Value = 1_000_001 },
			wantErr: errors.ErrValueOutOfRange,
		},
		{
			name:    "value below range",
			mutate:  func(in *Input) { in.Value = -1_000_000.5 },
			wantErr: errors.ErrValueOutOfRange,
		},
		{
			name:    "value at boundary accepted",
			mutate:  func(in *Input) { in.Value = 1_000_000 },
			wantErr: nil,
		},
		{
			name:    "timestamp too far in the past",
			mutate:  func(in *Input) { in.Timestamp = now.Add(-MaxTimestampSkew - time.Hour) },
			wantErr: errors.ErrTimestampImplausible,
		},
		{
			name:    "timestamp too far in the future",
			mutate:  func(in *Input) { in.Timestamp = now.Add(MaxTimestampSkew + time.Hour) },
			wantErr: errors.ErrTimestampImplausible,
		},
		{
			name:    "timestamp eleven months ahead accepted",
			mutate:  func(in *Input) { in.Timestamp = now.Add(11 * 30 * 24 * time.Hour) },
			wantErr: nil,
		},
		{
			name:    "device id with space rejected",
			mutate:  func(in *Input) { in.DeviceID = "dev 001" },
			wantErr: errors.ErrInvalidDeviceID,
		},
		{
			name:    "empty device id rejected",
			mutate:  func(in *Input) { in.DeviceID = "" },
			wantErr: errors.ErrInvalidDeviceID,
		},
		{
			name:    "device id with underscore and dash accepted",
			mutate:  func(in *Input) { in.DeviceID = "room-2_plug" },
			wantErr: nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			in := validInput(now)
			test.mutate(&in)

			err := ValidateInputAt(in, now)
			if test.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, test.wantErr)
			}
		})
	}
}

func TestValidateInputAt_OrderFirstFailureWins(t *testing.T) {
	now := time.Now()

	// Both the value and the device id are invalid; the value check runs
	// first and must win.
	in := Input{DeviceID: "bad id", Value: 2e6, Timestamp: now}
	err := ValidateInputAt(in, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValueOutOfRange)
}

func TestValidateBatchAt(t *testing.T) {
	now := time.Now()

	good := validInput(now)
	bad := validInput(now)
	bad.Value = 5e6

	err := ValidateBatchAt([]Input{good, good, bad}, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValueOutOfRange)
	assert.Contains(t, err.Error(), "record 3:")

	assert.NoError(t, ValidateBatchAt([]Input{good, good}, now))
	assert.NoError(t, ValidateBatchAt(nil, now))
}
