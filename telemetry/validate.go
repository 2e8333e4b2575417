package telemetry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

// deviceIDPattern constrains device identifiers to a safe key alphabet.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateInput checks one reading against the ingestion business rules.
// Checks run in order and the first failure wins. Pure function, no side
// effects.
func ValidateInput(in Input) error {
	return ValidateInputAt(in, time.Now())
}

// ValidateInputAt is ValidateInput with an explicit reference clock.
func ValidateInputAt(in Input, now time.Time) error {
	if in.Value < MinValue || in.Value > MaxValue {
		return fmt.Errorf("%w: %g not in [%g, %g]",
			errors.ErrValueOutOfRange, in.Value, MinValue, MaxValue)
	}

	if skew := now.Sub(in.Timestamp); skew > MaxTimestampSkew || skew < -MaxTimestampSkew {
		return fmt.Errorf("%w: %s more than one year from now",
			errors.ErrTimestampImplausible, in.Timestamp.Format(time.RFC3339))
	}

	if !deviceIDPattern.MatchString(in.DeviceID) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidDeviceID, in.DeviceID)
	}

	return nil
}

// ValidateBatch checks a batch of readings. The first invalid record aborts
// the whole batch; its error is prefixed with the 1-based record index.
// Size limits are the caller's concern (ingest checks them before
// validation).
func ValidateBatch(inputs []Input) error {
	return ValidateBatchAt(inputs, time.Now())
}

// ValidateBatchAt is ValidateBatch with an explicit reference clock.
func ValidateBatchAt(inputs []Input, now time.Time) error {
	for i, in := range inputs {
		if err := ValidateInputAt(in, now); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return nil
}
