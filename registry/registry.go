// Package registry defines the read-only device-registry contract this core
// consumes. Registry CRUD is owned by an external service; ingestion and
// query only ever look devices up.
package registry

import (
	"context"

	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// DeviceLookup is the collaborator contract consumed from the device
// registry. Implementations must be safe for concurrent use.
type DeviceLookup interface {
	// Exists reports whether the device id is registered.
	Exists(ctx context.Context, deviceID string) (bool, error)

	// FindMany resolves the given ids to registry records. Unknown ids are
	// simply absent from the result; FindMany never errors on them.
	FindMany(ctx context.Context, deviceIDs []string) ([]telemetry.Device, error)

	// FindByTypeOrRoom returns devices matching the given type and/or room.
	// Empty arguments match everything; room comparison is
	// case-insensitive exact.
	FindByTypeOrRoom(ctx context.Context, deviceType, room string) ([]telemetry.Device, error)
}
