// Package pgregistry provides a Postgres-backed device registry lookup.
// The devices table is owned by the external registry service; this package
// only reads it.
package pgregistry

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// Lookup implements registry.DeviceLookup against a Postgres devices table.
type Lookup struct {
	pool *pgxpool.Pool
}

var _ registry.DeviceLookup = (*Lookup)(nil)

// New connects a pgx pool to the registry database and verifies the
// connection.
func New(ctx context.Context, dsn string) (*Lookup, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.WrapInvalid(err, "pgregistry", "New", "parse dsn")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgregistry", "New", "connect")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "pgregistry", "New", "ping")
	}

	return &Lookup{pool: pool}, nil
}

// Exists implements registry.DeviceLookup.
func (l *Lookup) Exists(ctx context.Context, deviceID string) (bool, error) {
	query := `SELECT 1 FROM devices WHERE device_id = $1`

	var one int
	err := l.pool.QueryRow(ctx, query, deviceID).Scan(&one)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, errors.WrapTransient(err, "pgregistry", "Exists", "query device")
	}
	return true, nil
}

// FindMany implements registry.DeviceLookup.
func (l *Lookup) FindMany(ctx context.Context, deviceIDs []string) ([]telemetry.Device, error) {
	if len(deviceIDs) == 0 {
		return []telemetry.Device{}, nil
	}

	query := `
		SELECT device_id, name, type, room, rated_power
		FROM devices
		WHERE device_id = ANY($1)
	`

	rows, err := l.pool.Query(ctx, query, deviceIDs)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgregistry", "FindMany", "query devices")
	}
	defer rows.Close()

	return scanDevices(rows)
}

// FindByTypeOrRoom implements registry.DeviceLookup. Room comparison is
// case-insensitive exact, matching the query engine's join semantics.
func (l *Lookup) FindByTypeOrRoom(ctx context.Context, deviceType, room string) ([]telemetry.Device, error) {
	query := `
		SELECT device_id, name, type, room, rated_power
		FROM devices
		WHERE ($1 = '' OR type = $1)
		  AND ($2 = '' OR lower(room) = $2)
	`

	rows, err := l.pool.Query(ctx, query, deviceType, strings.ToLower(room))
	if err != nil {
		return nil, errors.WrapTransient(err, "pgregistry", "FindByTypeOrRoom", "query devices")
	}
	defer rows.Close()

	return scanDevices(rows)
}

func scanDevices(rows pgx.Rows) ([]telemetry.Device, error) {
	out := make([]telemetry.Device, 0)
	for rows.Next() {
		var d telemetry.Device
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.Type, &d.Room, &d.RatedPower); err != nil {
			return nil, errors.WrapTransient(err, "pgregistry", "scanDevices", "scan row")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "pgregistry", "scanDevices", "read rows")
	}
	return out, nil
}

// Close releases the connection pool.
func (l *Lookup) Close() {
	l.pool.Close()
}
