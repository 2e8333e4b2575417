// Package telemetry defines the core data model for device measurement
// samples and the business-rule validation applied at ingestion time.
package telemetry

import "time"

// Limits applied at ingestion time.
const (
	// MinValue and MaxValue bound the signed measurement value.
	MinValue = -1_000_000.0
	MaxValue = 1_000_000.0

	// MaxTimestampSkew bounds how far a reading timestamp may sit from the
	// server clock, in either direction.
	MaxTimestampSkew = 365 * 24 * time.Hour

	// MaxBatchSize bounds one batch submission.
	MaxBatchSize = 1000
)

// Input is one telemetry reading as submitted by a device or gateway.
// Server-assigned fields (id, receivedAt) are absent here.
type Input struct {
	DeviceID  string    `json:"deviceId"`
	Category  string    `json:"category"`
	Value     float64   `json:"value"`
	Status    bool      `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is one persisted telemetry reading. Immutable once written;
// removed only by the retention sweeper.
type Sample struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Category   string    `json:"category"`
	Value      float64   `json:"value"`
	Status     bool      `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Device is the read-only registry record for one fleet device.
// Registry CRUD lives outside this core; only lookups happen here.
type Device struct {
	DeviceID   string  `json:"deviceId"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Room       string  `json:"room"`
	RatedPower float64 `json:"ratedPower"`
}

// EnergyBucket is one derived per-period energy total. Buckets are computed
// on demand and never persisted.
type EnergyBucket struct {
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	EnergyWh    float64   `json:"energyWh"`
}

// CategoryStats summarizes the samples of one category over a stats window.
type CategoryStats struct {
	Count       int       `json:"count"`
	AvgValue    float64   `json:"avgValue"`
	MinValue    float64   `json:"minValue"`
	MaxValue    float64   `json:"maxValue"`
	LastReading time.Time `json:"lastReading"`
}
