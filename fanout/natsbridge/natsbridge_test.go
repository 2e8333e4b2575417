package natsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *capturingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestNewRejectsNilPublisher(t *testing.T) {
	b := fanout.NewBroadcaster(0, 0)
	_, err := New(b, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestBridgePublishesToDeviceSubject(t *testing.T) {
	b := fanout.NewBroadcaster(0, 0)
	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	pub := &capturingPublisher{}
	bridge, err := New(b, pub)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))
	defer func() { _ = bridge.Stop(time.Second) }()

	sample := telemetry.Sample{
		ID:       "s-1",
		DeviceID: "plug-kitchen",
		Category: "power",
		Value:    120,
	}
	b.Publish(sample)

	require.Eventually(t, func() bool { return pub.count() == 1 },
		time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "telemetry.sample.plug-kitchen", pub.subjects[0])

	var got telemetry.Sample
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "s-1", got.ID)
	assert.InDelta(t, 120.0, got.Value, 1e-9)
}

func TestBridgeSwallowsPublishFailures(t *testing.T) {
	b := fanout.NewBroadcaster(0, 0)
	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	pub := &capturingPublisher{err: assert.AnError}
	bridge, err := New(b, pub)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	b.Publish(telemetry.Sample{ID: "s-2", DeviceID: "meter-main"})
	time.Sleep(50 * time.Millisecond)

	// The failure must not stop the bridge.
	require.NoError(t, bridge.Stop(time.Second))
	assert.Equal(t, 0, pub.count())
}

func TestBridgeDoubleStartFails(t *testing.T) {
	b := fanout.NewBroadcaster(0, 0)
	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	bridge, err := New(b, &capturingPublisher{})
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))
	defer func() { _ = bridge.Stop(time.Second) }()

	assert.ErrorIs(t, bridge.Start(context.Background()), errors.ErrAlreadyStarted)
}
