// Package mqtt bridges device telemetry arriving over MQTT into the
// ingestion pipeline. Devices publish to home/<deviceID>/telemetry; the
// device id comes from the topic, not the payload. Malformed messages are
// logged and dropped so one misbehaving device cannot stall the bridge.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/ingest"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/pkg/retry"
	"github.com/kavindyakdn/smart-home-energy-monitor/pkg/timestamp"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// TopicFilter matches every device's telemetry topic.
const TopicFilter = "home/+/telemetry"

const connectTimeout = 10 * time.Second

// payload is the wire shape published by devices. The device id is carried
// by the topic.
type payload struct {
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
	Status    bool    `json:"status"`
	Timestamp string  `json:"timestamp"`
}

// Ingester is the subset of the ingestion service the bridge needs.
type Ingester interface {
	IngestOne(ctx context.Context, input telemetry.Input) (telemetry.Sample, error)
}

// Config configures the bridge connection.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Bridge subscribes to device telemetry topics and funnels messages into
// ingestion.
type Bridge struct {
	cfg      Config
	ingester Ingester
	logger   *slog.Logger

	lifecycleMu sync.Mutex
	client      pahomqtt.Client
	running     bool

	metrics *bridgeMetrics
}

type bridgeMetrics struct {
	received prometheus.Counter
	dropped  *prometheus.CounterVec
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics registers bridge metrics with the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(b *Bridge) {
		if registry == nil {
			return
		}
		m := &bridgeMetrics{
			received: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "mqtt",
				Name: "messages_total", Help: "Messages received from MQTT",
			}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: metric.Namespace, Subsystem: "mqtt",
				Name: "dropped_total", Help: "Messages dropped per reason",
			}, []string{"reason"}),
		}
		registry.MustRegister(m.received, m.dropped)
		b.metrics = m
	}
}

// NewBridge creates a bridge; Start connects it.
func NewBridge(cfg Config, ingester Ingester, opts ...Option) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mqtt", "NewBridge", "broker address")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "energymond"
	}
	b := &Bridge{
		cfg:      cfg,
		ingester: ingester,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start connects to the broker with persistent backoff and subscribes to
// the telemetry filter. Paho handles reconnects after the first successful
// connect; resubscription rides on the OnConnect hook.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.ErrAlreadyStarted
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetUsername(b.cfg.Username).
		SetPassword(b.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(client pahomqtt.Client) {
			token := client.Subscribe(TopicFilter, 1, b.handleMessage)
			if token.Wait() && token.Error() != nil {
				b.logger.Error("MQTT subscribe failed", "filter", TopicFilter, "error", token.Error())
				return
			}
			b.logger.Info("MQTT subscribed", "filter", TopicFilter)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "error", err)
		})

	client := pahomqtt.NewClient(opts)
	err := retry.Do(ctx, retry.Persistent(), func() error {
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "mqtt", "Start",
			fmt.Sprintf("connect %s", b.cfg.Broker))
	}

	b.client = client
	b.running = true
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return nil
	}
	b.running = false
	b.client.Disconnect(uint(timeout.Milliseconds()))
	return nil
}

func (b *Bridge) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if b.metrics != nil {
		b.metrics.received.Inc()
	}

	deviceID, ok := deviceFromTopic(msg.Topic())
	if !ok {
		b.drop("topic", msg.Topic(), nil)
		return
	}

	input, err := b.decode(deviceID, msg.Payload())
	if err != nil {
		b.drop("payload", msg.Topic(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.ingester.IngestOne(ctx, input); err != nil {
		b.drop("ingest", msg.Topic(), err)
	}
}

func (b *Bridge) decode(deviceID string, raw []byte) (telemetry.Input, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return telemetry.Input{}, err
	}

	ts := time.Now().UTC()
	if p.Timestamp != "" {
		parsed, err := timestamp.Parse(p.Timestamp)
		if err != nil {
			return telemetry.Input{}, err
		}
		ts = parsed
	}

	return telemetry.Input{
		DeviceID:  deviceID,
		Category:  p.Category,
		Value:     p.Value,
		Status:    p.Status,
		Timestamp: ts,
	}, nil
}

func (b *Bridge) drop(reason, topic string, err error) {
	if b.metrics != nil {
		b.metrics.dropped.WithLabelValues(reason).Inc()
	}
	b.logger.Warn("dropping MQTT message", "reason", reason, "topic", topic, "error", err)
}

// deviceFromTopic extracts the device id from home/<id>/telemetry.
func deviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "home" || parts[2] != "telemetry" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

var _ Ingester = (*ingest.Service)(nil)
