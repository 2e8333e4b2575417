// Package config loads and validates the service configuration. Layering is
// defaults, then an optional JSON file, then environment overrides with the
// ENERGYMON_ prefix.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

// Storage backend names.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Registry backend names.
const (
	RegistryMemory   = "memory"
	RegistryPostgres = "postgres"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "ENERGYMON"

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Store     StoreConfig     `json:"store"`
	Registry  RegistryConfig  `json:"registry"`
	Admission AdmissionConfig `json:"admission"`
	Fanout    FanoutConfig    `json:"fanout"`
	Energy    EnergyConfig    `json:"energy"`
	Retention RetentionConfig `json:"retention"`
	Ingest    IngestConfig    `json:"ingest"`
	NATS      NATSConfig      `json:"nats"`
	Kafka     KafkaConfig     `json:"kafka"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig configures the gateway listener.
type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
}

// StoreConfig selects and configures the sample store backend.
type StoreConfig struct {
	Backend          string `json:"backend"` // memory | badger
	Path             string `json:"path"`    // badger only
	CompressionLevel int    `json:"compressionLevel"`
}

// RegistryConfig selects the device-registry backend.
type RegistryConfig struct {
	Backend string `json:"backend"` // memory | postgres
	DSN     string `json:"dsn"`     // postgres only
}

// TierQuota is one admission tier's budget.
type TierQuota struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// AdmissionConfig configures the tiered rate limiter. An empty RedisAddr
// keeps counters in process memory.
type AdmissionConfig struct {
	Short     TierQuota `json:"short"`
	Medium    TierQuota `json:"medium"`
	Long      TierQuota `json:"long"`
	RedisAddr string    `json:"redisAddr"`
}

// FanoutConfig sizes the broadcaster channels.
type FanoutConfig struct {
	QueueSize  int `json:"queueSize"`
	BufferSize int `json:"bufferSize"`
}

// EnergyConfig configures the integrator.
type EnergyConfig struct {
	Timezone string `json:"timezone"` // IANA name for daily bucket boundaries
}

// RetentionConfig configures the background sweeper. Days zero disables the
// periodic sweep; the DELETE endpoint stays available.
type RetentionConfig struct {
	Days     int           `json:"days"`
	Interval time.Duration `json:"interval"`
}

// IngestConfig sizes the batch insert worker pool.
type IngestConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
}

// NATSConfig configures the optional NATS republisher. Empty URL disables
// it.
type NATSConfig struct {
	URL string `json:"url"`
}

// KafkaConfig configures the optional Kafka export sink. Empty brokers
// disable it.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// MQTTConfig configures the optional MQTT input bridge. Empty broker
// disables it.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug | info | warn | error
	Format string `json:"format"` // json | text
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:          StoreMemory,
			Path:             "data/samples",
			CompressionLevel: 2,
		},
		Registry: RegistryConfig{Backend: RegistryMemory},
		Admission: AdmissionConfig{
			Short:  TierQuota{Limit: 50, Window: time.Second},
			Medium: TierQuota{Limit: 30, Window: 10 * time.Second},
			Long:   TierQuota{Limit: 5, Window: time.Minute},
		},
		Fanout: FanoutConfig{QueueSize: 1024, BufferSize: 64},
		Energy: EnergyConfig{Timezone: "UTC"},
		Retention: RetentionConfig{
			Days:     0,
			Interval: 24 * time.Hour,
		},
		Ingest:  IngestConfig{Workers: 8, QueueSize: 256},
		Kafka:   KafkaConfig{Topic: "telemetry-samples"},
		MQTT:    MQTTConfig{ClientID: "energymond"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path, and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("read %s", path))
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv(EnvPrefix + "_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}
	if val := os.Getenv(EnvPrefix + "_REGISTRY_BACKEND"); val != "" {
		cfg.Registry.Backend = val
	}
	if val := os.Getenv(EnvPrefix + "_REGISTRY_DSN"); val != "" {
		cfg.Registry.DSN = val
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_ADDR"); val != "" {
		cfg.Admission.RedisAddr = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(EnvPrefix + "_KAFKA_BROKERS"); val != "" {
		cfg.Kafka.Brokers = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_KAFKA_TOPIC"); val != "" {
		cfg.Kafka.Topic = val
	}
	if val := os.Getenv(EnvPrefix + "_MQTT_BROKER"); val != "" {
		cfg.MQTT.Broker = val
	}
	if val := os.Getenv(EnvPrefix + "_ENERGY_TIMEZONE"); val != "" {
		cfg.Energy.Timezone = val
	}
	if val := os.Getenv(EnvPrefix + "_RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			cfg.Retention.Days = days
		}
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// Validate checks cross-field constraints. The first violation wins.
func (c *Config) Validate() error {
	invalid := func(detail string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", detail)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr must not be empty")
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreBadger:
		if c.Store.Path == "" {
			return invalid("store.path required for the badger backend")
		}
	default:
		return invalid(fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Registry.Backend {
	case RegistryMemory:
	case RegistryPostgres:
		if c.Registry.DSN == "" {
			return invalid("registry.dsn required for the postgres backend")
		}
	default:
		return invalid(fmt.Sprintf("unknown registry backend %q", c.Registry.Backend))
	}

	for _, tier := range []struct {
		name  string
		quota TierQuota
	}{
		{"short", c.Admission.Short},
		{"medium", c.Admission.Medium},
		{"long", c.Admission.Long},
	} {
		if tier.quota.Limit <= 0 {
			return invalid(fmt.Sprintf("admission.%s.limit must be positive", tier.name))
		}
		if tier.quota.Window <= 0 {
			return invalid(fmt.Sprintf("admission.%s.window must be positive", tier.name))
		}
	}

	if _, err := time.LoadLocation(c.Energy.Timezone); err != nil {
		return invalid(fmt.Sprintf("unknown energy.timezone %q", c.Energy.Timezone))
	}

	if c.Retention.Days != 0 && (c.Retention.Days < 1 || c.Retention.Days > 365) {
		return invalid(fmt.Sprintf("retention.days %d outside [1, 365]", c.Retention.Days))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return invalid("kafka.topic required when brokers are set")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("unknown logging.format %q", c.Logging.Format))
	}

	return nil
}

// Location resolves the configured energy timezone. Validate guarantees it
// parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Energy.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
