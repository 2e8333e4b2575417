// Package main implements the entry point for energymond, the smart-home
// telemetry and energy monitoring service: MQTT/HTTP ingestion, tiered
// admission control, real-time fan-out, query, energy integration and
// retention.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kavindyakdn/smart-home-energy-monitor/admission"
	"github.com/kavindyakdn/smart-home-energy-monitor/admission/redistier"
	"github.com/kavindyakdn/smart-home-energy-monitor/config"
	"github.com/kavindyakdn/smart-home-energy-monitor/energy"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout/kafkasink"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout/natsbridge"
	"github.com/kavindyakdn/smart-home-energy-monitor/fanout/wsfeed"
	"github.com/kavindyakdn/smart-home-energy-monitor/gateway"
	"github.com/kavindyakdn/smart-home-energy-monitor/health"
	"github.com/kavindyakdn/smart-home-energy-monitor/ingest"
	inputmqtt "github.com/kavindyakdn/smart-home-energy-monitor/input/mqtt"
	"github.com/kavindyakdn/smart-home-energy-monitor/metric"
	"github.com/kavindyakdn/smart-home-energy-monitor/query"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry"
	"github.com/kavindyakdn/smart-home-energy-monitor/registry/pgregistry"
	"github.com/kavindyakdn/smart-home-energy-monitor/retention"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage/badgerstore"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage/memstore"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "energymond"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting energymond",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"store_backend", cfg.Store.Backend,
		"registry_backend", cfg.Registry.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewRegistry()
	monitor := health.NewMonitor()

	// Sample store.
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()
	monitor.Healthy("store")

	// Device registry.
	devices, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer closeRegistry()
	monitor.Healthy("registry")

	// Admission counters.
	counters, closeCounters, err := openCounters(ctx, cfg, monitor, logger)
	if err != nil {
		return fmt.Errorf("open admission counters: %w", err)
	}
	defer closeCounters()
	ctrl := admission.NewController(admission.Config{
		Short:  admission.Quota(cfg.Admission.Short),
		Medium: admission.Quota(cfg.Admission.Medium),
		Long:   admission.Quota(cfg.Admission.Long),
	}, counters, admission.WithLogger(logger), admission.WithMetrics(metrics))

	// Fan-out broadcaster and sinks.
	broadcaster := fanout.NewBroadcaster(cfg.Fanout.QueueSize, cfg.Fanout.BufferSize,
		fanout.WithLogger(logger), fanout.WithMetrics(metrics))
	if err := broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}
	defer func() { _ = broadcaster.Stop(5 * time.Second) }()
	monitor.Healthy("fanout")

	hub := wsfeed.NewHub(broadcaster, wsfeed.WithLogger(logger), wsfeed.WithMetrics(metrics))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start websocket feed: %w", err)
	}
	defer func() { _ = hub.Stop(5 * time.Second) }()

	if err := startNATSBridge(ctx, cfg, broadcaster, metrics, monitor, logger); err != nil {
		return err
	}
	if err := startKafkaSink(ctx, cfg, broadcaster, metrics, monitor, logger); err != nil {
		return err
	}

	// Core services.
	ingestSvc := ingest.NewService(store, devices, broadcaster,
		cfg.Ingest.Workers, cfg.Ingest.QueueSize,
		ingest.WithLogger(logger), ingest.WithMetrics(metrics))
	if err := ingestSvc.Start(ctx); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	defer func() { _ = ingestSvc.Stop(5 * time.Second) }()

	queryEngine := query.NewEngine(store, devices, query.WithLogger(logger))
	integrator := energy.NewIntegrator(store, cfg.Location())
	sweeper := retention.NewSweeper(store,
		retention.WithLogger(logger), retention.WithMetrics(metrics))

	if cfg.Retention.Days > 0 {
		go func() {
			if err := sweeper.Run(ctx, cfg.Retention.Interval, cfg.Retention.Days); err != nil && ctx.Err() == nil {
				logger.Error("retention loop exited", "error", err)
			}
		}()
	}

	// Optional MQTT ingestion bridge.
	if cfg.MQTT.Broker != "" {
		bridge, err := inputmqtt.NewBridge(inputmqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, ingestSvc, inputmqtt.WithLogger(logger), inputmqtt.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("create mqtt bridge: %w", err)
		}
		if err := bridge.Start(ctx); err != nil {
			monitor.Degraded("mqtt", err.Error())
			logger.Warn("mqtt bridge unavailable", "error", err)
		} else {
			monitor.Healthy("mqtt")
			defer func() { _ = bridge.Stop(2 * time.Second) }()
		}
	}

	// HTTP gateway.
	server := gateway.NewServer(cfg.HTTP.Addr, ingestSvc, queryEngine, integrator,
		sweeper, ctrl, monitor, gateway.Options{
			Metrics:      metrics,
			Feed:         hub,
			Logger:       logger,
			AccessLog:    true,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.HTTP.ShutdownTimeout
	if cliCfg.ShutdownTimeout > 0 {
		shutdownTimeout = cliCfg.ShutdownTimeout
	}
	logger.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBadger:
		return badgerstore.New(badgerstore.Config{
			Path:             cfg.Store.Path,
			CompressionLevel: cfg.Store.CompressionLevel,
		})
	default:
		return memstore.New(), nil
	}
}

func openRegistry(ctx context.Context, cfg *config.Config) (registry.DeviceLookup, func(), error) {
	switch cfg.Registry.Backend {
	case config.RegistryPostgres:
		lookup, err := pgregistry.New(ctx, cfg.Registry.DSN)
		if err != nil {
			return nil, nil, err
		}
		return lookup, lookup.Close, nil
	default:
		return registry.NewMemory(), func() {}, nil
	}
}

func openCounters(ctx context.Context, cfg *config.Config, monitor *health.Monitor, logger *slog.Logger) (admission.CounterStore, func(), error) {
	if cfg.Admission.RedisAddr == "" {
		monitor.Healthy("admission")
		return admission.NewMemoryCounters(), func() {}, nil
	}

	counters, err := redistier.New(ctx, cfg.Admission.RedisAddr, "", 0)
	if err != nil {
		// The controller fails open, so a dead Redis degrades rather
		// than blocks startup.
		monitor.Degraded("admission", err.Error())
		logger.Warn("redis counters unavailable, using in-memory", "error", err)
		return admission.NewMemoryCounters(), func() {}, nil
	}
	monitor.Healthy("admission")
	return counters, func() { _ = counters.Close() }, nil
}

func startNATSBridge(ctx context.Context, cfg *config.Config, broadcaster *fanout.Broadcaster,
	metrics *metric.Registry, monitor *health.Monitor, logger *slog.Logger) error {
	if cfg.NATS.URL == "" {
		return nil
	}

	conn, err := natsbridge.Connect(cfg.NATS.URL, logger)
	if err != nil {
		monitor.Degraded("nats", err.Error())
		logger.Warn("nats unavailable, republisher disabled", "error", err)
		return nil
	}

	bridge, err := natsbridge.New(broadcaster, conn,
		natsbridge.WithLogger(logger), natsbridge.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create nats bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("start nats bridge: %w", err)
	}
	monitor.Healthy("nats")
	return nil
}

func startKafkaSink(ctx context.Context, cfg *config.Config, broadcaster *fanout.Broadcaster,
	metrics *metric.Registry, monitor *health.Monitor, logger *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}

	sink, err := kafkasink.New(broadcaster,
		kafkasink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
		kafkasink.WithLogger(logger), kafkasink.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create kafka sink: %w", err)
	}
	if err := sink.Start(ctx); err != nil {
		return fmt.Errorf("start kafka sink: %w", err)
	}
	monitor.Healthy("kafka")
	return nil
}
