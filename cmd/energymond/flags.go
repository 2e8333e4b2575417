package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("ENERGYMON_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: ENERGYMON_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ENERGYMON_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; empty defers to config (env: ENERGYMON_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ENERGYMON_LOG_FORMAT", ""),
		"Log format: json, text; empty defers to config (env: ENERGYMON_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ENERGYMON_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout; zero defers to config (env: ENERGYMON_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "%s - smart-home telemetry and energy monitor\n\nUsage: %s [options]\n\nOptions:\n",
			appName, os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
