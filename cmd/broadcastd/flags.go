package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath  string
	NATSURL     string
	NodeID      string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("BROADCAST_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: BROADCAST_CONFIG)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("BROADCAST_NATS_URL", ""),
		"NATS server URL, overrides config (env: BROADCAST_NATS_URL)")

	flag.StringVar(&cfg.NodeID, "node-id",
		getEnv("BROADCAST_NODE_ID", ""),
		"Hex node id, random when empty (env: BROADCAST_NODE_ID)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BROADCAST_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: BROADCAST_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BROADCAST_LOG_FORMAT", ""),
		"Log format: json, text (env: BROADCAST_LOG_FORMAT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("BROADCAST_METRICS_PORT", 0),
		"Metrics server port, overrides config, -1 to disable (env: BROADCAST_METRICS_PORT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()
	return cfg
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - flooding broadcast node

Usage: %s [options]

Reads lines from stdin and floods each as a packet; prints every
delivered payload to stdout.

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Join the default mesh on a local NATS server
  %s

  # Two named nodes on one mesh
  %s --node-id=616c696365 &
  %s --node-id=626f62

  # Run from a config file with debug logging
  %s --config=/etc/broadcastd.json --log-level=debug

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
