// Package main implements broadcastd, a single flooding-broadcast node
// over NATS. Lines read from stdin are published to the mesh; payloads
// delivered from the mesh are printed to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"

	"github.com/dxos-deprecated/broadcast"
	"github.com/dxos-deprecated/broadcast/config"
	"github.com/dxos-deprecated/broadcast/metric"
	"github.com/dxos-deprecated/broadcast/seencache"
	"github.com/dxos-deprecated/broadcast/transport"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "broadcastd"
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
		slog.Error("broadcastd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	nodeID, err := resolveNodeID(cfg.Node.ID)
	if err != nil {
		return err
	}

	slog.Info("starting broadcastd",
		"version", Version,
		"node", hex.EncodeToString(nodeID),
		"nats_url", cfg.NATS.URL)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()

	tr, err := transport.NewNATS(signalCtx, nodeID, transport.NATSConfig{
		URL:              cfg.NATS.URL,
		SubjectPrefix:    cfg.NATS.SubjectPrefix,
		AnnounceInterval: cfg.NATS.AnnounceInterval,
		PeerTTL:          cfg.NATS.PeerTTL,
		ConnectTimeout:   cfg.NATS.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	defer func() { _ = tr.Close() }()

	node, err := broadcast.New(nodeID, tr,
		broadcast.WithLogger(logger),
		broadcast.WithMetricsRegistry(registry),
		broadcast.WithCacheConfig(seencache.Config{
			MaxSize: cfg.Cache.MaxSize,
			MaxAge:  cfg.Cache.MaxAge,
		}),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if err := node.Open(signalCtx); err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = node.Close() }()

	metricsServer := startMetricsServer(cfg, registry)
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}

	go consumeDelivered(signalCtx, node)
	go consumeEvents(signalCtx, node)
	go publishStdin(signalCtx, node)

	slog.Info("broadcastd ready")
	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	return nil
}

// loadConfiguration loads the config file (or defaults) and applies CLI
// overrides.
func loadConfiguration(cliCfg *CLIConfig) (config.Config, error) {
	var cfg config.Config
	var err error

	if cliCfg.ConfigPath != "" {
		cfg, err = config.Load(cliCfg.ConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if cliCfg.NATSURL != "" {
		cfg.NATS.URL = cliCfg.NATSURL
	}
	if cliCfg.NodeID != "" {
		cfg.Node.ID = cliCfg.NodeID
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	switch {
	case cliCfg.MetricsPort < 0:
		cfg.Metrics.Enabled = false
	case cliCfg.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveNodeID decodes the configured hex id or generates a random one.
func resolveNodeID(configured string) ([]byte, error) {
	if configured == "" {
		id := uuid.New()
		return id[:], nil
	}
	id, err := hex.DecodeString(configured)
	if err != nil || len(id) == 0 {
		return nil, fmt.Errorf("node id must be non-empty hex, got %q", configured)
	}
	return id, nil
}

func startMetricsServer(cfg config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	slog.Info("metrics server listening", "address", server.Address(), "path", cfg.Metrics.Path)
	return server
}

// publishStdin floods every stdin line as one packet.
func publishStdin(ctx context.Context, node *broadcast.Broadcast) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		pkt, err := node.Publish(ctx, line)
		if err != nil {
			slog.Error("publish failed", "error", err)
			continue
		}
		slog.Debug("published", "message", pkt.MessageID(), "bytes", len(pkt.Data))
	}
	if err := scanner.Err(); err != nil {
		slog.Error("stdin read failed", "error", err)
	}
}

// consumeDelivered prints every delivered payload to stdout.
func consumeDelivered(ctx context.Context, node *broadcast.Broadcast) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-node.Delivered():
			fmt.Printf("%s\n", pkt.Data)
			slog.Debug("delivered",
				"message", pkt.MessageID(),
				"origin", hex.EncodeToString(pkt.Origin),
				"from", hex.EncodeToString(pkt.From))
		}
	}
}

// consumeEvents logs diagnostic events.
func consumeEvents(ctx context.Context, node *broadcast.Broadcast) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-node.Events():
			switch ev.Kind {
			case broadcast.EventSent:
				slog.Debug("packet sent", "peer", ev.Peer.Key())
			case broadcast.EventSendError:
				slog.Warn("send failed", "peer", ev.Peer.Key(), "error", ev.Err)
			case broadcast.EventDecodeError:
				slog.Warn("inbound decode failed", "error", ev.Err)
			case broadcast.EventLookupError:
				slog.Warn("peer lookup failed", "error", ev.Err)
			}
		}
	}
}
