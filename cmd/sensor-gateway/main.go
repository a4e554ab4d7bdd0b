// Command sensor-gateway bridges one BLE or serial sensor peripheral to a
// time-series store. It reconnects forever until interrupted.
//
// Usage:
//
//	sensor-gateway [-config path] [-validate] [-init]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/sensor-gateway/internal/ble"
	"github.com/chaz8081/sensor-gateway/internal/config"
	"github.com/chaz8081/sensor-gateway/internal/frame"
	"github.com/chaz8081/sensor-gateway/internal/handshake"
	"github.com/chaz8081/sensor-gateway/internal/logging"
	"github.com/chaz8081/sensor-gateway/internal/metrics"
	"github.com/chaz8081/sensor-gateway/internal/reading"
	"github.com/chaz8081/sensor-gateway/internal/serial"
	"github.com/chaz8081/sensor-gateway/internal/session"
	"github.com/chaz8081/sensor-gateway/internal/sink"
	"github.com/chaz8081/sensor-gateway/internal/transport"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/sensor-gateway/config.yaml)")
	validate := flag.Bool("validate", false, "load and validate the config, then exit")
	initConfig := flag.Bool("init", false, "write a commented default config, then exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}
	if *validate {
		fmt.Println("Config OK")
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var logOut io.Writer = os.Stderr
	if cfg.MQTT.LogTopic != "" {
		client, err := sink.ConnectMQTT(cfg.MQTT, 10*time.Second)
		if err != nil {
			// Mirroring is best effort; keep logging locally.
			slog.Warn("log mirroring disabled", "error", err)
		} else {
			defer client.Disconnect(250)
			logOut = io.MultiWriter(os.Stderr, logging.NewMQTTWriter(client, cfg.MQTT.LogTopic))
		}
	}
	if _, err := logging.Setup(logOut, config.ParseLogLevel(cfg.LogLevel), cfg.LogFormat); err != nil {
		return err
	}

	printBanner(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	schema, err := frame.NewSchema(cfg.Schema.Fields)
	if err != nil {
		return err
	}
	arity, err := frame.ParseArityMode(cfg.Schema.Arity)
	if err != nil {
		return err
	}

	// Storage must be reachable before the peripheral is touched.
	out, err := sink.Open(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			slog.Warn("[SINK] close", "error", err)
		}
	}()

	sup := session.New(
		newDialer(cfg),
		handshake.NewGate(handshake.Options{
			Enabled: cfg.Handshake.Enabled,
			Token:   cfg.Handshake.Token,
			Ack:     cfg.Handshake.Ack,
		}),
		reading.NewMapper(schema, cfg.Schema.Measurement, cfg.Schema.Tags),
		out,
		session.Options{
			Schema:       schema,
			Arity:        arity,
			Offset:       cfg.Schema.Offset,
			Backoff:      cfg.Session.Backoff,
			PollInterval: cfg.Session.PollInterval,
			QueueSize:    cfg.Session.QueueSize,
			LineFraming:  cfg.Transport == "ble" && cfg.Peripheral.Framing == "line",
			Metrics:      m,
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, metrics.Handler(reg, sup.Health))
		})
	}

	slog.Info("Ready. Ctrl+C to quit.")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down")
		return nil
	}
	return err
}

func newDialer(cfg *config.Config) transport.Dialer {
	if cfg.Transport == "serial" {
		return serial.NewDialer(cfg.Serial.Port, cfg.Serial.Baud, nil)
	}
	p := cfg.Peripheral
	return ble.NewDialer(ble.NewTinyGoAdapter(), ble.DialerOptions{
		Name:           p.Name,
		Address:        p.Address,
		ServiceUUID:    p.ServiceUUID,
		NotifyUUID:     p.NotifyUUID,
		WriteUUID:      p.WriteUUID,
		ScanTimeout:    p.ScanTimeout,
		ConnectTimeout: p.ConnectTimeout,
		WriteMTU:       p.WriteMTU,
	})
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file: defaults plus environment credentials.
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	peer := cfg.Serial.Port
	if cfg.Transport != "serial" {
		peer = cfg.Peripheral.Address
		if peer == "" {
			peer = "name=" + cfg.Peripheral.Name
		}
	}
	fmt.Println("=== sensor-gateway ===")
	fmt.Printf("  Transport: %s (%s)\n", cfg.Transport, peer)
	fmt.Printf("  Schema:    %s (%s)\n", strings.Join(cfg.Schema.Fields, ","), cfg.Schema.Arity)
	fmt.Printf("  Handshake: %v\n", cfg.Handshake.Enabled)
	fmt.Printf("  Storage:   %s\n", cfg.Sink.Backend)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("======================")
}
