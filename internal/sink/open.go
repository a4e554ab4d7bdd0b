package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/config"
	"github.com/chaz8081/sensor-gateway/internal/metrics"
	"github.com/chaz8081/sensor-gateway/internal/wal"
)

// Open builds the configured backend, wraps it with the optional last-value
// cache and spool, verifies the backend is healthy and starts the async
// writer. A failed health check is returned as an error; the caller treats
// it as fatal.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Async, error) {
	sc := cfg.Sink

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var s Sink = backend
	if sc.Redis.Addr != "" {
		rdb, err := ConnectRedis(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			backend.Close()
			return nil, err
		}
		s = NewLastValueCache(s, rdb, sc.Redis.KeyPrefix, sc.Redis.TTL, rdb.Close)
		slog.Info("[SINK] last-value cache enabled", "addr", sc.Redis.Addr, "ttl", sc.Redis.TTL)
	}

	if hc, ok := s.(HealthChecker); ok {
		hctx, cancel := context.WithTimeout(ctx, sc.WriteTimeout)
		err := hc.Health(hctx)
		cancel()
		if err != nil {
			s.Close()
			return nil, err
		}
		slog.Info("[SINK] storage healthy", "backend", s.Name())
	}

	if sc.Spool.Enabled {
		spoolLog, err := wal.Open(sc.Spool.Dir, sc.Spool.MaxBytes)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("sink: open spool: %w", err)
		}
		s = NewSpool(s, spoolLog, SpoolOptions{
			MinBackoff:   sc.Spool.MinBackoff,
			MaxBackoff:   sc.Spool.MaxBackoff,
			WriteTimeout: sc.WriteTimeout,
			Metrics:      m,
		})
		slog.Info("[SINK] spool enabled", "dir", sc.Spool.Dir, "max_bytes", sc.Spool.MaxBytes)
	}

	return NewAsync(s, AsyncOptions{
		QueueSize:    sc.QueueSize,
		WriteTimeout: sc.WriteTimeout,
		DropEmpty:    sc.DropEmpty,
		Metrics:      m,
	}), nil
}

func openBackend(ctx context.Context, cfg *config.Config) (Sink, error) {
	sc := cfg.Sink
	switch sc.Backend {
	case "influxdb":
		timeout := uint(sc.WriteTimeout / time.Second)
		if timeout == 0 {
			timeout = 1
		}
		return NewInfluxSink(sc.InfluxDB, timeout), nil
	case "timescale":
		ts, err := OpenTimescale(ctx, sc.Timescale.URL, sc.Timescale.Table)
		if err != nil {
			return nil, err
		}
		if err := ts.EnsureTable(ctx); err != nil {
			ts.Close()
			return nil, err
		}
		return ts, nil
	case "mqtt":
		client, err := ConnectMQTT(cfg.MQTT, sc.WriteTimeout)
		if err != nil {
			return nil, err
		}
		return NewMQTTSink(client, cfg.MQTT.Topic, cfg.MQTT.QoS, func() { client.Disconnect(250) }), nil
	case "nats":
		nc, err := ConnectNATS(sc.NATS.URL)
		if err != nil {
			return nil, err
		}
		return NewNATSSink(nc, sc.NATS.Subject, func() { _ = nc.Drain() }), nil
	default:
		return nil, fmt.Errorf("sink: unknown backend %q", sc.Backend)
	}
}
