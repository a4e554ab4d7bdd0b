package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/chaz8081/sensor-gateway/internal/config"
	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// InfluxSink writes readings as points through the blocking write API.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	url    string
}

// NewInfluxSink creates a sink for an InfluxDB 2.x server, or a 1.8 server
// with "user:password" as token and "db/rp" as bucket.
func NewInfluxSink(cfg config.InfluxDBConfig, timeoutSeconds uint) *InfluxSink {
	opts := influxdb2.DefaultOptions()
	if timeoutSeconds > 0 {
		opts.SetHTTPRequestTimeout(timeoutSeconds)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		url:    cfg.URL,
	}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Health fails unless the server reports status "pass".
func (s *InfluxSink) Health(ctx context.Context) error {
	h, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("sink: influxdb health %s: %w", s.url, err)
	}
	if h.Status != domain.HealthCheckStatusPass {
		msg := ""
		if h.Message != nil {
			msg = *h.Message
		}
		return fmt.Errorf("sink: influxdb health %s: status %s %s", s.url, h.Status, msg)
	}
	return nil
}

func (s *InfluxSink) Write(ctx context.Context, r reading.Reading) error {
	fields := make(map[string]interface{}, r.Len())
	for name, v := range r.Fields() {
		fields[name] = v
	}
	p := influxdb2.NewPoint(r.Measurement(), r.Tags(), fields, r.Time())
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return classifyInflux(err)
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

// classifyInflux treats client errors other than 429 as permanent.
func classifyInflux(err error) error {
	var herr *ihttp.Error
	if errors.As(err, &herr) && herr.StatusCode >= 400 && herr.StatusCode < 500 &&
		herr.StatusCode != http.StatusTooManyRequests {
		return Permanent("influxdb", err)
	}
	return Transient("influxdb", err)
}

var (
	_ Sink          = (*InfluxSink)(nil)
	_ HealthChecker = (*InfluxSink)(nil)
)
