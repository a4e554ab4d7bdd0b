package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FrameReceived()
	m.FrameReceived()
	m.FrameDropped(DropQueueFull)
	m.Handshake()
	m.ReadingMapped(2)
	m.ReadingMapped(0)
	m.SinkWrite(OutcomeOK)
	m.SinkWrite(OutcomeTransient)
	m.SinkWrite(OutcomeOK)
	m.ObserveSinkLatency(0.01)
	m.SetSpool(3, 420)
	m.SessionStarted()

	if got := testutil.ToFloat64(m.framesReceived); got != 2 {
		t.Fatalf("expected frames received 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.framesDropped.WithLabelValues(DropQueueFull)); got != 1 {
		t.Fatalf("expected queue_full drops 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.readingsMapped); got != 2 {
		t.Fatalf("expected readings mapped 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.fieldParseErrors); got != 2 {
		t.Fatalf("expected field parse failures 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.sinkWrites.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("expected ok writes 2, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.sinkLatency); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}
	if got := testutil.ToFloat64(m.spoolPending); got != 3 {
		t.Fatalf("expected spool pending 3, got %f", got)
	}
	if got := testutil.ToFloat64(m.linkUp); got != 1 {
		t.Fatalf("expected link up 1, got %f", got)
	}

	m.SessionEnded()
	if got := testutil.ToFloat64(m.linkUp); got != 0 {
		t.Fatalf("expected link up 0 after session end, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FrameReceived()
	m.FrameDropped(DropDecode)
	m.Handshake()
	m.AckFailed()
	m.ReadingMapped(1)
	m.SinkWrite(OutcomeOK)
	m.ObserveSinkLatency(1)
	m.SetSpool(1, 1)
	m.SessionStarted()
	m.SessionEnded()
	m.ConnectFailed()
}

func TestHandlerHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := Handler(reg, func() Health {
		return Health{Link: "connected", Peer: "AA:BB", SessionID: "abc", Verified: true}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body Health
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Link != "connected" || !body.Verified || body.Peer != "AA:BB" {
		t.Errorf("health = %+v", body)
	}
}

func TestHandlerHealthWithoutReporter(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(prometheus.NewRegistry(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rec.Body.String(), `"link":"disconnected"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandlerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SessionStarted()

	rec := httptest.NewRecorder()
	Handler(reg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sensor_gateway_sessions_started_total 1") {
		t.Errorf("metrics body missing sessions counter:\n%s", rec.Body.String())
	}
}
