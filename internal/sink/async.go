package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/metrics"
	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// AsyncOptions configures the async writer.
type AsyncOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	DropEmpty    bool // discard readings with no parsed fields
	Metrics      *metrics.Metrics
}

// Async decouples the ingestion pipeline from storage latency: Submit never
// blocks, and a single worker goroutine owns all writes to the backend.
type Async struct {
	next Sink
	opts AsyncOptions

	mu     sync.RWMutex
	closed bool
	queue  chan reading.Reading
	done   chan struct{}
}

// NewAsync starts the worker. Call Close to drain and stop it.
func NewAsync(next Sink, opts AsyncOptions) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	a := &Async{
		next:  next,
		opts:  opts,
		queue: make(chan reading.Reading, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Name() string { return a.next.Name() }

// Submit enqueues r for writing. It returns ErrQueueFull instead of blocking
// and ErrClosed after Close.
func (a *Async) Submit(r reading.Reading) error {
	if a.opts.DropEmpty && r.Len() == 0 {
		slog.Debug("[SINK] dropping reading with no fields")
		a.opts.Metrics.SinkWrite(metrics.OutcomeEmpty)
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- r:
		return nil
	default:
		a.opts.Metrics.SinkWrite(metrics.OutcomeQueueFull)
		return ErrQueueFull
	}
}

// Pending returns the number of queued readings.
func (a *Async) Pending() int { return len(a.queue) }

func (a *Async) run() {
	defer close(a.done)
	for r := range a.queue {
		a.write(r)
	}
}

func (a *Async) write(r reading.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := a.next.Write(ctx, r)
	a.opts.Metrics.ObserveSinkLatency(time.Since(start).Seconds())

	switch Classify(err) {
	case ClassOK:
		a.opts.Metrics.SinkWrite(metrics.OutcomeOK)
		slog.Debug("[SINK] stored reading", "backend", a.next.Name(), "fields", r.Len())
	case ClassTransient:
		a.opts.Metrics.SinkWrite(metrics.OutcomeTransient)
		slog.Warn("[SINK] write failed, reading dropped", "backend", a.next.Name(), "class", "transient", "error", err)
	case ClassPermanent:
		a.opts.Metrics.SinkWrite(metrics.OutcomePermanent)
		slog.Error("[SINK] write rejected, reading dropped", "backend", a.next.Name(), "class", "permanent", "error", err)
	}
}

// Close stops accepting readings, writes everything already queued, then
// closes the backend.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
