// Package session supervises the connection to the peripheral: it dials a
// link, gates inbound frames behind the handshake, decodes them into
// readings and hands those to the sink. A dropped link is retried after a
// fixed backoff for as long as the context lives.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chaz8081/sensor-gateway/internal/ble/protocol"
	"github.com/chaz8081/sensor-gateway/internal/frame"
	"github.com/chaz8081/sensor-gateway/internal/handshake"
	"github.com/chaz8081/sensor-gateway/internal/metrics"
	"github.com/chaz8081/sensor-gateway/internal/reading"
	"github.com/chaz8081/sensor-gateway/internal/transport"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultBackoff      = 5 * time.Second
	DefaultPollInterval = time.Second
	DefaultQueueSize    = 64
)

// ErrDisconnected ends a session whose link reported it is no longer up.
var ErrDisconnected = errors.New("session: link disconnected")

// Submitter accepts readings without blocking. *sink.Async implements it.
type Submitter interface {
	Submit(r reading.Reading) error
}

// Options configures a Supervisor.
type Options struct {
	Schema       frame.Schema
	Arity        frame.ArityMode
	Offset       int
	Backoff      time.Duration
	PollInterval time.Duration
	QueueSize    int
	// LineFraming reassembles newline-terminated lines across
	// notifications instead of treating each notification as one frame.
	LineFraming bool
	Metrics     *metrics.Metrics
}

// Session is one connected lifetime of the link. Its handshake status
// starts over with every new Session.
type Session struct {
	ID      uuid.UUID
	Peer    string
	Started time.Time

	status   handshake.Status // owned by the drain goroutine
	verified atomic.Bool
}

func newSession(peer string, initial handshake.Status) *Session {
	s := &Session{
		ID:      uuid.New(),
		Peer:    peer,
		Started: time.Now(),
		status:  initial,
	}
	s.verified.Store(initial == handshake.Verified)
	return s
}

// Verified reports whether the handshake has completed.
func (s *Session) Verified() bool {
	return s.verified.Load()
}

// Supervisor owns the retry loop. One Supervisor drives one peripheral.
type Supervisor struct {
	dialer transport.Dialer
	gate   *handshake.Gate
	mapper *reading.Mapper
	sink   Submitter
	opts   Options

	dropLog *rate.Limiter

	mu      sync.RWMutex
	current *Session
}

// New creates a Supervisor.
func New(dialer transport.Dialer, gate *handshake.Gate, mapper *reading.Mapper, sink Submitter, opts Options) *Supervisor {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Supervisor{
		dialer:  dialer,
		gate:    gate,
		mapper:  mapper,
		sink:    sink,
		opts:    opts,
		dropLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run dials, serves and redials until ctx is cancelled. Connect failures
// and disconnects are logged and retried after the backoff. The only
// return value is ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Warn("[SESSION] link lost, retrying", "error", err, "backoff", s.opts.Backoff)
		}

		if err := sleepCtx(ctx, s.opts.Backoff); err != nil {
			return err
		}
	}
}

// Current returns the live session, or nil between sessions.
func (s *Supervisor) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Health reports the link state for the /health endpoint.
func (s *Supervisor) Health() metrics.Health {
	sess := s.Current()
	if sess == nil {
		return metrics.Health{Status: "ok", Link: "disconnected"}
	}
	return metrics.Health{
		Status:    "ok",
		Link:      "connected",
		Peer:      sess.Peer,
		SessionID: sess.ID.String(),
		Verified:  sess.Verified(),
	}
}

func (s *Supervisor) setCurrent(sess *Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// runOnce serves a single session. It returns nil when ctx is cancelled and
// an error for every other exit.
func (s *Supervisor) runOnce(ctx context.Context) error {
	m := s.opts.Metrics

	link, err := s.dialer.Dial(ctx)
	if err != nil {
		m.ConnectFailed()
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		if err := link.Close(); err != nil {
			slog.Debug("[SESSION] link close", "error", err)
		}
	}()

	sess := newSession(link.Peer(), s.gate.Initial())
	s.setCurrent(sess)
	defer s.setCurrent(nil)
	m.SessionStarted()
	defer m.SessionEnded()

	frames := make(chan []byte, s.opts.QueueSize)
	if err := link.Subscribe(s.enqueuer(frames)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("[SESSION] connected",
		"session", sess.ID,
		"peer", sess.Peer,
		"status", sess.status,
	)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drain(sess, link, frames, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
		slog.Info("[SESSION] ended", "session", sess.ID, "duration", time.Since(sess.Started).Round(time.Second))
	}()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !link.Connected() {
				return ErrDisconnected
			}
		}
	}
}

// enqueuer builds the subscribe callback. It copies the notification and
// never blocks; frames that do not fit in the queue are counted and dropped.
func (s *Supervisor) enqueuer(frames chan<- []byte) func([]byte) {
	m := s.opts.Metrics
	var (
		mu       sync.Mutex
		splitter *protocol.LineSplitter
	)
	if s.opts.LineFraming {
		splitter = protocol.NewLineSplitter(0)
	}

	push := func(p []byte) {
		m.FrameReceived()
		select {
		case frames <- p:
		default:
			m.FrameDropped(metrics.DropQueueFull)
			if s.dropLog.Allow() {
				slog.Warn("[SESSION] frame queue full, dropping", "capacity", cap(frames))
			}
		}
	}

	// mu keeps the lines of one notification contiguous and in order on the
	// queue even if the transport delivers from more than one goroutine.
	return func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		if splitter == nil {
			buf := make([]byte, len(p))
			copy(buf, p)
			push(buf)
			return
		}
		for _, line := range splitter.Feed(p) {
			push(line)
		}
	}
}

// drain processes frames in arrival order until done is closed, then
// finishes whatever is still queued.
func (s *Supervisor) drain(sess *Session, link transport.Link, frames <-chan []byte, done <-chan struct{}) {
	ack := ackWriter{link: link, metrics: s.opts.Metrics}
	for {
		select {
		case raw := <-frames:
			s.handle(sess, ack, raw)
		case <-done:
			for {
				select {
				case raw := <-frames:
					s.handle(sess, ack, raw)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) handle(sess *Session, ack handshake.AckWriter, raw []byte) {
	m := s.opts.Metrics

	text, err := frame.Text(raw)
	if err != nil {
		if !errors.Is(err, frame.ErrEmpty) {
			slog.Warn("[SESSION] undecodable frame", "session", sess.ID, "error", err)
		}
		m.FrameDropped(metrics.DropDecode)
		return
	}

	switch s.gate.Route(&sess.status, text, ack) {
	case handshake.Drop:
		m.FrameDropped(metrics.DropUnverified)
		return
	case handshake.Accepted:
		sess.verified.Store(true)
		m.Handshake()
		return
	}

	fields, err := frame.Split(text, s.opts.Schema, s.opts.Arity, s.opts.Offset)
	if err != nil {
		slog.Warn("[SESSION] dropping frame", "session", sess.ID, "frame", text, "error", err)
		m.FrameDropped(metrics.DropDecode)
		return
	}

	r := s.mapper.Map(fields)
	m.ReadingMapped(s.opts.Schema.Len() - r.Len())
	if err := s.sink.Submit(r); err != nil {
		slog.Warn("[SESSION] reading not queued", "session", sess.ID, "error", err)
	}
}

// ackWriter counts failed acknowledgement writes.
type ackWriter struct {
	link    transport.Link
	metrics *metrics.Metrics
}

func (w ackWriter) Write(p []byte) error {
	err := w.link.Write(p)
	if err != nil {
		w.metrics.AckFailed()
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
