package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/metrics"
	"github.com/chaz8081/sensor-gateway/internal/reading"
	"github.com/chaz8081/sensor-gateway/internal/wal"
)

// SpoolOptions configures replay timing.
type SpoolOptions struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Spool keeps readings that failed transiently in a WAL and replays them in
// order once the backend recovers. While anything is spooled, new readings
// are appended behind it so storage order matches arrival order.
type Spool struct {
	next Sink
	log  *wal.FileWAL
	opts SpoolOptions

	// mu serialises WAL appends against replay.
	mu      sync.Mutex
	pending bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSpool decorates next and starts the replay loop. Records left in the
// WAL by a previous run are replayed first.
func NewSpool(next Sink, log *wal.FileWAL, opts SpoolOptions) *Spool {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	stats := log.Stats()
	s := &Spool{
		next:    next,
		log:     log,
		opts:    opts,
		pending: stats.Pending > 0,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	opts.Metrics.SetSpool(stats.Pending, stats.SizeBytes)
	if s.pending {
		slog.Info("[SPOOL] replaying readings from previous run", "pending", stats.Pending)
		s.signal()
	}
	go s.run()
	return s
}

func (s *Spool) Name() string { return s.next.Name() }

func (s *Spool) Write(ctx context.Context, r reading.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return s.appendLocked(r)
	}

	err := s.next.Write(ctx, r)
	if Classify(err) != ClassTransient {
		return err
	}
	slog.Warn("[SPOOL] backend unavailable, spooling reading", "backend", s.next.Name(), "error", err)
	if aerr := s.appendLocked(r); aerr != nil {
		return aerr
	}
	s.pending = true
	s.signal()
	return nil
}

func (s *Spool) appendLocked(r reading.Reading) error {
	if _, err := s.log.Append(r); err != nil {
		if errors.Is(err, wal.ErrFull) {
			return Permanent("spool", err)
		}
		return Transient("spool", err)
	}
	stats := s.log.Stats()
	s.opts.Metrics.SinkWrite(metrics.OutcomeSpooled)
	s.opts.Metrics.SetSpool(stats.Pending, stats.SizeBytes)
	return nil
}

func (s *Spool) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Spool) run() {
	defer close(s.done)

	backoff := s.opts.MinBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}

		err := s.replay()
		switch {
		case err == nil:
			backoff = s.opts.MinBackoff
		case errors.Is(err, errStopped):
			return
		default:
			slog.Debug("[SPOOL] replay paused", "error", err, "retry_in", backoff)
			backoff *= 2
			if backoff > s.opts.MaxBackoff {
				backoff = s.opts.MaxBackoff
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(backoff)
	}
}

var errStopped = errors.New("spool: stopped")

// replay writes spooled readings in order until the WAL is empty or the
// backend fails transiently.
func (s *Spool) replay() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return nil
	}

	var (
		last     wal.EntryID
		replayed int
	)
	from := s.log.Stats().OldestUncommitted
	iterErr := s.log.Iterate(from, func(id wal.EntryID, r reading.Reading) error {
		select {
		case <-s.stop:
			return errStopped
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		err := s.next.Write(ctx, r)
		cancel()

		switch Classify(err) {
		case ClassTransient:
			return err
		case ClassPermanent:
			slog.Error("[SPOOL] spooled reading rejected, dropping", "id", id, "error", err)
			s.opts.Metrics.SinkWrite(metrics.OutcomePermanent)
		default:
			replayed++
			s.opts.Metrics.SinkWrite(metrics.OutcomeOK)
		}
		last = id
		return nil
	})

	if last > 0 {
		if err := s.log.Commit(last); err != nil {
			return fmt.Errorf("spool: commit: %w", err)
		}
	}
	if replayed > 0 {
		slog.Info("[SPOOL] replayed readings", "count", replayed)
	}

	stats := s.log.Stats()
	if iterErr == nil && stats.Pending == 0 {
		s.pending = false
		if err := s.log.TruncateCommitted(); err != nil {
			slog.Warn("[SPOOL] truncate failed", "error", err)
		}
		stats = s.log.Stats()
	}
	s.opts.Metrics.SetSpool(stats.Pending, stats.SizeBytes)
	return iterErr
}

// Pending reports whether readings are waiting for replay.
func (s *Spool) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Health delegates to the wrapped backend.
func (s *Spool) Health(ctx context.Context) error {
	if hc, ok := s.next.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Close stops replay, closes the WAL and then the backend. Unreplayed
// readings stay on disk for the next run.
func (s *Spool) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		err = errors.Join(s.log.Close(), s.next.Close())
	})
	return err
}

var (
	_ Sink          = (*Spool)(nil)
	_ HealthChecker = (*Spool)(nil)
)
