package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// NATSPublisher is the part of *nats.Conn the sink uses.
type NATSPublisher interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// ConnectNATS connects to url with unlimited reconnects.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("sensor-gateway"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: nats connect %s: %w", url, err)
	}
	return nc, nil
}

// NATSSink publishes readings as JSON on <subject>.<measurement>.
type NATSSink struct {
	pub     NATSPublisher
	subject string
	close   func()
}

// NewNATSSink publishes under subject. closeFn runs on Close; it may be nil.
func NewNATSSink(pub NATSPublisher, subject string, closeFn func()) *NATSSink {
	return &NATSSink{pub: pub, subject: strings.TrimSuffix(subject, "."), close: closeFn}
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a reading is published on.
func (s *NATSSink) Subject(r reading.Reading) string {
	return s.subject + "." + r.Measurement()
}

func (s *NATSSink) Write(ctx context.Context, r reading.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return Permanent("nats", fmt.Errorf("marshal reading: %w", err))
	}
	subject := s.Subject(r)
	if err := s.pub.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return Permanent("nats", err)
		}
		return Transient("nats", err)
	}
	// Flush so a write only succeeds once the server has the message.
	if err := s.pub.FlushWithContext(ctx); err != nil {
		return Transient("nats", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

var _ Sink = (*NATSSink)(nil)
