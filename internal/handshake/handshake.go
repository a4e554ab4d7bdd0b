// Package handshake gates a session's inbound frames behind an
// application-level token exchange with the peripheral.
//
// A session starts Unverified. The first frame containing the token moves
// it to Verified and triggers exactly one acknowledgement write. Every frame
// after that is data. There is no way back to Unverified; a new session
// starts over.
package handshake

import (
	"log/slog"
	"strings"
)

// Reference control payloads.
const (
	DefaultToken = "HANDSHAKE_GROUP11"
	DefaultAck   = "ACK_HANDSHAKE"
)

// Status is the per-session verification state.
type Status int

const (
	Unverified Status = iota
	Verified
)

func (s Status) String() string {
	if s == Verified {
		return "verified"
	}
	return "unverified"
}

// Decision tells the caller what to do with a frame.
type Decision int

const (
	// Drop means the session is unverified and the frame is not the token.
	Drop Decision = iota
	// Accepted means the frame carried the token and the session is now verified.
	Accepted
	// Data means the frame should go on to the decoder and mapper.
	Data
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Data:
		return "data"
	default:
		return "drop"
	}
}

// AckWriter sends the acknowledgement back over the link.
type AckWriter interface {
	Write(p []byte) error
}

// Options configures the gate.
type Options struct {
	Enabled bool   // false means sessions start Verified
	Token   string // substring that verifies the session
	Ack     string // acknowledgement literal, sent with a CRLF terminator
}

// DefaultOptions returns the reference handshake.
func DefaultOptions() Options {
	return Options{
		Enabled: true,
		Token:   DefaultToken,
		Ack:     DefaultAck,
	}
}

// Gate evaluates frames against a session's Status. It holds no per-session
// state of its own, so one Gate serves every session of a Supervisor.
type Gate struct {
	enabled bool
	token   string
	ack     []byte
}

// NewGate creates a Gate. Empty Token or Ack fall back to the defaults.
func NewGate(opts Options) *Gate {
	if opts.Token == "" {
		opts.Token = DefaultToken
	}
	if opts.Ack == "" {
		opts.Ack = DefaultAck
	}
	return &Gate{
		enabled: opts.Enabled,
		token:   opts.Token,
		ack:     []byte(opts.Ack + "\r\n"),
	}
}

// Initial returns the Status a new session starts in.
func (g *Gate) Initial() Status {
	if !g.enabled {
		return Verified
	}
	return Unverified
}

// AckPayload returns a copy of the bytes written on verification.
func (g *Gate) AckPayload() []byte {
	out := make([]byte, len(g.ack))
	copy(out, g.ack)
	return out
}

// Route decides how to treat text given the session status, updating
// status on the Unverified -> Verified transition. The ack is written
// before Route returns so the next frame is always routed against the
// updated status. A failed ack write is logged; the session stays verified.
func (g *Gate) Route(status *Status, text string, w AckWriter) Decision {
	if *status == Verified {
		return Data
	}
	if !strings.Contains(text, g.token) {
		slog.Debug("[HANDSHAKE] ignoring frame before handshake", "frame", text)
		return Drop
	}
	*status = Verified
	if err := w.Write(g.AckPayload()); err != nil {
		slog.Warn("[HANDSHAKE] ack write failed", "error", err)
	} else {
		slog.Info("[HANDSHAKE] verified, ack sent")
	}
	return Accepted
}
