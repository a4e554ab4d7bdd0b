package handshake

import (
	"errors"
	"testing"
)

type recordingWriter struct {
	writes [][]byte
	err    error
}

func (w *recordingWriter) Write(p []byte) error {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return w.err
}

func TestFreshSessionIsUnverified(t *testing.T) {
	g := NewGate(DefaultOptions())
	if g.Initial() != Unverified {
		t.Errorf("Initial() = %v, want unverified", g.Initial())
	}
}

func TestNonTokenFramesAreDropped(t *testing.T) {
	g := NewGate(DefaultOptions())
	w := &recordingWriter{}
	status := g.Initial()

	for _, text := range []string{"6.8,450,23.5,55,19.2", "HANDSHAKE", "handshake_group11", ""} {
		if d := g.Route(&status, text, w); d != Drop {
			t.Errorf("Route(%q) = %v, want drop", text, d)
		}
	}
	if status != Unverified {
		t.Errorf("status = %v, want unverified", status)
	}
	if len(w.writes) != 0 {
		t.Errorf("got %d ack writes, want 0", len(w.writes))
	}
}

func TestTokenVerifiesAndAcksOnce(t *testing.T) {
	g := NewGate(DefaultOptions())
	w := &recordingWriter{}
	status := g.Initial()

	if d := g.Route(&status, "noise HANDSHAKE_GROUP11 noise", w); d != Accepted {
		t.Fatalf("Route(token) = %v, want accepted", d)
	}
	if status != Verified {
		t.Fatalf("status = %v, want verified", status)
	}
	if len(w.writes) != 1 || string(w.writes[0]) != "ACK_HANDSHAKE\r\n" {
		t.Fatalf("writes = %q, want one ACK_HANDSHAKE\\r\\n", w.writes)
	}

	// Everything afterwards is data, including a repeated token.
	for _, text := range []string{"HANDSHAKE_GROUP11", "6.8,450,23.5,55,19.2", "garbage"} {
		if d := g.Route(&status, text, w); d != Data {
			t.Errorf("Route(%q) after verify = %v, want data", text, d)
		}
	}
	if len(w.writes) != 1 {
		t.Errorf("got %d ack writes, want exactly 1", len(w.writes))
	}
}

func TestAckFailureStillVerifies(t *testing.T) {
	g := NewGate(DefaultOptions())
	w := &recordingWriter{err: errors.New("write failed")}
	status := g.Initial()

	if d := g.Route(&status, "HANDSHAKE_GROUP11", w); d != Accepted {
		t.Fatalf("Route() = %v, want accepted", d)
	}
	if status != Verified {
		t.Errorf("status = %v, want verified after failed ack", status)
	}
	g.Route(&status, "1,2,3,4,5", w)
	if len(w.writes) != 1 {
		t.Errorf("ack retried: %d writes", len(w.writes))
	}
}

func TestHandshakeDisabled(t *testing.T) {
	g := NewGate(Options{Enabled: false})
	w := &recordingWriter{}
	status := g.Initial()

	if status != Verified {
		t.Fatalf("Initial() = %v, want verified when disabled", status)
	}
	if d := g.Route(&status, "6.8,450,23.5,55,19.2", w); d != Data {
		t.Errorf("Route() = %v, want data", d)
	}
	if len(w.writes) != 0 {
		t.Errorf("disabled handshake wrote %d acks", len(w.writes))
	}
}

func TestCustomTokenAndAck(t *testing.T) {
	g := NewGate(Options{Enabled: true, Token: "HELLO", Ack: "OK"})
	w := &recordingWriter{}
	status := g.Initial()

	g.Route(&status, "HANDSHAKE_GROUP11", w)
	if status != Unverified {
		t.Fatal("default token should not verify a custom gate")
	}
	g.Route(&status, "HELLO\r\n", w)
	if status != Verified || len(w.writes) != 1 || string(w.writes[0]) != "OK\r\n" {
		t.Errorf("status = %v, writes = %q", status, w.writes)
	}
}
