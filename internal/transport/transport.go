// Package transport defines the link abstraction the session supervisor
// drives. BLE notifications and serial byte streams both satisfy it.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Link methods after Close.
var ErrClosed = errors.New("transport: link closed")

// Link is one live connection to the peripheral. A Link is owned by a
// single session and is never reused after Close.
type Link interface {
	// Peer identifies the remote end (BLE address or serial port path).
	Peer() string
	// Subscribe registers the callback for inbound frames. The callback
	// must not block; it may be invoked from a transport goroutine.
	Subscribe(fn func(frame []byte)) error
	// Write sends a control payload to the peripheral.
	Write(p []byte) error
	// Connected reports whether the link is still up.
	Connected() bool
	// Close releases the link. Safe to call more than once.
	Close() error
}

// Dialer establishes new links.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}
