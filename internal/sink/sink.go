// Package sink persists readings. Backends report failures as transient
// (worth retrying) or permanent (the reading can never be stored); the async
// writer and spool decorate any backend.
package sink

import (
	"context"
	"errors"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

var (
	// ErrClosed is returned by Submit and Write after Close.
	ErrClosed = errors.New("sink: closed")
	// ErrQueueFull is returned by Submit when the async queue is at capacity.
	ErrQueueFull = errors.New("sink: queue full")
)

// Sink stores one reading per Write.
type Sink interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Write stores r. Errors should be classifiable with Classify.
	Write(ctx context.Context, r reading.Reading) error
	// Close releases the backend's connections.
	Close() error
}

// HealthChecker is implemented by backends that can verify connectivity
// before the gateway starts.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Class is the outcome of a write.
type Class int

const (
	ClassOK Class = iota
	ClassTransient
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a backend error with its class.
type ClassifiedError struct {
	Class   Class
	Backend string
	Err     error
}

func (e *ClassifiedError) Error() string {
	return "sink: " + e.Backend + ": " + e.Class.String() + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTransient, Backend: backend, Err: err}
}

// Permanent marks err as never retryable.
func Permanent(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassPermanent, Backend: backend, Err: err}
}

// Classify returns the class of err. Unclassified errors are transient.
func Classify(err error) Class {
	if err == nil {
		return ClassOK
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}
