// Package serial implements transport.Link over a tethered UART. The
// peripheral prints the same comma-delimited lines it would notify over BLE.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/chaz8081/sensor-gateway/internal/ble/protocol"
	"github.com/chaz8081/sensor-gateway/internal/transport"
)

// DefaultBaud matches the peripheral's USB CDC console.
const DefaultBaud = 115200

// readTimeout bounds each Read so the reader notices Close.
const readTimeout = 500 * time.Millisecond

// Port is the subset of serial.Port the link uses.
type Port interface {
	io.ReadWriteCloser
}

// OpenFunc opens a port. Replaced in tests.
type OpenFunc func(path string, baud int) (Port, error)

// Open opens path as 8N1 at baud with a short read timeout.
func Open(path string, baud int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

// Dialer opens the configured serial port. It implements transport.Dialer.
type Dialer struct {
	path string
	baud int
	open OpenFunc
}

// NewDialer creates a Dialer for path. baud <= 0 uses DefaultBaud; a nil
// open uses Open.
func NewDialer(path string, baud int, open OpenFunc) *Dialer {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if open == nil {
		open = Open
	}
	return &Dialer{path: path, baud: baud, open: open}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := d.open(d.path, d.baud)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", d.path, err)
	}
	l := &link{port: port, peer: d.path, done: make(chan struct{})}
	l.connected.Store(true)
	slog.Info("[SERIAL] opened port", "path", d.path, "baud", d.baud)
	return l, nil
}

// Compile-time check that Dialer implements transport.Dialer.
var _ transport.Dialer = (*Dialer)(nil)

type link struct {
	port Port
	peer string

	connected  atomic.Bool
	subscribed atomic.Bool
	done       chan struct{}
	wg         sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (l *link) Peer() string { return l.peer }

// Subscribe starts the reader goroutine. fn receives one line per call.
func (l *link) Subscribe(fn func([]byte)) error {
	if !l.connected.Load() {
		return transport.ErrClosed
	}
	if !l.subscribed.CompareAndSwap(false, true) {
		return errors.New("serial: already subscribed")
	}
	l.wg.Add(1)
	go l.readLoop(fn)
	return nil
}

func (l *link) readLoop(fn func([]byte)) {
	defer l.wg.Done()
	lines := protocol.NewLineSplitter(0)
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			fn(line)
		}
		if err != nil {
			select {
			case <-l.done:
			default:
				if IsDisconnect(err) {
					slog.Warn("[SERIAL] device disconnected", "path", l.peer, "error", err)
				} else {
					slog.Warn("[SERIAL] read failed", "path", l.peer, "error", err)
				}
			}
			l.connected.Store(false)
			return
		}
		select {
		case <-l.done:
			return
		default:
		}
	}
}

func (l *link) Write(p []byte) error {
	if !l.connected.Load() {
		return transport.ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(p); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

func (l *link) Connected() bool { return l.connected.Load() }

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		close(l.done)
		l.closeErr = l.port.Close()
		l.wg.Wait()
	})
	return l.closeErr
}

// IsDisconnect reports whether err means the device went away rather than
// a configuration or permission problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}
