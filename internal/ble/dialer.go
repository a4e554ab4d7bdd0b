package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/ble/protocol"
	"github.com/chaz8081/sensor-gateway/internal/transport"
)

// ErrNotFound is returned when a scan finishes without a matching peripheral.
var ErrNotFound = errors.New("ble: peripheral not found")

// DialerOptions configures how the peripheral is located and which
// characteristics carry data and control traffic.
type DialerOptions struct {
	Name           string // advertised local name, used when Address is empty
	Address        string // fixed address; skips scanning
	ServiceUUID    string
	NotifyUUID     string
	WriteUUID      string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	WriteMTU       int // max bytes per characteristic write
}

// DefaultDialerOptions returns Nordic UART Service defaults.
func DefaultDialerOptions() DialerOptions {
	return DialerOptions{
		ServiceUUID:    ServiceUUID,
		NotifyUUID:     NotifyCharUUID,
		WriteUUID:      WriteCharUUID,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WriteMTU:       protocol.DefaultMTUPayload,
	}
}

// Dialer opens links to a single peripheral. It implements transport.Dialer.
type Dialer struct {
	adapter Adapter
	opts    DialerOptions

	mu      sync.Mutex
	enabled bool
}

// NewDialer creates a Dialer. Zero-valued options fall back to defaults.
func NewDialer(adapter Adapter, opts DialerOptions) *Dialer {
	def := DefaultDialerOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.NotifyUUID == "" {
		opts.NotifyUUID = def.NotifyUUID
	}
	if opts.WriteUUID == "" {
		opts.WriteUUID = def.WriteUUID
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.WriteMTU <= 0 {
		opts.WriteMTU = def.WriteMTU
	}
	return &Dialer{adapter: adapter, opts: opts}
}

// enable powers on the adapter once. A failure is retried on the next dial.
func (d *Dialer) enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		return nil
	}
	if err := d.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	d.enabled = true
	return nil
}

// Dial locates the peripheral, connects, and discovers the notify and write
// characteristics. The returned link is not yet subscribed.
func (d *Dialer) Dial(ctx context.Context) (transport.Link, error) {
	if err := d.enable(); err != nil {
		return nil, err
	}

	address := d.opts.Address
	if address == "" {
		dev, err := d.find(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("[BLE] found peripheral", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
		address = dev.Address
	}

	cctx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	conn, err := d.adapter.Connect(cctx, address)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}

	notify, err := conn.DiscoverCharacteristic(d.opts.ServiceUUID, d.opts.NotifyUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: discover notify characteristic: %w", err)
	}
	write, err := conn.DiscoverCharacteristic(d.opts.ServiceUUID, d.opts.WriteUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: discover write characteristic: %w", err)
	}

	l := &link{
		conn:   conn,
		notify: notify,
		write:  write,
		peer:   address,
		mtu:    d.opts.WriteMTU,
	}
	l.connected.Store(true)
	conn.OnDisconnect(func() {
		if l.connected.Swap(false) {
			slog.Warn("[BLE] peripheral disconnected", "address", address)
		}
	})

	slog.Info("[BLE] connected", "address", address)
	return l, nil
}

func (d *Dialer) find(ctx context.Context) (Device, error) {
	sctx, cancel := context.WithTimeout(ctx, d.opts.ScanTimeout)
	defer cancel()

	devices, err := d.adapter.Scan(sctx, ScanFilter{Name: d.opts.Name, ServiceUUID: d.opts.ServiceUUID, First: true})
	if err != nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	for _, dev := range devices {
		if dev.Name == d.opts.Name {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%w: name %q", ErrNotFound, d.opts.Name)
}

// Compile-time check that Dialer implements transport.Dialer.
var _ transport.Dialer = (*Dialer)(nil)

// link is one connected peripheral.
type link struct {
	conn   Connection
	notify Characteristic
	write  Characteristic
	peer   string
	mtu    int

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (l *link) Peer() string { return l.peer }

func (l *link) Subscribe(fn func([]byte)) error {
	if !l.connected.Load() {
		return transport.ErrClosed
	}
	if err := l.notify.Subscribe(fn); err != nil {
		return fmt.Errorf("ble: enable notifications: %w", err)
	}
	return nil
}

// Write sends p to the write characteristic in MTU-sized chunks.
func (l *link) Write(p []byte) error {
	if !l.connected.Load() {
		return transport.ErrClosed
	}
	for _, chunk := range protocol.Chunk(p, l.mtu) {
		if err := l.write.Write(chunk); err != nil {
			return fmt.Errorf("ble: write: %w", err)
		}
	}
	return nil
}

func (l *link) Connected() bool { return l.connected.Load() }

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		l.closeErr = l.conn.Disconnect()
	})
	return l.closeErr
}
