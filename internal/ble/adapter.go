// Package ble connects to a sensor peripheral exposing the Nordic UART
// Service. It handles discovery, connection, notification subscription and
// control writes, and exposes the result as a transport.Link.
package ble

import "context"

// Nordic UART Service UUIDs. TX notifies central, RX accepts writes.
const (
	ServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	WriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// ScanFilter narrows a scan. Empty fields match everything.
type ScanFilter struct {
	Name        string // exact advertised local name
	ServiceUUID string // advertised service UUID
	First       bool   // stop at the first match
}

// Matches reports whether an advertisement satisfies the filter's name.
// Service filtering is applied by the adapter, which sees the raw payload.
func (f ScanFilter) Matches(name string) bool {
	return f.Name == "" || f.Name == name
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals matching filter until ctx is done, or until
	// the first match when filter.First is set.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
