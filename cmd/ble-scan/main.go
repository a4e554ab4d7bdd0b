// Command ble-scan lists nearby BLE peripherals so the right value for
// peripheral.name or peripheral.address can be put in the config.
//
// Usage:
//
//	go run ./cmd/ble-scan [--duration 10s] [--name FeatherSense] [--all]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/sensor-gateway/internal/ble"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	name := flag.String("name", "", "only show peripherals with this local name")
	all := flag.Bool("all", false, "show peripherals that do not advertise the UART service")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := ble.ScanFilter{Name: *name}
	if !*all {
		filter.ServiceUUID = ble.ServiceUUID
	}

	fmt.Printf("Scanning for %s...\n", *duration)
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), filter, *duration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No peripherals found.")
		return
	}
	fmt.Printf("\n%-20s  %-40s  %s\n", "NAME", "ADDRESS", "RSSI")
	for _, d := range devices {
		n := d.Name
		if n == "" {
			n = "(unnamed)"
		}
		fmt.Printf("%-20s  %-40s  %d\n", n, d.Address, d.RSSI)
	}
}
