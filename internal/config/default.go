package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultTemplate = `# sensor-gateway configuration
#
# Credentials can also come from INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG,
# INFLUXDB_BUCKET, POSTGRES_URL, NATS_URL, REDIS_ADDR and MQTT_BROKER.

# "ble" or "serial"
transport: ble

peripheral:
  # Scan for this advertised name, or set address to connect directly.
  name: FeatherSense
  address: ""
  service_uuid: 6e400001-b5a3-f393-e0a9-e50e24dcca9e
  notify_uuid: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
  write_uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
  scan_timeout: 10s
  connect_timeout: 10s
  # "notification": one frame per notification. "line": reassemble on newlines.
  framing: notification
  write_mtu: 20

serial:
  port: ""
  baud: 115200

schema:
  fields: [pH, TDS, temperature, humidity, water_temp]
  # "strict": exactly len(fields) columns. "at_least": extra columns ignored.
  arity: strict
  offset: 0
  measurement: sensor_data
  tags:
    source: feathersense

handshake:
  enabled: true
  token: HANDSHAKE_GROUP11
  ack: ACK_HANDSHAKE

session:
  backoff: 5s
  poll_interval: 1s
  queue_size: 64

sink:
  # influxdb, timescale, mqtt or nats
  backend: influxdb
  queue_size: 256
  write_timeout: 5s
  drop_empty: true
  influxdb:
    url: http://localhost:8086
    # required; INFLUXDB_TOKEN overrides ("user:password" for 1.8)
    token: ""
    org: home
    bucket: sensors
  timescale:
    url: ""
    table: sensor_readings
  nats:
    url: ""
    subject: sensors.readings
  redis:
    # Last-value cache, disabled while addr is empty.
    addr: ""
    ttl: 24h
    key_prefix: "sensor:last:"
  spool:
    enabled: false
    dir: ~/.config/sensor-gateway/spool
    max_bytes: 67108864
    min_backoff: 1s
    max_backoff: 1m

mqtt:
  broker: ""
  client_id: sensor-gateway
  topic: sensors/readings
  qos: 1
  log_topic: ""

metrics:
  enabled: true
  addr: ":9100"

log_level: info
# "text" or "json"
log_format: text
`

// WriteDefault writes the commented default config to DefaultConfigPath.
// It returns the written path, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if path == "config.yaml" {
		return "", errors.New("cannot determine home directory")
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}
