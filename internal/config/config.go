package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Transport  string           `yaml:"transport"` // "ble" or "serial"
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Serial     SerialConfig     `yaml:"serial"`
	Schema     SchemaConfig     `yaml:"schema"`
	Handshake  HandshakeConfig  `yaml:"handshake"`
	Session    SessionConfig    `yaml:"session"`
	Sink       SinkConfig       `yaml:"sink"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" or "json"
}

// PeripheralConfig locates the BLE peripheral and its UART characteristics.
type PeripheralConfig struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	ServiceUUID    string        `yaml:"service_uuid"`
	NotifyUUID     string        `yaml:"notify_uuid"`
	WriteUUID      string        `yaml:"write_uuid"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Framing        string        `yaml:"framing"` // "notification" or "line"
	WriteMTU       int           `yaml:"write_mtu"`
}

// SerialConfig holds the tethered UART settings.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// SchemaConfig describes the frame layout and the resulting point.
type SchemaConfig struct {
	Fields      []string          `yaml:"fields"`
	Arity       string            `yaml:"arity"`  // "strict" or "at_least"
	Offset      int               `yaml:"offset"` // leading columns to skip
	Measurement string            `yaml:"measurement"`
	Tags        map[string]string `yaml:"tags"`
}

// HandshakeConfig holds the application-layer handshake settings.
type HandshakeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Ack     string `yaml:"ack"`
}

// SessionConfig holds supervisor timing and queueing.
type SessionConfig struct {
	Backoff      time.Duration `yaml:"backoff"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QueueSize    int           `yaml:"queue_size"`
}

// SinkConfig selects and configures the storage backend.
type SinkConfig struct {
	Backend      string          `yaml:"backend"` // "influxdb", "timescale", "mqtt" or "nats"
	QueueSize    int             `yaml:"queue_size"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	DropEmpty    bool            `yaml:"drop_empty"`
	InfluxDB     InfluxDBConfig  `yaml:"influxdb"`
	Timescale    TimescaleConfig `yaml:"timescale"`
	NATS         NATSConfig      `yaml:"nats"`
	Redis        RedisConfig     `yaml:"redis"`
	Spool        SpoolConfig     `yaml:"spool"`
}

// InfluxDBConfig holds InfluxDB v2 connection settings. For 1.8 servers use
// "user:password" as token and "db/rp" as bucket.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// TimescaleConfig holds the Postgres connection string and target table.
type TimescaleConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// NATSConfig holds the NATS server and subject readings are published to.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// RedisConfig enables the last-value cache when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// SpoolConfig enables the on-disk spool for readings that failed transiently.
type SpoolConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Dir        string        `yaml:"dir"`
	MaxBytes   int64         `yaml:"max_bytes"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// MQTTConfig is shared by the mqtt sink backend and log mirroring.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	LogTopic string `yaml:"log_topic"` // mirror logs here when set
}

// MetricsConfig holds the Prometheus/health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sensor-gateway")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultFields is the FeatherSense frame layout.
var DefaultFields = []string{"pH", "TDS", "temperature", "humidity", "water_temp"}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Transport: "ble",
		Peripheral: PeripheralConfig{
			Name:           "FeatherSense",
			ServiceUUID:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			NotifyUUID:     "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			WriteUUID:      "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 10 * time.Second,
			Framing:        "notification",
			WriteMTU:       20,
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		Schema: SchemaConfig{
			Fields:      append([]string(nil), DefaultFields...),
			Arity:       "strict",
			Measurement: "sensor_data",
			Tags:        map[string]string{"source": "feathersense"},
		},
		Handshake: HandshakeConfig{
			Enabled: true,
			Token:   "HANDSHAKE_GROUP11",
			Ack:     "ACK_HANDSHAKE",
		},
		Session: SessionConfig{
			Backoff:      5 * time.Second,
			PollInterval: time.Second,
			QueueSize:    64,
		},
		Sink: SinkConfig{
			Backend:      "influxdb",
			QueueSize:    256,
			WriteTimeout: 5 * time.Second,
			DropEmpty:    true,
			InfluxDB: InfluxDBConfig{
				URL:    "http://localhost:8086",
				Org:    "home",
				Bucket: "sensors",
			},
			Timescale: TimescaleConfig{
				Table: "sensor_readings",
			},
			NATS: NATSConfig{
				Subject: "sensors.readings",
			},
			Redis: RedisConfig{
				TTL:       24 * time.Hour,
				KeyPrefix: "sensor:last:",
			},
			Spool: SpoolConfig{
				Dir:        filepath.Join(DefaultConfigDir(), "spool"),
				MaxBytes:   64 << 20,
				MinBackoff: time.Second,
				MaxBackoff: time.Minute,
			},
		},
		MQTT: MQTTConfig{
			ClientID: "sensor-gateway",
			Topic:    "sensors/readings",
			QoS:      1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9100",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults, then credentials are overridden from the environment. Tilde (~)
// in sink.spool.dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyEnv()
	cfg.Sink.Spool.Dir = expandTilde(cfg.Sink.Spool.Dir)

	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment so
// credentials can stay out of the config file.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.Sink.InfluxDB.URL, "INFLUXDB_URL")
	setFromEnv(&c.Sink.InfluxDB.Token, "INFLUXDB_TOKEN")
	setFromEnv(&c.Sink.InfluxDB.Org, "INFLUXDB_ORG")
	setFromEnv(&c.Sink.InfluxDB.Bucket, "INFLUXDB_BUCKET")
	setFromEnv(&c.Sink.Timescale.URL, "POSTGRES_URL")
	setFromEnv(&c.Sink.NATS.URL, "NATS_URL")
	setFromEnv(&c.Sink.Redis.Addr, "REDIS_ADDR")
	setFromEnv(&c.MQTT.Broker, "MQTT_BROKER")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ble":
		if c.Peripheral.Name == "" && c.Peripheral.Address == "" {
			return errors.New("peripheral.name or peripheral.address is required for ble transport")
		}
		if c.Peripheral.ScanTimeout <= 0 {
			return errors.New("peripheral.scan_timeout must be > 0")
		}
		if c.Peripheral.ConnectTimeout <= 0 {
			return errors.New("peripheral.connect_timeout must be > 0")
		}
		if c.Peripheral.WriteMTU <= 0 {
			return errors.New("peripheral.write_mtu must be > 0")
		}
		switch c.Peripheral.Framing {
		case "notification", "line":
		default:
			return fmt.Errorf("peripheral.framing must be \"notification\" or \"line\", got %q", c.Peripheral.Framing)
		}
	case "serial":
		if c.Serial.Port == "" {
			return errors.New("serial.port is required for serial transport")
		}
		if c.Serial.Baud <= 0 {
			return errors.New("serial.baud must be > 0")
		}
	default:
		return fmt.Errorf("transport must be \"ble\" or \"serial\", got %q", c.Transport)
	}

	if len(c.Schema.Fields) == 0 {
		return errors.New("schema.fields must not be empty")
	}
	seen := make(map[string]bool, len(c.Schema.Fields))
	for _, f := range c.Schema.Fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return errors.New("schema.fields must not contain empty names")
		}
		if seen[f] {
			return fmt.Errorf("schema.fields contains duplicate %q", f)
		}
		seen[f] = true
	}
	switch c.Schema.Arity {
	case "strict", "at_least":
	default:
		return fmt.Errorf("schema.arity must be \"strict\" or \"at_least\", got %q", c.Schema.Arity)
	}
	if c.Schema.Offset < 0 {
		return errors.New("schema.offset must be >= 0")
	}
	if c.Schema.Measurement == "" {
		return errors.New("schema.measurement must not be empty")
	}

	if c.Handshake.Enabled && c.Handshake.Token == "" {
		return errors.New("handshake.token must not be empty when handshake is enabled")
	}

	if c.Session.Backoff <= 0 {
		return errors.New("session.backoff must be > 0")
	}
	if c.Session.PollInterval <= 0 {
		return errors.New("session.poll_interval must be > 0")
	}
	if c.Session.QueueSize <= 0 {
		return errors.New("session.queue_size must be > 0")
	}

	if err := c.validateSink(); err != nil {
		return err
	}

	if c.MQTT.LogTopic != "" && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt.log_topic is set")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must not be empty when metrics are enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateSink() error {
	s := c.Sink
	switch s.Backend {
	case "influxdb":
		if s.InfluxDB.URL == "" || s.InfluxDB.Org == "" || s.InfluxDB.Bucket == "" {
			return errors.New("sink.influxdb.url, org and bucket are required for influxdb backend")
		}
		if s.InfluxDB.Token == "" {
			return errors.New("sink.influxdb.token is required for influxdb backend (or set INFLUXDB_TOKEN)")
		}
	case "timescale":
		if s.Timescale.URL == "" {
			return errors.New("sink.timescale.url is required for timescale backend")
		}
		if s.Timescale.Table == "" {
			return errors.New("sink.timescale.table must not be empty")
		}
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return errors.New("mqtt.broker and mqtt.topic are required for mqtt backend")
		}
	case "nats":
		if s.NATS.URL == "" || s.NATS.Subject == "" {
			return errors.New("sink.nats.url and subject are required for nats backend")
		}
	default:
		return fmt.Errorf("sink.backend must be influxdb, timescale, mqtt or nats, got %q", s.Backend)
	}

	if s.QueueSize <= 0 {
		return errors.New("sink.queue_size must be > 0")
	}
	if s.WriteTimeout <= 0 {
		return errors.New("sink.write_timeout must be > 0")
	}
	if s.Redis.Addr != "" && s.Redis.TTL < 0 {
		return errors.New("sink.redis.ttl must be >= 0")
	}
	if s.Spool.Enabled {
		if s.Spool.Dir == "" {
			return errors.New("sink.spool.dir is required when the spool is enabled")
		}
		if s.Spool.MinBackoff <= 0 || s.Spool.MaxBackoff < s.Spool.MinBackoff {
			return errors.New("sink.spool backoff must satisfy 0 < min_backoff <= max_backoff")
		}
	}
	return nil
}

// ParseLogLevel maps a config level to slog. Unknown values fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
