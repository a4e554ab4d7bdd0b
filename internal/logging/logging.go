// Package logging configures the process-wide slog logger and optionally
// mirrors every log line to an MQTT topic.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// NewHandler builds a text or JSON handler writing to w.
func NewHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}

// Setup installs a handler as the slog default and returns the logger.
func Setup(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	h, err := NewHandler(w, level, format)
	if err != nil {
		return nil, err
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

// Publisher is the part of mqtt.Client the writer uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTWriter publishes each write as one message at QoS 0 without waiting
// for the broker. Combine it with os.Stderr through io.MultiWriter.
type MQTTWriter struct {
	pub   Publisher
	topic string
}

// NewMQTTWriter creates a writer publishing to topic.
func NewMQTTWriter(pub Publisher, topic string) *MQTTWriter {
	return &MQTTWriter{pub: pub, topic: topic}
}

// Write never fails; a broker outage only loses the mirrored copy.
func (w *MQTTWriter) Write(p []byte) (int, error) {
	payload := make([]byte, len(p))
	copy(payload, p)
	w.pub.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
