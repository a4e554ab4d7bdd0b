package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/sensor-gateway/internal/config"
	"github.com/chaz8081/sensor-gateway/internal/reading"
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ConnectMQTT connects to the broker, retrying in the background after a
// lost connection.
func ConnectMQTT(cfg config.MQTTConfig, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("sink: mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTSink republishes readings as JSON for downstream persisters.
type MQTTSink struct {
	pub   Publisher
	topic string
	qos   byte
	close func()
}

// NewMQTTSink publishes to topic at qos. closeFn runs on Close; it may be nil.
func NewMQTTSink(pub Publisher, topic string, qos byte, closeFn func()) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic, qos: qos, close: closeFn}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(ctx context.Context, r reading.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return Permanent("mqtt", fmt.Errorf("marshal reading: %w", err))
	}

	token := s.pub.Publish(s.topic, s.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return Transient("mqtt", err)
		}
		return nil
	case <-ctx.Done():
		return Transient("mqtt", fmt.Errorf("publish to %s: %w", s.topic, ctx.Err()))
	}
}

func (s *MQTTSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

var _ Sink = (*MQTTSink)(nil)
