// Package ingest receives push payloads from external collaborators and
// hands them to the push bus. The HTTP ingest path lives in the api
// package; this package carries the broker-based path for deployments
// where payloads arrive over MQTT instead.
package ingest

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/worker"
)

const (
	connectTimeout   = 10 * time.Second
	disconnectGrace  = 250 // milliseconds, matches paho's Disconnect contract
	subscribeTimeout = 10 * time.Second
)

// Publisher is where inbound payloads go. Satisfied by worker.PushBus.
type Publisher interface {
	Publish(d worker.Delivery)
}

// MQTTSource subscribes to a broker topic and publishes every message body
// to the push bus. Message bodies are opaque here; tolerant parsing happens
// at render time.
type MQTTSource struct {
	broker   string
	topic    string
	clientID string
	bus      Publisher
	log      *zap.Logger

	client mqtt.Client
}

func NewMQTTSource(broker, topic, clientID string, bus Publisher, log *zap.Logger) *MQTTSource {
	if clientID == "" {
		clientID = "shellworker"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSource{
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		bus:      bus,
		log:      log,
	}
}

// Start connects to the broker and subscribes. The subscription is
// re-established automatically on reconnect.
func (s *MQTTSource) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(s.clientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.topic, 1, s.onMessage)
		if !token.WaitTimeout(subscribeTimeout) {
			s.log.Error("mqtt subscribe timeout", zap.String("topic", s.topic))
			return
		}
		if err := token.Error(); err != nil {
			s.log.Error("mqtt subscribe failed",
				zap.String("topic", s.topic), zap.Error(err))
			return
		}
		s.log.Info("mqtt push source subscribed",
			zap.String("broker", s.broker), zap.String("topic", s.topic))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectGrace)
	}
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	body := msg.Payload()
	s.log.Debug("mqtt push payload received",
		zap.String("topic", msg.Topic()),
		zap.Int("bytes", len(body)))
	// Copy: paho may reuse the payload buffer after the handler returns.
	buf := make([]byte, len(body))
	copy(buf, body)
	s.bus.Publish(worker.Delivery{Body: buf})
}
