package publish

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/store"
)

// MQTTPublisher is the part of mqtt.Client the sink uses.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
	Device   string
}

// MQTTSink publishes each reading to a topic.
type MQTTSink struct {
	client MQTTPublisher
	opts   MQTTOptions
	logger *logrus.Logger
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(opts MQTTOptions, logger *logrus.Logger) (*MQTTSink, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTSink(client, opts, logger), nil
}

func NewMQTTSink(client MQTTPublisher, opts MQTTOptions, logger *logrus.Logger) *MQTTSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &MQTTSink{client: client, opts: opts, logger: logger}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, r store.Reading) error {
	payload, err := Encode(r, s.opts.Device)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.opts.Topic, s.opts.QoS, s.opts.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", s.opts.Topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", s.opts.Topic, err)
	}

	s.logger.WithFields(logrus.Fields{
		"topic":     s.opts.Topic,
		"timestamp": r.Timestamp,
	}).Debug("Reading published to mqtt")
	return nil
}

// Close disconnects, giving in-flight messages 250ms.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
