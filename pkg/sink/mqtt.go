package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	mqttQoS            = 1
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 250 // milliseconds
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.New("sink: mqtt publish timeout")

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

// MQTTSink publishes findings to <topic>/<sender>.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	log    *logrus.Entry
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	log := logrus.WithFields(logrus.Fields{"component": "mqtt", "broker": cfg.Broker})

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("Connected to broker")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("Connection lost")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return newMQTTSink(client, cfg.Topic), nil
}

func newMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	if topic == "" {
		topic = "rpl/findings"
	}
	return &MQTTSink{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		log:    logrus.WithField("component", "mqtt"),
	}
}

// Topic returns the topic a finding is published to.
func (s *MQTTSink) Topic(f models.Finding) string {
	sender := f.Sender
	if sender == "" {
		sender = "local"
	}
	return s.topic + "/" + sender
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(_ context.Context, f models.Finding) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}

	token := s.client.Publish(s.Topic(f), mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(mqttQuiesce)
	s.log.Info("Disconnected from broker")
	return nil
}
