package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes findings as JSON messages keyed by sender, so the
// findings of one node stay on one partition.
type KafkaSink struct {
	writer messageWriter
	log    *logrus.Entry

	written atomic.Uint64
	errors  atomic.Uint64
}

// NewKafkaSink creates a synchronous writer for cfg.Topic.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	logrus.WithFields(logrus.Fields{
		"component": "kafka",
		"brokers":   cfg.Brokers,
		"topic":     cfg.Topic,
	}).Info("Kafka sink configured")
	return newKafkaSink(w), nil
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w, log: logrus.WithField("component", "kafka")}
}

// Message builds the Kafka message of a finding.
func Message(f models.Finding) (kafka.Message, error) {
	value, err := json.Marshal(f)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal finding: %w", err)
	}
	return kafka.Message{
		Key:   []byte(f.Sender),
		Value: value,
		Time:  f.DetectedAt,
		Headers: []kafka.Header{
			{Key: "code", Value: []byte(f.Code)},
			{Key: "severity", Value: []byte(f.Severity)},
		},
	}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, f models.Finding) error {
	msg, err := Message(f)
	if err != nil {
		s.errors.Add(1)
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.written.Add(1)
	return nil
}

func (s *KafkaSink) Close() error {
	err := s.writer.Close()
	s.log.WithFields(logrus.Fields{
		"written": s.written.Load(),
		"errors":  s.errors.Load(),
	}).Info("Kafka sink closed")
	return err
}
