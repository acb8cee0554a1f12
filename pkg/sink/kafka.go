package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/paulmach/orb/geojson"

	"github.com/menta2k/pontos/pkg/export"
)

// KafkaConfig holds the producer settings for KafkaSink
type KafkaConfig struct {
	BootstrapServers string `json:"bootstrap_servers"`
	Topic            string `json:"topic"`
	SecurityProtocol string `json:"security_protocol"`
	SASLMechanism    string `json:"sasl_mechanism"`
	SASLUsername     string `json:"sasl_username"`
	SASLPassword     string `json:"sasl_password"`
	CompressionType  string `json:"compression_type"`
	Acks             string `json:"acks"`
}

// ConfigMap returns the librdkafka configuration for cfg. The idempotent
// producer is enabled only when every in-sync replica must acknowledge.
func (c KafkaConfig) ConfigMap() *kafka.ConfigMap {
	m := &kafka.ConfigMap{
		"bootstrap.servers":   c.BootstrapServers,
		"enable.idempotence":  c.Acks == "" || c.Acks == "all" || c.Acks == "-1",
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	}
	set := func(key, value string) {
		if value != "" {
			(*m)[key] = value
		}
	}
	set("security.protocol", c.SecurityProtocol)
	set("sasl.mechanism", c.SASLMechanism)
	set("sasl.username", c.SASLUsername)
	set("sasl.password", c.SASLPassword)
	set("compression.type", c.CompressionType)
	set("acks", c.Acks)
	return m
}

// producer is the subset of *kafka.Producer used by KafkaSink
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaSink publishes each document as one message keyed by scan id and
// waits for its delivery report.
type KafkaSink struct {
	producer producer
	topic    string
}

// NewKafkaSink connects a producer for cfg
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if cfg.BootstrapServers == "" {
		return nil, errors.New("kafka bootstrap servers not set")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic not set")
	}

	p, err := kafka.NewProducer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return &KafkaSink{producer: p, topic: cfg.Topic}, nil
}

// Write implements Sink
func (s *KafkaSink) Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error {
	payload, err := export.Marshal(fc)
	if err != nil {
		return err
	}

	count := 0
	if fc != nil {
		count = len(fc.Features)
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(scanID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "scan_id", Value: []byte(scanID)},
			{Key: "content_type", Value: []byte("application/geo+json")},
			{Key: "feature_count", Value: []byte(strconv.Itoa(count))},
		},
		Timestamp: time.Now(),
	}

	delivery := make(chan kafka.Event, 1)
	if err := s.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("failed to produce scan %s: %w", scanID, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event for scan %s: %v", scanID, e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed for scan %s: %w", scanID, m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes pending messages and closes the producer
func (s *KafkaSink) Close(timeout time.Duration) int {
	remaining := s.producer.Flush(int(timeout.Milliseconds()))
	s.producer.Close()
	return remaining
}
