package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Shopify/sarama"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// DefaultKafkaTopic receives the records when no topic is configured.
const DefaultKafkaTopic = "epias.generation"

// KafkaConfig holds the producer settings.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Message is the value of one Kafka record.
type Message struct {
	JobKey  string       `json:"job_key"`
	PlantID *int64       `json:"plant_id,omitempty"`
	Date    string       `json:"date,omitempty"`
	Record  epias.Record `json:"record"`
}

// KafkaSink produces one message per record, keyed by job key so a job stays
// on one partition in order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaConfig returns the producer configuration used by NewKafkaSink.
func NewKafkaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Compression = sarama.CompressionZSTD
	config.Version = sarama.V2_1_0_0
	return config
}

// NewKafkaSink connects a synchronous producer to the brokers.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaSinkWithProducer uses an existing producer.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

// Publish sends the batch in one SendMessages call. Consumers deduplicate on
// job key and date.
func (s *KafkaSink) Publish(ctx context.Context, batch *Batch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(batch.Records) == 0 {
		return nil
	}

	messages := make([]*sarama.ProducerMessage, 0, len(batch.Records))
	for i, record := range batch.Records {
		msg := Message{JobKey: batch.Key, PlantID: batch.PlantID, Record: record}
		if date, ok := record["date"].(string); ok {
			msg.Date = date
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(batch.Key),
			Value: sarama.ByteEncoder(value),
		})
	}

	if err := s.producer.SendMessages(messages); err != nil {
		if errs, ok := err.(sarama.ProducerErrors); ok {
			return fmt.Errorf("failed to deliver %d of %d messages: %w", len(errs), len(messages), errs[0].Err)
		}
		return fmt.Errorf("failed to deliver messages: %w", err)
	}
	s.logger.Debug(fmt.Sprintf("  📨 Sent %d messages to %s", len(messages), s.topic))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
