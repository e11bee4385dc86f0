package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectMessage(date string) func([]byte) error {
	return func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.JobKey != "20250501-20250510-plant641" {
			return fmt.Errorf("unexpected job key %q", msg.JobKey)
		}
		if msg.PlantID == nil || *msg.PlantID != 641 {
			return fmt.Errorf("missing plant id")
		}
		if msg.Date != date {
			return fmt.Errorf("date %q, want %q", msg.Date, date)
		}
		return nil
	}
}

func TestKafkaSinkSendsOneMessagePerRecord(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewKafkaConfig("epias-test"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(expectMessage("2025-05-01T00:00:00+03:00"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(expectMessage("2025-05-01T01:00:00+03:00"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(expectMessage(""))

	sink := NewKafkaSinkWithProducer(producer, "", newTestLogger())
	id := int64(641)
	require.NoError(t, sink.Publish(context.Background(), sampleBatch(t, &id)))
	require.NoError(t, sink.Close())
}

func TestKafkaSinkReportsDeliveryFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(producer, "generation", newTestLogger())
	batch := sampleBatch(t, nil)
	batch.Records = batch.Records[:1]

	err := sink.Publish(context.Background(), batch)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkHonoursCancellation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewKafkaSinkWithProducer(producer, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Publish(ctx, sampleBatch(t, nil)), context.Canceled)
	require.NoError(t, sink.Close())
}
