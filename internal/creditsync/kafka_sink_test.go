package creditsync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaSinkPublishesKeyedEvent(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "b2b.credit.changed" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "77" {
			return errors.New("unexpected key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var decoded map[string]any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded["cause"] != "order_created" {
			return errors.New("unexpected cause")
		}
		return nil
	})

	sink := NewKafkaSink(producer, " b2b.credit.changed ", zap.NewNop(), nil)
	require.NoError(t, sink.Deliver(context.Background(), testEvent(77)))
	require.NoError(t, sink.Close())
}

func TestKafkaSinkDrainsProducerErrors(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "b2b.credit.changed", zap.NewNop(), nil)
	assert.NoError(t, sink.Deliver(context.Background(), testEvent(1)))
	// Close returns once the error channel has been drained.
	require.NoError(t, sink.Close())
}

func TestDialKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := DialKafkaSink(nil, "topic", zap.NewNop(), nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestSaramaConfig(t *testing.T) {
	cfg := NewSaramaConfig()
	assert.Equal(t, sarama.WaitForLocal, cfg.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Return.Errors)
	assert.NoError(t, cfg.Validate())
}
