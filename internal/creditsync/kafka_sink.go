package creditsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"go.uber.org/zap"
)

var ErrNoBrokers = errors.New("creditsync_no_kafka_brokers")

// KafkaSink publishes credit events to a topic keyed by company id, so a
// company's events stay ordered within one partition.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	done     chan struct{}
}

func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Errors = true
	return cfg
}

func DialKafkaSink(brokers []string, topic string, log *zap.Logger, metrics *obsmetrics.Metrics) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	producer, err := sarama.NewAsyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaSink(producer, topic, log, metrics), nil
}

func NewKafkaSink(producer sarama.AsyncProducer, topic string, log *zap.Logger, metrics *obsmetrics.Metrics) *KafkaSink {
	s := &KafkaSink{
		producer: producer,
		topic:    strings.TrimSpace(topic),
		log:      log.Named("creditsync.kafka"),
		metrics:  metrics,
		done:     make(chan struct{}),
	}
	go s.drainErrors()
	return s
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) drainErrors() {
	defer close(s.done)
	for perr := range s.producer.Errors() {
		s.metrics.RecordSyncFailure(context.Background(), s.Name())
		s.log.Error("kafka produce failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
	}
}

// Deliver hands the message to the producer. Broker failures surface
// asynchronously through the error channel.
func (s *KafkaSink) Deliver(ctx context.Context, event creditdomain.CreditChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.CompanyID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("shop_id"), Value: []byte(event.ShopID)},
			{Key: []byte("cause"), Value: []byte(event.Cause)},
		},
	}
	select {
	case s.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *KafkaSink) Close() error {
	s.producer.AsyncClose()
	<-s.done
	return nil
}
