package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/jogardn/roast-orders/internal/circuitbreaker"
	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	OrderLifecycleTopic = "orders.lifecycle"
	eventTypeHeader     = "event_type"
)

type KafkaProducer struct {
	producer sarama.SyncProducer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaProducerWith(producer, logger), nil
}

// NewKafkaProducerWith wraps an existing producer, e.g. a sarama mock.
func NewKafkaProducerWith(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "kafka-producer",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			MaxRequests: 1,
		}, logger),
		logger: logger,
	}
}

// PublishOrderEvent sends the event keyed by order id so one order's events
// stay ordered within a partition.
func (p *KafkaProducer) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: OrderLifecycleTopic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(eventTypeHeader), Value: []byte(event.Type)},
		},
	}

	var partition int32
	var offset int64
	err = p.breaker.Execute(func() error {
		var sendErr error
		partition, offset, sendErr = p.producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(event.Type, "failed").Inc()
		p.logger.WithError(err).WithField("order_id", event.OrderID).Error("Failed to send message to Kafka")
		return err
	}

	metrics.EventsPublished.WithLabelValues(event.Type, "sent").Inc()
	p.logger.WithFields(logrus.Fields{
		"topic":      OrderLifecycleTopic,
		"partition":  partition,
		"offset":     offset,
		"order_id":   event.OrderID,
		"event_type": event.Type,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
