package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

// OrderEventHandler applies one lifecycle event. It must tolerate seeing the
// same event twice.
type OrderEventHandler interface {
	HandleOrderEvent(event models.OrderEvent) error
}

type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	handler *consumerGroupHandler
	logger  *logrus.Logger
}

type consumerGroupHandler struct {
	handler OrderEventHandler
	logger  *logrus.Logger
}

// NewKafkaConsumer joins groupID on the lifecycle topic. A new group starts
// from the newest offset; the board rebuilds from live traffic.
func NewKafkaConsumer(brokers, groupID string, handler OrderEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to join consumer group %s: %w", groupID, err)
	}

	return &KafkaConsumer{
		group:   group,
		handler: &consumerGroupHandler{handler: handler, logger: logger},
		logger:  logger,
	}, nil
}

// Start consumes until ctx is cancelled. Consume returns at every rebalance,
// so it is called in a loop.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.WithField("topic", OrderLifecycleTopic).Info("Consuming order events")
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, []string{OrderLifecycleTopic}, c.handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume %s: %w", OrderLifecycleTopic, err)
		}
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.group.Close()
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.WithField("claims", session.Claims()).Debug("Consumer session started")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handleMessage(message); err != nil {
				metrics.EventsConsumed.WithLabelValues("skipped").Inc()
				h.logger.WithError(err).WithFields(logrus.Fields{
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("Skipping order event")
			}
			// Marked either way so a poison message cannot stall the board.
			session.MarkMessage(message, "")
		}
	}
}

func (h *consumerGroupHandler) handleMessage(message *sarama.ConsumerMessage) error {
	if message.Topic != OrderLifecycleTopic {
		h.logger.WithField("topic", message.Topic).Warn("Ignoring message from unexpected topic")
		return nil
	}

	var event models.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	if err := h.handler.HandleOrderEvent(event); err != nil {
		return fmt.Errorf("apply %s for order %s: %w", event.Type, event.OrderID, err)
	}

	metrics.EventsConsumed.WithLabelValues("applied").Inc()
	h.logger.WithFields(logrus.Fields{
		"order_id":     event.OrderID,
		"order_number": event.OrderNumber,
		"event_type":   event.Type,
		"status":       event.Status,
	}).Debug("Order event applied")
	return nil
}
