package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jogardn/roast-orders/internal/circuitbreaker"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleEvent() models.OrderEvent {
	order := &models.Order{
		ID:          "0b8f3c1e-5d7a-4a8e-9a53-2f6c1b8d9e10",
		OrderNumber: "P-07-03-2026-004",
		Status:      models.StatusPending,
		Quantity:    decimal.RequireFromString("1.5"),
		TotalPrice:  decimal.NewFromInt(170),
	}
	return models.NewOrderEvent(models.EventOrderCreated, order, "")
}

func TestPublishOrderEvent(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got models.OrderEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.OrderNumber != "P-07-03-2026-004" || got.Type != models.EventOrderCreated {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	p := NewKafkaProducerWith(mock, testLogger())
	require.NoError(t, p.PublishOrderEvent(context.Background(), sampleEvent()))
}

func TestPublishFailureOpensBreaker(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	p := NewKafkaProducerWith(mock, testLogger())
	for i := 0; i < 5; i++ {
		mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, p.PublishOrderEvent(context.Background(), sampleEvent()), sarama.ErrOutOfBrokers)
	}

	// No expectation is queued: an open breaker must not reach the producer.
	err := p.PublishOrderEvent(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
}

type recordingHandler struct {
	events []models.OrderEvent
}

func (h *recordingHandler) HandleOrderEvent(event models.OrderEvent) error {
	h.events = append(h.events, event)
	return nil
}

func TestHandleMessage(t *testing.T) {
	rec := &recordingHandler{}
	h := &consumerGroupHandler{handler: rec, logger: testLogger()}

	data, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	require.NoError(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderLifecycleTopic, Value: data}))
	require.Len(t, rec.events, 1)
	assert.Equal(t, "P-07-03-2026-004", rec.events[0].OrderNumber)
	assert.True(t, rec.events[0].Quantity.Equal(decimal.RequireFromString("1.5")))

	assert.NoError(t, h.handleMessage(&sarama.ConsumerMessage{Topic: "something.else", Value: data}))
	assert.Len(t, rec.events, 1)

	assert.Error(t, h.handleMessage(&sarama.ConsumerMessage{Topic: OrderLifecycleTopic, Value: []byte("{")}))
}
