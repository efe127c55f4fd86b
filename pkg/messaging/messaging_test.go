package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/branchpos/branchpos-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (r *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	r.exchange, r.key, r.msg = exchange, key, msg
	return r.err
}

func TestPublisher_Publish(t *testing.T) {
	ch := &recordingChannel{}
	p := &Publisher{
		channel:  func() channelPublisher { return ch },
		exchange: ExchangeInventoryEvents,
		source:   "inventory-service",
		logger:   logger.Nop(),
	}

	ctx := WithCorrelationID(context.Background(), "corr-9")
	err := p.Publish(ctx, EventStockConsumed, StockMutatedEvent{ProductID: "p1", Requested: -3, Applied: -2, Clamped: true})
	require.NoError(t, err)

	assert.Equal(t, ExchangeInventoryEvents, ch.exchange)
	assert.Equal(t, EventStockConsumed, ch.key)
	assert.Equal(t, "corr-9", ch.msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	var event Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &event))
	assert.Equal(t, "inventory-service", event.Source)
	assert.Equal(t, ch.msg.MessageId, event.ID)

	var data StockMutatedEvent
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, -2, data.Applied)
	assert.True(t, data.Clamped)
}

func TestPublisher_PublishError(t *testing.T) {
	ch := &recordingChannel{err: errors.New("channel closed")}
	p := &Publisher{channel: func() channelPublisher { return ch }, logger: logger.Nop()}

	err := p.Publish(context.Background(), EventStockReceived, map[string]int{"q": 1})
	assert.ErrorContains(t, err, "channel closed")
}

func TestConsumer_Dispatch(t *testing.T) {
	body := func(t *testing.T, eventType string) []byte {
		e, err := NewEvent(eventType, "pos", "corr-1", SaleItemSoldEvent{ProductID: "p1", Quantity: 2})
		require.NoError(t, err)
		b, err := json.Marshal(e)
		require.NoError(t, err)
		return b
	}

	t.Run("malformed body is rejected", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, Reject, c.Dispatch(context.Background(), []byte("{"), 0))
	})

	t.Run("unhandled type is acked", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, Ack, c.Dispatch(context.Background(), body(t, "sales.refund"), 0))
	})

	t.Run("handler receives payload and correlation id", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		var got SaleItemSoldEvent
		var corr string
		c.RegisterHandler(EventSaleItemSold, func(ctx context.Context, e *Event) error {
			corr = CorrelationID(ctx)
			return e.UnmarshalData(&got)
		})

		assert.Equal(t, Ack, c.Dispatch(context.Background(), body(t, EventSaleItemSold), 0))
		assert.Equal(t, 2, got.Quantity)
		assert.Equal(t, "corr-1", corr)
	})

	t.Run("failing handler requeues until attempts exhausted", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		c.RegisterHandler(EventSaleItemSold, func(context.Context, *Event) error { return errors.New("db down") })

		assert.Equal(t, Requeue, c.Dispatch(context.Background(), body(t, EventSaleItemSold), 0))
		assert.Equal(t, Reject, c.Dispatch(context.Background(), body(t, EventSaleItemSold), MaxDeliveryAttempts))
	})
}

func TestDeathCount(t *testing.T) {
	assert.Equal(t, 0, deathCount(nil))
	headers := amqp.Table{"x-death": []interface{}{amqp.Table{"count": int64(2)}}}
	assert.Equal(t, 2, deathCount(headers))
}
