package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pos-settlement/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisher_PublishPaymentConfirmed(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "payments:confirmed")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := ports.PaymentConfirmedEvent{
		OrderID:     "order-1",
		ConfirmedBy: "user-42",
		ConfirmedAt: time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewEventPublisher(client, "").PublishPaymentConfirmed(ctx, event))

	select {
	case msg := <-sub.Channel():
		var got ports.PaymentConfirmedEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, event.OrderID, got.OrderID)
		assert.Equal(t, event.ConfirmedBy, got.ConfirmedBy)
		assert.True(t, event.ConfirmedAt.Equal(got.ConfirmedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventPublisher_RedisDown(t *testing.T) {
	mr, client := newTestClient(t)
	mr.Close()

	err := NewEventPublisher(client, "orders").PublishPaymentConfirmed(context.Background(), ports.PaymentConfirmedEvent{OrderID: "o"})
	assert.Error(t, err)
}
