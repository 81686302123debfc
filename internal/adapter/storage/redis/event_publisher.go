package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-settlement/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// EventPublisher implements ports.EventPublisher over Redis PUBLISH.
// Delivery is fire-and-forget: subscribers that are not connected miss it.
type EventPublisher struct {
	client  *goredis.Client
	channel string
}

// NewEventPublisher creates a publisher for channel.
func NewEventPublisher(client *goredis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = "payments:confirmed"
	}
	return &EventPublisher{client: client, channel: channel}
}

// PublishPaymentConfirmed publishes the event as JSON.
func (p *EventPublisher) PublishPaymentConfirmed(ctx context.Context, event ports.PaymentConfirmedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
