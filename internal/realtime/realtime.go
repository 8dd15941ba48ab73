// Package realtime broadcasts data-change notifications over Redis pub/sub.
// Events are deliberately payload-free: a notification only says that a
// tenant's invoice data changed, and subscribers refetch through the normal
// query path instead of trusting a pushed snapshot.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "changes:"

// Event is one change notification. Topic names the data family that
// changed (for example "invoices"); there is no record payload.
type Event struct {
	Topic string `json:"topic"`
}

type Broker struct {
	client *redis.Client
}

func New(redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts)), nil
}

func NewWithClient(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Publish emits a change event on the tenant's channel. Failures are
// returned but non-fatal to callers: a missed notification only delays a
// refetch until the cache TTL expires.
func (b *Broker) Publish(ctx context.Context, orgID, topic string) error {
	payload, err := json.Marshal(Event{Topic: topic})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+orgID, payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe listens on every tenant channel and invokes handle with the
// originating org and topic until ctx is cancelled. Malformed messages are
// logged and skipped.
func (b *Broker) Subscribe(ctx context.Context, handle func(orgID string, event Event)) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			orgID := strings.TrimPrefix(msg.Channel, channelPrefix)
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("realtime: drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			handle(orgID, event)
		}
	}
}

func (b *Broker) Close() error {
	return b.client.Close()
}
