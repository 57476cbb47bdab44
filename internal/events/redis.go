package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel UI gateways subscribe to.
const DefaultChannel = "pos.events"

// RedisSink publishes events as JSON on a Redis channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink constructs a RedisSink. An empty channel uses DefaultChannel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, evt Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Kind, err)
	}
	if err := s.client.Publish(ctx, s.channel, raw).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Kind, err)
	}
	return nil
}

// Subscribe streams decoded events until ctx is cancelled.
func (s *RedisSink) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
