package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultChannel = "realtime.cluster"

// RedisBus implements Bus over a redis pub/sub channel shared by all
// instances.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisBus creates a bus on the given channel; an empty channel name uses
// the default.
func NewRedisBus(client *redis.Client, channel string, logger zerolog.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "RedisBus").Logger(),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal bus envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish bus envelope: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, nodeID string, handler Handler) (io.Closer, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	// Force the subscription to be established before we return, so no
	// envelope published after Subscribe is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to bus channel: %w", err)
	}

	go func() {
		for msg := range sub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error().Err(err).Msg("Failed to unmarshal bus envelope, skipping.")
				continue
			}
			if env.NodeID == nodeID {
				continue
			}
			handler(env)
		}
	}()

	return sub, nil
}
