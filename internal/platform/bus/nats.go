package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const defaultSubject = "realtime.cluster"

// NatsBus implements Bus over a NATS subject. Deployments already running
// NATS for other services can use it instead of the redis backend.
type NatsBus struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

func NewNatsBus(conn *nats.Conn, subject string, logger zerolog.Logger) (*NatsBus, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if subject == "" {
		subject = defaultSubject
	}
	return &NatsBus{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "NatsBus").Logger(),
	}, nil
}

func (b *NatsBus) Publish(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal bus envelope: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("failed to publish bus envelope: %w", err)
	}
	return nil
}

func (b *NatsBus) Subscribe(_ context.Context, nodeID string, handler Handler) (io.Closer, error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Error().Err(err).Msg("Failed to unmarshal bus envelope, skipping.")
			return
		}
		if env.NodeID == nodeID {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to bus subject: %w", err)
	}
	return &natsCloser{sub: sub}, nil
}

type natsCloser struct {
	sub *nats.Subscription
}

func (c *natsCloser) Close() error {
	return c.sub.Unsubscribe()
}
