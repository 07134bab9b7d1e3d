// Package push contains the FCM-backed implementation of the push gateway.
package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// multicaster is the slice of the FCM messaging client the gateway uses.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway implements chat.PushGateway on Firebase Cloud Messaging.
type FCMGateway struct {
	client multicaster
	logger zerolog.Logger
}

// NewFCMGateway builds a gateway from an initialized Firebase app.
func NewFCMGateway(ctx context.Context, app *firebase.App, logger zerolog.Logger) (*FCMGateway, error) {
	if app == nil {
		return nil, fmt.Errorf("firebase app cannot be nil")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return newFCMGateway(client, logger), nil
}

func newFCMGateway(client multicaster, logger zerolog.Logger) *FCMGateway {
	return &FCMGateway{
		client: client,
		logger: logger.With().Str("component", "FCMGateway").Logger(),
	}
}

// SendMulticast delivers one message to a batch of tokens and reports the
// per-token outcome. A token rejected as unregistered is flagged for cleanup;
// other per-token failures carry their error through for logging upstream.
func (g *FCMGateway) SendMulticast(ctx context.Context, msg chat.PushMessage, tokens []chat.DeviceToken) (*chat.MulticastResult, error) {
	if len(tokens) == 0 {
		return &chat.MulticastResult{}, nil
	}

	tokenValues := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenValues = append(tokenValues, t.Token)
	}

	batch, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokenValues,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("multicast send failed: %w", err)
	}

	result := &chat.MulticastResult{
		SuccessCount: batch.SuccessCount,
		FailureCount: batch.FailureCount,
		Results:      make([]chat.PushResult, 0, len(batch.Responses)),
	}
	for i, resp := range batch.Responses {
		r := chat.PushResult{Token: tokenValues[i]}
		if !resp.Success {
			r.Err = resp.Error
			r.Unregistered = messaging.IsUnregistered(resp.Error)
		}
		result.Results = append(result.Results, r)
	}

	g.logger.Debug().
		Int("success", result.SuccessCount).
		Int("failure", result.FailureCount).
		Msg("Multicast batch sent.")
	return result, nil
}
