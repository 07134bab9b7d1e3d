// Package fakes provides in-memory test doubles for the service's external
// dependencies. They back the local run mode and the package tests; the
// stores themselves have real in-memory implementations in
// internal/platform/persistence.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

var errTokenUnregistered = errors.New("registration token not registered")

// PushGateway is a recording chat.PushGateway. Tokens listed in Unregistered
// come back flagged for cleanup; tokens mapped in Failures come back with
// that error.
type PushGateway struct {
	mu           sync.Mutex
	sent         []SentBatch
	unregistered map[string]bool
	failures     map[string]error
	logger       zerolog.Logger
}

// SentBatch is one recorded SendMulticast call.
type SentBatch struct {
	Message chat.PushMessage
	Tokens  []chat.DeviceToken
}

func NewPushGateway(logger zerolog.Logger) *PushGateway {
	return &PushGateway{
		unregistered: make(map[string]bool),
		failures:     make(map[string]error),
		logger:       logger.With().Str("component", "FakePushGateway").Logger(),
	}
}

// MarkUnregistered makes future sends report the token as unregistered.
func (g *PushGateway) MarkUnregistered(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unregistered[token] = true
}

// FailToken makes future sends report the given error for the token.
func (g *PushGateway) FailToken(token string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[token] = err
}

func (g *PushGateway) SendMulticast(_ context.Context, msg chat.PushMessage, tokens []chat.DeviceToken) (*chat.MulticastResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sent = append(g.sent, SentBatch{Message: msg, Tokens: tokens})
	g.logger.Debug().Int("tokens", len(tokens)).Msg("Fake multicast send.")

	result := &chat.MulticastResult{}
	for _, t := range tokens {
		r := chat.PushResult{Token: t.Token}
		switch {
		case g.unregistered[t.Token]:
			r.Unregistered = true
			r.Err = errTokenUnregistered
			result.FailureCount++
		case g.failures[t.Token] != nil:
			r.Err = g.failures[t.Token]
			result.FailureCount++
		default:
			result.SuccessCount++
		}
		result.Results = append(result.Results, r)
	}
	return result, nil
}

// Sent returns a copy of every recorded batch.
func (g *PushGateway) Sent() []SentBatch {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SentBatch, len(g.sent))
	copy(out, g.sent)
	return out
}
