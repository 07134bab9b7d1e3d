// Package fanout implements the notification fan-out engine: the single
// entry point application logic calls after a state mutation. It persists the
// notification record, splits the recipient set by presence, drives live
// delivery for the online half and push delivery for the offline half.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// ErrNoRecipients is returned when Dispatch is called with an empty set.
var ErrNoRecipients = errors.New("dispatch requires at least one recipient")

const defaultPushTimeout = 10 * time.Second

// Partitioner splits a recipient set into online and offline identities.
// Satisfied by the realtime presence tracker.
type Partitioner interface {
	Partition(ctx context.Context, ids []chat.Identity) (online, offline []chat.Identity)
}

// Emitter delivers a live event to every connection of one identity.
// Satisfied by the realtime hub.
type Emitter interface {
	EmitToIdentity(ctx context.Context, id chat.Identity, ev chat.Event)
}

// LiveOverride replaces the per-recipient live emission when the caller has a
// cheaper single-broadcast path, e.g. one emit to the chat's group excluding
// the sender.
type LiveOverride func(ctx context.Context, record *chat.NotificationRecord)

// DispatchOptions tune one Dispatch call.
type DispatchOptions struct {
	// Live, when set, handles the entire live path for the online
	// partition.
	Live LiveOverride
	// ExcludeIdentity suppresses the triggering actor's own echo on the
	// default per-recipient path.
	ExcludeIdentity *chat.Identity
}

// Engine is the notification fan-out coordinator.
type Engine struct {
	notifications chat.NotificationStore
	tokens        chat.DeviceTokenStore
	gateway       chat.PushGateway

	partitioner Partitioner
	emitter     Emitter

	pushTimeout time.Duration
	wg          sync.WaitGroup
	logger      zerolog.Logger
}

func NewEngine(
	notifications chat.NotificationStore,
	tokens chat.DeviceTokenStore,
	gateway chat.PushGateway,
	partitioner Partitioner,
	emitter Emitter,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		notifications: notifications,
		tokens:        tokens,
		gateway:       gateway,
		partitioner:   partitioner,
		emitter:       emitter,
		pushTimeout:   defaultPushTimeout,
		logger:        logger.With().Str("component", "FanoutEngine").Logger(),
	}
}

// Dispatch fans one notification out to a recipient set.
//
// The record is persisted before any delivery attempt, so a crash mid-fanout
// never loses it; a persistence failure is the only error Dispatch returns.
// Live emission happens synchronously; push delivery for the offline
// partition runs as a background task with a bounded timeout so a slow
// gateway never holds up the caller's request. A recipient without push
// tokens is not an error — a caller cannot fail to notify someone for lack
// of a token.
func (e *Engine) Dispatch(ctx context.Context, n chat.Notification, recipients []chat.Identity, opts DispatchOptions) (*chat.NotificationRecord, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	record, err := e.notifications.Create(ctx, n, recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	online, offline := e.partitioner.Partition(ctx, recipients)
	log := e.logger.With().
		Str("record", record.ID).
		Int("online", len(online)).
		Int("offline", len(offline)).
		Logger()
	log.Debug().Msg("Dispatching notification.")

	if len(online) > 0 {
		e.deliverLive(ctx, record, online, opts)
	}

	if len(offline) > 0 {
		e.wg.Add(1)
		// Detached from the request context: the HTTP response must not
		// wait on the gateway.
		pushCtx := context.WithoutCancel(ctx)
		go func() {
			defer e.wg.Done()
			pushCtx, cancel := context.WithTimeout(pushCtx, e.pushTimeout)
			defer cancel()
			e.deliverPush(pushCtx, record.Notification, offline)
		}()
	}

	return record, nil
}

// Wait blocks until all background push deliveries complete. Called during
// graceful shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) deliverLive(ctx context.Context, record *chat.NotificationRecord, online []chat.Identity, opts DispatchOptions) {
	if opts.Live != nil {
		opts.Live(ctx, record)
		return
	}

	ev, err := chat.NewEvent(chat.EventNotificationNew, record)
	if err != nil {
		e.logger.Error().Err(err).Str("record", record.ID).Msg("Failed to build notification event.")
		return
	}
	for _, id := range online {
		if opts.ExcludeIdentity != nil && *opts.ExcludeIdentity == id {
			continue
		}
		e.emitter.EmitToIdentity(ctx, id, ev)
	}
}

// deliverPush resolves device tokens for the offline partition and invokes
// the push gateway. Push delivery is best-effort: per-token stale-token
// errors drive token cleanup, everything else is logged and swallowed so one
// recipient's failure never affects the rest of the batch.
func (e *Engine) deliverPush(ctx context.Context, n chat.Notification, offline []chat.Identity) {
	tokens, err := e.tokens.TokensFor(ctx, offline)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to resolve device tokens; skipping push delivery.")
		return
	}
	if len(tokens) == 0 {
		e.logger.Debug().Int("recipients", len(offline)).Msg("No device tokens registered; skipping push delivery.")
		return
	}

	msg := chat.PushMessage{
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Payload,
	}

	result, err := e.gateway.SendMulticast(ctx, msg, tokens)
	if err != nil {
		// Includes timeouts: a delivery failure for the batch, not a
		// token invalidation. Retry policy belongs to the gateway.
		e.logger.Error().Err(err).Int("tokens", len(tokens)).Msg("Push gateway call failed.")
		return
	}

	for _, r := range result.Results {
		switch {
		case r.Unregistered:
			if err := e.tokens.DeleteToken(ctx, r.Token); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to delete stale device token.")
			} else {
				e.logger.Info().Msg("Deleted stale device token.")
			}
		case r.Err != nil:
			e.logger.Warn().Err(r.Err).Msg("Push delivery failed for token.")
		}
	}

	e.logger.Debug().
		Int("success", result.SuccessCount).
		Int("failure", result.FailureCount).
		Msg("Push delivery batch complete.")
}
