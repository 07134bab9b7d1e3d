package cmd

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/willowchat/realtime-service/internal/platform/bus"
	"github.com/willowchat/realtime-service/internal/platform/persistence"
	"github.com/willowchat/realtime-service/internal/platform/presence"
	"github.com/willowchat/realtime-service/internal/test/fakes"
	"github.com/willowchat/realtime-service/realtimeservice/config"
)

// NewFakeDependencies creates in-memory platform dependencies for local
// development. Everything runs in-process: no firestore, redis, nats, or FCM
// is contacted.
func NewFakeDependencies(_ context.Context, _ *config.AppConfig, logger zerolog.Logger) (*PlatformDependencies, error) {
	return &PlatformDependencies{
		Members:       persistence.NewMemoryMembershipStore(),
		Notifications: persistence.NewMemoryNotificationStore(),
		Tokens:        persistence.NewMemoryDeviceTokenStore(),
		Gateway:       fakes.NewPushGateway(logger),
		Bus:           bus.NewMemoryBus(),
		Index:         presence.NewMemoryIndex(),
	}, nil
}
