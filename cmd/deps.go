package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/willowchat/realtime-service/internal/fanout"
	"github.com/willowchat/realtime-service/internal/platform/bus"
	"github.com/willowchat/realtime-service/internal/platform/persistence"
	"github.com/willowchat/realtime-service/internal/platform/presence"
	"github.com/willowchat/realtime-service/internal/platform/push"
	"github.com/willowchat/realtime-service/internal/realtime"
	"github.com/willowchat/realtime-service/pkg/chat"
	"github.com/willowchat/realtime-service/realtimeservice"
	"github.com/willowchat/realtime-service/realtimeservice/config"
)

// PlatformDependencies are the external collaborators, chosen per run mode:
// real backends in prod, in-memory implementations in local mode.
type PlatformDependencies struct {
	Members       chat.MembershipStore
	Notifications chat.NotificationStore
	Tokens        chat.DeviceTokenStore
	Gateway       chat.PushGateway

	Bus   bus.Bus
	Index presence.Index
}

// Services is the assembled application: the two runnable services plus the
// bus subscription to close on shutdown.
type Services struct {
	API         *realtimeservice.Wrapper
	ConnManager *realtime.Manager
	BusSub      io.Closer
}

// BuildServices wires the realtime core onto the platform dependencies and
// constructs both services. The wiring is identical for prod and local mode;
// only the platform layer differs.
func BuildServices(
	ctx context.Context,
	cfg *config.AppConfig,
	platform *PlatformDependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*Services, error) {
	nodeID := uuid.NewString()

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(registry, platform.Bus, nodeID, logger)
	tracker := realtime.NewTracker(platform.Index, platform.Members, nodeID, logger)
	subs := realtime.NewSubscriptions(hub, tracker, logger)
	tracker.OnTransition(subs.HandleTransition)
	syncer := realtime.NewSyncer(hub, logger)

	engine := fanout.NewEngine(
		platform.Notifications,
		platform.Tokens,
		platform.Gateway,
		tracker,
		hub,
		logger,
	)
	gate := fanout.NewGate(platform.Members)

	busSub, err := hub.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to cluster bus: %w", err)
	}

	apiService, err := realtimeservice.New(cfg, &realtimeservice.ServiceDependencies{
		Hub:           hub,
		Syncer:        syncer,
		Engine:        engine,
		Gate:          gate,
		Notifications: platform.Notifications,
		Tokens:        platform.Tokens,
	}, authMiddleware, logger)
	if err != nil {
		_ = busSub.Close()
		return nil, fmt.Errorf("failed to create API service: %w", err)
	}

	connManager := realtime.NewManager(
		cfg.WebSocketPort,
		authMiddleware,
		hub,
		tracker,
		subs,
		platform.Members,
		logger,
	)

	return &Services{API: apiService, ConnManager: connManager, BusSub: busSub}, nil
}

// NewProdDependencies creates real, production-ready platform dependencies.
func NewProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*PlatformDependencies, error) {
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}

	members, err := persistence.NewFirestoreMembershipStore(fsClient, logger)
	if err != nil {
		return nil, err
	}
	notifications, err := persistence.NewFirestoreNotificationStore(fsClient, logger)
	if err != nil {
		return nil, err
	}
	tokens, err := persistence.NewFirestoreDeviceTokenStore(fsClient, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := newPushGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clusterBus, err := newBus(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	index, err := newPresenceIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &PlatformDependencies{
		Members:       members,
		Notifications: notifications,
		Tokens:        tokens,
		Gateway:       gateway,
		Bus:           clusterBus,
		Index:         index,
	}, nil
}

// newBus creates the pluggable cross-instance bus based on config.
func newBus(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (bus.Bus, error) {
	busType := cfg.Bus.Type
	logger.Info().Str("type", busType).Msg("Initializing cluster bus...")

	switch busType {
	case "redis":
		rdb, err := newRedisClient(ctx, cfg.Bus.Redis.Addr, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis bus: %w", err)
		}
		return bus.NewRedisBus(rdb, "", logger)

	case "nats":
		natsURL := cfg.Bus.Nats.URL
		if natsURL == "" {
			return nil, fmt.Errorf("bus type is nats but no url is configured")
		}
		conn, err := nats.Connect(natsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats at %s: %w", natsURL, err)
		}
		logger.Info().Str("url", natsURL).Msg("Connected to NATS bus.")
		return bus.NewNatsBus(conn, "", logger)

	case "memory":
		logger.Warn().Msg("Using in-memory bus; cross-instance delivery is disabled.")
		return bus.NewMemoryBus(), nil

	default:
		return nil, fmt.Errorf("invalid bus type: %s (must be 'redis', 'nats' or 'memory')", busType)
	}
}

// newPresenceIndex creates the pluggable shared presence index based on config.
func newPresenceIndex(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (presence.Index, error) {
	indexType := cfg.PresenceIndex.Type
	logger.Info().Str("type", indexType).Msg("Initializing presence index...")

	switch indexType {
	case "redis":
		rdb, err := newRedisClient(ctx, cfg.PresenceIndex.Redis.Addr, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis presence index: %w", err)
		}
		return presence.NewRedisIndex(rdb, logger)

	case "memory":
		logger.Warn().Msg("Using in-memory presence index; cross-instance lookups are disabled.")
		return presence.NewMemoryIndex(), nil

	default:
		return nil, fmt.Errorf("invalid presence_index type: %s (must be 'redis' or 'memory')", indexType)
	}
}

func newRedisClient(ctx context.Context, addr string, logger zerolog.Logger) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("no redis address configured")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info().Str("addr", addr).Msg("Connected to redis.")
	return rdb, nil
}

func newPushGateway(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (chat.PushGateway, error) {
	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return push.NewFCMGateway(ctx, app, logger)
}
