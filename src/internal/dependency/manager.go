package dependency

import (
	"context"
	"fmt"
	"time"

	"dealerhub-realtime-svc/src/clients"
	"dealerhub-realtime-svc/src/internal/auth"
	"dealerhub-realtime-svc/src/internal/cache"
	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/emitter"
	"dealerhub-realtime-svc/src/internal/gateway"
	"dealerhub-realtime-svc/src/internal/presence"
	"dealerhub-realtime-svc/src/internal/telephony"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Manager struct {
	Router          *gin.Engine
	Config          *config.Configuration
	Mongodb         *clients.MongoDB
	Postgres        *gorm.DB
	Redis           *clients.RedisClient
	RabbitMQ        *clients.RabbitMQ
	CacheService    cache.Service
	UserRepo        user.Repository
	Verifier        auth.Verifier
	Publisher       *clients.ActivityPublisher
	PresenceStore   presence.Store
	PresenceHandler presence.Handler
	Bus             gateway.Bus
	Hub             *gateway.Hub
	Gateway         *gateway.Gateway
	SmsEmitter      *emitter.SmsEmitter
	CallEmitter     *emitter.CallEmitter
	Telephony       *telephony.Consumer
}

// NewDependencyManager wires the service graph. Exactly one of mongodb and
// postgres is set, matching database.driver; rabbitMQ may be nil.
func NewDependencyManager(ctx context.Context,
	router *gin.Engine,
	mongodb *clients.MongoDB,
	postgres *gorm.DB,
	redisClient *clients.RedisClient,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) (*Manager, error) {
	userRepo, err := newUserRepository(cfg, mongodb, postgres)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var publisher *clients.ActivityPublisher
	if rabbitMQ != nil {
		publisher = clients.NewActivityPublisher(cfg, rabbitMQ)
	}

	cacheService := cache.NewCacheService(redisClient.Client)
	presenceStore := presence.NewStore(cacheService, userRepo, publisher, &cfg.Presence)

	var bus gateway.Bus
	if cfg.WebSocket.BusEnabled {
		bus = gateway.NewRedisBus(redisClient.Client, cfg.WebSocket.BusChannel)
	}
	hub := gateway.NewHub(bus)
	gw := gateway.NewGateway(cfg, verifier, presenceStore, userRepo, hub)

	smsEmitter := emitter.NewSmsEmitter(hub)
	callEmitter := emitter.NewCallEmitter(hub)

	return &Manager{
		Router:          router,
		Config:          cfg,
		Mongodb:         mongodb,
		Postgres:        postgres,
		Redis:           redisClient,
		RabbitMQ:        rabbitMQ,
		CacheService:    cacheService,
		UserRepo:        userRepo,
		Verifier:        verifier,
		Publisher:       publisher,
		PresenceStore:   presenceStore,
		PresenceHandler: presence.NewHandler(cfg, presenceStore),
		Bus:             bus,
		Hub:             hub,
		Gateway:         gw,
		SmsEmitter:      smsEmitter,
		CallEmitter:     callEmitter,
		Telephony: telephony.NewConsumer(smsEmitter, callEmitter,
			time.Duration(cfg.App.Timeout)*time.Second),
	}, nil
}

func newUserRepository(cfg *config.Configuration, mongodb *clients.MongoDB, postgres *gorm.DB) (user.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		if postgres == nil {
			return nil, fmt.Errorf("postgres driver selected but no connection")
		}
		return user.NewGormRepository(postgres), nil
	case "mongo", "mongodb":
		if mongodb == nil {
			return nil, fmt.Errorf("mongo driver selected but no connection")
		}
		return user.NewMongoRepository(mongodb, cfg.Database.Collections.Users, cfg.Database.Collections.Memberships), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// newVerifier prefers Cognito JWKS when a user pool is configured and falls
// back to the shared HMAC key for local environments.
func newVerifier(ctx context.Context, cfg *config.Configuration) (auth.Verifier, error) {
	if cfg.Security.Cognito.UserPoolID != "" {
		v, err := auth.NewCognitoVerifier(ctx, &cfg.Security.Cognito)
		if err != nil {
			return nil, fmt.Errorf("cognito verifier: %w", err)
		}
		return v, nil
	}
	if cfg.Security.JwtKey == "" {
		return nil, fmt.Errorf("no token verifier configured")
	}
	logrus.Warn("Cognito user pool not configured, using HMAC token verification")
	return auth.NewHMACVerifier(cfg.Security.JwtKey), nil
}

// Close releases resources owned by the manager itself. Client connections
// are closed by the server.
func (m *Manager) Close() {
	if m.Bus != nil {
		if err := m.Bus.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close room bus")
		}
	}
	if v, ok := m.Verifier.(*auth.CognitoVerifier); ok {
		v.Close()
	}
}
