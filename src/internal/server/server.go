package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealerhub-realtime-svc/src/clients"
	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/dependency"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"gorm.io/gorm"
)

var log = logrus.StandardLogger()

type Server struct {
	cfg *config.Configuration
}

func New(cfg *config.Configuration) *Server {
	return &Server{cfg: cfg}
}

// Start connects backing services, serves HTTP and sockets, and blocks until
// SIGINT or SIGTERM triggers a graceful shutdown.
func (s *Server) Start() error {
	cfg := s.cfg
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongodb, postgres, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(mongodb, postgres)

	redisClient, err := clients.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	rabbitMQ := connectRabbitMQ(cfg)
	if rabbitMQ != nil {
		defer func() { _ = rabbitMQ.Close() }()
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	deps, err := dependency.NewDependencyManager(ctx, router, mongodb, postgres, redisClient, rabbitMQ, cfg)
	if err != nil {
		return fmt.Errorf("dependency wiring: %w", err)
	}
	defer deps.Close()

	if err := deps.Hub.Start(ctx); err != nil {
		log.WithError(err).Warn("Room bus unavailable, broadcasts stay local to this instance")
	}

	if rabbitMQ != nil && cfg.Telephony.Enabled {
		startTelephony(ctx, rabbitMQ, deps)
	}

	SetupRoutes(deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.App.Timeout)*time.Second)
	defer cancel()
	// hijacked sockets are not tracked by http.Server; close them while Redis
	// is still up so their presence is cleared
	if err := deps.Gateway.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Sockets did not close before the shutdown deadline")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
		return err
	}

	log.Info("Server stopped")
	return nil
}

func connectDatabase(ctx context.Context, cfg *config.Configuration) (*clients.MongoDB, *gorm.DB, error) {
	if cfg.Database.Driver == "postgres" {
		db, err := clients.NewPostgres(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := user.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate user tables: %w", err)
		}
		return nil, db, nil
	}

	mongodb, err := clients.NewMongoDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return mongodb, nil, nil
}

func closeDatabase(mongodb *clients.MongoDB, postgres *gorm.DB) {
	if mongodb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongodb.Close(ctx)
	}
	if postgres != nil {
		if sqlDB, err := postgres.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// connectRabbitMQ treats the broker as optional: without it presence activity
// is not published and telephony events are not consumed.
func connectRabbitMQ(cfg *config.Configuration) *clients.RabbitMQ {
	if cfg.Queue.RabbitMQ.Url == "" {
		log.Warn("RabbitMQ not configured")
		return nil
	}
	rabbitMQ, err := clients.NewRabbitMQ(&cfg.Queue)
	if err != nil {
		log.WithError(err).Warn("RabbitMQ unavailable, continuing without broker")
		return nil
	}
	if err := rabbitMQ.SetupExchange(); err != nil {
		log.WithError(err).Warn("RabbitMQ exchange setup failed, continuing without broker")
		_ = rabbitMQ.Close()
		return nil
	}
	return rabbitMQ
}

// startTelephony binds the telephony queue and keeps a consumer attached,
// redialing the broker after connection loss.
func startTelephony(ctx context.Context, rabbitMQ *clients.RabbitMQ, deps *dependency.Manager) {
	tcfg := deps.Config.Telephony
	subscribe := func() (<-chan amqp.Delivery, error) {
		if err := rabbitMQ.EnsureConnected(); err != nil {
			return nil, err
		}
		if err := rabbitMQ.SetupExchange(); err != nil {
			return nil, err
		}
		if err := rabbitMQ.BindQueue(tcfg.Queue, tcfg.RoutingKeys); err != nil {
			return nil, err
		}
		return rabbitMQ.Consume(tcfg.Queue, tcfg.Consumer, tcfg.Prefetch)
	}
	delay := time.Duration(deps.Config.Queue.RabbitMQ.ReconnectDelay) * time.Second
	go deps.Telephony.Serve(ctx, subscribe, delay)
}
