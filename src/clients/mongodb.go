package clients

import (
	"context"
	"fmt"
	"time"

	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var log = logrus.StandardLogger()

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDB(ctx context.Context, cfg *config.Database) (*MongoDB, error) {
	log.WithField("dbname", cfg.DbName).Info("Connecting to MongoDB...")

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Url))
	if err != nil {
		log.WithError(err).Error("Failed to connect to MongoDB")
		return nil, fmt.Errorf("%w: mongo connect: %v", models.ErrDatabaseConnection, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		log.WithError(err).Error("Failed to ping MongoDB")
		return nil, fmt.Errorf("%w: mongo ping: %v", models.ErrDatabaseConnection, err)
	}

	log.Infof("Connected to MongoDB database %s", cfg.DbName)
	return &MongoDB{
		Client:   client,
		Database: client.Database(cfg.DbName),
	}, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	if err := m.Client.Disconnect(ctx); err != nil {
		log.WithError(err).Error("Failed to disconnect MongoDB")
		return err
	}
	log.Info("MongoDB connection closed")
	return nil
}
