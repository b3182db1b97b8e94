package clients

import (
	"fmt"

	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// NewPostgres opens the relational user store used when database.driver is
// "postgres".
func NewPostgres(cfg *config.Database) (*gorm.DB, error) {
	if cfg.Dsn == "" {
		return nil, fmt.Errorf("%w: missing postgres dsn", models.ErrDatabaseConnection)
	}

	log.Info("Connecting to PostgreSQL...")
	db, err := gorm.Open(postgres.Open(cfg.Dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, fmt.Errorf("%w: postgres open: %v", models.ErrDatabaseConnection, err)
	}

	log.Info("Connected to PostgreSQL")
	return db, nil
}
