package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guestgreet/config"
	"guestgreet/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas werden an jede SQLite-Verbindung übergeben
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=foreign_keys(1)",
}

// Open öffnet eine Datenbankverbindung für den konfigurierten Treiber und migriert das Schema
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	// Konfiguration des GORM-Loggers
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormConfig := &gorm.Config{Logger: gormLogger}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "postgres":
		log.Infof("Connecting to PostgreSQL database %s at %s:%d", cfg.Name, cfg.Host, cfg.Port)
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DSN(),
			PreferSimpleProtocol: true,
		}), gormConfig)
	default:
		if cfg.File == "" {
			return nil, fmt.Errorf("sqlite database file is not configured")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		log.Infof("Connecting to SQLite database: %s", cfg.File)
		db, err = gorm.Open(sqlite.Open(cfg.File+"?"+strings.Join(sqlitePragmas, "&")), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	// Verbindungs-Pool-Einstellungen
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.Identity{},
		&models.FaceEmbedding{},
		&models.RecognitionEvent{},
	); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database connection established successfully")
	return db, nil
}
