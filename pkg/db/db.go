package db

import (
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pdfbot/slack-pdf-backend/config"
)

var (
	db   *gorm.DB
	once sync.Once
)

// DSN builds the PostgreSQL connection string for the configured database.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		cfg.Host,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.TimeZone,
	)
}

// GetConnection opens a gorm connection pool against PostgreSQL.
func GetConnection(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	logLevel := logger.Warn
	if debug {
		logLevel = logger.Info
	}

	conn, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Pool.IdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Pool.MaxConnections)
	sqlDB.SetConnMaxLifetime(cfg.Pool.ConnLifeTime)

	return conn, nil
}

// GetSharedConnection returns the process-wide connection, opening it on the
// first call.
func GetSharedConnection(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var err error
	once.Do(func() {
		db, err = GetConnection(cfg, debug)
	})
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("database connection unavailable")
	}
	return db, nil
}

// Close closes the underlying connection pool.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
