// Package database opens the gorm connection used for history persistence.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config selects and locates the database
type Config struct {
	Type string // sqlite (default) or postgres
	Path string // sqlite file path, ":memory:" for an in-memory database
	URL  string // postgres DSN

	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to the configured database
func Open(cfg Config, log hclog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("database")

	gormCfg := &gorm.Config{Logger: newGormLogger(log)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "", TypeSQLite:
		db, err = openSQLite(cfg.Path, gormCfg)
	case TypePostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres database requires a url")
		}
		db, err = gorm.Open(postgres.Open(cfg.URL), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", typeOrDefault(cfg.Type), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("database connected", "type", typeOrDefault(cfg.Type))
	return db, nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		path = "gstream.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func typeOrDefault(t string) string {
	if t == "" {
		return TypeSQLite
	}
	return t
}

func newGormLogger(log hclog.Logger) logger.Interface {
	level := logger.Warn
	if log.IsDebug() || log.IsTrace() {
		level = logger.Info
	}
	writer := log.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	return logger.New(writer, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
