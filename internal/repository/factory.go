// Package repository manages GORM connections to the aligned-volume databases
// that hold annotation and segmentation tables.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/segmat/segmat/pkg/config"
	"github.com/segmat/segmat/pkg/telemetry"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// DBConfig holds database configuration for a single aligned-volume database.
type DBConfig struct {
	Type     string // postgres or mysql
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
}

// DBType represents the database type.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
)

// NewGormDB creates a new GORM database connection based on configuration.
func NewGormDB(cfg *DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch DBType(cfg.Type) {
	case DBTypePostgres, DBType("postgresql"):
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	case DBTypeMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// VolumeDBCache lazily opens and caches one GORM connection per aligned-volume
// database name. A materialization run touches exactly one database for its
// lifetime, but a worker process serves many runs across many databases
// concurrently, so connections are cached process-wide rather than reopened
// per task.
type VolumeDBCache struct {
	base config.DatabaseConfig
	dbs  sync.Map // map[string]*gorm.DB, keyed by database name
}

// NewVolumeDBCache creates a cache that opens connections using base as the
// template, substituting only the database name per lookup.
func NewVolumeDBCache(base config.DatabaseConfig) *VolumeDBCache {
	return &VolumeDBCache{base: base}
}

// Get returns the cached GORM connection for database, opening a new one on
// first use.
func (c *VolumeDBCache) Get(database string) (*gorm.DB, error) {
	if db, ok := c.dbs.Load(database); ok {
		return db.(*gorm.DB), nil
	}

	db, err := NewGormDB(&DBConfig{
		Type:     c.base.Type,
		Host:     c.base.Host,
		Port:     c.base.Port,
		Database: database,
		User:     c.base.User,
		Password: c.base.Password,
		MaxConns: c.base.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening connection for database %q: %w", database, err)
	}

	actual, loaded := c.dbs.LoadOrStore(database, db)
	if loaded {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return actual.(*gorm.DB), nil
	}
	return db, nil
}

// SQL returns the raw *sql.DB backing the cached GORM connection for database,
// for use by internal/spatialdb's hand-rolled SQL layer.
func (c *VolumeDBCache) SQL(database string) (*sql.DB, error) {
	db, err := c.Get(database)
	if err != nil {
		return nil, err
	}
	return db.DB()
}

// CloseAll closes every cached connection.
func (c *VolumeDBCache) CloseAll() error {
	var firstErr error
	c.dbs.Range(func(_, v interface{}) bool {
		sqlDB, err := v.(*gorm.DB).DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// HealthCheck pings the cached connection for database.
func (c *VolumeDBCache) HealthCheck(ctx context.Context, database string) error {
	sqlDB, err := c.SQL(database)
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
