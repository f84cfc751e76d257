package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// Pool sizes the connection pool. Zero values keep the driver defaults.
type Pool struct {
	MaxOpen     int
	MaxLifetime time.Duration
}

// Connect opens the reporting database and pings it. SQL slower than 500ms
// and errors are logged through logger.
func Connect(ctx context.Context, dsn string, pool Pool, logger *slog.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if logger != nil {
		cfg.Logger = gormlogger.NewSlogLogger(logger.With(slog.String("component", "gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpen)
		sqlDB.SetMaxIdleConns(pool.MaxOpen)
	}
	if pool.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// ConnectOrFallback returns a nil DB and a no-op cleanup when dsn is empty or
// unreachable, which makes callers use the in-memory stores.
func ConnectOrFallback(ctx context.Context, dsn string, pool Pool, logger *slog.Logger) (*gorm.DB, func()) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}
	if strings.TrimSpace(dsn) == "" {
		logger.Warn("POSTGRES_DSN not set, synced records stay in memory")
		return nil, noop
	}
	db, err := Connect(ctx, dsn, pool, logger)
	if err != nil {
		logger.Warn("postgres unavailable, synced records stay in memory", slog.String("error", err.Error()))
		return nil, noop
	}
	sqlDB, _ := db.DB()
	logger.Info("postgres connection established", slog.Int("max_open_conns", pool.MaxOpen))
	return db, func() { _ = sqlDB.Close() }
}
