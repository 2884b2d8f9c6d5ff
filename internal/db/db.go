package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/brainforce/apiserver/config"
	_ "github.com/lib/pq"
)

const (
	driverName   = "postgres"
	pingTimeout  = 5 * time.Second
	connMaxIdle  = 2 * time.Minute
	retryBackoff = 500 * time.Millisecond
	maxBackoff   = 8 * time.Second
)

// PostgresURL builds the connection URL shared by the pool and the migrator.
func PostgresURL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}
	u := &url.URL{
		Scheme:   "postgres",
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		User:     url.UserPassword(cfg.User, cfg.Password),
		Path:     cfg.DBName,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// Open returns a sized pool once Postgres answers a ping. Failed pings are
// retried with exponential backoff up to cfg.ConnectAttempts times.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	pool, err := sql.Open(driverName, PostgresURL(cfg))
	if err != nil {
		return nil, err
	}
	configurePool(pool, cfg)

	if err := waitForPing(ctx, pool.PingContext, cfg.ConnectAttempts, retryBackoff, logger); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", cfg.DBName, err)
	}
	return pool, nil
}

func configurePool(pool *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	pool.SetConnMaxIdleTime(connMaxIdle)
}

func waitForPing(ctx context.Context, ping func(context.Context) error, attempts int, backoff time.Duration, logger *slog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil || attempt == attempts {
			return err
		}

		logger.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
