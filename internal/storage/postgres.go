package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mattjoyce/spanlink/internal/config"
)

// OpenPostgres creates a pgx pool, wraps it as *sql.DB and bootstraps the schema.
func OpenPostgres(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to ledger database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "spanlink"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dctx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := &DB{DB: stdlib.OpenDBFromPool(pool), Dialect: Postgres, pool: pool}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("connected to ledger database", "driver", "postgres")
	return db, nil
}

// Open picks the driver named in cfg.
func Open(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg, logger)
	case "sqlite", "":
		logger.Info("opening ledger database", "driver", "sqlite", "path", cfg.Path)
		return OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
