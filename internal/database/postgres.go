package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
)

var ErrNotFound = errors.New("not found")

const defaultTradeTimeColumn = "traded_at"

// Database is the shared store of every poller and the reconciler. Uniqueness
// is enforced by table constraints, so concurrent writers need no locking.
type Database struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	tradeTimeColumn string
}

func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("Connected to database")

	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, logger zerolog.Logger) *Database {
	return &Database{
		pool:            pool,
		logger:          logger.With().Str("component", "database").Logger(),
		tradeTimeColumn: defaultTradeTimeColumn,
	}
}

func (db *Database) Close() {
	db.pool.Close()
	db.logger.Info().Msg("Database connection closed")
}

func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (db *Database) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				db.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// TradeTimeColumn is the timestamp column of the trades table in use.
func (db *Database) TradeTimeColumn() string {
	return db.tradeTimeColumn
}

// UseTradeTimeColumn resolves the trades timestamp column among candidates
// and keeps it for every later trade query.
func (db *Database) UseTradeTimeColumn(ctx context.Context, candidates []string) error {
	if len(candidates) == 0 {
		return nil
	}
	column, err := ResolveTimestampColumn(ctx, db.pool, "trades", candidates)
	if err != nil {
		return err
	}
	db.tradeTimeColumn = column
	db.logger.Info().Str("column", column).Msg("Resolved trades timestamp column")
	return nil
}

func (db *Database) tradeTimeIdent() string {
	return pgx.Identifier{db.tradeTimeColumn}.Sanitize()
}
