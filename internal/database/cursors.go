package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCursor returns the last fully processed block of a pool, or ErrNotFound.
func (db *Database) GetCursor(ctx context.Context, poolAddress string) (uint64, error) {
	var last uint64
	err := db.pool.QueryRow(ctx,
		`SELECT last_block FROM poll_cursors WHERE pool_address = $1`, poolAddress,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get cursor for %s: %w", poolAddress, err)
	}
	return last, nil
}

// AdvanceCursor moves the cursor forward. It never moves it backwards.
func (db *Database) AdvanceCursor(ctx context.Context, poolAddress string, block uint64) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO poll_cursors (pool_address, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (pool_address) DO UPDATE SET
			last_block = GREATEST(poll_cursors.last_block, EXCLUDED.last_block),
			updated_at = NOW()`,
		poolAddress, block)
	if err != nil {
		return fmt.Errorf("failed to advance cursor for %s: %w", poolAddress, err)
	}
	return nil
}

func (db *Database) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT pool_address, last_block, updated_at FROM poll_cursors ORDER BY pool_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.PoolAddress, &c.LastBlock, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
