package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResolveTimestampColumn returns the first candidate that exists as a column of
// table. Deployments disagree on the column name, so it is looked up once at
// startup instead of probed per query.
func ResolveTimestampColumn(ctx context.Context, q Querier, table string, candidates []string) (string, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return "", fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("failed to scan column name: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to list columns of %s: %w", table, err)
	}

	return pickColumn(existing, candidates, table)
}

func pickColumn(existing map[string]bool, candidates []string, table string) (string, error) {
	for _, c := range candidates {
		if existing[c] {
			return c, nil
		}
	}
	return "", fmt.Errorf("none of the timestamp columns %v exist on table %s", candidates, table)
}
