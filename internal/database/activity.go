package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

func resultFromTag(tag pgconn.CommandTag) UpsertResult {
	if tag.RowsAffected() == 0 {
		return DuplicateIgnored
	}
	return Inserted
}

// UpsertActivity inserts a classified LP transfer. A row with the same
// (tx_hash, pool_address) is left untouched and DuplicateIgnored is returned.
func (db *Database) UpsertActivity(ctx context.Context, rec ActivityRecord) (UpsertResult, error) {
	query := `
		INSERT INTO lp_activity (
			pool_address, pool_name, pool_version, tx_hash, block_number, log_index,
			from_address, to_address, transfer_kind, lp_amount, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11)
		ON CONFLICT (tx_hash, pool_address) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query,
		rec.PoolAddress,
		rec.PoolName,
		rec.PoolVersion,
		rec.TxHash,
		rec.BlockNumber,
		rec.LogIndex,
		rec.FromAddress,
		rec.ToAddress,
		rec.TransferKind,
		rec.LPAmount.String(),
		rec.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert activity %s for pool %s: %w", rec.TxHash, rec.PoolAddress, err)
	}
	return resultFromTag(tag), nil
}

// CountActivityByKind groups stored activity per pool and transfer kind.
func (db *Database) CountActivityByKind(ctx context.Context) ([]ActivityCount, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT pool_address, transfer_kind, COUNT(*)
		FROM lp_activity
		GROUP BY pool_address, transfer_kind
		ORDER BY pool_address, transfer_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count activity: %w", err)
	}
	defer rows.Close()

	var counts []ActivityCount
	for rows.Next() {
		var c ActivityCount
		if err := rows.Scan(&c.PoolAddress, &c.TransferKind, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan activity count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RecentActivity returns a page of a pool's activity, newest first.
func (db *Database) RecentActivity(ctx context.Context, poolAddress string, limit, offset int) ([]ActivityRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT pool_address, pool_name, pool_version, tx_hash, block_number, log_index,
		       from_address, to_address, transfer_kind, lp_amount::text, timestamp
		FROM lp_activity
		WHERE pool_address = $1
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2 OFFSET $3`, poolAddress, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityRecord
	for rows.Next() {
		var rec ActivityRecord
		var amount string
		if err := rows.Scan(
			&rec.PoolAddress, &rec.PoolName, &rec.PoolVersion, &rec.TxHash, &rec.BlockNumber, &rec.LogIndex,
			&rec.FromAddress, &rec.ToAddress, &rec.TransferKind, &amount, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if rec.LPAmount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
