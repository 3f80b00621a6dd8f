package database

import (
	"context"
	"fmt"
)

// UpsertPositionEvent inserts a V3 pool event keyed by (tx_hash, pool_address, event_type, owner_address).
func (db *Database) UpsertPositionEvent(ctx context.Context, ev PositionEvent) (UpsertResult, error) {
	query := `
		INSERT INTO v3_position_events (
			pool_address, pool_name, pool_version, tx_hash, block_number, log_index,
			event_type, owner_address, recipient_address,
			tick_lower, tick_upper, liquidity, amount0, amount1, sqrt_price_x96, tick, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10::numeric, $11::numeric, $12::numeric, $13::numeric, $14::numeric, $15::numeric, $16::numeric, $17
		)
		ON CONFLICT (tx_hash, pool_address, event_type, owner_address) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query,
		ev.PoolAddress,
		ev.PoolName,
		ev.PoolVersion,
		ev.TxHash,
		ev.BlockNumber,
		ev.LogIndex,
		ev.EventType,
		ev.OwnerAddress,
		ev.RecipientAddress,
		BigIntToNumeric(ev.TickLower),
		BigIntToNumeric(ev.TickUpper),
		BigIntToNumeric(ev.Liquidity),
		BigIntToNumeric(ev.Amount0),
		BigIntToNumeric(ev.Amount1),
		BigIntToNumeric(ev.SqrtPriceX96),
		BigIntToNumeric(ev.Tick),
		ev.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s event %s for pool %s: %w", ev.EventType, ev.TxHash, ev.PoolAddress, err)
	}
	return resultFromTag(tag), nil
}
