package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// UpsertTrade inserts a trade keyed by id. Existing trades are never overwritten.
func (db *Database) UpsertTrade(ctx context.Context, t Trade) (UpsertResult, error) {
	query := fmt.Sprintf(`
		INSERT INTO trades (
			id, pool_address, tx_hash, log_index, direction,
			bought_usd_amount, sold_usd_amount, volume_usd, %s
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)
		ON CONFLICT (id) DO NOTHING`, db.tradeTimeIdent())

	tag, err := db.pool.Exec(ctx, query,
		t.ID,
		t.PoolAddress,
		t.TxHash,
		t.LogIndex,
		string(t.Direction),
		t.BoughtUSD.String(),
		t.SoldUSD.String(),
		decimalPtrToNumeric(t.VolumeUSD),
		t.TradedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
	}
	return resultFromTag(tag), nil
}

func (db *Database) tradeColumns() string {
	return fmt.Sprintf(`id, pool_address, tx_hash, log_index, direction,
		COALESCE(bought_usd_amount, 0)::text, COALESCE(sold_usd_amount, 0)::text,
		volume_usd::text, %s`, db.tradeTimeIdent())
}

// TradesInRange returns trades with from <= time < to.
func (db *Database) TradesInRange(ctx context.Context, from, to time.Time) ([]Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades WHERE %s >= $1 AND %s < $2 ORDER BY %s`,
		db.tradeColumns(), db.tradeTimeIdent(), db.tradeTimeIdent(), db.tradeTimeIdent())

	rows, err := db.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return scanTrades(rows)
}

// TradesMissingVolume returns up to limit trades in the range whose volume_usd is still NULL.
func (db *Database) TradesMissingVolume(ctx context.Context, from, to time.Time, limit int) ([]Trade, error) {
	query := fmt.Sprintf(`SELECT %s FROM trades
		WHERE volume_usd IS NULL AND %s >= $1 AND %s < $2
		ORDER BY %s
		LIMIT $3`,
		db.tradeColumns(), db.tradeTimeIdent(), db.tradeTimeIdent(), db.tradeTimeIdent())

	rows, err := db.pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades missing volume: %w", err)
	}
	return scanTrades(rows)
}

// SetTradeVolumes fills volume_usd for the given trade ids. Rows that already
// carry a volume are left alone. It returns the number of rows updated.
func (db *Database) SetTradeVolumes(ctx context.Context, volumes map[string]decimal.Decimal) (int64, error) {
	if len(volumes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(volumes))
	for id, v := range volumes {
		batch.Queue(`UPDATE trades SET volume_usd = $2::numeric WHERE id = $1 AND volume_usd IS NULL`, id, v.String())
		ids = append(ids, id)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	var updated int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return updated, fmt.Errorf("failed to set volume of trade %s: %w", ids[i], err)
		}
		updated += tag.RowsAffected()
	}
	return updated, nil
}

func scanTrades(rows pgx.Rows) ([]Trade, error) {
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t            Trade
			direction    string
			bought, sold string
			volume       *string
		)
		if err := rows.Scan(&t.ID, &t.PoolAddress, &t.TxHash, &t.LogIndex, &direction,
			&bought, &sold, &volume, &t.TradedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Direction = Direction(direction)

		var err error
		if t.BoughtUSD, err = parseDecimal(bought); err != nil {
			return nil, err
		}
		if t.SoldUSD, err = parseDecimal(sold); err != nil {
			return nil, err
		}
		if volume != nil {
			v, err := parseDecimal(*volume)
			if err != nil {
				return nil, err
			}
			t.VolumeUSD = &v
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return d, nil
}
