package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertVolumeBuckets writes buckets in one transaction, replacing stored
// totals. Buckets are derived data, so a rerun simply overwrites them.
func (db *Database) UpsertVolumeBuckets(ctx context.Context, buckets []VolumeBucket) error {
	if len(buckets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO volume_buckets (granularity_seconds, bucket_start, buy_volume_usd, sell_volume_usd, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, NOW())
		ON CONFLICT (granularity_seconds, bucket_start) DO UPDATE SET
			buy_volume_usd = EXCLUDED.buy_volume_usd,
			sell_volume_usd = EXCLUDED.sell_volume_usd,
			updated_at = NOW()`

	for _, b := range buckets {
		batch.Queue(query,
			int64(b.Granularity/time.Second),
			b.BucketStart.UTC(),
			b.BuyVolumeUSD.String(),
			b.SellVolumeUSD.String(),
		)
	}

	return db.Transaction(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to upsert volume bucket %s: %w", buckets[i].BucketStart.Format(time.RFC3339), err)
			}
		}
		return br.Close()
	})
}

// VolumeBuckets returns stored buckets with from <= bucket_start < to.
func (db *Database) VolumeBuckets(ctx context.Context, granularity time.Duration, from, to time.Time) ([]VolumeBucket, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT bucket_start, buy_volume_usd::text, sell_volume_usd::text
		FROM volume_buckets
		WHERE granularity_seconds = $1 AND bucket_start >= $2 AND bucket_start < $3
		ORDER BY bucket_start`,
		int64(granularity/time.Second), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query volume buckets: %w", err)
	}
	defer rows.Close()

	var out []VolumeBucket
	for rows.Next() {
		b := VolumeBucket{Granularity: granularity}
		var buy, sell string
		if err := rows.Scan(&b.BucketStart, &buy, &sell); err != nil {
			return nil, fmt.Errorf("failed to scan volume bucket: %w", err)
		}
		if b.BuyVolumeUSD, err = parseDecimal(buy); err != nil {
			return nil, err
		}
		if b.SellVolumeUSD, err = parseDecimal(sell); err != nil {
			return nil, err
		}
		b.BucketStart = b.BucketStart.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
