package reconciler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
)

// Window is a half-open time range [From, To) split into buckets of Granularity.
type Window struct {
	From        time.Time
	To          time.Time
	Granularity time.Duration
}

// LookbackWindow covers the last lookback up to and including the current bucket.
func LookbackWindow(now time.Time, lookback, granularity time.Duration) Window {
	now = now.UTC()
	return Window{
		From:        now.Add(-lookback).Truncate(granularity),
		To:          now.Truncate(granularity).Add(granularity),
		Granularity: granularity,
	}
}

// Aligned widens the window to whole buckets: From rounds down and To rounds
// up to a granularity boundary.
func (w Window) Aligned() Window {
	if w.Granularity <= 0 {
		return w
	}
	w.From = w.From.UTC().Truncate(w.Granularity)
	to := w.To.UTC()
	if t := to.Truncate(w.Granularity); !t.Equal(to) {
		to = t.Add(w.Granularity)
	}
	w.To = to
	return w
}

// bucketStarts lists every bucket start in the window, aligned to the granularity.
func (w Window) bucketStarts() []time.Time {
	if w.Granularity <= 0 || !w.From.Before(w.To) {
		return nil
	}
	var starts []time.Time
	for t := w.From.UTC().Truncate(w.Granularity); t.Before(w.To); t = t.Add(w.Granularity) {
		starts = append(starts, t)
	}
	return starts
}

// Contribution is the USD volume a trade adds to its bucket: the materialized
// volume when present, otherwise the absolute bought amount of a buy or the
// absolute sold amount of a sell.
func Contribution(t database.Trade) decimal.Decimal {
	if t.VolumeUSD != nil {
		return t.VolumeUSD.Abs()
	}
	return NormalizedVolume(t)
}

// NormalizedVolume computes a trade's volume from its directional amounts.
func NormalizedVolume(t database.Trade) decimal.Decimal {
	switch t.Direction {
	case database.DirectionBuy:
		return t.BoughtUSD.Abs()
	case database.DirectionSell:
		return t.SoldUSD.Abs()
	default:
		return decimal.Zero
	}
}

// Reconcile aggregates trades into directional volume buckets. Every bucket
// of the window is returned in ascending order, empty ones included, so a
// rerun over the same input yields the same output. Trades outside the window
// are ignored.
func Reconcile(trades []database.Trade, w Window) []database.VolumeBucket {
	starts := w.bucketStarts()
	buckets := make([]database.VolumeBucket, len(starts))
	index := make(map[int64]int, len(starts))
	for i, start := range starts {
		buckets[i] = database.VolumeBucket{
			Granularity:   w.Granularity,
			BucketStart:   start,
			BuyVolumeUSD:  decimal.Zero,
			SellVolumeUSD: decimal.Zero,
		}
		index[start.Unix()] = i
	}

	for _, t := range trades {
		i, ok := index[t.TradedAt.UTC().Truncate(w.Granularity).Unix()]
		if !ok {
			continue
		}
		v := Contribution(t)
		switch t.Direction {
		case database.DirectionBuy:
			buckets[i].BuyVolumeUSD = buckets[i].BuyVolumeUSD.Add(v)
		case database.DirectionSell:
			buckets[i].SellVolumeUSD = buckets[i].SellVolumeUSD.Add(v)
		}
	}
	return buckets
}
