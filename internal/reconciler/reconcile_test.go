package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/mock"
)

var hour0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buy(id string, at time.Time, usd string) database.Trade {
	return database.Trade{ID: id, Direction: database.DirectionBuy, BoughtUSD: dec(usd), TradedAt: at}
}

func sell(id string, at time.Time, usd string) database.Trade {
	return database.Trade{ID: id, Direction: database.DirectionSell, SoldUSD: dec(usd), TradedAt: at}
}

func hourWindow(hours int) Window {
	return Window{From: hour0, To: hour0.Add(time.Duration(hours) * time.Hour), Granularity: time.Hour}
}

func TestReconcileSplitsBuyAndSell(t *testing.T) {
	trades := []database.Trade{
		buy("a", hour0.Add(5*time.Minute), "100"),
		buy("b", hour0.Add(50*time.Minute), "50"),
		sell("c", hour0.Add(30*time.Minute), "-30"),
	}

	buckets := Reconcile(trades, hourWindow(1))
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, hour0, b.BucketStart)
	assert.True(t, dec("150").Equal(b.BuyVolumeUSD), "buy %s", b.BuyVolumeUSD)
	assert.True(t, dec("30").Equal(b.SellVolumeUSD), "sell %s", b.SellVolumeUSD)

	share, ok := b.BuyShare()
	require.True(t, ok)
	assert.Equal(t, "0.8333", share.Round(4).String())
}

func TestReconcileEmitsEmptyBuckets(t *testing.T) {
	trades := []database.Trade{buy("a", hour0.Add(2*time.Hour+time.Minute), "10")}

	buckets := Reconcile(trades, hourWindow(4))
	require.Len(t, buckets, 4)
	for i, b := range buckets {
		assert.Equal(t, hour0.Add(time.Duration(i)*time.Hour), b.BucketStart)
	}
	assert.True(t, buckets[0].Total().IsZero())
	assert.True(t, dec("10").Equal(buckets[2].BuyVolumeUSD))

	_, ok := buckets[0].BuyShare()
	assert.False(t, ok)
}

func TestReconcileIgnoresTradesOutsideWindow(t *testing.T) {
	trades := []database.Trade{
		buy("before", hour0.Add(-time.Second), "10"),
		buy("after", hour0.Add(time.Hour), "10"),
		buy("inside", hour0, "1"),
	}
	buckets := Reconcile(trades, hourWindow(1))
	require.Len(t, buckets, 1)
	assert.True(t, dec("1").Equal(buckets[0].BuyVolumeUSD))
}

func TestReconcilePrefersMaterializedVolume(t *testing.T) {
	materialized := dec("42")
	tr := buy("a", hour0, "10")
	tr.VolumeUSD = &materialized

	buckets := Reconcile([]database.Trade{tr}, hourWindow(1))
	assert.True(t, dec("42").Equal(buckets[0].BuyVolumeUSD))
}

func TestReconcileIsIdempotentAndConserving(t *testing.T) {
	var trades []database.Trade
	expectBuy, expectSell := decimal.Zero, decimal.Zero
	for i := 0; i < 48; i++ {
		at := hour0.Add(time.Duration(i*37) * time.Minute)
		amount := decimal.NewFromInt(int64(i + 1))
		if i%3 == 0 {
			trades = append(trades, sell(fmt.Sprint(i), at, amount.Neg().String()))
			expectSell = expectSell.Add(amount)
		} else {
			trades = append(trades, buy(fmt.Sprint(i), at, amount.String()))
			expectBuy = expectBuy.Add(amount)
		}
	}
	w := hourWindow(48)

	first := Reconcile(trades, w)
	second := Reconcile(trades, w)
	require.Equal(t, len(first), len(second))

	sumBuy, sumSell := decimal.Zero, decimal.Zero
	for i := range first {
		assert.True(t, first[i].BuyVolumeUSD.Equal(second[i].BuyVolumeUSD))
		assert.True(t, first[i].SellVolumeUSD.Equal(second[i].SellVolumeUSD))
		sumBuy = sumBuy.Add(first[i].BuyVolumeUSD)
		sumSell = sumSell.Add(first[i].SellVolumeUSD)
	}
	assert.True(t, expectBuy.Equal(sumBuy), "buy %s != %s", expectBuy, sumBuy)
	assert.True(t, expectSell.Equal(sumSell), "sell %s != %s", expectSell, sumSell)
}

func TestContribution(t *testing.T) {
	tests := []struct {
		name  string
		trade database.Trade
		want  string
	}{
		{"buy uses bought", database.Trade{Direction: database.DirectionBuy, BoughtUSD: dec("-12.5"), SoldUSD: dec("99")}, "12.5"},
		{"sell uses sold", database.Trade{Direction: database.DirectionSell, BoughtUSD: dec("99"), SoldUSD: dec("-7")}, "7"},
		{"unknown direction", database.Trade{Direction: "swap", BoughtUSD: dec("1")}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, dec(tt.want).Equal(Contribution(tt.trade)), "got %s", Contribution(tt.trade))
		})
	}
}

func TestLookbackWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 42, 0, 0, time.UTC)
	w := LookbackWindow(now, 3*time.Hour, time.Hour)
	assert.Equal(t, time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), w.To)
	assert.Len(t, w.bucketStarts(), 4)
}

func newJob(store Store, batch int) *Job {
	return NewJob(store, config.ReconcilerConfig{
		Granularity:       time.Hour,
		Lookback:          24 * time.Hour,
		BackfillBatchSize: batch,
	}, nil, zerolog.Nop())
}

func TestJobBackfillsAndConverges(t *testing.T) {
	store := mock.NewStore()
	preset := dec("5")
	for _, tr := range []database.Trade{
		buy("a", hour0.Add(time.Minute), "100"),
		buy("b", hour0.Add(2*time.Minute), "50"),
		sell("c", hour0.Add(3*time.Minute), "-30"),
		{ID: "d", Direction: database.DirectionSell, SoldUSD: dec("-1"), VolumeUSD: &preset, TradedAt: hour0.Add(time.Hour)},
	} {
		_, err := store.UpsertTrade(context.Background(), tr)
		require.NoError(t, err)
	}

	job := newJob(store, 2)
	w := hourWindow(2)

	res, err := job.Run(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Backfilled)
	assert.Equal(t, 2, res.Buckets)

	require.NotNil(t, store.Trades["c"].VolumeUSD)
	assert.True(t, dec("30").Equal(*store.Trades["c"].VolumeUSD))
	assert.True(t, preset.Equal(*store.Trades["d"].VolumeUSD), "existing volume is kept")

	stored, err := store.VolumeBuckets(context.Background(), time.Hour, w.From, w.To)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, dec("150").Equal(stored[0].BuyVolumeUSD))
	assert.True(t, dec("30").Equal(stored[0].SellVolumeUSD))
	assert.True(t, dec("5").Equal(stored[1].SellVolumeUSD))

	res, err = job.Run(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Backfilled)

	again, err := store.VolumeBuckets(context.Background(), time.Hour, w.From, w.To)
	require.NoError(t, err)
	assert.Equal(t, stored, again)
}

func TestJobWidensPartialWindow(t *testing.T) {
	store := mock.NewStore()
	for _, tr := range []database.Trade{
		buy("a", hour0.Add(10*time.Minute), "100"),
		buy("b", hour0.Add(45*time.Minute), "50"),
	} {
		_, err := store.UpsertTrade(context.Background(), tr)
		require.NoError(t, err)
	}
	job := newJob(store, 10)

	_, err := job.Run(context.Background(), hourWindow(1))
	require.NoError(t, err)

	partial := Window{From: hour0, To: hour0.Add(30 * time.Minute), Granularity: time.Hour}
	res, err := job.Run(context.Background(), partial)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buckets)

	stored, err := store.VolumeBuckets(context.Background(), time.Hour, hour0, hour0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, dec("150").Equal(stored[0].BuyVolumeUSD), "got %s", stored[0].BuyVolumeUSD)
}

func TestWindowAligned(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"aligned", hour0, hour0.Add(time.Hour), hour0, hour0.Add(time.Hour)},
		{"partial end", hour0, hour0.Add(30 * time.Minute), hour0, hour0.Add(time.Hour)},
		{"partial start", hour0.Add(15 * time.Minute), hour0.Add(2 * time.Hour), hour0, hour0.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{From: tt.from, To: tt.to, Granularity: time.Hour}.Aligned()
			assert.Equal(t, tt.wantFrom, w.From)
			assert.Equal(t, tt.wantTo, w.To)
		})
	}
}

func TestJobStopsOnStoreError(t *testing.T) {
	store := mock.NewStore()
	_, err := store.UpsertTrade(context.Background(), buy("a", hour0, "1"))
	require.NoError(t, err)
	store.Fail = errors.New("db down")

	_, err = newJob(store, 10).Run(context.Background(), hourWindow(1))
	assert.ErrorContains(t, err, "db down")
}
