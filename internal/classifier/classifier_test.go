package classifier

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/events"
)

var (
	zero  = common.Address{}
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pool  = PoolMeta{Address: common.HexToAddress("0x00000000000000000000000000000000000000AA"), Name: "WETH-USDC", Version: "v2"}
)

func transfer(from, to common.Address) events.Transfer {
	return events.Transfer{From: from, To: to, Value: big.NewInt(1), Amount: decimal.New(1, -18)}
}

func TestClassifyTransfers(t *testing.T) {
	tests := []struct {
		name string
		from common.Address
		to   common.Address
		want TransferKind
	}{
		{"from zero is mint", zero, alice, KindMint},
		{"to zero is burn", alice, zero, KindBurn},
		{"between holders is transfer", alice, bob, KindTransfer},
		{"zero to zero is mint", zero, zero, KindMint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(transfer(tt.from, tt.to), pool)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, pool, got.Pool)
		})
	}
}

func TestClassifyV3EventsAreNative(t *testing.T) {
	evs := []events.Event{
		events.Mint{Owner: zero},
		events.Burn{Owner: alice},
		events.Swap{Sender: zero, Recipient: zero},
		events.Collect{Owner: alice, Recipient: zero},
	}
	for _, ev := range evs {
		assert.Equal(t, KindV3Native, Classify(ev, pool).Kind, "kind %s", ev.Kind())
	}
}

func TestActivityRecord(t *testing.T) {
	tr := transfer(zero, alice)
	tr.Meta = events.Meta{
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xabc"),
		LogIndex:    4,
	}
	tr.Amount = decimal.RequireFromString("1.5")
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	rec, ok := Classify(tr, pool).ActivityRecord(ts)
	require.True(t, ok)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", rec.PoolAddress)
	assert.Equal(t, "mint", rec.TransferKind)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", rec.FromAddress)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", rec.ToAddress)
	assert.Equal(t, uint64(100), rec.BlockNumber)
	assert.Equal(t, uint(4), rec.LogIndex)
	assert.True(t, decimal.RequireFromString("1.5").Equal(rec.LPAmount))
	assert.Equal(t, time.UTC, rec.Timestamp.Location())

	_, ok = Classify(events.Swap{}, pool).ActivityRecord(ts)
	assert.False(t, ok)
}

func TestPositionEventUsesSwapSenderAsOwner(t *testing.T) {
	sw := events.Swap{
		Meta:      events.Meta{TxHash: common.HexToHash("0x01")},
		Sender:    alice,
		Recipient: bob,
		Amount0:   big.NewInt(-5),
		Amount1:   big.NewInt(10),
		Tick:      big.NewInt(-3),
	}

	row, ok := Classify(sw, pool).PositionEvent(time.Now())
	require.True(t, ok)
	assert.Equal(t, "swap", row.EventType)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", row.OwnerAddress)
	require.NotNil(t, row.RecipientAddress)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", *row.RecipientAddress)
	assert.Equal(t, int64(-5), row.Amount0.Int64())

	_, ok = Classify(transfer(alice, bob), pool).PositionEvent(time.Now())
	assert.False(t, ok)
}

func TestTradeFromSwap(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	meta := events.Meta{TxHash: common.HexToHash("0xabc"), LogIndex: 4}
	usdc := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)) }

	tests := []struct {
		name      string
		swap      events.Swap
		usdToken  int
		wantOK    bool
		direction database.Direction
		bought    string
		sold      string
	}{
		{"stable in is buy", events.Swap{Meta: meta, Amount0: usdc(150), Amount1: big.NewInt(-5)}, 0, true, database.DirectionBuy, "150", "0"},
		{"stable out is sell", events.Swap{Meta: meta, Amount0: big.NewInt(7), Amount1: usdc(-30)}, 1, true, database.DirectionSell, "0", "-30"},
		{"no stable moved", events.Swap{Meta: meta, Amount0: big.NewInt(0), Amount1: big.NewInt(1)}, 0, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade, ok := Classify(tt.swap, pool).Trade(ts, tt.usdToken, 6)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, database.HashToString(meta.TxHash)+"-4", trade.ID)
			assert.Equal(t, tt.direction, trade.Direction)
			assert.True(t, decimal.RequireFromString(tt.bought).Equal(trade.BoughtUSD), "bought %s", trade.BoughtUSD)
			assert.True(t, decimal.RequireFromString(tt.sold).Equal(trade.SoldUSD), "sold %s", trade.SoldUSD)
			assert.Nil(t, trade.VolumeUSD)
			assert.Equal(t, ts, trade.TradedAt)
		})
	}

	_, ok := Classify(transfer(alice, bob), pool).Trade(ts, 0, 6)
	assert.False(t, ok)
}
