package classifier

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/events"
)

type TransferKind string

const (
	KindMint     TransferKind = "mint"
	KindBurn     TransferKind = "burn"
	KindTransfer TransferKind = "transfer"
	KindV3Native TransferKind = "v3-native"
)

// PoolMeta identifies the pool an event belongs to.
type PoolMeta struct {
	Address common.Address
	Name    string
	Version string
}

type ClassifiedEvent struct {
	Event events.Event
	Kind  TransferKind
	Pool  PoolMeta
}

// Classify labels a decoded event. LP token transfers from the zero address are
// mints and transfers to it are burns; the mint check runs first, so a
// zero-to-zero transfer is a mint. V3 events are passed through as v3-native.
//
// A mint immediately followed by a burn in the same transaction (flash mint)
// is not detected and stays a mint.
func Classify(ev events.Event, pool PoolMeta) ClassifiedEvent {
	out := ClassifiedEvent{Event: ev, Pool: pool, Kind: KindV3Native}

	tr, ok := ev.(events.Transfer)
	if !ok {
		return out
	}

	switch {
	case tr.From == (common.Address{}):
		out.Kind = KindMint
	case tr.To == (common.Address{}):
		out.Kind = KindBurn
	default:
		out.Kind = KindTransfer
	}
	return out
}

// ActivityRecord maps a classified transfer to its stored row. ok is false for
// V3 events, which are stored as position events instead.
func (c ClassifiedEvent) ActivityRecord(ts time.Time) (database.ActivityRecord, bool) {
	tr, ok := c.Event.(events.Transfer)
	if !ok {
		return database.ActivityRecord{}, false
	}
	meta := tr.Metadata()
	return database.ActivityRecord{
		PoolAddress:  database.AddressToString(c.Pool.Address),
		PoolName:     c.Pool.Name,
		PoolVersion:  c.Pool.Version,
		TxHash:       database.HashToString(meta.TxHash),
		BlockNumber:  meta.BlockNumber,
		LogIndex:     meta.LogIndex,
		FromAddress:  database.AddressToString(tr.From),
		ToAddress:    database.AddressToString(tr.To),
		TransferKind: string(c.Kind),
		LPAmount:     tr.Amount,
		Timestamp:    ts.UTC(),
	}, true
}

// PositionEvent maps a classified V3 event to its stored row. The actor of a
// swap is its sender.
func (c ClassifiedEvent) PositionEvent(ts time.Time) (database.PositionEvent, bool) {
	meta := c.Event.Metadata()
	row := database.PositionEvent{
		PoolAddress: database.AddressToString(c.Pool.Address),
		PoolName:    c.Pool.Name,
		PoolVersion: c.Pool.Version,
		TxHash:      database.HashToString(meta.TxHash),
		BlockNumber: meta.BlockNumber,
		LogIndex:    meta.LogIndex,
		EventType:   string(c.Event.Kind()),
		Timestamp:   ts.UTC(),
	}

	switch ev := c.Event.(type) {
	case events.Mint:
		row.OwnerAddress = database.AddressToString(ev.Owner)
		row.RecipientAddress = addressPtr(ev.Sender)
		row.TickLower, row.TickUpper = ev.TickLower, ev.TickUpper
		row.Liquidity, row.Amount0, row.Amount1 = ev.Liquidity, ev.Amount0, ev.Amount1
	case events.Burn:
		row.OwnerAddress = database.AddressToString(ev.Owner)
		row.TickLower, row.TickUpper = ev.TickLower, ev.TickUpper
		row.Liquidity, row.Amount0, row.Amount1 = ev.Liquidity, ev.Amount0, ev.Amount1
	case events.Swap:
		row.OwnerAddress = database.AddressToString(ev.Sender)
		row.RecipientAddress = addressPtr(ev.Recipient)
		row.Amount0, row.Amount1 = ev.Amount0, ev.Amount1
		row.SqrtPriceX96, row.Liquidity, row.Tick = ev.SqrtPriceX96, ev.Liquidity, ev.Tick
	case events.Collect:
		row.OwnerAddress = database.AddressToString(ev.Owner)
		row.RecipientAddress = addressPtr(ev.Recipient)
		row.TickLower, row.TickUpper = ev.TickLower, ev.TickUpper
		row.Amount0, row.Amount1 = ev.Amount0, ev.Amount1
	default:
		return database.PositionEvent{}, false
	}
	return row, true
}

func addressPtr(a common.Address) *string {
	s := database.AddressToString(a)
	return &s
}

// Trade derives a USD trade from a V3 swap on a pool whose side usdToken holds
// a stable coin. Stable paid into the pool (positive amount) buys the other
// token; stable paid out is a sell. ok is false for other events and for swaps
// that move no stable amount. VolumeUSD is left for the reconciler.
func (c ClassifiedEvent) Trade(ts time.Time, usdToken, usdDecimals int) (database.Trade, bool) {
	swap, ok := c.Event.(events.Swap)
	if !ok {
		return database.Trade{}, false
	}
	amount := swap.Amount0
	if usdToken == 1 {
		amount = swap.Amount1
	}
	if amount == nil || amount.Sign() == 0 {
		return database.Trade{}, false
	}

	meta := swap.Metadata()
	usd := events.ScaleAmount(amount, usdDecimals)
	t := database.Trade{
		ID:          fmt.Sprintf("%s-%d", database.HashToString(meta.TxHash), meta.LogIndex),
		PoolAddress: database.AddressToString(c.Pool.Address),
		TxHash:      database.HashToString(meta.TxHash),
		LogIndex:    meta.LogIndex,
		BoughtUSD:   decimal.Zero,
		SoldUSD:     decimal.Zero,
		TradedAt:    ts.UTC(),
	}
	if amount.Sign() > 0 {
		t.Direction = database.DirectionBuy
		t.BoughtUSD = usd
	} else {
		t.Direction = database.DirectionSell
		t.SoldUSD = usd
	}
	return t, true
}
