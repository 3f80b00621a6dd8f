package database

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// UpsertResult tells whether an idempotent insert wrote a new row.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	DuplicateIgnored
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case DuplicateIgnored:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ActivityRecord is a classified LP token transfer, unique per (tx_hash, pool_address).
type ActivityRecord struct {
	PoolAddress  string          `db:"pool_address"`
	PoolName     string          `db:"pool_name"`
	PoolVersion  string          `db:"pool_version"`
	TxHash       string          `db:"tx_hash"`
	BlockNumber  uint64          `db:"block_number"`
	LogIndex     uint            `db:"log_index"`
	FromAddress  string          `db:"from_address"`
	ToAddress    string          `db:"to_address"`
	TransferKind string          `db:"transfer_kind"`
	LPAmount     decimal.Decimal `db:"lp_amount"`
	Timestamp    time.Time       `db:"timestamp"`
}

// PositionEvent is a V3 pool event, unique per (tx_hash, pool_address, event_type, owner_address).
// For swaps the owner is the swap sender.
type PositionEvent struct {
	PoolAddress      string    `db:"pool_address"`
	PoolName         string    `db:"pool_name"`
	PoolVersion      string    `db:"pool_version"`
	TxHash           string    `db:"tx_hash"`
	BlockNumber      uint64    `db:"block_number"`
	LogIndex         uint      `db:"log_index"`
	EventType        string    `db:"event_type"`
	OwnerAddress     string    `db:"owner_address"`
	RecipientAddress *string   `db:"recipient_address"`
	TickLower        *big.Int  `db:"tick_lower"`
	TickUpper        *big.Int  `db:"tick_upper"`
	Liquidity        *big.Int  `db:"liquidity"`
	Amount0          *big.Int  `db:"amount0"`
	Amount1          *big.Int  `db:"amount1"`
	SqrtPriceX96     *big.Int  `db:"sqrt_price_x96"`
	Tick             *big.Int  `db:"tick"`
	Timestamp        time.Time `db:"timestamp"`
}

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Trade is a directional trade in USD terms. VolumeUSD is the materialized
// normalized volume and stays nil until the reconciler fills it in.
type Trade struct {
	ID          string           `db:"id"`
	PoolAddress string           `db:"pool_address"`
	TxHash      string           `db:"tx_hash"`
	LogIndex    uint             `db:"log_index"`
	Direction   Direction        `db:"direction"`
	BoughtUSD   decimal.Decimal  `db:"bought_usd_amount"`
	SoldUSD     decimal.Decimal  `db:"sold_usd_amount"`
	VolumeUSD   *decimal.Decimal `db:"volume_usd"`
	TradedAt    time.Time        `db:"traded_at"`
}

// VolumeBucket holds directional USD volume for one time bucket.
type VolumeBucket struct {
	Granularity   time.Duration   `db:"granularity_seconds"`
	BucketStart   time.Time       `db:"bucket_start"`
	BuyVolumeUSD  decimal.Decimal `db:"buy_volume_usd"`
	SellVolumeUSD decimal.Decimal `db:"sell_volume_usd"`
}

func (b VolumeBucket) Total() decimal.Decimal {
	return b.BuyVolumeUSD.Add(b.SellVolumeUSD)
}

// BuyShare returns the buy fraction of the bucket volume. It is undefined,
// and ok is false, when the bucket has no volume.
func (b VolumeBucket) BuyShare() (share decimal.Decimal, ok bool) {
	total := b.Total()
	if total.IsZero() {
		return decimal.Zero, false
	}
	return b.BuyVolumeUSD.Div(total), true
}

type Cursor struct {
	PoolAddress string    `db:"pool_address" json:"pool_address"`
	LastBlock   uint64    `db:"last_block" json:"last_block"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type ActivityCount struct {
	PoolAddress  string `db:"pool_address" json:"pool_address"`
	TransferKind string `db:"transfer_kind" json:"transfer_kind"`
	Count        int64  `db:"count" json:"count"`
}

// Helper functions for conversions

func HashToString(hash common.Hash) string {
	return hash.Hex()
}

// AddressToString returns the lower-case hex form used as a key in every table.
func AddressToString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func BigIntToNumeric(value *big.Int) *string {
	if value == nil {
		return nil
	}
	str := value.String()
	return &str
}

func numericToBigInt(value *string) *big.Int {
	if value == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*value, 10)
	if !ok {
		return nil
	}
	return v
}

func decimalPtrToNumeric(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	str := value.String()
	return &str
}
