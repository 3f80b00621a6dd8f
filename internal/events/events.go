package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTransfer Kind = "transfer"
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindSwap     Kind = "swap"
	KindCollect  Kind = "collect"
)

// Meta locates the log an event was decoded from.
type Meta struct {
	Address     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Event is a decoded log. The concrete types are Transfer, Mint, Burn, Swap and Collect.
type Event interface {
	Kind() Kind
	Metadata() Meta
}

type Transfer struct {
	Meta
	From  common.Address
	To    common.Address
	Value *big.Int
	// Amount is Value scaled by the token decimals.
	Amount decimal.Decimal
}

type Mint struct {
	Meta
	Sender    common.Address
	Owner     common.Address
	TickLower *big.Int
	TickUpper *big.Int
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

type Burn struct {
	Meta
	Owner     common.Address
	TickLower *big.Int
	TickUpper *big.Int
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// Swap amounts are signed: positive flows into the pool, negative out of it.
type Swap struct {
	Meta
	Sender       common.Address
	Recipient    common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
}

type Collect struct {
	Meta
	Owner     common.Address
	Recipient common.Address
	TickLower *big.Int
	TickUpper *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

func (Transfer) Kind() Kind { return KindTransfer }
func (Mint) Kind() Kind     { return KindMint }
func (Burn) Kind() Kind     { return KindBurn }
func (Swap) Kind() Kind     { return KindSwap }
func (Collect) Kind() Kind  { return KindCollect }

func (e Transfer) Metadata() Meta { return e.Meta }
func (e Mint) Metadata() Meta     { return e.Meta }
func (e Burn) Metadata() Meta     { return e.Meta }
func (e Swap) Metadata() Meta     { return e.Meta }
func (e Collect) Metadata() Meta  { return e.Meta }
