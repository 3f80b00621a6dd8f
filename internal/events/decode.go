package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const (
	wordSize        = 32
	DefaultDecimals = 18
)

var (
	two256    = new(big.Int).Lsh(big.NewInt(1), 256)
	maxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minInt256 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

// DecodeError is returned for a log whose shape does not match the expected event.
type DecodeError struct {
	Kind     Kind
	TxHash   common.Hash
	LogIndex uint
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s log %s#%d: %s", e.Kind, e.TxHash.Hex(), e.LogIndex, e.Reason)
}

// layout is the expected shape of a log: topic count including topic0, and data words.
type layout struct {
	topics int
	words  int
}

var layouts = map[Kind]layout{
	KindTransfer: {topics: 3, words: 1},
	KindMint:     {topics: 4, words: 4},
	KindBurn:     {topics: 4, words: 3},
	KindSwap:     {topics: 3, words: 5},
	KindCollect:  {topics: 4, words: 3},
}

// DecodeLog decodes a log choosing the event from its topic0.
func DecodeLog(log types.Log, decimals int) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, &DecodeError{Kind: "unknown", TxHash: log.TxHash, LogIndex: log.Index, Reason: "log has no topics"}
	}
	kind, ok := KindForTopic(log.Topics[0])
	if !ok {
		return nil, &DecodeError{Kind: "unknown", TxHash: log.TxHash, LogIndex: log.Index,
			Reason: fmt.Sprintf("unknown topic %s", log.Topics[0].Hex())}
	}
	return Decode(log, kind, decimals)
}

// Decode extracts the typed fields of a log of the given kind.
//
// Word layout (topics after topic0 / data words):
//
//	Transfer  from, to                    / value
//	Mint      owner, tickLower, tickUpper / sender, liquidity, amount0, amount1
//	Burn      owner, tickLower, tickUpper / liquidity, amount0, amount1
//	Swap      sender, recipient           / amount0, amount1, sqrtPriceX96, liquidity, tick
//	Collect   owner, tickLower, tickUpper / recipient, amount0, amount1
func Decode(log types.Log, kind Kind, decimals int) (Event, error) {
	shape, ok := layouts[kind]
	if !ok {
		return nil, &DecodeError{Kind: kind, TxHash: log.TxHash, LogIndex: log.Index, Reason: "unsupported event kind"}
	}
	fail := func(format string, args ...any) error {
		return &DecodeError{Kind: kind, TxHash: log.TxHash, LogIndex: log.Index, Reason: fmt.Sprintf(format, args...)}
	}

	if len(log.Topics) != shape.topics {
		return nil, fail("expected %d topics, got %d", shape.topics, len(log.Topics))
	}
	if want, _ := TopicFor(kind); log.Topics[0] != want {
		return nil, fail("topic0 %s does not match event", log.Topics[0].Hex())
	}
	if len(log.Data) != shape.words*wordSize {
		return nil, fail("expected %d data bytes, got %d", shape.words*wordSize, len(log.Data))
	}

	word := func(i int) []byte { return log.Data[i*wordSize : (i+1)*wordSize] }
	meta := Meta{
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}

	switch kind {
	case KindTransfer:
		value := DecodeUnsigned(word(0))
		return Transfer{
			Meta:   meta,
			From:   TopicAddress(log.Topics[1]),
			To:     TopicAddress(log.Topics[2]),
			Value:  value,
			Amount: ScaleAmount(value, decimals),
		}, nil
	case KindMint:
		return Mint{
			Meta:      meta,
			Owner:     TopicAddress(log.Topics[1]),
			TickLower: DecodeSigned(log.Topics[2].Bytes()),
			TickUpper: DecodeSigned(log.Topics[3].Bytes()),
			Sender:    common.BytesToAddress(word(0)),
			Liquidity: DecodeUnsigned(word(1)),
			Amount0:   DecodeUnsigned(word(2)),
			Amount1:   DecodeUnsigned(word(3)),
		}, nil
	case KindBurn:
		return Burn{
			Meta:      meta,
			Owner:     TopicAddress(log.Topics[1]),
			TickLower: DecodeSigned(log.Topics[2].Bytes()),
			TickUpper: DecodeSigned(log.Topics[3].Bytes()),
			Liquidity: DecodeUnsigned(word(0)),
			Amount0:   DecodeUnsigned(word(1)),
			Amount1:   DecodeUnsigned(word(2)),
		}, nil
	case KindSwap:
		return Swap{
			Meta:         meta,
			Sender:       TopicAddress(log.Topics[1]),
			Recipient:    TopicAddress(log.Topics[2]),
			Amount0:      DecodeSigned(word(0)),
			Amount1:      DecodeSigned(word(1)),
			SqrtPriceX96: DecodeUnsigned(word(2)),
			Liquidity:    DecodeUnsigned(word(3)),
			Tick:         DecodeSigned(word(4)),
		}, nil
	case KindCollect:
		return Collect{
			Meta:      meta,
			Owner:     TopicAddress(log.Topics[1]),
			TickLower: DecodeSigned(log.Topics[2].Bytes()),
			TickUpper: DecodeSigned(log.Topics[3].Bytes()),
			Recipient: common.BytesToAddress(word(0)),
			Amount0:   DecodeUnsigned(word(1)),
			Amount1:   DecodeUnsigned(word(2)),
		}, nil
	}
	return nil, fail("unsupported event kind")
}

// TopicAddress extracts an address from an indexed topic: the last 40 hex
// characters of the 32-byte word.
func TopicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes()[common.HashLength-common.AddressLength:])
}

func DecodeUnsigned(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}

// DecodeSigned interprets a 256-bit word as a two's complement integer.
func DecodeSigned(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if v.Cmp(maxInt256) > 0 {
		v.Sub(v, two256)
	}
	return v
}

// EncodeSigned is the inverse of DecodeSigned for values in [-2^255, 2^255-1].
func EncodeSigned(v *big.Int) ([]byte, error) {
	if v.Cmp(minInt256) < 0 || v.Cmp(maxInt256) > 0 {
		return nil, fmt.Errorf("value %s out of int256 range", v.String())
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two256)
	}
	return u.FillBytes(make([]byte, wordSize)), nil
}

// ScaleAmount converts a raw token amount to a decimal using the token's
// decimals, 18 when unknown.
func ScaleAmount(v *big.Int, decimals int) decimal.Decimal {
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
