package database

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHashToString(t *testing.T) {
	hash := common.HexToHash("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")
	assert.Equal(t, "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", HashToString(hash))
}

func TestAddressToString(t *testing.T) {
	addr := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb3")
	assert.Equal(t, "0x742d35cc6634c0532925a3b844bc9e7595f0beb3", AddressToString(addr))
}

func TestBigIntToNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		want  *string
	}{
		{name: "nil value", value: nil, want: nil},
		{name: "zero value", value: big.NewInt(0), want: stringPtr("0")},
		{name: "negative value", value: big.NewInt(-887272), want: stringPtr("-887272")},
		{
			name:  "large value",
			value: new(big.Int).SetBytes([]byte{255, 255, 255, 255, 255, 255, 255, 255}),
			want:  stringPtr("18446744073709551615"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BigIntToNumeric(tt.value)
			assert.Equal(t, tt.want, got)
			if got != nil {
				assert.Equal(t, 0, tt.value.Cmp(numericToBigInt(got)))
			}
		})
	}
}

func TestUpsertResultString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "duplicate", DuplicateIgnored.String())
}

func TestVolumeBucketBuyShare(t *testing.T) {
	tests := []struct {
		name   string
		bucket VolumeBucket
		want   string
		ok     bool
	}{
		{"mixed", VolumeBucket{BuyVolumeUSD: decimal.NewFromInt(150), SellVolumeUSD: decimal.NewFromInt(30)}, "0.8333", true},
		{"buy only", VolumeBucket{BuyVolumeUSD: decimal.NewFromInt(10)}, "1", true},
		{"empty", VolumeBucket{}, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			share, ok := tt.bucket.BuyShare()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, share.Round(4).String())
		})
	}
}

func stringPtr(s string) *string {
	return &s
}
