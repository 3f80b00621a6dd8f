package events

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABIs with only the events the indexer decodes.

const ERC20TransferABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "from",  "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "to",    "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

const V3PoolABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "sender",    "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "owner",     "type": "address"},
      {"indexed": true,  "internalType": "int24",   "name": "tickLower", "type": "int24"},
      {"indexed": true,  "internalType": "int24",   "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount",    "type": "uint128"},
      {"indexed": false, "internalType": "uint256", "name": "amount0",   "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1",   "type": "uint256"}
    ],
    "name": "Mint",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "owner",     "type": "address"},
      {"indexed": true,  "internalType": "int24",   "name": "tickLower", "type": "int24"},
      {"indexed": true,  "internalType": "int24",   "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount",    "type": "uint128"},
      {"indexed": false, "internalType": "uint256", "name": "amount0",   "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount1",   "type": "uint256"}
    ],
    "name": "Burn",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "sender",       "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "recipient",    "type": "address"},
      {"indexed": false, "internalType": "int256",  "name": "amount0",      "type": "int256"},
      {"indexed": false, "internalType": "int256",  "name": "amount1",      "type": "int256"},
      {"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
      {"indexed": false, "internalType": "uint128", "name": "liquidity",    "type": "uint128"},
      {"indexed": false, "internalType": "int24",   "name": "tick",         "type": "int24"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "owner",     "type": "address"},
      {"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": true,  "internalType": "int24",   "name": "tickLower", "type": "int24"},
      {"indexed": true,  "internalType": "int24",   "name": "tickUpper", "type": "int24"},
      {"indexed": false, "internalType": "uint128", "name": "amount0",   "type": "uint128"},
      {"indexed": false, "internalType": "uint128", "name": "amount1",   "type": "uint128"}
    ],
    "name": "Collect",
    "type": "event"
  }
]`

// Topic IDs, derived from the ABIs above.
var (
	TransferTopic common.Hash
	MintTopic     common.Hash
	BurnTopic     common.Hash
	SwapTopic     common.Hash
	CollectTopic  common.Hash
)

var topicKinds map[common.Hash]Kind

func init() {
	erc20 := mustParseABI(ERC20TransferABI)
	pool := mustParseABI(V3PoolABI)

	TransferTopic = erc20.Events["Transfer"].ID
	MintTopic = pool.Events["Mint"].ID
	BurnTopic = pool.Events["Burn"].ID
	SwapTopic = pool.Events["Swap"].ID
	CollectTopic = pool.Events["Collect"].ID

	topicKinds = map[common.Hash]Kind{
		TransferTopic: KindTransfer,
		MintTopic:     KindMint,
		BurnTopic:     KindBurn,
		SwapTopic:     KindSwap,
		CollectTopic:  KindCollect,
	}
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse event ABI: %v", err))
	}
	return parsed
}

// KindForTopic maps a topic0 back to the event it identifies.
func KindForTopic(topic common.Hash) (Kind, bool) {
	k, ok := topicKinds[topic]
	return k, ok
}

// TopicFor returns the topic0 of an event kind.
func TopicFor(kind Kind) (common.Hash, bool) {
	for topic, k := range topicKinds {
		if k == kind {
			return topic, true
		}
	}
	return common.Hash{}, false
}

// TopicsForVersion returns the topic filter used when fetching logs of a pool.
// V2 pools are watched through their LP token Transfer events, V3 pools
// through their position and swap events.
func TopicsForVersion(version string) [][]common.Hash {
	switch version {
	case "v2":
		return [][]common.Hash{{TransferTopic}}
	case "v3":
		return [][]common.Hash{{MintTopic, BurnTopic, SwapTopic, CollectTopic}}
	default:
		return nil
	}
}
