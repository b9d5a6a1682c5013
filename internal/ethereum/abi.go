// Package ethereum connects to an EVM node: Uniswap V2 swap log
// subscriptions and read-only pair and ERC20 contract calls.
package ethereum

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const pairABIJSON = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"sender","type":"address"},
    {"indexed":false,"name":"amount0In","type":"uint256"},
    {"indexed":false,"name":"amount1In","type":"uint256"},
    {"indexed":false,"name":"amount0Out","type":"uint256"},
    {"indexed":false,"name":"amount1Out","type":"uint256"},
    {"indexed":true,"name":"to","type":"address"}],
   "name":"Swap","type":"event"},
  {"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	// PairABI is the subset of the Uniswap V2 pair interface used here.
	PairABI = mustParseABI(pairABIJSON)
	// ERC20ABI is the subset of the ERC20 interface used here.
	ERC20ABI = mustParseABI(erc20ABIJSON)

	// SwapEventID is the topic0 of the Uniswap V2 Swap event.
	SwapEventID = PairABI.Events["Swap"].ID
)

// ErrNotSwapLog is returned by DecodeSwap for logs that are not V2 swaps.
var ErrNotSwapLog = errors.New("not a swap log")

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Swap is a decoded Uniswap V2 Swap event.
type Swap struct {
	Pair        common.Address
	Sender      common.Address
	To          common.Address
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Removed     bool
}

// DecodeSwap decodes a Swap log.
func DecodeSwap(l types.Log) (*Swap, error) {
	if len(l.Topics) != 3 || l.Topics[0] != SwapEventID {
		return nil, ErrNotSwapLog
	}

	values, err := PairABI.Unpack("Swap", l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack swap: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("%w: %d data fields", ErrNotSwapLog, len(values))
	}
	amounts := make([]*big.Int, 4)
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: field %d is %T", ErrNotSwapLog, i, v)
		}
		amounts[i] = n
	}

	return &Swap{
		Pair:        l.Address,
		Sender:      common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Amount0In:   amounts[0],
		Amount1In:   amounts[1],
		Amount0Out:  amounts[2],
		Amount1Out:  amounts[3],
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		BlockNumber: l.BlockNumber,
		Removed:     l.Removed,
	}, nil
}
