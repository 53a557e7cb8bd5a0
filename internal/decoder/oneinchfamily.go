package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// ethSentinel is the address 1inch's AggregatorV5 uses in place of a real
// ERC20 address to mean "native ETH".
var ethSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const (
	oneInchSwap = iota
	oneInchUnoswap
	oneInchUnoswapTo
	oneInchUniswapV3Swap
	oneInchClipperSwap
)

var oneInchSelectors = map[string]int{
	"12aa3caf": oneInchSwap,
	"0502b1c5": oneInchUnoswap,
	"f78dc253": oneInchUnoswapTo,
	"e449022e": oneInchUniswapV3Swap,
	"84bd6d29": oneInchClipperSwap,
}

var (
	// executor, (srcToken, dstToken, srcReceiver, dstReceiver, amount,
	// minReturnAmount, flags), permit, data: SwapDescription is entirely
	// static fields, so it decodes identically flattened inline.
	oneInchSwapArgs      = argTypes("address", "address", "address", "address", "address", "uint256", "uint256", "uint256", "bytes", "bytes")
	oneInchUnoswapArgs   = argTypes("address", "uint256", "uint256", "bytes32[]")
	oneInchUnoswapToArgs = argTypes("address", "address", "uint256", "uint256", "bytes32[]")
	oneInchUniV3SwapArgs = argTypes("uint256", "uint256", "uint256[]")
	oneInchClipperArgs   = argTypes("address", "address", "address", "uint256", "uint256")
)

type oneInchFamily struct{}

func newOneInchFamily() *oneInchFamily { return &oneInchFamily{} }

func (f *oneInchFamily) Name() xtypes.RouterType   { return xtypes.RouterOneInch }
func (f *oneInchFamily) Selectors() map[string]int { return oneInchSelectors }

// Decode handles AggregatorV5's five entrypoints. swap and clipperSwap
// carry explicit token addresses; unoswap/unoswapTo/uniswapV3Swap encode
// the route as opaque pool words, so those paths put the last pool's
// address into TokenOut (and, for uniswapV3Swap without a tx value, the
// first pool's address into TokenIn) as an unresolved hint recorded in
// OneInchHint. With an empty pools array TokenOut stays the zero address
// and OneInchHint stays nil; either way the decode still succeeds.
func (f *oneInchFamily) Decode(tx collab.PendingTx, chainID int64, methodID int, router common.Address) (*xtypes.PendingSwapIntent, bool) {
	if len(tx.Input) < 4 {
		return nil, false
	}
	data := tx.Input[4:]

	intent := baseIntent(tx, chainID, router, xtypes.RouterOneInch)

	switch methodID {
	case oneInchSwap:
		values, ok := unpack(oneInchSwapArgs, data)
		if !ok || len(values) < 8 {
			return nil, false
		}
		srcToken, _ := values[1].(common.Address)
		dstToken, _ := values[2].(common.Address)
		amount, _ := values[5].(*big.Int)
		minReturn, _ := values[6].(*big.Int)
		intent.TokenIn = resolveEth(srcToken)
		intent.TokenOut = resolveEth(dstToken)
		intent.Path = []common.Address{intent.TokenIn, intent.TokenOut}
		intent.AmountIn = amount
		intent.ExpectedAmountOut = minReturn

	case oneInchUnoswap:
		values, ok := unpack(oneInchUnoswapArgs, data)
		if !ok || len(values) < 4 {
			return nil, false
		}
		srcToken, _ := values[0].(common.Address)
		amount, _ := values[1].(*big.Int)
		minReturn, _ := values[2].(*big.Int)
		intent.TokenIn = resolveEth(srcToken)
		intent.AmountIn = amount
		intent.ExpectedAmountOut = minReturn
		if pools, _ := values[3].([][32]byte); len(pools) > 0 {
			last := poolAddressFromWord(pools[len(pools)-1])
			intent.TokenOut = last
			intent.OneInchHint = &xtypes.OneInchPoolHint{LastPool: last}
		}

	case oneInchUnoswapTo:
		values, ok := unpack(oneInchUnoswapToArgs, data)
		if !ok || len(values) < 5 {
			return nil, false
		}
		srcToken, _ := values[1].(common.Address)
		amount, _ := values[2].(*big.Int)
		minReturn, _ := values[3].(*big.Int)
		intent.TokenIn = resolveEth(srcToken)
		intent.AmountIn = amount
		intent.ExpectedAmountOut = minReturn
		if pools, _ := values[4].([][32]byte); len(pools) > 0 {
			last := poolAddressFromWord(pools[len(pools)-1])
			intent.TokenOut = last
			intent.OneInchHint = &xtypes.OneInchPoolHint{LastPool: last}
		}

	case oneInchUniswapV3Swap:
		values, ok := unpack(oneInchUniV3SwapArgs, data)
		if !ok || len(values) < 3 {
			return nil, false
		}
		amount, _ := values[0].(*big.Int)
		minReturn, _ := values[1].(*big.Int)
		intent.AmountIn = amount
		intent.ExpectedAmountOut = minReturn
		if tx.Value != nil && tx.Value.Sign() > 0 {
			intent.TokenIn = ethSentinel
			intent.AmountIn = tx.Value
		}
		if pools, _ := values[2].([]*big.Int); len(pools) > 0 {
			first := poolAddressFromWord32(pools[0])
			last := poolAddressFromWord32(pools[len(pools)-1])
			intent.TokenOut = last
			if intent.TokenIn == (common.Address{}) {
				intent.TokenIn = first
			}
			intent.OneInchHint = &xtypes.OneInchPoolHint{FirstPool: first, LastPool: last}
		}

	case oneInchClipperSwap:
		values, ok := unpack(oneInchClipperArgs, data)
		if !ok || len(values) < 5 {
			return nil, false
		}
		srcToken, _ := values[1].(common.Address)
		dstToken, _ := values[2].(common.Address)
		amount, _ := values[3].(*big.Int)
		minReturn, _ := values[4].(*big.Int)
		intent.TokenIn = resolveEth(srcToken)
		intent.TokenOut = resolveEth(dstToken)
		intent.Path = []common.Address{intent.TokenIn, intent.TokenOut}
		intent.AmountIn = amount
		intent.ExpectedAmountOut = minReturn

	default:
		return nil, false
	}

	return &intent, true
}

// poolAddressWordMask isolates the lower 160 bits of a 1inch route word;
// bit 255 is a direction flag this decoder does not need.
var poolAddressWordMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// poolAddressFromWord extracts a pool address from one bytes32 entry of a
// 1inch unoswap/unoswapTo pools[] route array.
func poolAddressFromWord(word [32]byte) common.Address {
	return poolAddressFromWord32(new(big.Int).SetBytes(word[:]))
}

// poolAddressFromWord32 extracts a pool address from one uint256 entry of
// a 1inch uniswapV3Swap pools[] route array; same packing as
// poolAddressFromWord, different Go type from abi decoding.
func poolAddressFromWord32(word *big.Int) common.Address {
	masked := new(big.Int).And(word, poolAddressWordMask)
	return common.BigToAddress(masked)
}

// resolveEth returns addr unchanged: 1inch's ETH sentinel is kept as the
// sentinel itself and is not mapped to a wrapped-native token address.
func resolveEth(addr common.Address) common.Address {
	if addr == ethSentinel {
		return ethSentinel
	}
	return addr
}
