package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// v3 method ids. The "v1" generation carries a deadline field inside the
// params struct; the "02" generation (SwapRouter02) dropped it, relying on
// the caller to have already checked tx freshness. Each
// router method takes a single Solidity struct parameter; since every
// field in these structs is statically sized (address/uint24/uint256/
// uint160) or, for the path variants, a single leading dynamic field, the
// calldata decodes identically against a flat Arguments list in the same
// field order as the struct.
const (
	v3ExactInputSingleV1 = iota
	v3ExactInputSingle02
	v3ExactOutputSingleV1
	v3ExactOutputSingle02
	v3ExactInputV1
	v3ExactInput02
	v3ExactOutputV1
	v3ExactOutput02
)

var v3Selectors = map[string]int{
	"414bf389": v3ExactInputSingleV1,
	"04e45aaf": v3ExactInputSingle02,
	"db3e2198": v3ExactOutputSingleV1,
	"5023b4df": v3ExactOutputSingle02,
	"c04b8d59": v3ExactInputV1,
	"b858183f": v3ExactInput02,
	"f28c0498": v3ExactOutputV1,
	"09b81346": v3ExactOutput02,
}

var (
	// tokenIn, tokenOut, fee, recipient, [deadline], amountIn, amountOutMinimum, sqrtPriceLimitX96
	v3ExactInputSingleV1Args  = argTypes("address", "address", "uint24", "address", "uint256", "uint256", "uint256", "uint160")
	v3ExactInputSingle02Args  = argTypes("address", "address", "uint24", "address", "uint256", "uint256", "uint160")
	// tokenIn, tokenOut, fee, recipient, [deadline], amountOut, amountInMaximum, sqrtPriceLimitX96
	v3ExactOutputSingleV1Args = argTypes("address", "address", "uint24", "address", "uint256", "uint256", "uint256", "uint160")
	v3ExactOutputSingle02Args = argTypes("address", "address", "uint24", "address", "uint256", "uint256", "uint160")
	// path, recipient, [deadline], amountIn, amountOutMinimum
	v3ExactInputV1Args = argTypes("bytes", "address", "uint256", "uint256", "uint256")
	v3ExactInput02Args = argTypes("bytes", "address", "uint256", "uint256")
	// path, recipient, [deadline], amountOut, amountInMaximum
	v3ExactOutputV1Args = argTypes("bytes", "address", "uint256", "uint256", "uint256")
	v3ExactOutput02Args = argTypes("bytes", "address", "uint256", "uint256")
)

type v3Family struct{}

func newV3Family() *v3Family { return &v3Family{} }

func (f *v3Family) Name() xtypes.RouterType   { return xtypes.RouterUniswapV3 }
func (f *v3Family) Selectors() map[string]int { return v3Selectors }

func (f *v3Family) Decode(tx collab.PendingTx, chainID int64, methodID int, router common.Address) (*xtypes.PendingSwapIntent, bool) {
	if len(tx.Input) < 4 {
		return nil, false
	}
	data := tx.Input[4:]

	switch methodID {
	case v3ExactInputSingleV1:
		return f.decodeSingle(tx, chainID, router, data, v3ExactInputSingleV1Args, true, false)
	case v3ExactInputSingle02:
		return f.decodeSingle(tx, chainID, router, data, v3ExactInputSingle02Args, false, false)
	case v3ExactOutputSingleV1:
		return f.decodeSingle(tx, chainID, router, data, v3ExactOutputSingleV1Args, true, true)
	case v3ExactOutputSingle02:
		return f.decodeSingle(tx, chainID, router, data, v3ExactOutputSingle02Args, false, true)
	case v3ExactInputV1:
		return f.decodePath(tx, chainID, router, data, v3ExactInputV1Args, true, false)
	case v3ExactInput02:
		return f.decodePath(tx, chainID, router, data, v3ExactInput02Args, false, false)
	case v3ExactOutputV1:
		return f.decodePath(tx, chainID, router, data, v3ExactOutputV1Args, true, true)
	case v3ExactOutput02:
		return f.decodePath(tx, chainID, router, data, v3ExactOutput02Args, false, true)
	}
	return nil, false
}

// decodeSingle handles exactInputSingle/exactOutputSingle.
func (f *v3Family) decodeSingle(tx collab.PendingTx, chainID int64, router common.Address, data []byte, args abi.Arguments, hasDeadline, isExactOutput bool) (*xtypes.PendingSwapIntent, bool) {
	values, ok := unpack(args, data)
	if !ok || len(values) < 6 {
		return nil, false
	}
	tokenIn, ok := values[0].(common.Address)
	if !ok {
		return nil, false
	}
	tokenOut, ok := values[1].(common.Address)
	if !ok {
		return nil, false
	}

	// values[2]=fee, values[3]=recipient, then (optionally) deadline, then
	// amount/amountOther in method-specific order.
	idx := 4
	var deadline *big.Int
	if hasDeadline {
		deadline, _ = values[idx].(*big.Int)
		idx++
	}
	amount, _ := values[idx].(*big.Int)
	idx++
	amountOther, _ := values[idx].(*big.Int)

	intent := baseIntent(tx, chainID, router, xtypes.RouterUniswapV3)
	intent.TokenIn = tokenIn
	intent.TokenOut = tokenOut
	intent.Path = []common.Address{tokenIn, tokenOut}
	if isExactOutput {
		intent.AmountIn = amountOther
		intent.ExpectedAmountOut = amount
	} else {
		intent.AmountIn = amount
		intent.ExpectedAmountOut = amountOther
	}
	if deadline != nil {
		intent.Deadline = deadline.Int64()
	} else {
		intent.Deadline = defaultDeadline()
	}
	return &intent, true
}

func (f *v3Family) decodePath(tx collab.PendingTx, chainID int64, router common.Address, data []byte, args abi.Arguments, hasDeadline, isExactOutput bool) (*xtypes.PendingSwapIntent, bool) {
	values, ok := unpack(args, data)
	if !ok || len(values) < 3 {
		return nil, false
	}
	packed, ok := values[0].([]byte)
	if !ok {
		return nil, false
	}
	path, ok := decodePackedPath(packed)
	if !ok {
		return nil, false
	}

	idx := 2 // values[1] is recipient
	var deadline *big.Int
	if hasDeadline {
		deadline, _ = values[idx].(*big.Int)
		idx++
	}
	amount, _ := values[idx].(*big.Int)
	idx++
	amountOther, _ := values[idx].(*big.Int)

	intent := baseIntent(tx, chainID, router, xtypes.RouterUniswapV3)
	tokenIn := path[0]
	tokenOut := path[len(path)-1]
	if isExactOutput {
		// exactOutput's packed path is reversed: tokenOut..tokenIn.
		tokenIn, tokenOut = tokenOut, tokenIn
		intent.AmountIn = amountOther
		intent.ExpectedAmountOut = amount
	} else {
		intent.AmountIn = amount
		intent.ExpectedAmountOut = amountOther
	}
	intent.TokenIn = tokenIn
	intent.TokenOut = tokenOut
	intent.Path = path
	if deadline != nil {
		intent.Deadline = deadline.Int64()
	} else {
		intent.Deadline = defaultDeadline()
	}
	return &intent, true
}

// decodePackedPath decodes Uniswap V3's packed multi-hop path encoding:
// token(20 bytes) | fee(3 bytes) | token(20 bytes) | fee(3 bytes) | ... |
// token(20 bytes). Minimum length 43 bytes (two tokens, one fee tier);
// every additional hop adds exactly 23 bytes.
func decodePackedPath(packed []byte) ([]common.Address, bool) {
	const tokenLen, feeLen = 20, 3
	if len(packed) < tokenLen+feeLen+tokenLen {
		return nil, false
	}
	if (len(packed)-tokenLen)%(tokenLen+feeLen) != 0 {
		return nil, false
	}
	var path []common.Address
	offset := 0
	for offset+tokenLen <= len(packed) {
		path = append(path, common.BytesToAddress(packed[offset:offset+tokenLen]))
		offset += tokenLen + feeLen
	}
	if len(path) < 2 {
		return nil, false
	}
	return path, true
}
