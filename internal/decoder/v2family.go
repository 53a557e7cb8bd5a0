package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// v2 method ids, dispatched on by v2Family.Decode.
const (
	v2SwapExactTokensForTokens = iota
	v2SwapTokensForExactTokens
	v2SwapExactETHForTokens
	v2SwapTokensForExactETH
	v2SwapExactTokensForETH
	v2SwapETHForExactTokens
	v2SwapExactTokensForTokensFeeOnTransfer
	v2SwapExactETHForTokensFeeOnTransfer
	v2SwapExactTokensForETHFeeOnTransfer
)

// v2Selectors maps the 8-hex-char (lowercase, no "0x") method selector of
// every UniswapV2-style router method this family recognises to its
// method id. Selector values match the canonical UniswapV2Router02 ABI,
// which Sushiswap, Pancakeswap and most V2 forks redeploy verbatim.
var v2Selectors = map[string]int{
	"38ed1739": v2SwapExactTokensForTokens,
	"8803dbee": v2SwapTokensForExactTokens,
	"7ff36ab5": v2SwapExactETHForTokens,
	"4a25d94a": v2SwapTokensForExactETH,
	"18cbafe5": v2SwapExactTokensForETH,
	"fb3bdb41": v2SwapETHForExactTokens,
	"5c11d795": v2SwapExactTokensForTokensFeeOnTransfer,
	"b6f9de95": v2SwapExactETHForTokensFeeOnTransfer,
	"791ac947": v2SwapExactTokensForETHFeeOnTransfer,
}

var (
	v2ArgsExactTokensForTokens = argTypes("uint256", "uint256", "address[]", "address", "uint256")
	v2ArgsTokensForExactTokens = argTypes("uint256", "uint256", "address[]", "address", "uint256")
	v2ArgsExactETHForTokens    = argTypes("uint256", "address[]", "address", "uint256")
	v2ArgsTokensForExactETH    = argTypes("uint256", "uint256", "address[]", "address", "uint256")
	v2ArgsExactTokensForETH    = argTypes("uint256", "uint256", "address[]", "address", "uint256")
	v2ArgsETHForExactTokens    = argTypes("uint256", "address[]", "address", "uint256")
)

type v2Family struct {
	typ xtypes.RouterType
}

func newV2Family(typ xtypes.RouterType) *v2Family {
	return &v2Family{typ: typ}
}

func (f *v2Family) Name() xtypes.RouterType   { return f.typ }
func (f *v2Family) Selectors() map[string]int { return v2Selectors }

// Decode unpacks one of the nine UniswapV2Router02 swap methods. The path
// array's first and last entries become TokenIn/TokenOut; the full path is
// preserved for multi-hop detection in C5.
func (f *v2Family) Decode(tx collab.PendingTx, chainID int64, methodID int, router common.Address) (*xtypes.PendingSwapIntent, bool) {
	if len(tx.Input) < 4 {
		return nil, false
	}
	data := tx.Input[4:]

	switch methodID {
	case v2SwapExactTokensForTokens, v2SwapExactTokensForTokensFeeOnTransfer:
		values, ok := unpack(v2ArgsExactTokensForTokens, data)
		if !ok {
			return nil, false
		}
		return f.fromAmountInPath(tx, chainID, router, values[0], values[1], values[2], values[4])

	case v2SwapTokensForExactTokens:
		values, ok := unpack(v2ArgsTokensForExactTokens, data)
		if !ok {
			return nil, false
		}
		// arg order is (amountOut, amountInMax, path, to, deadline)
		return f.fromAmountInPath(tx, chainID, router, values[1], values[0], values[2], values[4])

	case v2SwapExactETHForTokens, v2SwapExactETHForTokensFeeOnTransfer:
		values, ok := unpack(v2ArgsExactETHForTokens, data)
		if !ok {
			return nil, false
		}
		return f.fromAmountInPath(tx, chainID, router, tx.Value, values[0], values[1], values[3])

	case v2SwapETHForExactTokens:
		values, ok := unpack(v2ArgsETHForExactTokens, data)
		if !ok {
			return nil, false
		}
		return f.fromAmountInPath(tx, chainID, router, tx.Value, values[0], values[1], values[3])

	case v2SwapTokensForExactETH:
		values, ok := unpack(v2ArgsTokensForExactETH, data)
		if !ok {
			return nil, false
		}
		return f.fromAmountInPath(tx, chainID, router, values[1], values[0], values[2], values[4])

	case v2SwapExactTokensForETH, v2SwapExactTokensForETHFeeOnTransfer:
		values, ok := unpack(v2ArgsExactTokensForETH, data)
		if !ok {
			return nil, false
		}
		return f.fromAmountInPath(tx, chainID, router, values[0], values[1], values[2], values[4])
	}

	return nil, false
}

func (f *v2Family) fromAmountInPath(tx collab.PendingTx, chainID int64, router common.Address, amountIn, amountOutOrMin any, pathVal any, deadlineVal any) (*xtypes.PendingSwapIntent, bool) {
	path, ok := pathVal.([]common.Address)
	if !ok || len(path) < 2 {
		return nil, false
	}
	amtIn, ok := amountIn.(*big.Int)
	if !ok {
		return nil, false
	}
	amtOut, _ := amountOutOrMin.(*big.Int)
	deadline, _ := deadlineVal.(*big.Int)

	intent := baseIntent(tx, chainID, router, f.typ)
	intent.TokenIn = path[0]
	intent.TokenOut = path[len(path)-1]
	intent.Path = path
	intent.AmountIn = amtIn
	intent.ExpectedAmountOut = amtOut
	if deadline != nil {
		intent.Deadline = deadline.Int64()
	}
	return &intent, true
}
