package decoder

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// curveDegenerateSlippage is the fallback used when dx/minDy can't yield a
// meaningful ratio (dx missing or zero, or minDy missing).
const curveDegenerateSlippage = 0.005

const (
	curveExchangeStable = iota
	curveExchangeUnderlyingStable
	curveExchangeCrypto
	curveExchangeUnderlyingCrypto
	curveExchangeUseEth
)

var curveSelectors = map[string]int{
	"3df02124": curveExchangeStable,
	"a6417ed6": curveExchangeUnderlyingStable,
	"5b41b908": curveExchangeCrypto,
	"65b2489b": curveExchangeUnderlyingCrypto,
	"394747c5": curveExchangeUseEth,
}

var (
	curveStableArgs = argTypes("int128", "int128", "uint256", "uint256")
	curveCryptoArgs = argTypes("uint256", "uint256", "uint256", "uint256")
	curveUseEthArgs = argTypes("uint256", "uint256", "uint256", "uint256", "bool")
)

// curvePoolRegistry maps a Curve pool address to its ordered coin list, so
// the int128/uint256 i/j indices in exchange() calldata can be resolved to
// token addresses. Pools minted after registry build time, or pools the
// registry was never told about, fall back to an unresolved CurveMeta hint
// rather than failing the decode outright.
type curvePoolRegistry struct {
	mu    sync.RWMutex
	coins map[common.Address][]common.Address
}

func newCurvePoolRegistry() *curvePoolRegistry {
	return &curvePoolRegistry{coins: make(map[common.Address][]common.Address)}
}

func (r *curvePoolRegistry) Register(pool common.Address, coins []common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coins[pool] = coins
}

func (r *curvePoolRegistry) resolve(pool common.Address, i, j int64) (common.Address, common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coins, ok := r.coins[pool]
	if !ok || i < 0 || j < 0 || int(i) >= len(coins) || int(j) >= len(coins) {
		return common.Address{}, common.Address{}, false
	}
	return coins[i], coins[j], true
}

type curveFamily struct {
	pools *curvePoolRegistry
}

func newCurveFamily(pools *curvePoolRegistry) *curveFamily {
	return &curveFamily{pools: pools}
}

func (f *curveFamily) Name() xtypes.RouterType   { return xtypes.RouterCurve }
func (f *curveFamily) Selectors() map[string]int { return curveSelectors }

func (f *curveFamily) Decode(tx collab.PendingTx, chainID int64, methodID int, router common.Address) (*xtypes.PendingSwapIntent, bool) {
	if len(tx.Input) < 4 {
		return nil, false
	}
	data := tx.Input[4:]

	var i, j int64
	var dx, minDy *big.Int
	useEth := false

	switch methodID {
	case curveExchangeStable, curveExchangeUnderlyingStable:
		values, ok := unpack(curveStableArgs, data)
		if !ok {
			return nil, false
		}
		iv, ok1 := values[0].(*big.Int)
		jv, ok2 := values[1].(*big.Int)
		if !ok1 || !ok2 {
			return nil, false
		}
		i, j = iv.Int64(), jv.Int64()
		dx, _ = values[2].(*big.Int)
		minDy, _ = values[3].(*big.Int)
	case curveExchangeCrypto, curveExchangeUnderlyingCrypto:
		values, ok := unpack(curveCryptoArgs, data)
		if !ok {
			return nil, false
		}
		iv, ok1 := values[0].(*big.Int)
		jv, ok2 := values[1].(*big.Int)
		if !ok1 || !ok2 {
			return nil, false
		}
		i, j = iv.Int64(), jv.Int64()
		dx, _ = values[2].(*big.Int)
		minDy, _ = values[3].(*big.Int)
	case curveExchangeUseEth:
		values, ok := unpack(curveUseEthArgs, data)
		if !ok {
			return nil, false
		}
		iv, ok1 := values[0].(*big.Int)
		jv, ok2 := values[1].(*big.Int)
		if !ok1 || !ok2 {
			return nil, false
		}
		i, j = iv.Int64(), jv.Int64()
		dx, _ = values[2].(*big.Int)
		minDy, _ = values[3].(*big.Int)
		useEth, _ = values[4].(bool)
	default:
		return nil, false
	}

	intent := baseIntent(tx, chainID, router, xtypes.RouterCurve)
	intent.SlippageTolerance = curveSlippageFor(dx, minDy)
	intent.AmountIn = dx
	intent.ExpectedAmountOut = minDy

	tokenIn, tokenOut, resolved := f.pools.resolve(router, i, j)
	if resolved {
		intent.TokenIn = tokenIn
		intent.TokenOut = tokenOut
		intent.Path = []common.Address{tokenIn, tokenOut}
	}
	intent.CurveMeta = &xtypes.CurvePoolHint{
		PoolAddress:    router,
		IIndex:         i,
		JIndex:         j,
		TokensResolved: resolved,
	}
	_ = useEth
	return &intent, true
}

// curveSlippageFor approximates stable-pool slippage as max(0, 1-minDy/dx),
// treating both amounts as same-decimals; degenerate inputs (missing or
// zero dx, missing minDy) fall back to curveDegenerateSlippage.
func curveSlippageFor(dx, minDy *big.Int) float64 {
	if dx == nil || dx.Sign() == 0 || minDy == nil {
		return curveDegenerateSlippage
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(minDy), new(big.Float).SetInt(dx))
	slippage := new(big.Float).Sub(big.NewFloat(1), ratio)
	f, _ := slippage.Float64()
	if f < 0 {
		return 0
	}
	return f
}
