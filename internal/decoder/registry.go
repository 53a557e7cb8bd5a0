// Package decoder implements the selector-indexed calldata decoder
// registry (C1): it turns a raw pending transaction into a
// xtypes.PendingSwapIntent for any router the registry has been told
// about, across four router families (UniswapV2-style, UniswapV3-style,
// Curve, 1inch AggregatorV5).
package decoder

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// Registry holds the three lookup structures intent decoding needs:
// selector -> family (the hot path, keyed on the lowercase 8-hex-char
// selector every real calldata byte slice produces), chain+router ->
// family (routers redeployed at different addresses per chain), and a
// flat router -> family fallback for single-deployment routers like most
// 1inch aggregators.
type Registry struct {
	mu sync.RWMutex

	bySelector      map[string]family
	byUpperSelector map[string]family
	byChainRouter   map[int64]map[common.Address]family
	byRouter        map[common.Address]family
	families        map[xtypes.RouterType]family
	curvePools      *curvePoolRegistry

	// preferUppercase is a sticky flag: once any decode is satisfied only
	// by the uppercase-selector fallback, later lookups try that table
	// first. Pending-tx calldata is always lowercase in practice (it's a
	// raw []byte, hex-encoded losslessly), but some upstream relayers
	// have been observed re-hexing calldata through a checksum-style
	// encoder before handing it to this service, which can flip the
	// selector's case; once seen, treat it as the steady state for this
	// process rather than re-discovering it every call.
	preferUppercase atomic.Bool
}

// NewRegistry builds a Registry pre-populated with the four built-in
// router families. Curve pools must still be registered individually via
// RegisterCurvePool before exchange() calldata referencing them can
// resolve token addresses.
func NewRegistry() *Registry {
	r := &Registry{
		bySelector:      make(map[string]family),
		byUpperSelector: make(map[string]family),
		byChainRouter:   make(map[int64]map[common.Address]family),
		byRouter:        make(map[common.Address]family),
		families:        make(map[xtypes.RouterType]family),
		curvePools:      newCurvePoolRegistry(),
	}

	r.registerFamily(newV2Family(xtypes.RouterUniswapV2))
	r.registerFamily(newV2Family(xtypes.RouterSushiswap))
	r.registerFamily(newV2Family(xtypes.RouterPancake))
	r.registerFamily(newV3Family())
	r.registerFamily(newCurveFamily(r.curvePools))
	r.registerFamily(newOneInchFamily())
	return r
}

func (r *Registry) registerFamily(f family) {
	r.families[f.Name()] = f
	for selector := range f.Selectors() {
		r.bySelector[selector] = f
		r.byUpperSelector[strings.ToUpper(selector)] = f
	}
}

// RegisterRouter associates a deployed router address on a specific chain
// with one of the built-in families, so Decode can route calldata from
// that address without relying solely on selector collision-freedom.
func (r *Registry) RegisterRouter(chainID int64, router common.Address, typ xtypes.RouterType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[typ]
	if !ok {
		return fmt.Errorf("decoder: unknown router family %q", typ)
	}
	if r.byChainRouter[chainID] == nil {
		r.byChainRouter[chainID] = make(map[common.Address]family)
	}
	r.byChainRouter[chainID][router] = f
	r.byRouter[router] = f
	return nil
}

// RegisterCurvePool tells the Curve family the ordered coin list for a
// pool address, so exchange(i, j, ...) calldata against it resolves real
// token addresses instead of falling back to an unresolved CurveMeta hint.
func (r *Registry) RegisterCurvePool(pool common.Address, coins []common.Address) {
	r.curvePools.Register(pool, coins)
}

// Decode routes a pending transaction to the correct family decoder and
// returns the intent it produces. A family is never allowed to panic: any
// decode failure anywhere in the call chain collapses to
// xtypes.ErrNoDecoder rather than propagating.
func (r *Registry) Decode(tx collab.PendingTx, chainID int64) (intent *xtypes.PendingSwapIntent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			intent, err = nil, fmt.Errorf("%w: panic decoding %s: %v", xtypes.ErrNoDecoder, tx.Hash, rec)
		}
	}()

	if len(tx.Input) < 4 {
		return nil, fmt.Errorf("%w: calldata too short", xtypes.ErrNoDecoder)
	}
	selectorBytes := tx.Input[:4]

	r.mu.RLock()
	f, methodID, ok := r.resolveFamily(chainID, tx.To, selectorBytes)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: selector %x on chain %d router %s", xtypes.ErrNoDecoder, selectorBytes, chainID, tx.To)
	}

	result, ok := f.Decode(tx, chainID, methodID, tx.To)
	if !ok || result == nil {
		return nil, fmt.Errorf("%w: family %s rejected calldata", xtypes.ErrNoDecoder, f.Name())
	}
	return result, nil
}

// resolveFamily prefers a registered (chain, router) binding; failing
// that it falls back to the flat router table, and finally to a bare
// selector match against every registered family (the case for
// single-deployment aggregators like 1inch that weren't explicitly
// registered per chain).
func (r *Registry) resolveFamily(chainID int64, router common.Address, selectorBytes []byte) (family, int, bool) {
	if byRouter, ok := r.byChainRouter[chainID]; ok {
		if f, ok := byRouter[router]; ok {
			if id, ok := r.selectorLookup(f, selectorBytes); ok {
				return f, id, true
			}
		}
	}
	if f, ok := r.byRouter[router]; ok {
		if id, ok := r.selectorLookup(f, selectorBytes); ok {
			return f, id, true
		}
	}

	lower := hex.EncodeToString(selectorBytes)
	upper := strings.ToUpper(lower)
	if r.preferUppercase.Load() {
		if f, ok := r.byUpperSelector[upper]; ok {
			if id, ok := r.selectorLookup(f, selectorBytes); ok {
				return f, id, true
			}
		}
	}
	if f, ok := r.bySelector[lower]; ok {
		if id, ok := r.selectorLookup(f, selectorBytes); ok {
			return f, id, true
		}
	}
	if f, ok := r.byUpperSelector[upper]; ok {
		if id, ok := r.selectorLookup(f, selectorBytes); ok {
			r.preferUppercase.Store(true)
			return f, id, true
		}
	}
	return nil, 0, false
}

// selectorLookup resolves the method id for a selector against one
// family's table, trying the selector's lowercase form first and its
// uppercase form second.
func (r *Registry) selectorLookup(f family, selectorBytes []byte) (int, bool) {
	lower := hex.EncodeToString(selectorBytes)
	if id, ok := f.Selectors()[lower]; ok {
		return id, true
	}
	if id, ok := f.Selectors()[strings.ToUpper(lower)]; ok {
		return id, true
	}
	return 0, false
}
