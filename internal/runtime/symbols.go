package runtime

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SymbolRegistry maps a chain's token addresses to the symbol strings the
// price store indexes pairs by. Mempool intents (C1's decoder output)
// carry addresses, while confirmed price updates (ingress) carry symbols;
// this is the externally-fed lookup table that bridges the two, the same
// shape as the decoder registry's RegisterRouter/RegisterCurvePool tables.
type SymbolRegistry struct {
	mu     sync.RWMutex
	byAddr map[common.Address]string
}

// NewSymbolRegistry returns an empty registry; until entries are
// registered, PairKeyFor always reports not-found, so pending-intent
// enrichment simply declines to match rather than guessing.
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{byAddr: make(map[common.Address]string)}
}

// Register associates an address with the symbol it is known by in price
// updates for the chain it belongs to.
func (r *SymbolRegistry) Register(addr common.Address, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddr[addr] = canonicalizeSymbol(symbol)
}

// Lookup returns the registered symbol for addr, if any.
func (r *SymbolRegistry) Lookup(addr common.Address) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAddr[addr]
	return s, ok
}

// PairKeyFor builds the normalised "A_B" pair key for a token-in/token-out
// pair, matching internal/pricestore's normalisation convention. It
// reports false when either address has no registered symbol.
func (r *SymbolRegistry) PairKeyFor(tokenIn, tokenOut common.Address) (string, bool) {
	in, ok := r.Lookup(tokenIn)
	if !ok {
		return "", false
	}
	out, ok := r.Lookup(tokenOut)
	if !ok {
		return "", false
	}
	return in + "_" + out, true
}

func canonicalizeSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	sym = strings.TrimSuffix(sym, ".E")
	sym = strings.TrimSuffix(sym, ".B")
	return sym
}
