// Package liquidity implements the on-chain liquidity pre-filter (C4): a
// TTL cache over balance checks, per-key request coalescing so concurrent
// callers share one RPC round-trip, a timeout-guarded fetch with
// graceful-true fallback, and the cache-only liquidity scoring function
// consumed by the cross-chain detector (C5).
package liquidity

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultTTL          = 30 * time.Second
	defaultSafetyMargin = 1.10
	defaultTimeout      = 5 * time.Second
)

// BalanceFetcher is the external collaborator that performs the actual
// on-chain read. It is the one RPC-shaped seam this package depends on;
// everything else (caching, coalescing, scoring) is local.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, protocol, chain, asset string) (*big.Int, error)
}

type cacheKey struct {
	protocol string
	chain    string
	asset    string
}

type cacheEntry struct {
	record    xtypes.LiquidityRecord
	expiresAt time.Time
}

type inflight struct {
	done   chan struct{}
	result *big.Int
	err    error
}

// Validator is safe for concurrent use.
type Validator struct {
	fetcher      BalanceFetcher
	ttl          time.Duration
	safetyMargin float64
	timeout      time.Duration
	log          logrus.FieldLogger
	audit        collab.AuditRecorder

	mu        sync.Mutex
	cache     map[cacheKey]cacheEntry
	inFlights map[cacheKey]*inflight
}

// Option configures a Validator at construction time.
type Option func(*Validator)

func WithTTL(d time.Duration) Option          { return func(v *Validator) { v.ttl = d } }
func WithSafetyMargin(m float64) Option       { return func(v *Validator) { v.safetyMargin = m } }
func WithTimeout(d time.Duration) Option      { return func(v *Validator) { v.timeout = d } }
func WithLogger(l logrus.FieldLogger) Option  { return func(v *Validator) { v.log = l } }
func WithAuditRecorder(a collab.AuditRecorder) Option { return func(v *Validator) { v.audit = a } }

// NewValidator builds a Validator backed by fetcher.
func NewValidator(fetcher BalanceFetcher, opts ...Option) *Validator {
	v := &Validator{
		fetcher:      fetcher,
		ttl:          defaultTTL,
		safetyMargin: defaultSafetyMargin,
		timeout:      defaultTimeout,
		log:          logrus.StandardLogger(),
		cache:        make(map[cacheKey]cacheEntry),
		inFlights:    make(map[cacheKey]*inflight),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CheckLiquidity returns true iff the cached or freshly-fetched balance is
// at least amount*safetyMargin. Any RPC failure, timeout, or missing
// fetcher degrades gracefully to true: this is a pre-filter, not an
// authority, and execution still simulates downstream.
func (v *Validator) CheckLiquidity(ctx context.Context, protocol, chain, asset string, amount *big.Int) bool {
	key := cacheKey{protocol: protocol, chain: chain, asset: asset}

	if rec, ok := v.getCached(key); ok {
		sufficient := meetsMargin(rec.AvailableLiquidity, amount, v.safetyMargin)
		v.recordAudit(protocol, chain, asset, rec.AvailableLiquidity, sufficient, !rec.LastCheckSuccessful)
		return sufficient
	}

	if v.fetcher == nil {
		v.log.WithFields(logrus.Fields{"protocol": protocol, "chain": chain, "asset": asset}).
			Warn("liquidity check: no balance fetcher configured, graceful-true")
		v.recordAudit(protocol, chain, asset, nil, true, true)
		return true
	}

	balance, err := v.fetchCoalesced(ctx, key)
	if err != nil {
		v.log.WithFields(logrus.Fields{"protocol": protocol, "chain": chain, "asset": asset, "err": err}).
			Warn("liquidity check failed, graceful-true")
		v.storeFailure(key)
		v.recordAudit(protocol, chain, asset, nil, true, true)
		return true
	}

	v.store(key, balance, true)
	sufficient := meetsMargin(balance, amount, v.safetyMargin)
	v.recordAudit(protocol, chain, asset, balance, sufficient, false)
	return sufficient
}

// recordAudit fires a best-effort audit write for one liquidity check. It
// never blocks the caller and never turns an audit failure into a check
// failure.
func (v *Validator) recordAudit(protocol, chain, asset string, available *big.Int, sufficient, graceful bool) {
	if v.audit == nil {
		return
	}
	availStr := "0"
	if available != nil {
		availStr = available.String()
	}
	go func() {
		if err := v.audit.RecordLiquidityCheck(protocol, chain, asset, availStr, sufficient, graceful); err != nil {
			v.log.WithFields(logrus.Fields{"protocol": protocol, "chain": chain, "asset": asset}).
				WithError(err).Warn("liquidity: audit record failed")
		}
	}()
}

// EstimateLiquidityScore scores [0,1] using only cached data (never
// triggers a fetch), bucketed on b = cachedBalance/amount.
func (v *Validator) EstimateLiquidityScore(protocol, chain, asset string, amount *big.Int) float64 {
	key := cacheKey{protocol: protocol, chain: chain, asset: asset}
	rec, ok := v.getCached(key)
	if !ok || amount == nil || amount.Sign() == 0 {
		return 1.0
	}

	b := new(big.Float).Quo(new(big.Float).SetInt(rec.AvailableLiquidity), new(big.Float).SetInt(amount))
	bf, _ := b.Float64()

	switch {
	case bf >= 2:
		return 1.0
	case bf >= 1.1:
		return 0.9
	case bf >= 1.0:
		return 0.7
	default:
		return 0.3
	}
}

// ClearCache drops all cached liquidity records.
func (v *Validator) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[cacheKey]cacheEntry)
}

func (v *Validator) getCached(key cacheKey) (xtypes.LiquidityRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return xtypes.LiquidityRecord{}, false
	}
	return entry.record, true
}

func (v *Validator) store(key cacheKey, balance *big.Int, success bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = cacheEntry{
		record: xtypes.LiquidityRecord{
			Provider:            key.protocol + "/" + key.chain,
			Asset:               key.asset,
			AvailableLiquidity:  balance,
			ExpiresAt:           time.Now().Add(v.ttl),
			LastCheckSuccessful: success,
		},
		expiresAt: time.Now().Add(v.ttl),
	}
}

// storeFailure leaves no cache entry: a failed fetch must not
// short-circuit the next call's attempt to reach the RPC.
func (v *Validator) storeFailure(key cacheKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, key)
}

// fetchCoalesced ensures at most one RPC round-trip is in flight per key
// at a time; concurrent callers share the same result (or the same
// error).
func (v *Validator) fetchCoalesced(ctx context.Context, key cacheKey) (*big.Int, error) {
	v.mu.Lock()
	if f, ok := v.inFlights[key]; ok {
		v.mu.Unlock()
		<-f.done
		return f.result, f.err
	}
	f := &inflight{done: make(chan struct{})}
	v.inFlights[key] = f
	v.mu.Unlock()

	f.result, f.err = v.fetchWithTimeout(ctx, key)

	v.mu.Lock()
	delete(v.inFlights, key)
	v.mu.Unlock()
	close(f.done)

	return f.result, f.err
}

func (v *Validator) fetchWithTimeout(ctx context.Context, key cacheKey) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.fetcher.FetchBalance(ctx, key.protocol, key.chain, key.asset)
}

// meetsMargin compares available >= amount*safetyMargin entirely in
// integer domain by scaling the margin to a per-mille integer, avoiding
// float drift on large on-chain balances.
func meetsMargin(available, amount *big.Int, safetyMargin float64) bool {
	if available == nil || amount == nil {
		return false
	}
	const scale = 1000
	marginPerMille := big.NewInt(int64(safetyMargin * scale))
	required := new(big.Int).Mul(amount, marginPerMille)
	availableScaled := new(big.Int).Mul(available, big.NewInt(scale))
	return availableScaled.Cmp(required) >= 0
}
