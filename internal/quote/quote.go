// Package quote implements the batched quote manager (C7): request
// building for a 2-hop or N-hop flash-loan round trip, router resolution,
// a batched on-chain simulation call with a sequential per-hop fallback,
// and the flash-loan fee/profit arithmetic, all generalised from the
// teacher's ContractClient.Call/Send abstraction.
package quote

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultHopTimeout = 5 * time.Second
	flashLoanFeeBps   = 9 // Aave-V3-like flash-loan fee, basis points.
)

// RouterResolver maps a (chain, dex) pair to the router contract that
// handles it, used when a hop doesn't carry an explicit router address.
type RouterResolver interface {
	ResolveRouter(chain, dex string) (common.Address, bool)
}

// BatchQuoter is the optional batched-simulation collaborator: a single
// contract call that walks every hop server-side. Not every chain has one
// deployed, so its absence is expected and falls back to sequential hops.
type BatchQuoter interface {
	SimulateArbitragePath(ctx context.Context, hops []xtypes.QuoteRequest) ([]*big.Int, error)
}

// Manager builds and executes batched/fallback quote requests, caching one
// ContractCaller-backed quoter per chain.
type Manager struct {
	resolver RouterResolver
	log      logrus.FieldLogger
	timeout  time.Duration

	mu        sync.Mutex
	quoters   map[string]collab.ContractCaller
	batchers  map[string]BatchQuoter
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }
func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

// New builds a Manager. resolver may be nil if every hop always carries an
// explicit router.
func New(resolver RouterResolver, opts ...Option) *Manager {
	m := &Manager{
		resolver: resolver,
		log:      logrus.StandardLogger(),
		timeout:  defaultHopTimeout,
		quoters:  make(map[string]collab.ContractCaller),
		batchers: make(map[string]BatchQuoter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterChainQuoter double-checks construction: if a quoter is already
// cached for chain, the new one is discarded and the existing one kept.
func (m *Manager) RegisterChainQuoter(chain string, quoter collab.ContractCaller, batcher BatchQuoter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quoters[chain]; !ok {
		m.quoters[chain] = quoter
	}
	if _, ok := m.batchers[chain]; !ok && batcher != nil {
		m.batchers[chain] = batcher
	}
}

func (m *Manager) chainQuoter(chain string) (collab.ContractCaller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quoters[chain]
	return q, ok
}

func (m *Manager) chainBatcher(chain string) (BatchQuoter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batchers[chain]
	return b, ok
}

// BuildStandardPath builds the canonical 2-hop flash-loan round trip:
// tokenIn -> tokenOut on the buy venue, tokenOut -> tokenIn on the sell
// venue. AmountIn on the second hop is left nil/zero, meaning "use the
// previous hop's output".
func BuildStandardPath(opp xtypes.ArbitrageOpportunity, buyRouter, sellRouter common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) []xtypes.QuoteRequest {
	return []xtypes.QuoteRequest{
		{Router: buyRouter, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn},
		{Router: sellRouter, TokenIn: tokenOut, TokenOut: tokenIn, AmountIn: nil},
	}
}

// BuildHopPath walks an N-hop statistical path, resolving each hop's
// router (explicit Hop.Router first, else (chain, dex) via the resolver),
// and validates the path returns to the opportunity's starting token,
// required for a flash-loan round trip to be repayable.
func (m *Manager) BuildHopPath(opp xtypes.ArbitrageOpportunity, hops []xtypes.Hop, initialAmountIn *big.Int) ([]xtypes.QuoteRequest, error) {
	if len(hops) == 0 {
		return nil, xtypes.ErrInvalidIntentPath
	}

	reqs := make([]xtypes.QuoteRequest, 0, len(hops))
	for i, hop := range hops {
		router := hop.Router
		if (router == common.Address{}) {
			if m.resolver == nil {
				return nil, xtypes.ErrNoRouterForHop
			}
			resolved, ok := m.resolver.ResolveRouter(hop.Chain, hop.Dex)
			if !ok {
				return nil, fmt.Errorf("%w: chain=%s dex=%s", xtypes.ErrNoRouterForHop, hop.Chain, hop.Dex)
			}
			router = resolved
		}

		var amountIn *big.Int
		if i == 0 {
			amountIn = initialAmountIn
		}
		reqs = append(reqs, xtypes.QuoteRequest{
			Router:   router,
			TokenIn:  common.HexToAddress(hop.TokenIn),
			TokenOut: common.HexToAddress(hop.TokenOut),
			AmountIn: amountIn,
		})
	}

	finalTokenOut := hops[len(hops)-1].TokenOut
	if finalTokenOut != opp.TokenIn {
		return nil, fmt.Errorf("%w: final hop outputs %s, want %s", xtypes.ErrInvalidIntentPath, finalTokenOut, opp.TokenIn)
	}

	return reqs, nil
}

// QuoteResult is the per-hop amountOut produced by either the batched or
// the sequential-fallback execution path.
type QuoteResult struct {
	AmountsOut []*big.Int
	UsedBatch  bool
}

// Execute runs reqs on chain's batched quoter if one is registered and the
// call succeeds, logging and falling back to sequential per-hop calls on
// any batched failure.
func (m *Manager) Execute(ctx context.Context, chain string, reqs []xtypes.QuoteRequest) (QuoteResult, error) {
	if batcher, ok := m.chainBatcher(chain); ok {
		amounts, err := batcher.SimulateArbitragePath(ctx, reqs)
		if err == nil {
			return QuoteResult{AmountsOut: amounts, UsedBatch: true}, nil
		}
		m.log.WithError(err).Warn("Batched simulation failed, using fallback")
	}

	amounts, err := m.executeSequential(ctx, chain, reqs)
	if err != nil {
		m.log.WithError(err).Warn("Sequential quote fallback failed")
		return QuoteResult{}, err
	}
	return QuoteResult{AmountsOut: amounts, UsedBatch: false}, nil
}

func (m *Manager) executeSequential(ctx context.Context, chain string, reqs []xtypes.QuoteRequest) ([]*big.Int, error) {
	quoter, ok := m.chainQuoter(chain)
	if !ok {
		return nil, fmt.Errorf("quote: no contract caller registered for chain %s", chain)
	}

	amounts := make([]*big.Int, 0, len(reqs))
	var prevOut *big.Int
	for _, req := range reqs {
		amountIn := req.AmountIn
		if amountIn == nil || amountIn.Sign() == 0 {
			amountIn = prevOut
		}
		if amountIn == nil {
			return nil, fmt.Errorf("quote: hop %s->%s has no amountIn and no prior hop output", req.TokenIn, req.TokenOut)
		}

		hopCtx, cancel := context.WithTimeout(ctx, m.timeout)
		out, err := quoteSingleHop(hopCtx, quoter, req, amountIn)
		cancel()
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, out)
		prevOut = out
	}
	return amounts, nil
}

func quoteSingleHop(ctx context.Context, quoter collab.ContractCaller, req xtypes.QuoteRequest, amountIn *big.Int) (*big.Int, error) {
	values, err := quoter.Call(ctx, "getAmountOut", amountIn, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("quote hop %s->%s: %w", req.TokenIn, req.TokenOut, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("quote hop %s->%s: empty result", req.TokenIn, req.TokenOut)
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quote hop %s->%s: unexpected result type", req.TokenIn, req.TokenOut)
	}
	return out, nil
}

// ProfitOutput is the settled profit/fee pair for a completed quote path.
type ProfitOutput struct {
	ExpectedProfit *big.Int
	FlashLoanFee   *big.Int
}

// SettleProfit computes the flash-loan fee on amountIn and the resulting
// expected profit (finalAmountOut - amountIn - fee).
func SettleProfit(amountIn, finalAmountOut *big.Int) ProfitOutput {
	fee := new(big.Int).Mul(amountIn, big.NewInt(flashLoanFeeBps))
	fee.Div(fee, big.NewInt(10000))

	profit := new(big.Int).Sub(finalAmountOut, amountIn)
	profit.Sub(profit, fee)

	return ProfitOutput{ExpectedProfit: profit, FlashLoanFee: fee}
}
