// Package detector implements the cross-chain arbitrage detection cycle
// (C5): a single-flight scan over the current price snapshot, chain-level
// profitability screening, liquidity and whale-confidence scoring, pending
// mempool-intent enrichment, and a circuit breaker that halts cycles after
// repeated failures.
package detector

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/chainmeta"
	"github.com/xchainarb/detector/internal/liquidity"
	"github.com/xchainarb/detector/internal/pricestore"
	"github.com/xchainarb/detector/internal/whale"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultTradeSizeUsd      = 10_000.0
	liquidityScoreFloor      = 0.5
	defaultCircuitThreshold  = 5
	defaultCircuitResetAfter = 30 * time.Second

	pendingMinPriceDiff    = 0.005
	pendingHighSlippage    = 0.03
	pendingLowSlippage     = 0.01
	pendingHighSlipFactor  = 0.7
	pendingLowSlipFactor   = 0.9
	pendingDeadlineSkew    = 30 * time.Second
	pendingMinAmountInWei  = 0.01 // ETH-equivalent units, caller-normalised

	whaleBullishBoost  = 1.15
	whaleBearishPenalty = 0.85
	superWhaleBoost    = 1.25
	significantFlowBoost = 1.10
	significantFlowUsd = 100_000.0

	defaultMaxTriangularDepth = 3
	triangularMinProfit       = 0.003
)

// Detector runs one arbitrage-scan cycle at a time, guarding re-entrancy and
// tripping a circuit breaker after repeated consecutive failures.
type Detector struct {
	store   *pricestore.Store
	whales  *whale.Tracker
	liq     *liquidity.Validator
	log     logrus.FieldLogger

	tradeSizeUsd float64

	crossChainEnabled  bool
	triangularEnabled  bool
	maxTriangularDepth int

	mu          sync.Mutex
	detecting   bool
	failStreak  int
	breakerOpen bool
	breakerUntil time.Time

	circuitThreshold  int
	circuitResetAfter time.Duration
}

// Option configures a Detector at construction time.
type Option func(*Detector)

func WithTradeSizeUsd(usd float64) Option { return func(d *Detector) { d.tradeSizeUsd = usd } }
func WithLogger(l logrus.FieldLogger) Option { return func(d *Detector) { d.log = l } }
func WithCircuitBreaker(threshold int, resetAfter time.Duration) Option {
	return func(d *Detector) {
		d.circuitThreshold = threshold
		d.circuitResetAfter = resetAfter
	}
}

// WithCrossChainEnabled toggles the cross-chain scan (scanPair over
// TokenPairs); intra-chain scanning is unaffected.
func WithCrossChainEnabled(b bool) Option { return func(d *Detector) { d.crossChainEnabled = b } }

// WithTriangularEnabled toggles the N-hop statistical scan entirely.
func WithTriangularEnabled(b bool) Option { return func(d *Detector) { d.triangularEnabled = b } }

// WithMaxTriangularDepth bounds how many hops a statistical cycle search
// explores before giving up on a branch; a cycle needs at least 3 hops to
// exist, so a depth below 3 effectively disables triangular detection.
func WithMaxTriangularDepth(n int) Option { return func(d *Detector) { d.maxTriangularDepth = n } }

// New builds a Detector over the given price store, whale tracker, and
// liquidity validator.
func New(store *pricestore.Store, whales *whale.Tracker, liq *liquidity.Validator, opts ...Option) *Detector {
	d := &Detector{
		store:              store,
		whales:             whales,
		liq:                liq,
		log:                logrus.StandardLogger(),
		tradeSizeUsd:       defaultTradeSizeUsd,
		crossChainEnabled:  true,
		triangularEnabled:  true,
		maxTriangularDepth: defaultMaxTriangularDepth,
		circuitThreshold:  defaultCircuitThreshold,
		circuitResetAfter: defaultCircuitResetAfter,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// tryEnter implements the concurrency guard: a cycle already in flight
// causes the caller to skip this tick rather than queue behind it.
func (d *Detector) tryEnter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detecting {
		return false
	}
	if d.breakerOpen {
		if time.Now().Before(d.breakerUntil) {
			return false
		}
		d.breakerOpen = false
		d.failStreak = 0
	}
	d.detecting = true
	return true
}

func (d *Detector) exit(failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detecting = false
	if failed {
		d.failStreak++
		if d.failStreak >= d.circuitThreshold {
			d.breakerOpen = true
			d.breakerUntil = time.Now().Add(d.circuitResetAfter)
			d.log.WithField("failStreak", d.failStreak).Warn("detector: circuit breaker tripped")
		}
		return
	}
	d.failStreak = 0
}

// CircuitOpen reports whether the breaker is currently tripped.
func (d *Detector) CircuitOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakerOpen && time.Now().Before(d.breakerUntil)
}

// RunCycle executes one detection pass. It returns the skip-signal
// (nil, nil) if another cycle is already running or the breaker is
// tripped; a non-nil error from the pass itself counts towards the
// breaker's failure streak.
func (d *Detector) RunCycle(ctx context.Context) ([]xtypes.ArbitrageOpportunity, error) {
	if !d.tryEnter() {
		return nil, nil
	}

	opps, err := d.runCycleLocked(ctx)
	d.exit(err != nil)
	return opps, err
}

func (d *Detector) runCycleLocked(ctx context.Context) ([]xtypes.ArbitrageOpportunity, error) {
	snap := d.store.CreateIndexedSnapshot()

	var opps []xtypes.ArbitrageOpportunity

	if d.crossChainEnabled {
		for _, pairKey := range snap.TokenPairs {
			points := snap.ByToken[pairKey]
			if opp, ok := d.scanPair(pairKey, points); ok {
				opps = append(opps, opp)
			}
		}
	}

	for pairKey, points := range snap.ByToken {
		if opp, ok := d.scanPairIntraChain(pairKey, points); ok {
			opps = append(opps, opp)
		}
	}

	if d.triangularEnabled && d.maxTriangularDepth >= 3 {
		opps = append(opps, d.scanTriangular(snap)...)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].WhaleTriggered != opps[j].WhaleTriggered {
			return opps[i].WhaleTriggered
		}
		return opps[i].NetProfit > opps[j].NetProfit
	})

	return opps, nil
}

// scanPair finds the min/max price across every chain's point for a pair in
// a single pass (never sorts), screens it, and scores it.
func (d *Detector) scanPair(pairKey string, points []xtypes.PricePoint) (xtypes.ArbitrageOpportunity, bool) {
	var minPt, maxPt xtypes.PricePoint
	haveMin, haveMax := false, false

	for _, p := range points {
		if !isUsablePrice(p.Price) {
			continue
		}
		if !haveMin || p.Price < minPt.Price {
			minPt = p
			haveMin = true
		}
		if !haveMax || p.Price > maxPt.Price {
			maxPt = p
			haveMax = true
		}
	}

	if !haveMin || !haveMax || minPt.Chain == maxPt.Chain {
		return xtypes.ArbitrageOpportunity{}, false
	}

	percentageDiff := (maxPt.Price - minPt.Price) / minPt.Price
	if percentageDiff <= 0 {
		return xtypes.ArbitrageOpportunity{}, false
	}

	if percentageDiff < chainmeta.MinProfitFor(minPt.Chain) {
		return xtypes.ArbitrageOpportunity{}, false
	}

	bridgeCost := chainmeta.BridgeCost(minPt.Chain, maxPt.Chain)
	gasCost := chainmeta.GasCostFor(minPt.Chain) + chainmeta.GasCostFor(maxPt.Chain)

	grossProfit := percentageDiff * d.tradeSizeUsd
	netProfit := grossProfit - bridgeCost - gasCost
	if netProfit <= 0 {
		return xtypes.ArbitrageOpportunity{}, false
	}

	base, quote := whale.ParseTokenString(pairKey)

	if d.liq != nil {
		if amount := weiAmountFor(d.tradeSizeUsd, maxPt.Price); amount != nil {
			score := d.liq.EstimateLiquidityScore(maxPt.Venue, maxPt.Chain, base, amount)
			if score < liquidityScoreFloor {
				return xtypes.ArbitrageOpportunity{}, false
			}
		}
	}

	confidence, whaleTriggered := d.confidenceFor(base)

	opp := xtypes.ArbitrageOpportunity{
		Type:             xtypes.OpportunityCrossChain,
		BuyChain:         minPt.Chain,
		SellChain:        maxPt.Chain,
		BuyVenue:         minPt.Venue,
		SellVenue:        maxPt.Venue,
		TokenIn:          base,
		TokenOut:         quote,
		BuyPrice:         minPt.Price,
		SellPrice:        maxPt.Price,
		BridgeRequired:   true,
		BridgeCost:       bridgeCost,
		ExpectedProfit:   grossProfit,
		ProfitPercentage: percentageDiff * 100,
		NetProfit:        netProfit,
		Confidence:       confidence,
		Timestamp:        time.Now(),
		Source:           "confirmed",
		WhaleTriggered:   whaleTriggered,
	}
	return opp, true
}

// scanPairIntraChain looks for a same-chain, cross-venue spread on pairKey:
// unlike scanPair it never requires >= 2 chains, only >= 2 venues on one
// chain, and carries no bridge cost since settlement never leaves the
// chain. It returns the single best-net-profit chain for this pair, if
// any clears both the chain's minimum-profit threshold and gas cost.
func (d *Detector) scanPairIntraChain(pairKey string, points []xtypes.PricePoint) (xtypes.ArbitrageOpportunity, bool) {
	byChain := make(map[string][]xtypes.PricePoint)
	for _, p := range points {
		if !isUsablePrice(p.Price) {
			continue
		}
		byChain[p.Chain] = append(byChain[p.Chain], p)
	}

	var best xtypes.ArbitrageOpportunity
	found := false

	for chain, pts := range byChain {
		if len(pts) < 2 {
			continue
		}

		var minPt, maxPt xtypes.PricePoint
		haveMin, haveMax := false, false
		for _, p := range pts {
			if !haveMin || p.Price < minPt.Price {
				minPt = p
				haveMin = true
			}
			if !haveMax || p.Price > maxPt.Price {
				maxPt = p
				haveMax = true
			}
		}
		if minPt.Venue == maxPt.Venue {
			continue
		}

		percentageDiff := (maxPt.Price - minPt.Price) / minPt.Price
		if percentageDiff <= 0 || percentageDiff < chainmeta.MinProfitFor(chain) {
			continue
		}

		gasCost := chainmeta.GasCostFor(chain) * 2
		grossProfit := percentageDiff * d.tradeSizeUsd
		netProfit := grossProfit - gasCost
		if netProfit <= 0 || (found && netProfit <= best.NetProfit) {
			continue
		}

		base, quote := whale.ParseTokenString(pairKey)

		if d.liq != nil {
			if amount := weiAmountFor(d.tradeSizeUsd, maxPt.Price); amount != nil {
				if score := d.liq.EstimateLiquidityScore(maxPt.Venue, chain, base, amount); score < liquidityScoreFloor {
					continue
				}
			}
		}

		confidence, whaleTriggered := d.confidenceFor(base)

		best = xtypes.ArbitrageOpportunity{
			Type:             xtypes.OpportunityIntraChain,
			BuyChain:         chain,
			SellChain:        chain,
			BuyVenue:         minPt.Venue,
			SellVenue:        maxPt.Venue,
			TokenIn:          base,
			TokenOut:         quote,
			BuyPrice:         minPt.Price,
			SellPrice:        maxPt.Price,
			BridgeRequired:   false,
			ExpectedProfit:   grossProfit,
			ProfitPercentage: percentageDiff * 100,
			NetProfit:        netProfit,
			Confidence:       confidence,
			Timestamp:        time.Now(),
			Source:           "confirmed",
			WhaleTriggered:   whaleTriggered,
		}
		found = true
	}

	return best, found
}

// triEdge is one directed rate quote between two tokens on a single
// (chain, venue) graph, used by scanTriangular's cycle search.
type triEdge struct {
	token string
	venue string
	rate  float64
}

type chainVenueKey struct {
	chain string
	venue string
}

// scanTriangular builds a per-(chain, venue) directed token graph from the
// snapshot's raw price updates and searches it for profitable closed
// cycles (N-hop statistical arbitrage), bounded by maxTriangularDepth
// hops.
func (d *Detector) scanTriangular(snap *xtypes.IndexedSnapshot) []xtypes.ArbitrageOpportunity {
	graphs := make(map[chainVenueKey]map[string][]triEdge)

	for _, u := range snap.Raw {
		if !isUsablePrice(u.Price) {
			continue
		}
		base, quote := whale.ParseTokenString(u.PairKey)
		if base == "" || quote == "" || base == quote {
			continue
		}

		k := chainVenueKey{chain: u.Chain, venue: u.Venue}
		if graphs[k] == nil {
			graphs[k] = make(map[string][]triEdge)
		}
		graphs[k][base] = append(graphs[k][base], triEdge{token: quote, venue: u.Venue, rate: u.Price})
		graphs[k][quote] = append(graphs[k][quote], triEdge{token: base, venue: u.Venue, rate: 1 / u.Price})
	}

	var opps []xtypes.ArbitrageOpportunity
	for k, graph := range graphs {
		opps = append(opps, d.findCycles(k.chain, k.venue, graph)...)
	}
	return opps
}

// findCycles runs a depth-bounded DFS from every token in graph, looking
// for a path back to the starting token whose compounded rate clears
// triangularMinProfit. visited prevents revisiting a token mid-path
// (simple cycles only).
func (d *Detector) findCycles(chain, venue string, graph map[string][]triEdge) []xtypes.ArbitrageOpportunity {
	var opps []xtypes.ArbitrageOpportunity
	visited := make(map[string]bool)

	var walk func(start, current string, rate float64, hops []xtypes.Hop)
	walk = func(start, current string, rate float64, hops []xtypes.Hop) {
		for _, e := range graph[current] {
			nextRate := rate * e.rate
			nextHops := appendHop(hops, xtypes.Hop{Chain: chain, Venue: venue, Dex: e.venue, TokenIn: current, TokenOut: e.token})

			if e.token == start {
				if len(nextHops) >= 3 && nextRate > 1+triangularMinProfit {
					if opp, ok := d.buildTriangularOpportunity(chain, start, nextRate, nextHops); ok {
						opps = append(opps, opp)
					}
				}
				continue
			}

			if visited[e.token] || len(nextHops) >= d.maxTriangularDepth {
				continue
			}
			visited[e.token] = true
			walk(start, e.token, nextRate, nextHops)
			visited[e.token] = false
		}
	}

	for token := range graph {
		visited[token] = true
		walk(token, token, 1.0, nil)
		visited[token] = false
	}
	return opps
}

// appendHop always allocates a fresh backing array so sibling DFS branches
// sharing a prefix never alias and overwrite each other's hop slice.
func appendHop(hops []xtypes.Hop, hop xtypes.Hop) []xtypes.Hop {
	out := make([]xtypes.Hop, len(hops)+1)
	copy(out, hops)
	out[len(hops)] = hop
	return out
}

// buildTriangularOpportunity settles a closed cycle's compounded rate into
// an OpportunityStatistical, rejecting it (ok=false) if gas costs across
// every hop erase the gross profit.
func (d *Detector) buildTriangularOpportunity(chain, token string, finalRate float64, hops []xtypes.Hop) (xtypes.ArbitrageOpportunity, bool) {
	profitPct := (finalRate - 1) * 100
	grossProfit := (finalRate - 1) * d.tradeSizeUsd
	gasCost := chainmeta.GasCostFor(chain) * float64(len(hops))
	netProfit := grossProfit - gasCost
	if netProfit <= 0 {
		return xtypes.ArbitrageOpportunity{}, false
	}

	confidence, whaleTriggered := d.confidenceFor(token)

	return xtypes.ArbitrageOpportunity{
		Type:             xtypes.OpportunityStatistical,
		BuyChain:         chain,
		SellChain:        chain,
		BuyVenue:         hops[0].Venue,
		SellVenue:        hops[len(hops)-1].Venue,
		TokenIn:          token,
		TokenOut:         token,
		BuyPrice:         1.0,
		SellPrice:        finalRate,
		BridgeRequired:   false,
		ExpectedProfit:   grossProfit,
		ProfitPercentage: profitPct,
		NetProfit:        netProfit,
		Confidence:       confidence,
		Timestamp:        time.Now(),
		Source:           "confirmed",
		WhaleTriggered:   whaleTriggered,
		Hops:             hops,
	}, true
}

// confidenceFor applies the fixed-order whale-confidence formula: direction
// bias first, then a super-whale boost, then a significant-flow boost,
// clamped to [0, 1].
func (d *Detector) confidenceFor(token string) (float64, bool) {
	if d.whales == nil {
		return 1.0, false
	}
	summary := d.whales.GetActivitySummary(token)

	confidence := 1.0
	switch summary.DominantDirection {
	case xtypes.DominantBullish:
		confidence *= whaleBullishBoost
	case xtypes.DominantBearish:
		confidence *= whaleBearishPenalty
	}

	triggered := false
	if summary.SuperWhaleCount > 0 {
		confidence *= superWhaleBoost
		triggered = true
	}
	if summary.NetFlowUsd > significantFlowUsd || summary.NetFlowUsd < -significantFlowUsd {
		confidence *= significantFlowBoost
		triggered = true
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, triggered
}

// EnrichPendingIntent evaluates a decoded mempool swap intent against the
// current snapshot's best cross-chain counter-price and returns a
// mempool-sourced opportunity when the intent is still actionable.
func (d *Detector) EnrichPendingIntent(intent xtypes.PendingSwapIntent, pairKey string, originChain string, originPrice float64, amountInEthEquivalent float64, now time.Time) (xtypes.ArbitrageOpportunity, bool) {
	if intent.Deadline <= now.Add(pendingDeadlineSkew).Unix() {
		return xtypes.ArbitrageOpportunity{}, false
	}
	if amountInEthEquivalent < pendingMinAmountInWei {
		return xtypes.ArbitrageOpportunity{}, false
	}

	snap := d.store.CreateIndexedSnapshot()
	points := snap.ByToken[pairKey]

	var best xtypes.PricePoint
	haveBest := false
	for _, p := range points {
		if p.Chain == originChain || !isUsablePrice(p.Price) {
			continue
		}
		diff := math.Abs(p.Price-originPrice) / originPrice
		if diff <= pendingMinPriceDiff {
			continue
		}
		if !haveBest || diff > math.Abs(best.Price-originPrice)/originPrice {
			best = p
			haveBest = true
		}
	}
	if !haveBest {
		return xtypes.ArbitrageOpportunity{}, false
	}

	slippageFactor := 1.0
	switch {
	case intent.SlippageTolerance > pendingHighSlippage:
		slippageFactor = pendingHighSlipFactor
	case intent.SlippageTolerance > pendingLowSlippage:
		slippageFactor = pendingLowSlipFactor
	}

	priceDiff := (best.Price - originPrice) / originPrice

	return xtypes.ArbitrageOpportunity{
		ID:               fmt.Sprintf("pending-%s", intent.Hash),
		Type:             xtypes.OpportunityCrossChain,
		BuyChain:         originChain,
		SellChain:        best.Chain,
		BuyVenue:         "mempool",
		SellVenue:        best.Venue,
		BuyPrice:         originPrice,
		SellPrice:        best.Price,
		BridgeRequired:   true,
		ProfitPercentage: priceDiff * 100,
		Confidence:       0.7 * slippageFactor,
		Timestamp:        now,
		Source:           "mempool",
		PendingTxHash:    intent.Hash,
		PendingDeadline:  intent.Deadline,
		PendingSlippage:  intent.SlippageTolerance,
		RouterType:       intent.Type,
	}, true
}

func isUsablePrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// weiAmountFor converts a USD trade size at a given price into a wei-scaled
// (1e18) token amount for the liquidity validator's integer-domain
// comparison. Returns nil if the price is unusable.
func weiAmountFor(usd, price float64) *big.Int {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}
	tokens := new(big.Float).Quo(big.NewFloat(usd), big.NewFloat(price))
	wei := new(big.Float).Mul(tokens, big.NewFloat(1e18))
	amount, _ := wei.Int(nil)
	return amount
}
