// Package whale implements the sliding-window whale-trade aggregator
// (C3): per-token buy/sell volume, net flow, and dominant-direction
// signals consumed by the cross-chain detector (C5), plus the
// tokenString parsing rules shared by whale ingress and C5 enrichment.
package whale

import (
	"strings"
	"sync"
	"time"

	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultWindow         = 5 * time.Minute
	defaultSuperThreshold = 500_000.0
	significantFlowUsd    = 100_000.0
)

type entry struct {
	usdValue  float64
	direction xtypes.Direction
	timestamp time.Time
}

// Tracker maintains a per-token rolling window of whale trades.
type Tracker struct {
	mu sync.Mutex

	window         time.Duration
	superThreshold float64

	byToken map[string][]entry
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithWindow overrides the default 5-minute rolling window.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) { t.window = d }
}

// WithSuperThreshold overrides the default USD 500k super-whale threshold.
func WithSuperThreshold(usd float64) Option {
	return func(t *Tracker) { t.superThreshold = usd }
}

// NewTracker builds an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		window:         defaultWindow,
		superThreshold: defaultSuperThreshold,
		byToken:        make(map[string][]entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record ingests a whale transaction. It returns true if the transaction
// should force an immediate detection cycle: a super-whale trade, or any
// trade after which the token's absolute net flow over the window exceeds
// the significant-flow threshold.
func (t *Tracker) Record(tx xtypes.WhaleTransaction) bool {
	base, _ := ParseTokenString(tx.TokenString)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.byToken[base] = append(t.byToken[base], entry{
		usdValue:  tx.UsdValue,
		direction: tx.Direction,
		timestamp: tx.Timestamp,
	})
	t.pruneLocked(base)

	summary := t.summaryLocked(base)
	forced := tx.UsdValue >= t.superThreshold || summary.NetFlowUsd > significantFlowUsd || summary.NetFlowUsd < -significantFlowUsd
	return forced
}

// GetActivitySummary computes the current-window summary for a token.
func (t *Tracker) GetActivitySummary(token string) xtypes.WhaleActivitySummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(token)
	return t.summaryLocked(token)
}

func (t *Tracker) pruneLocked(token string) {
	cutoff := time.Now().Add(-t.window)
	entries := t.byToken[token]
	kept := entries[:0]
	for _, e := range entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(t.byToken, token)
		return
	}
	t.byToken[token] = kept
}

// summaryLocked computes the summary; exactly 0.6 and 0.4 ratio
// boundaries are neutral (strict inequality on both sides).
func (t *Tracker) summaryLocked(token string) xtypes.WhaleActivitySummary {
	var buy, sell float64
	var superCount int
	for _, e := range t.byToken[token] {
		switch e.direction {
		case xtypes.DirectionBuy:
			buy += e.usdValue
		case xtypes.DirectionSell:
			sell += e.usdValue
		}
		if e.usdValue >= t.superThreshold {
			superCount++
		}
	}

	total := buy + sell
	dominant := xtypes.DominantNeutral
	if total > 0 {
		r := buy / total
		switch {
		case r > 0.6:
			dominant = xtypes.DominantBullish
		case r < 0.4:
			dominant = xtypes.DominantBearish
		}
	}

	return xtypes.WhaleActivitySummary{
		BuyVolumeUsd:      buy,
		SellVolumeUsd:     sell,
		NetFlowUsd:        buy - sell,
		SuperWhaleCount:   superCount,
		DominantDirection: dominant,
	}
}

// ParseTokenString implements the token-string parsing rules shared by
// whale ingress and pending-intent enrichment:
//   - "A/B" splits once on "/"; quote defaults to USDC if the split
//     somehow yields an empty second half (it never does for a real "/").
//   - "A_B" (no "/"): base and quote are the last two "_"-separated
//     segments, so venue/version prefixes (VENUE_..., uniswap_v3_...)
//     are dropped naturally.
//   - Anything else (including "") is treated as the base with USDC
//     as the quote.
func ParseTokenString(s string) (base, quote string) {
	const defaultQuote = "USDC"
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		base = parts[0]
		if len(parts) == 2 && parts[1] != "" {
			quote = parts[1]
		} else {
			quote = defaultQuote
		}
		return base, quote
	}
	if strings.Contains(s, "_") {
		parts := strings.Split(s, "_")
		if len(parts) >= 2 {
			return parts[len(parts)-2], parts[len(parts)-1]
		}
	}
	return s, defaultQuote
}
