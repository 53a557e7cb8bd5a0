// Package publisher implements the cross-chain opportunity publisher (C6):
// a deduplication cache keyed on (sourceChain, targetChain, normalised
// token) that only republishes an already-seen opportunity once its net
// profit has improved enough to matter, plus the egress wire-shape
// derivation appended to the durable bus.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultDedupeTTL            = 5 * time.Second
	defaultMinProfitImprovement = 0.10
	defaultMaxCacheSize         = 5000
	defaultTradeSizeUsd         = 10_000.0
	opportunityStream           = "stream:opportunities"
	statisticalStream           = "stream:statistical-opportunities"
)

type dedupeEntry struct {
	netProfit float64
	expiresAt time.Time
	insertedAt time.Time
}

// Publisher is safe for concurrent use.
type Publisher struct {
	bus collab.StreamBus
	log logrus.FieldLogger

	ttl                  time.Duration
	minProfitImprovement float64
	maxCacheSize         int
	tradeSizeUsd         float64
	audit                collab.AuditRecorder

	mu     sync.Mutex
	dedupe map[string]dedupeEntry
}

// Option configures a Publisher at construction time.
type Option func(*Publisher)

func WithTTL(d time.Duration) Option                    { return func(p *Publisher) { p.ttl = d } }
func WithMinProfitImprovement(f float64) Option         { return func(p *Publisher) { p.minProfitImprovement = f } }
func WithMaxCacheSize(n int) Option                      { return func(p *Publisher) { p.maxCacheSize = n } }
func WithTradeSizeUsd(usd float64) Option               { return func(p *Publisher) { p.tradeSizeUsd = usd } }
func WithLogger(l logrus.FieldLogger) Option            { return func(p *Publisher) { p.log = l } }
func WithAuditRecorder(a collab.AuditRecorder) Option    { return func(p *Publisher) { p.audit = a } }

// New builds a Publisher that appends to bus.
func New(bus collab.StreamBus, opts ...Option) *Publisher {
	p := &Publisher{
		bus:                  bus,
		log:                  logrus.StandardLogger(),
		ttl:                  defaultDedupeTTL,
		minProfitImprovement: defaultMinProfitImprovement,
		maxCacheSize:         defaultMaxCacheSize,
		tradeSizeUsd:         defaultTradeSizeUsd,
		dedupe:               make(map[string]dedupeEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish evaluates op against the dedupe cache and, if it clears the
// improvement threshold (or is the first sighting of its key), appends the
// wire record to the bus and returns true. A stale duplicate returns false
// without touching the bus.
func (p *Publisher) Publish(ctx context.Context, op xtypes.ArbitrageOpportunity) (bool, error) {
	key := dedupeKey(op)

	p.mu.Lock()
	existing, ok := p.dedupe[key]
	now := time.Now()
	stillLive := ok && now.Before(existing.expiresAt)

	var improvement float64
	switch {
	case stillLive && existing.netProfit > 0:
		improvement = (op.NetProfit - existing.netProfit) / existing.netProfit
	case stillLive:
		if op.NetProfit > existing.netProfit {
			improvement = 1.0
		}
	default:
		improvement = 1.0
	}

	if stillLive && improvement < p.minProfitImprovement {
		p.mu.Unlock()
		return false, nil
	}

	p.dedupe[key] = dedupeEntry{netProfit: op.NetProfit, expiresAt: now.Add(p.ttl), insertedAt: now}
	p.cleanupLocked(now)
	p.mu.Unlock()

	record := p.wireRecord(op, now)
	stream := opportunityStream
	if op.Type == xtypes.OpportunityStatistical {
		stream = statisticalStream
	}

	if p.bus == nil {
		p.recordAudit(op)
		return true, nil
	}
	if err := p.bus.Append(ctx, stream, record, int64(p.maxCacheSize)); err != nil {
		p.log.WithError(err).WithField("stream", stream).Warn("publisher: bus append failed")
		return false, err
	}
	p.recordAudit(op)
	return true, nil
}

// recordAudit fires a best-effort audit write for a successfully published
// opportunity. It never blocks Publish's caller and never turns an audit
// failure into a publish failure.
func (p *Publisher) recordAudit(op xtypes.ArbitrageOpportunity) {
	if p.audit == nil {
		return
	}
	go func() {
		if err := p.audit.RecordOpportunity(op); err != nil {
			p.log.WithError(err).WithField("opportunity", op.ID).Warn("publisher: audit record failed")
		}
	}()
}

// cleanupLocked drops expired entries and, if still over maxCacheSize,
// trims the oldest-inserted entries first. Caller holds p.mu.
func (p *Publisher) cleanupLocked(now time.Time) {
	for k, e := range p.dedupe {
		if now.After(e.expiresAt) {
			delete(p.dedupe, k)
		}
	}
	if len(p.dedupe) <= p.maxCacheSize {
		return
	}

	type keyed struct {
		key        string
		insertedAt time.Time
	}
	entries := make([]keyed, 0, len(p.dedupe))
	for k, e := range p.dedupe {
		entries = append(entries, keyed{key: k, insertedAt: e.insertedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].insertedAt.Before(entries[j].insertedAt) })

	overflow := len(p.dedupe) - p.maxCacheSize
	for i := 0; i < overflow; i++ {
		delete(p.dedupe, entries[i].key)
	}
}

// Clear wipes the dedupe cache, used on pipeline shutdown/reset.
func (p *Publisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dedupe = make(map[string]dedupeEntry)
}

// dedupeKey hashes (sourceChain, targetChain, normalisedToken); venue is
// deliberately excluded so the same spread routed through two venues on
// the same chain pair still dedupes.
func dedupeKey(op xtypes.ArbitrageOpportunity) string {
	raw := op.BuyChain + "|" + op.SellChain + "|" + strings.ToUpper(op.TokenIn)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// wireRecord derives the bus-ready field map for an opportunity. Id and
// ExpectedProfit are (re)computed here so republished opportunities always
// carry a fresh id and the canonical expectedProfit formula, regardless of
// what the producing component (C5 or the statistical scanner) set.
func (p *Publisher) wireRecord(op xtypes.ArbitrageOpportunity, now time.Time) map[string]any {
	prefix := "cross-chain"
	if op.Type == xtypes.OpportunityStatistical {
		prefix = "statistical"
	}
	id := fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), uuid.NewString()[:8])

	tokenIn, tokenOut := op.TokenIn, op.TokenOut
	if tokenIn == "" || tokenOut == "" {
		a, b := splitPairKey(op.TokenIn)
		if tokenIn == "" {
			tokenIn = a
		}
		if tokenOut == "" {
			tokenOut = b
		}
	}

	amountInTokens := 0.0
	if op.BuyPrice > 0 {
		amountInTokens = p.tradeSizeUsd / op.BuyPrice
	}
	expectedProfit := (op.ProfitPercentage / 100) * amountInTokens

	return map[string]any{
		"id":               id,
		"type":             string(op.Type),
		"buyChain":         op.BuyChain,
		"sellChain":        op.SellChain,
		"buyVenue":         op.BuyVenue,
		"sellVenue":        op.SellVenue,
		"tokenIn":          tokenIn,
		"tokenOut":         tokenOut,
		"buyPrice":         op.BuyPrice,
		"sellPrice":        op.SellPrice,
		"bridgeRequired":   op.BridgeRequired,
		"bridgeCost":       op.BridgeCost,
		"expectedProfit":   expectedProfit,
		"profitPercentage": op.ProfitPercentage,
		"netProfit":        op.NetProfit,
		"confidence":       op.Confidence,
		"source":           op.Source,
		"whaleTriggered":   op.WhaleTriggered,
		"timestamp":        now.Format(time.RFC3339Nano),
	}
}

func splitPairKey(s string) (string, string) {
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	if idx := strings.LastIndexByte(s, '_'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}
