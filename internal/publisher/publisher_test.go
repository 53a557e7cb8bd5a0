package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

type fakeBus struct {
	records []map[string]any
}

func (f *fakeBus) Append(ctx context.Context, stream string, record map[string]any, capHint int64) error {
	f.records = append(f.records, record)
	return nil
}
func (f *fakeBus) ReadGroup(ctx context.Context, stream, group, consumer, startID string) ([]collab.BusRecord, error) {
	return nil, nil
}
func (f *fakeBus) Close() error { return nil }

func baseOpp(netProfit float64) xtypes.ArbitrageOpportunity {
	return xtypes.ArbitrageOpportunity{
		Type:             xtypes.OpportunityCrossChain,
		BuyChain:         "ethereum",
		SellChain:        "arbitrum",
		TokenIn:          "WETH",
		TokenOut:         "USDC",
		BuyPrice:         2500,
		SellPrice:        2530,
		ProfitPercentage: 1.2,
		NetProfit:        netProfit,
	}
}

// TestDedupeThenImprove mirrors scenario 3: a 100 -> 120 update clears the
// 10% improvement threshold and republishes; a subsequent 120 -> 105
// update does not and is suppressed.
func TestDedupeThenImprove(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus)

	ok, err := p.Publish(context.Background(), baseOpp(100))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Publish(context.Background(), baseOpp(120))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Publish(context.Background(), baseOpp(105))
	require.NoError(t, err)
	require.False(t, ok)

	require.Len(t, bus.records, 2)
}

// TestDedupeKeyExcludesVenue covers the Dedupe key invariant: two
// opportunities differing only in venue still collide.
func TestDedupeKeyExcludesVenue(t *testing.T) {
	a := baseOpp(100)
	a.BuyVenue, a.SellVenue = "uniswap", "sushiswap"
	b := baseOpp(100)
	b.BuyVenue, b.SellVenue = "curve", "balancer"

	require.Equal(t, dedupeKey(a), dedupeKey(b))
}

func TestDedupeKeyDiffersByChainOrToken(t *testing.T) {
	a := baseOpp(100)
	b := baseOpp(100)
	b.TokenIn, b.TokenOut = "USDC", "USDC"
	require.NotEqual(t, dedupeKey(a), dedupeKey(b))

	c := baseOpp(100)
	c.SellChain = "polygon"
	require.NotEqual(t, dedupeKey(a), dedupeKey(c))
}

func TestDedupeEntryExpiresAfterTTL(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, WithTTL(10*time.Millisecond))

	ok, _ := p.Publish(context.Background(), baseOpp(100))
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, _ = p.Publish(context.Background(), baseOpp(50))
	require.True(t, ok, "expired entry should be treated as a fresh sighting")
}

func TestWireRecordDerivesExpectedProfitAndID(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, WithTradeSizeUsd(10_000))

	ok, err := p.Publish(context.Background(), baseOpp(100))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, bus.records, 1)

	rec := bus.records[0]
	require.Contains(t, rec["id"].(string), "cross-chain-")
	amountInTokens := 10_000.0 / 2500.0
	require.InDelta(t, (1.2/100)*amountInTokens, rec["expectedProfit"].(float64), 1e-9)
}

func TestCleanupTrimsOldestOverCapacity(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, WithMaxCacheSize(2), WithTTL(time.Minute))

	for i, chain := range []string{"a", "b", "c"} {
		op := baseOpp(float64(100 + i))
		op.SellChain = chain
		_, err := p.Publish(context.Background(), op)
		require.NoError(t, err)
	}

	p.mu.Lock()
	size := len(p.dedupe)
	p.mu.Unlock()
	require.LessOrEqual(t, size, 2)
}
