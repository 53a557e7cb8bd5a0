package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/chainmeta"
	"github.com/xchainarb/detector/internal/pricestore"
	"github.com/xchainarb/detector/internal/whale"
	"github.com/xchainarb/detector/internal/xtypes"
)

func seedPair(t *testing.T, store *pricestore.Store, chain, venue, pairKey string, price float64) {
	t.Helper()
	require.NoError(t, store.HandlePriceUpdate(xtypes.PriceUpdate{
		Chain:     chain,
		Venue:     venue,
		PairKey:   pairKey,
		Token0:    "WETH",
		Token1:    "USDC",
		Price:     price,
		Timestamp: time.Now(),
	}))
}

// TestProfitableCrossChainOpportunityEmits mirrors scenario 1: a
// sufficiently large cross-chain spread clears both the chain-minimum
// threshold and bridge/gas costs, producing a positive net-profit
// opportunity.
func TestProfitableCrossChainOpportunityEmits(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Ethereum, "uniswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Arbitrum, "uniswap", "WETH/USDC", 2530)

	d := New(store, whale.NewTracker(), nil)
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	require.Equal(t, chainmeta.Ethereum, opp.BuyChain)
	require.Equal(t, chainmeta.Arbitrum, opp.SellChain)
	require.InDelta(t, 1.2, opp.ProfitPercentage, 0.01)

	expectedBridge := chainmeta.BridgeCost(chainmeta.Ethereum, chainmeta.Arbitrum)
	expectedGas := chainmeta.GasCostFor(chainmeta.Ethereum) + chainmeta.GasCostFor(chainmeta.Arbitrum)
	expectedNet := (0.012 * defaultTradeSizeUsd) - expectedBridge - expectedGas
	require.InDelta(t, expectedNet, opp.NetProfit, 0.01)
	require.Greater(t, opp.NetProfit, 0.0)
}

// TestUnprofitableSpreadIsSuppressed mirrors scenario 2: a 0.2% spread
// bought on Ethereum falls below Ethereum's chain-minimum threshold (0.8%)
// and must not be emitted.
func TestUnprofitableSpreadIsSuppressed(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Ethereum, "uniswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Arbitrum, "uniswap", "WETH/USDC", 2505)

	d := New(store, whale.NewTracker(), nil)
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, opps)
}

// TestScanPairRejectsSameChain covers scanPair's own contract: it never
// builds a cross-chain opportunity out of same-chain points, even when
// those points would otherwise clear every profitability screen. Same-chain
// spreads are the intra-chain scan's job (see
// TestIntraChainOpportunityEmitsAcrossVenues).
func TestScanPairRejectsSameChain(t *testing.T) {
	store := pricestore.NewStore()
	d := New(store, whale.NewTracker(), nil)

	points := []xtypes.PricePoint{
		{Chain: chainmeta.Ethereum, Venue: "uniswap", Price: 2500},
		{Chain: chainmeta.Ethereum, Venue: "sushiswap", Price: 2600},
	}
	_, ok := d.scanPair("WETH/USDC", points)
	require.False(t, ok)
}

// TestIntraChainOpportunityEmitsAcrossVenues mirrors the cross-venue,
// same-chain counterpart of scenario 1: two venues on one chain with a
// spread that clears the chain's minimum-profit threshold and settlement
// gas (no bridge cost, since nothing leaves the chain).
func TestIntraChainOpportunityEmitsAcrossVenues(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Ethereum, "uniswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Ethereum, "sushiswap", "WETH/USDC", 2600)

	d := New(store, whale.NewTracker(), nil)
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	require.Equal(t, xtypes.OpportunityIntraChain, opp.Type)
	require.Equal(t, chainmeta.Ethereum, opp.BuyChain)
	require.Equal(t, chainmeta.Ethereum, opp.SellChain)
	require.False(t, opp.BridgeRequired)
	require.Zero(t, opp.BridgeCost)
	require.Greater(t, opp.NetProfit, 0.0)
}

func TestConcurrencyGuardSkipsInFlightCycle(t *testing.T) {
	store := pricestore.NewStore()
	d := New(store, whale.NewTracker(), nil)

	require.True(t, d.tryEnter())
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Nil(t, opps)
	d.exit(false)
}

// TestCircuitBreakerTripsAfterThreshold covers the Circuit breaker
// invariant: repeated failed cycles trip the breaker, which then skips
// cycles until the reset window elapses.
func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	store := pricestore.NewStore()
	d := New(store, whale.NewTracker(), nil, WithCircuitBreaker(3, 20*time.Millisecond))

	for i := 0; i < 3; i++ {
		require.True(t, d.tryEnter())
		d.exit(true)
	}
	require.True(t, d.CircuitOpen())

	require.False(t, d.tryEnter())

	time.Sleep(30 * time.Millisecond)
	require.False(t, d.CircuitOpen())
	require.True(t, d.tryEnter())
	d.exit(false)
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	store := pricestore.NewStore()
	d := New(store, whale.NewTracker(), nil, WithCircuitBreaker(3, time.Second))

	require.True(t, d.tryEnter())
	d.exit(true)
	require.True(t, d.tryEnter())
	d.exit(false)

	d.mu.Lock()
	streak := d.failStreak
	d.mu.Unlock()
	require.Zero(t, streak)
}

// TestTriangularOpportunityEmitsWithHops seeds a 3-pair cycle on one
// chain/venue whose compounded rate clears triangularMinProfit, and checks
// RunCycle surfaces it as a statistical opportunity carrying its hop path.
func TestTriangularOpportunityEmitsWithHops(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Polygon, "quickswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Polygon, "quickswap", "USDC/DAI", 1.0)
	seedPair(t, store, chainmeta.Polygon, "quickswap", "DAI/WETH", 0.000405)

	d := New(store, whale.NewTracker(), nil)
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	var statistical *xtypes.ArbitrageOpportunity
	for i := range opps {
		if opps[i].Type == xtypes.OpportunityStatistical {
			statistical = &opps[i]
			break
		}
	}
	require.NotNil(t, statistical, "expected at least one statistical opportunity")
	require.Len(t, statistical.Hops, 3)
	require.Greater(t, statistical.NetProfit, 0.0)
	require.False(t, statistical.BridgeRequired)
}

func TestCrossChainEnabledFalseSuppressesCrossChainScan(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Ethereum, "uniswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Arbitrum, "uniswap", "WETH/USDC", 2530)

	d := New(store, whale.NewTracker(), nil, WithCrossChainEnabled(false))
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, opps)
}

func TestMaxTriangularDepthBelowThreeDisablesTriangularScan(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Polygon, "quickswap", "WETH/USDC", 2500)
	seedPair(t, store, chainmeta.Polygon, "quickswap", "USDC/DAI", 1.0)
	seedPair(t, store, chainmeta.Polygon, "quickswap", "DAI/WETH", 0.000405)

	d := New(store, whale.NewTracker(), nil, WithMaxTriangularDepth(2))
	opps, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	for _, o := range opps {
		require.NotEqual(t, xtypes.OpportunityStatistical, o.Type)
	}
}

func TestEnrichPendingIntentRejectsNearDeadline(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Arbitrum, "uniswap", "WETH/USDC", 2600)
	d := New(store, whale.NewTracker(), nil)

	now := time.Now()
	intent := xtypes.PendingSwapIntent{Hash: "0xabc", Deadline: now.Add(10 * time.Second).Unix()}
	_, ok := d.EnrichPendingIntent(intent, "WETH_USDC", chainmeta.Ethereum, 2500, 1.0, now)
	require.False(t, ok)
}

func TestEnrichPendingIntentProducesOpportunity(t *testing.T) {
	store := pricestore.NewStore()
	seedPair(t, store, chainmeta.Arbitrum, "uniswap", "WETH/USDC", 2600)
	d := New(store, whale.NewTracker(), nil)

	now := time.Now()
	intent := xtypes.PendingSwapIntent{
		Hash:              "0xabc",
		Deadline:          now.Add(time.Hour).Unix(),
		SlippageTolerance: 0.005,
	}
	opp, ok := d.EnrichPendingIntent(intent, "WETH_USDC", chainmeta.Ethereum, 2500, 1.0, now)
	require.True(t, ok)
	require.Equal(t, "pending-0xabc", opp.ID)
	require.Equal(t, "mempool", opp.Source)
	require.InDelta(t, 0.7, opp.Confidence, 1e-9)
}
