package pricestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/xtypes"
)

func update(chain, venue, pairKey string, price float64) xtypes.PriceUpdate {
	return xtypes.PriceUpdate{
		Chain:       chain,
		Venue:       venue,
		PairKey:     pairKey,
		Token0:      "",
		Token1:      "",
		Price:       price,
		BlockNumber: 1,
		Timestamp:   time.Now(),
	}
}

func TestSnapshotMonotonicity(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))
	first := s.CreateIndexedSnapshot()

	require.NoError(t, s.HandlePriceUpdate(update("arbitrum", "camelot", "WETH_USDC", 2530)))
	second := s.CreateIndexedSnapshot()

	require.Greater(t, second.Version, first.Version)
}

func TestCacheIdentityOnStableState(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))

	a := s.CreateIndexedSnapshot()
	b := s.CreateIndexedSnapshot()
	require.Same(t, a, b)
}

func TestCrossChainFilter(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))
	require.NoError(t, s.HandlePriceUpdate(update("arbitrum", "camelot", "WETH_USDC", 2530)))
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "sushiswap", "ARB_USDC", 1.2)))

	snap := s.CreateIndexedSnapshot()
	require.Contains(t, snap.TokenPairs, "WETH_USDC")
	require.NotContains(t, snap.TokenPairs, "ARB_USDC")

	points := snap.ByToken["WETH_USDC"]
	require.GreaterOrEqual(t, len(points), 2)
	chains := map[string]struct{}{}
	for _, p := range points {
		chains[p.Chain] = struct{}{}
	}
	require.GreaterOrEqual(t, len(chains), 2)
}

func TestTokenPairParsingShapes(t *testing.T) {
	cases := []struct {
		pairKey string
		want    string
		ok      bool
	}{
		{"WETH/USDC", "WETH_USDC", true},
		{"WETH_USDC", "WETH_USDC", true},
		{"UNISWAP_WETH_USDC", "WETH_USDC", true},
		{"UNISWAP_V3_WETH_USDC", "WETH_USDC", true},
		{"WETH", "", false},
		{"", "", false},
		{"AVAX_WETH.e/USDC", "WETH_USDC", true},
	}
	for _, c := range cases {
		got, ok := computeNormalizedPair(c.pairKey)
		require.Equal(t, c.ok, ok, c.pairKey)
		if ok {
			require.Equal(t, c.want, got, c.pairKey)
		}
	}
}

func TestVersionOverflowResets(t *testing.T) {
	s := NewStore()
	s.version = maxVersion - 1001
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WBTC_USDC", 60000)))
	require.LessOrEqual(t, s.version, int64(1000))
	require.GreaterOrEqual(t, s.version, int64(1))
}

func TestHandlePriceUpdateRejectsInvalidPrice(t *testing.T) {
	s := NewStore()
	err := s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", -1))
	require.ErrorIs(t, err, xtypes.ErrInvalidPrice)
}

func TestCleanupRemovesStaleEntriesAndBumpsVersion(t *testing.T) {
	s := NewStore(WithMaxAge(time.Millisecond))
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))
	before := s.version

	time.Sleep(5 * time.Millisecond)
	s.Cleanup()

	require.Greater(t, s.version, before)
	require.Equal(t, 0, s.GetPairCount())
	require.Empty(t, s.GetChains())
}

func TestClearWipesEverything(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.HandlePriceUpdate(update("ethereum", "uniswap", "WETH_USDC", 2500)))
	snap := s.CreateIndexedSnapshot()
	require.NotNil(t, snap)

	s.Clear()
	require.Equal(t, 0, s.GetPairCount())
	require.Empty(t, s.GetChains())
}
