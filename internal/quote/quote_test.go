package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/xtypes"
)

type stubResolver struct {
	routers map[string]common.Address
}

func (r *stubResolver) ResolveRouter(chain, dex string) (common.Address, bool) {
	addr, ok := r.routers[chain+"/"+dex]
	return addr, ok
}

type stubCaller struct {
	addr      common.Address
	out       *big.Int
	err       error
	callCount int
}

func (c *stubCaller) ContractAddress() common.Address { return c.addr }
func (c *stubCaller) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	c.callCount++
	if c.err != nil {
		return nil, c.err
	}
	return []any{c.out}, nil
}
func (c *stubCaller) Send(ctx context.Context, method string, args ...any) (common.Hash, error) {
	return common.Hash{}, nil
}

type stubBatcher struct {
	amounts []*big.Int
	err     error
}

func (b *stubBatcher) SimulateArbitragePath(ctx context.Context, hops []xtypes.QuoteRequest) ([]*big.Int, error) {
	return b.amounts, b.err
}

func TestBuildStandardPathRoundTrip(t *testing.T) {
	buyRouter := common.HexToAddress("0x1")
	sellRouter := common.HexToAddress("0x2")
	tokenIn := common.HexToAddress("0xA")
	tokenOut := common.HexToAddress("0xB")

	reqs := BuildStandardPath(xtypes.ArbitrageOpportunity{}, buyRouter, sellRouter, tokenIn, tokenOut, big.NewInt(100))
	require.Len(t, reqs, 2)
	require.Equal(t, tokenIn, reqs[0].TokenIn)
	require.Equal(t, tokenOut, reqs[0].TokenOut)
	require.Equal(t, tokenOut, reqs[1].TokenIn)
	require.Equal(t, tokenIn, reqs[1].TokenOut)
	require.Nil(t, reqs[1].AmountIn)
}

func TestBuildHopPathResolvesImplicitRouter(t *testing.T) {
	resolver := &stubResolver{routers: map[string]common.Address{
		"ethereum/uniswap": common.HexToAddress("0x1"),
	}}
	m := New(resolver)

	hops := []xtypes.Hop{
		{Chain: "ethereum", Dex: "uniswap", TokenIn: "0xA", TokenOut: "0xB"},
		{Chain: "ethereum", Dex: "uniswap", TokenIn: "0xB", TokenOut: "0xA"},
	}
	opp := xtypes.ArbitrageOpportunity{TokenIn: "0xA"}

	reqs, err := m.BuildHopPath(opp, hops, big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, common.HexToAddress("0x1"), reqs[0].Router)
}

func TestBuildHopPathRejectsNonRoundTrip(t *testing.T) {
	m := New(nil)
	hops := []xtypes.Hop{
		{Chain: "ethereum", Dex: "uniswap", TokenIn: "0xA", TokenOut: "0xB", Router: common.HexToAddress("0x1")},
	}
	opp := xtypes.ArbitrageOpportunity{TokenIn: "0xC"}

	_, err := m.BuildHopPath(opp, hops, big.NewInt(100))
	require.ErrorIs(t, err, xtypes.ErrInvalidIntentPath)
}

func TestBuildHopPathMissingResolverErrors(t *testing.T) {
	m := New(nil)
	hops := []xtypes.Hop{{Chain: "ethereum", Dex: "uniswap", TokenIn: "0xA", TokenOut: "0xB"}}
	_, err := m.BuildHopPath(xtypes.ArbitrageOpportunity{TokenIn: "0xB"}, hops, big.NewInt(1))
	require.ErrorIs(t, err, xtypes.ErrNoRouterForHop)
}

func TestExecutePrefersBatchedOverSequential(t *testing.T) {
	m := New(nil)
	caller := &stubCaller{out: big.NewInt(999)}
	batcher := &stubBatcher{amounts: []*big.Int{big.NewInt(1), big.NewInt(2)}}
	m.RegisterChainQuoter("ethereum", caller, batcher)

	result, err := m.Execute(context.Background(), "ethereum", []xtypes.QuoteRequest{{AmountIn: big.NewInt(1)}})
	require.NoError(t, err)
	require.True(t, result.UsedBatch)
	require.Zero(t, caller.callCount)
}

func TestExecuteFallsBackOnBatchedError(t *testing.T) {
	m := New(nil)
	caller := &stubCaller{out: big.NewInt(150)}
	batcher := &stubBatcher{err: errors.New("batch contract not deployed")}
	m.RegisterChainQuoter("ethereum", caller, batcher)

	tokenA := common.HexToAddress("0xA")
	tokenB := common.HexToAddress("0xB")
	reqs := []xtypes.QuoteRequest{{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(100)}}

	result, err := m.Execute(context.Background(), "ethereum", reqs)
	require.NoError(t, err)
	require.False(t, result.UsedBatch)
	require.Equal(t, 1, caller.callCount)
	require.Equal(t, big.NewInt(150), result.AmountsOut[0])
}

func TestExecuteSequentialChainsPreviousOutput(t *testing.T) {
	m := New(nil)
	caller := &stubCaller{out: big.NewInt(200)}
	m.RegisterChainQuoter("ethereum", caller, nil)

	reqs := []xtypes.QuoteRequest{
		{AmountIn: big.NewInt(100)},
		{AmountIn: nil},
	}
	result, err := m.Execute(context.Background(), "ethereum", reqs)
	require.NoError(t, err)
	require.Len(t, result.AmountsOut, 2)
}

func TestRegisterChainQuoterIsDoubleChecked(t *testing.T) {
	m := New(nil)
	first := &stubCaller{out: big.NewInt(1)}
	second := &stubCaller{out: big.NewInt(2)}
	m.RegisterChainQuoter("ethereum", first, nil)
	m.RegisterChainQuoter("ethereum", second, nil)

	q, ok := m.chainQuoter("ethereum")
	require.True(t, ok)
	require.Same(t, first, q.(*stubCaller))
}

func TestSettleProfitComputesFlashLoanFee(t *testing.T) {
	out := SettleProfit(big.NewInt(1_000_000), big.NewInt(1_010_000))
	require.Equal(t, big.NewInt(900), out.FlashLoanFee)
	require.Equal(t, big.NewInt(9100), out.ExpectedProfit)
}
