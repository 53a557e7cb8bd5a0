package gate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

type stubSim struct {
	result  collab.SimulationResult
	err     error
	healthy bool
}

func (s *stubSim) ShouldSimulate(expectedProfitUsd float64, age time.Duration) bool { return true }
func (s *stubSim) Simulate(ctx context.Context, req collab.SimulationRequest) (collab.SimulationResult, error) {
	return s.result, s.err
}
func (s *stubSim) ProviderHealthy(ctx context.Context, chain string) bool { return s.healthy }

func primeWindow(t *testing.T, g *Gate, chain string, gwei float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		g.checkGasSpike(chain, gwei)
	}
}

// TestGasSpikeBoundaryExactlyTwiceIsNotASpike covers the Gas-spike
// boundary invariant: a candidate at exactly 2.00x the baseline median
// passes. The just-over case (101 vs 50, 2.02x) is the next test.
func TestGasSpikeBoundaryExactlyTwiceIsNotASpike(t *testing.T) {
	g := New(&stubSim{healthy: true}, nil, nil)
	primeWindow(t, g, "ethereum", 50, 9)

	spike, _ := g.checkGasSpike("ethereum", 100)
	require.False(t, spike, "exactly 2.00x must not be flagged as a spike")
}

func TestGasSpikeBoundaryJustOverTwiceIsASpike(t *testing.T) {
	g := New(&stubSim{healthy: true}, nil, nil)
	primeWindow(t, g, "ethereum", 50, 9)

	spike, msg := g.checkGasSpike("ethereum", 101)
	require.True(t, spike)
	require.Contains(t, msg, "gwei vs baseline")
}

func TestGasWindowCapsAtTenObservations(t *testing.T) {
	g := New(&stubSim{healthy: true}, nil, nil)
	for i := 0; i < 20; i++ {
		g.checkGasSpike("ethereum", 50)
	}
	g.mu.Lock()
	n := len(g.gasWindow["ethereum"])
	g.mu.Unlock()
	require.Equal(t, gasWindowSize, n)
}

// TestSimulationRevertAbortsWithReason mirrors scenario 5.
func TestSimulationRevertAbortsWithReason(t *testing.T) {
	sim := &stubSim{healthy: true, result: collab.SimulationResult{WouldRevert: true, RevertReason: "INSUFFICIENT_OUTPUT_AMOUNT"}}
	g := New(sim, nil, nil)

	decision := g.Run(context.Background(), "ethereum", 100, time.Second, 50, collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
	require.Equal(t, "ERR_SIMULATION_REVERT: INSUFFICIENT_OUTPUT_AMOUNT", decision.ErrCode)
	require.ErrorIs(t, decision.Err, xtypes.ErrSimulationRevert)
}

func TestSimulationSuccessProceeds(t *testing.T) {
	sim := &stubSim{healthy: true, result: collab.SimulationResult{Success: true, GasUsed: 21000}}
	g := New(sim, nil, nil)

	decision := g.Run(context.Background(), "ethereum", 100, time.Second, 50, collab.SimulationRequest{}, "0xsender")
	require.True(t, decision.Proceed)
	require.Equal(t, uint64(21000), decision.GasUsed)
}

func TestShouldSimulateSkipsBelowProfitThreshold(t *testing.T) {
	sim := &stubSim{healthy: true}
	g := New(sim, nil, nil, WithMinProfitUsd(50))

	decision := g.Run(context.Background(), "ethereum", 10, time.Second, 50, collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
	require.Equal(t, int64(1), g.Metrics().Snapshot().SimulationsSkipped)
}

func TestShouldSimulateSkipsStaleOpportunity(t *testing.T) {
	sim := &stubSim{healthy: true}
	g := New(sim, nil, nil, WithStaleness(time.Second))

	decision := g.Run(context.Background(), "ethereum", 1000, 5*time.Second, 50, collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
}

func TestProviderUnhealthyRejects(t *testing.T) {
	sim := &stubSim{healthy: false}
	g := New(sim, nil, nil)

	decision := g.Run(context.Background(), "ethereum", 1000, time.Second, 50, collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
	require.Equal(t, "ERR_PROVIDER_UNHEALTHY", decision.ErrCode)
	require.Equal(t, int64(1), g.Metrics().Snapshot().SimulationsSkipped)
}

func TestNaNGasPriceRejected(t *testing.T) {
	sim := &stubSim{healthy: true}
	g := New(sim, nil, nil)

	decision := g.Run(context.Background(), "ethereum", 1000, time.Second, math.NaN(), collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
	require.Equal(t, "ERR_INVALID_GAS_PRICE", decision.ErrCode)
	require.Equal(t, int64(1), g.Metrics().Snapshot().SimulationsSkipped)
}

func TestRunGasSpikeSkipsAndCountsAsSkipped(t *testing.T) {
	sim := &stubSim{healthy: true}
	g := New(sim, nil, nil)
	primeWindow(t, g, "ethereum", 50, 9)

	decision := g.Run(context.Background(), "ethereum", 1000, time.Second, 101, collab.SimulationRequest{}, "0xsender")
	require.False(t, decision.Proceed)
	require.Contains(t, decision.ErrCode, "ERR_GAS_SPIKE")
	require.Equal(t, int64(1), g.Metrics().Snapshot().SimulationsSkipped)
	require.Equal(t, int64(0), g.Metrics().Snapshot().SimulationsPerformed)
}

func TestDecodeCustomErrorMatchesKnownSignature(t *testing.T) {
	sig := "InsufficientLiquidity()"
	hash := crypto.Keccak256([]byte(sig))
	name, ok := DecodeCustomError(hash[:4], []string{sig, "OtherError(uint256)"})
	require.True(t, ok)
	require.Equal(t, sig, name)
}

func TestDecodeCustomErrorNoMatch(t *testing.T) {
	_, ok := DecodeCustomError([]byte{0x01, 0x02, 0x03, 0x04}, []string{"SomeError()"})
	require.False(t, ok)
}

func TestAllocateNonceUsesPresetVerbatim(t *testing.T) {
	g := New(&stubSim{}, nil, nil)
	n, err := g.AllocateNonce(context.Background(), "ethereum", common.Address{}, 42, true)
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)
}
