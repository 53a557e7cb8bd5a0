// Package gate implements the simulation and submission gate (C8): the
// should-simulate profitability/staleness check, the simulate-then-decide
// sequence, provider-health gating, rolling-window gas-spike detection
// with a TTL-cached median, custom-error selector decoding, and
// nonce-safe submission. Gas accounting follows an
// EffectiveGasPrice/GasUsed transaction-record pattern.
package gate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultMinProfitUsd    = 50.0
	defaultStaleness       = 2 * time.Second
	gasWindowSize          = 10
	gasMedianTTL           = 60 * time.Second
	gasSpikeMultiplierx100 = 200 // strictly > baseline*200/100 is a spike; exactly 2.00x is not.
)

// Metrics counts gate decisions. All fields are plain counters; an
// external exporter (out of scope here) reads them.
type Metrics struct {
	mu                        sync.Mutex
	SimulationsPerformed      int64
	SimulationsSkipped        int64
	SimulationPredictedReverts int64
	SimulationErrors          int64
}

func (m *Metrics) incPerformed()       { m.mu.Lock(); m.SimulationsPerformed++; m.mu.Unlock() }
func (m *Metrics) incSkipped()         { m.mu.Lock(); m.SimulationsSkipped++; m.mu.Unlock() }
func (m *Metrics) incPredictedRevert() { m.mu.Lock(); m.SimulationPredictedReverts++; m.mu.Unlock() }
func (m *Metrics) incError()           { m.mu.Lock(); m.SimulationErrors++; m.mu.Unlock() }

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		SimulationsPerformed:       m.SimulationsPerformed,
		SimulationsSkipped:         m.SimulationsSkipped,
		SimulationPredictedReverts: m.SimulationPredictedReverts,
		SimulationErrors:           m.SimulationErrors,
	}
}

type gasObservation struct {
	gwei float64
	at   time.Time
}

// Gate decides whether a candidate opportunity should be simulated and, if
// so, whether it is safe to submit.
type Gate struct {
	sim      collab.SimulationService
	gasSrc   collab.GasPriceSource
	nonces   collab.NonceManager
	log      logrus.FieldLogger
	metrics  *Metrics

	minProfitUsd float64
	staleness    time.Duration

	mu              sync.Mutex
	gasWindow       map[string][]gasObservation
	cachedMedian    map[string]float64
	cachedMedianAt  map[string]time.Time
}

// Option configures a Gate at construction time.
type Option func(*Gate)

func WithMinProfitUsd(usd float64) Option  { return func(g *Gate) { g.minProfitUsd = usd } }
func WithStaleness(d time.Duration) Option { return func(g *Gate) { g.staleness = d } }
func WithLogger(l logrus.FieldLogger) Option { return func(g *Gate) { g.log = l } }

// New builds a Gate. gasSrc and nonces may be nil if the corresponding
// features (gas-spike detection, nonce allocation) are not exercised by
// the caller.
func New(sim collab.SimulationService, gasSrc collab.GasPriceSource, nonces collab.NonceManager, opts ...Option) *Gate {
	g := &Gate{
		sim:            sim,
		gasSrc:         gasSrc,
		nonces:         nonces,
		log:            logrus.StandardLogger(),
		metrics:        &Metrics{},
		minProfitUsd:   defaultMinProfitUsd,
		staleness:      defaultStaleness,
		gasWindow:      make(map[string][]gasObservation),
		cachedMedian:   make(map[string]float64),
		cachedMedianAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Metrics exposes the gate's counters.
func (g *Gate) Metrics() *Metrics { return g.metrics }

// Decision is the outcome of running an opportunity through the gate.
type Decision struct {
	Proceed    bool
	Simulated  bool
	GasUsed    uint64
	ErrCode    string
	Err        error
}

// Run executes the C8 pre-submission sequence: should-simulate screening,
// provider-health check, gas-price validation, gas-spike detection, and
// simulation. Nonce allocation is separate (see AllocateNonce). Without a
// simulation service the run is counted as skipped and does not proceed.
// Every rejection reason other than a should-simulate skip is surfaced as
// a structured ERR_* code in Decision.ErrCode.
func (g *Gate) Run(ctx context.Context, chain string, expectedProfitUsd float64, opportunityAge time.Duration, gasPriceGwei float64, req collab.SimulationRequest, sender string) Decision {
	if !g.shouldSimulate(expectedProfitUsd, opportunityAge) {
		g.metrics.incSkipped()
		return Decision{Proceed: false, ErrCode: ""}
	}
	if g.sim == nil {
		g.metrics.incSkipped()
		return Decision{Proceed: false, ErrCode: ""}
	}

	if g.sim != nil {
		if prov, ok := g.sim.(interface {
			ProviderHealthy(ctx context.Context, chain string) bool
		}); ok && !prov.ProviderHealthy(ctx, chain) {
			g.metrics.incSkipped()
			return Decision{Proceed: false, ErrCode: "ERR_PROVIDER_UNHEALTHY", Err: xtypes.ErrProviderUnhealthy}
		}
	}

	if math.IsNaN(gasPriceGwei) {
		g.metrics.incSkipped()
		return Decision{Proceed: false, ErrCode: "ERR_INVALID_GAS_PRICE"}
	}

	if spike, msg := g.checkGasSpike(chain, gasPriceGwei); spike {
		g.metrics.incSkipped()
		return Decision{Proceed: false, ErrCode: fmt.Sprintf("ERR_GAS_SPIKE: %s", msg), Err: xtypes.ErrGasSpike}
	}

	g.metrics.incPerformed()
	result, err := g.sim.Simulate(ctx, req)
	if err != nil {
		g.metrics.incError()
		return Decision{Proceed: false, Simulated: true, ErrCode: "ERR_SIMULATION_PROVIDER", Err: err}
	}

	if result.WouldRevert {
		g.metrics.incPredictedRevert()
		return Decision{
			Proceed:   false,
			Simulated: true,
			ErrCode:   fmt.Sprintf("ERR_SIMULATION_REVERT: %s", result.RevertReason),
			Err:       xtypes.ErrSimulationRevert,
		}
	}

	return Decision{Proceed: true, Simulated: true, GasUsed: result.GasUsed}
}

func (g *Gate) shouldSimulate(expectedProfitUsd float64, opportunityAge time.Duration) bool {
	return expectedProfitUsd >= g.minProfitUsd && opportunityAge < g.staleness
}

// checkGasSpike records gasPriceGwei into the chain's rolling window (cap
// gasWindowSize, oldest dropped first) and compares it against a
// TTL-cached median. A spike requires the candidate to be STRICTLY more
// than double the baseline median; exactly 2.00x is allowed through.
func (g *Gate) checkGasSpike(chain string, gasPriceGwei float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	window := append(g.gasWindow[chain], gasObservation{gwei: gasPriceGwei, at: time.Now()})
	if len(window) > gasWindowSize {
		window = window[len(window)-gasWindowSize:]
	}
	g.gasWindow[chain] = window

	median, ok := g.cachedMedian[chain]
	if !ok || time.Since(g.cachedMedianAt[chain]) > gasMedianTTL {
		median = computeMedian(window)
		g.cachedMedian[chain] = median
		g.cachedMedianAt[chain] = time.Now()
	}

	if median <= 0 {
		return false, ""
	}

	if gasPriceGwei*100 > median*gasSpikeMultiplierx100 {
		ratio := gasPriceGwei / median
		return true, fmt.Sprintf("%.2f gwei vs baseline %.2f gwei (%.2fx)", gasPriceGwei, median, ratio)
	}
	return false, ""
}

func computeMedian(window []gasObservation) float64 {
	if len(window) == 0 {
		return 0
	}
	vals := make([]float64, len(window))
	for i, o := range window {
		vals[i] = o.gwei
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}

// DecodeCustomError matches the first 4 bytes of revertData against a
// table of known custom-error signatures, returning the human-readable
// name (e.g. "InsufficientLiquidity()") or false if no entry matches.
func DecodeCustomError(revertData []byte, knownErrors []string) (string, bool) {
	if len(revertData) < 4 {
		return "", false
	}
	selector := revertData[:4]
	for _, sig := range knownErrors {
		hash := crypto.Keccak256([]byte(sig))
		if string(hash[:4]) == string(selector) {
			return sig, true
		}
	}
	return "", false
}

// AllocateNonce uses the pre-set nonce verbatim when hasPresetNonce is
// true, never allocating twice for the same submission attempt;
// otherwise it asks the NonceManager for the next one.
func (g *Gate) AllocateNonce(ctx context.Context, chain string, sender common.Address, presetNonce uint64, hasPresetNonce bool) (uint64, error) {
	if hasPresetNonce {
		return presetNonce, nil
	}
	if g.nonces == nil {
		return 0, fmt.Errorf("gate: no nonce manager configured")
	}
	return g.nonces.Next(ctx, chain, sender)
}
