// Package runtime wires C1-C8 together into one partition process:
// startup validates config, instantiates the pipeline for the
// partition's chain subset, subscribes to the three ingress streams, and
// shuts down idempotently in reverse order. The wiring order (load
// config -> dial client -> construct components -> run) generalises a
// single-chain strategy process to a chain-subset partition.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/chainmeta"
	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/config"
	"github.com/xchainarb/detector/internal/decoder"
	"github.com/xchainarb/detector/internal/detector"
	"github.com/xchainarb/detector/internal/gate"
	"github.com/xchainarb/detector/internal/liquidity"
	"github.com/xchainarb/detector/internal/pricestore"
	"github.com/xchainarb/detector/internal/publisher"
	"github.com/xchainarb/detector/internal/quote"
	"github.com/xchainarb/detector/internal/whale"
	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	priceUpdatesStream   = "stream:price-updates"
	pendingIntentsStream = "stream:pending-opportunities"
	whaleTxStream        = "stream:whale-transactions"

	detectionTickInterval = 2 * time.Second
)

// Partition owns one chain subset's full detection pipeline.
type Partition struct {
	cfg *config.Config
	bus collab.StreamBus
	log logrus.FieldLogger

	store    *pricestore.Store
	whales   *whale.Tracker
	liq      *liquidity.Validator
	decoders *decoder.Registry
	detect   *detector.Detector
	publish  *publisher.Publisher
	quotes   *quote.Manager
	gate     *gate.Gate
	symbols  *SymbolRegistry

	mu       sync.Mutex
	started  bool
	shutdown bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Deps bundles the external collaborators a Partition needs beyond what it
// constructs for itself; all are deliberately out of scope for this
// repository and must be supplied by the surrounding deployment.
type Deps struct {
	Bus            collab.StreamBus
	BalanceFetcher liquidity.BalanceFetcher
	RouterResolver quote.RouterResolver
	// TokenSymbols seeds the address->symbol registry pending-intent
	// enrichment needs to match a decoded intent's addresses against the
	// price store's symbol-keyed pairs.
	TokenSymbols      map[common.Address]string
	SimulationService collab.SimulationService
	GasPriceSource    collab.GasPriceSource
	NonceManager      collab.NonceManager
	// AuditRecorder is optional: when nil, the publisher and liquidity
	// validator simply skip audit recording.
	AuditRecorder collab.AuditRecorder
}

// New validates cfg and constructs a Partition's pipeline for its chain
// subset. It does not yet subscribe to any stream; call Run for that.
func New(cfg *config.Config, deps Deps, log logrus.FieldLogger) (*Partition, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("%w: partition has no chains", xtypes.ErrConfigError)
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("%w: no bus configured", xtypes.ErrConfigError)
	}

	store := pricestore.NewStore(pricestore.WithLogger(log))
	whales := whale.NewTracker()

	liqOpts := []liquidity.Option{liquidity.WithLogger(log)}
	if deps.AuditRecorder != nil {
		liqOpts = append(liqOpts, liquidity.WithAuditRecorder(deps.AuditRecorder))
	}
	liq := liquidity.NewValidator(deps.BalanceFetcher, liqOpts...)
	decoders := decoder.NewRegistry()

	det := detector.New(store, whales, liq,
		detector.WithTradeSizeUsd(10_000),
		detector.WithLogger(log),
		detector.WithCrossChainEnabled(cfg.CrossChainEnabled),
		detector.WithTriangularEnabled(cfg.TriangularEnabled),
		detector.WithMaxTriangularDepth(cfg.MaxTriangularDepth),
	)

	pubOpts := []publisher.Option{publisher.WithLogger(log)}
	if deps.AuditRecorder != nil {
		pubOpts = append(pubOpts, publisher.WithAuditRecorder(deps.AuditRecorder))
	}
	pub := publisher.New(deps.Bus, pubOpts...)

	qm := quote.New(deps.RouterResolver, quote.WithLogger(log))
	gt := gate.New(deps.SimulationService, deps.GasPriceSource, deps.NonceManager, gate.WithLogger(log))

	symbols := NewSymbolRegistry()
	for addr, sym := range deps.TokenSymbols {
		symbols.Register(addr, sym)
	}

	return &Partition{
		cfg:      cfg,
		bus:      deps.Bus,
		log:      log,
		store:    store,
		whales:   whales,
		liq:      liq,
		decoders: decoders,
		detect:   det,
		publish:  pub,
		quotes:   qm,
		gate:     gt,
		symbols:  symbols,
	}, nil
}

// Decoders exposes the partition's mempool intent decoder registry (C1)
// for the surrounding deployment to register routers/pools on and decode
// raw pending transactions with before publishing them onto
// stream:pending-opportunities.
func (p *Partition) Decoders() *decoder.Registry { return p.decoders }

// Quotes exposes the partition's batched quote manager (C7) so a
// downstream execution service can build and execute a quote path for a
// published opportunity before submission.
func (p *Partition) Quotes() *quote.Manager { return p.quotes }

// Gate exposes the partition's simulation and submission gate (C8) so a
// downstream execution service can run its pre-flight checks before
// submitting a transaction for a published opportunity.
func (p *Partition) Gate() *gate.Gate { return p.gate }

// Run subscribes to the three ingress streams and starts the detection
// loop; it blocks until ctx is cancelled, then shuts down idempotently.
func (p *Partition) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("partition already started")
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	consumer := p.cfg.ConsumerName

	p.wg.Add(4)
	go p.runIngressLoop(runCtx, priceUpdatesStream, consumer, p.handlePriceUpdateRecord)
	go p.runIngressLoop(runCtx, pendingIntentsStream, consumer, p.handlePendingIntentRecord)
	go p.runIngressLoop(runCtx, whaleTxStream, consumer, p.handleWhaleTxRecord)
	go p.runDetectionLoop(runCtx)

	<-runCtx.Done()
	p.wg.Wait()
	return p.Shutdown()
}

func (p *Partition) runIngressLoop(ctx context.Context, stream, consumer string, handle func(collab.BusRecord)) {
	defer p.wg.Done()
	group := p.cfg.ConsumerGroup
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		records, err := p.bus.ReadGroup(ctx, stream, group, consumer, "$")
		if err != nil {
			p.log.WithError(err).WithField("stream", stream).Warn("ingress read failed")
			continue
		}
		for _, r := range records {
			handle(r)
		}
	}
}

func (p *Partition) runDetectionLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(detectionTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Partition) runCycle(ctx context.Context) {
	opps, err := p.detect.RunCycle(ctx)
	if err != nil {
		p.log.WithError(err).Warn("detection cycle failed")
		return
	}
	for _, op := range opps {
		if p.cfg.OpportunityExpiry > 0 && time.Since(op.Timestamp) > p.cfg.OpportunityExpiry {
			continue
		}
		if _, err := p.publish.Publish(ctx, op); err != nil {
			p.log.WithError(err).WithField("opportunity", op.ID).Warn("publish failed")
		}
	}
}

func (p *Partition) handlePriceUpdateRecord(r collab.BusRecord) {
	var u xtypes.PriceUpdate
	if err := decodeFields(r.Fields, &u); err != nil {
		p.log.WithError(err).Debug("dropped malformed price update")
		return
	}
	if err := xtypes.ValidatePriceUpdate(u); err != nil {
		p.log.WithError(err).Debug("dropped invalid price update")
		return
	}
	if err := p.store.HandlePriceUpdate(u); err != nil {
		p.log.WithError(err).Debug("dropped price update")
	}
}

func (p *Partition) handlePendingIntentRecord(r collab.BusRecord) {
	raw, ok := r.Fields["intent"]
	if !ok {
		return
	}
	var intent xtypes.PendingSwapIntent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		p.log.WithError(err).Debug("dropped malformed pending intent")
		return
	}
	if intent.Hash == "" || intent.ChainID <= 0 || intent.Deadline <= 0 {
		return
	}
	forward, ok := p.symbols.PairKeyFor(intent.TokenIn, intent.TokenOut)
	if !ok {
		return
	}
	reverse, _ := p.symbols.PairKeyFor(intent.TokenOut, intent.TokenIn)

	originChain := chainmeta.NameForChainID(intent.ChainID)
	originPrice := weiRatio(intent.ExpectedAmountOut, intent.AmountIn)
	amountInEth := weiToEth(intent.AmountIn)
	now := time.Now()

	opp, ok := p.detect.EnrichPendingIntent(intent, forward, originChain, originPrice, amountInEth, now)
	if !ok && reverse != forward {
		opp, ok = p.detect.EnrichPendingIntent(intent, reverse, originChain, originPrice, amountInEth, now)
	}
	if !ok {
		return
	}
	if _, err := p.publish.Publish(context.Background(), opp); err != nil {
		p.log.WithError(err).WithField("opportunity", opp.ID).Warn("publish failed")
	}
}

func weiRatio(out, in *big.Int) float64 {
	if in == nil || in.Sign() == 0 || out == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(out), new(big.Float).SetInt(in))
	v, _ := f.Float64()
	return v
}

func weiToEth(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e18))
	v, _ := f.Float64()
	return v
}

func (p *Partition) handleWhaleTxRecord(r collab.BusRecord) {
	var tx xtypes.WhaleTransaction
	if err := decodeFields(r.Fields, &tx); err != nil {
		p.log.WithError(err).Debug("dropped malformed whale transaction")
		return
	}
	if p.whales.Record(tx) {
		p.log.WithField("token", tx.TokenString).Info("whale activity observed, triggering cycle")
		go p.runCycle(context.Background())
	}
}

// decodeFields does a best-effort field-by-field copy from a BusRecord's
// string map into a destination struct via JSON round-tripping; bigint
// fields travel the wire as decimal strings.
func decodeFields(fields map[string]string, dst any) error {
	asAny := make(map[string]any, len(fields))
	for k, v := range fields {
		asAny[k] = v
	}
	buf, err := json.Marshal(asAny)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// Shutdown stops the partition idempotently, in reverse order: subscribers
// stop (via ctx cancellation in Run), the publisher's dedupe cache is
// cleared, and the price store is cleared.
func (p *Partition) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil
	}
	p.shutdown = true
	if p.cancel != nil {
		p.cancel()
	}
	p.publish.Clear()
	p.store.Clear()
	return nil
}

// Health is a snapshot of partition liveness for the health endpoint.
type Health struct {
	PartitionID string   `json:"partitionId"`
	Chains      []string `json:"chains"`
	PairCount   int      `json:"pairCount"`
	CircuitOpen bool     `json:"circuitOpen"`
}

// HealthSnapshot reports the partition's current health.
func (p *Partition) HealthSnapshot() Health {
	return Health{
		PartitionID: p.cfg.PartitionID,
		Chains:      p.cfg.Chains,
		PairCount:   p.store.GetPairCount(),
		CircuitOpen: p.detect.CircuitOpen(),
	}
}

