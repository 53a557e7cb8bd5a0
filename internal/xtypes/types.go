// Package xtypes holds the domain records shared across the detection
// pipeline: ingress records (PriceUpdate, WhaleTransaction), derived
// snapshot views (PricePoint, IndexedSnapshot), decoder output
// (PendingSwapIntent), and the egress ArbitrageOpportunity.
package xtypes

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side of a whale trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// DominantDirection summarizes whale flow bias for a token.
type DominantDirection string

const (
	DominantBullish DominantDirection = "bullish"
	DominantBearish DominantDirection = "bearish"
	DominantNeutral DominantDirection = "neutral"
)

// RouterType identifies the DEX family a pending intent targets.
type RouterType string

const (
	RouterUniswapV2  RouterType = "uniswapV2"
	RouterUniswapV3  RouterType = "uniswapV3"
	RouterSushiswap  RouterType = "sushiswap"
	RouterPancake    RouterType = "pancakeswap"
	RouterCurve      RouterType = "curve"
	RouterOneInch    RouterType = "oneInch"
	RouterUnknown    RouterType = "unknown"
)

// OpportunityType distinguishes the three shapes of ArbitrageOpportunity.
type OpportunityType string

const (
	OpportunityCrossChain  OpportunityType = "cross-chain"
	OpportunityIntraChain  OpportunityType = "intra-chain"
	OpportunityStatistical OpportunityType = "statistical"
)

// PriceUpdate is a confirmed pool price observation on ingress.
//
// Reserve0/Reserve1 are opaque decimal strings (arbitrary-precision
// integers); Price is a float and must be > 0 and finite or the update is
// rejected at ingress (see ValidatePriceUpdate).
type PriceUpdate struct {
	Chain       string
	Venue       string
	PairKey     string
	Token0      string
	Token1      string
	Reserve0    string
	Reserve1    string
	Price       float64
	BlockNumber uint64
	Timestamp   time.Time
	Latency     time.Duration
}

// ValidatePriceUpdate rejects a zero, negative, or NaN/Inf price.
func ValidatePriceUpdate(u PriceUpdate) error {
	if u.Price <= 0 || math.IsNaN(u.Price) || math.IsInf(u.Price, 0) {
		return ErrInvalidPrice
	}
	return nil
}

// PricePoint is a derived, per-snapshot view of a single venue's price.
// Its lifetime is the lifetime of the IndexedSnapshot that owns it.
type PricePoint struct {
	Chain     string
	Venue     string
	PairKey   string
	Price     float64
	UpdateRef *PriceUpdate
}

// IndexedSnapshot is an immutable view over the price store at a point in
// version history. ByToken maps a normalised token pair to every PricePoint
// observed for it; TokenPairs lists only the cross-chain-eligible subset
// (pairs seen on >= 2 distinct chains).
type IndexedSnapshot struct {
	Timestamp  time.Time
	Version    int64
	Raw        []PriceUpdate
	ByToken    map[string][]PricePoint
	TokenPairs []string
}

// WhaleTransaction is a large, confirmed trade observed on ingress.
type WhaleTransaction struct {
	TxHash        string
	WalletAddress string
	Chain         string
	Venue         string
	PairAddress   string
	TokenString   string
	Amount        *big.Int
	UsdValue      float64
	Direction     Direction
	PriceImpact   float64
	Timestamp     time.Time
}

// WhaleActivitySummary aggregates whale flow for one token over the active
// window (see internal/whale).
type WhaleActivitySummary struct {
	BuyVolumeUsd      float64
	SellVolumeUsd     float64
	NetFlowUsd        float64
	SuperWhaleCount    int
	DominantDirection DominantDirection
}

// PendingSwapIntent is the canonical decode of a mempool transaction
// produced by the decoder registry (C1).
type PendingSwapIntent struct {
	Hash                  string
	Router                common.Address
	Type                  RouterType
	TokenIn               common.Address
	TokenOut              common.Address
	AmountIn              *big.Int
	ExpectedAmountOut     *big.Int
	Path                  []common.Address
	SlippageTolerance     float64
	Deadline              int64
	Sender                common.Address
	GasPrice              *big.Int
	MaxFeePerGas          *big.Int
	MaxPriorityFeePerGas  *big.Int
	Nonce                 uint64
	ChainID               int64
	FirstSeen             time.Time

	// CurveMeta carries pool-resolution metadata for every Curve-decoded
	// intent; its TokensResolved flag reports whether tokenIn/tokenOut came
	// from the pool registry (see internal/decoder's Curve family).
	CurveMeta *CurvePoolHint

	// OneInchHint carries raw pool-address hints extracted from 1inch's
	// packed pools[] route encoding, for routes that only resolve actual
	// ERC20 addresses on-chain (see internal/decoder's 1inch family).
	OneInchHint *OneInchPoolHint
}

// CurvePoolHint is attached to every PendingSwapIntent decoded from a Curve
// exchange call; TokensResolved is false when the pool's tokens could not
// be resolved from the pool registry.
type CurvePoolHint struct {
	PoolAddress    common.Address
	IIndex         int64
	JIndex         int64
	TokensResolved bool
}

// OneInchPoolHint is attached to a PendingSwapIntent decoded from
// unoswap/unoswapTo/uniswapV3Swap, whose pools[] route array packs a pool
// address (lower 160 bits) and a direction flag (bit 255) per hop rather
// than an explicit tokenIn/tokenOut.
type OneInchPoolHint struct {
	FirstPool common.Address
	LastPool  common.Address
}

// Hop is one leg of an N-hop statistical ArbitrageOpportunity.
type Hop struct {
	Chain    string
	Venue    string
	Dex      string
	Router   common.Address
	TokenIn  string
	TokenOut string
}

// ArbitrageOpportunity is the egress record appended to the durable bus by
// the publisher (C6). BridgeRequired/BridgeCost are zero for intra-chain
// opportunities; Hops is populated only for statistical (N-hop) ones.
type ArbitrageOpportunity struct {
	ID                string
	Type              OpportunityType
	BuyChain          string
	SellChain         string
	BuyVenue          string
	SellVenue         string
	TokenIn           string
	TokenOut          string
	BuyPrice          float64
	SellPrice         float64
	BridgeRequired    bool
	BridgeCost        float64
	ExpectedProfit    float64
	ProfitPercentage  float64
	NetProfit         float64
	Confidence        float64
	Timestamp         time.Time
	Hops              []Hop

	// Source annotates mempool-derived opportunities ("mempool") versus
	// the default confirmed-price scan.
	Source            string
	PendingTxHash     string
	PendingDeadline   int64
	PendingSlippage   float64
	RouterType        RouterType
	WhaleTriggered    bool
}

// LiquidityRecord is a cached on-chain balance check (C4).
type LiquidityRecord struct {
	Provider             string
	Asset                string
	AvailableLiquidity    *big.Int
	ExpiresAt             time.Time
	LastCheckSuccessful   bool
}

// QuoteRequest is one leg of a batched-quote pass (C7). AmountIn == nil (or
// zero) means "chain from the previous quote's output".
type QuoteRequest struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

