// Package chainmeta centralises the small, static chain-level tables the
// cross-chain detector consults: chain-id <-> canonical name resolution,
// per-chain minimum profitability thresholds, the bridge-cost matrix, and
// per-chain gas estimates.
package chainmeta

// Canonical chain names, keyed by EVM chain id.
const (
	Ethereum = "ethereum"
	BSC      = "bsc"
	Polygon  = "polygon"
	Arbitrum = "arbitrum"
	Optimism = "optimism"
	Base     = "base"
	Avalanche = "avalanche"
	Fantom   = "fantom"
	Unknown  = "unknown"
)

var idToName = map[int64]string{
	1:     Ethereum,
	56:    BSC,
	137:   Polygon,
	42161: Arbitrum,
	10:    Optimism,
	8453:  Base,
	43114: Avalanche,
	250:   Fantom,
}

// NameForChainID resolves a chain id to its canonical name, never
// returning an empty or undefined value.
func NameForChainID(id int64) string {
	if name, ok := idToName[id]; ok {
		return name
	}
	return Unknown
}

// ChainMinProfit is the minimum percentageDiff required for a cross-chain
// opportunity to proceed past the screening step, keyed by the buy (source)
// chain. Ethereum's threshold is strictly higher than every L2/sidechain to
// account for settlement gas.
var ChainMinProfit = map[string]float64{
	Ethereum:  0.008,
	BSC:       0.004,
	Polygon:   0.003,
	Arbitrum:  0.0035,
	Optimism:  0.0035,
	Base:      0.0035,
	Avalanche: 0.004,
	Fantom:    0.004,
}

// MinProfitFor returns the configured threshold, defaulting to Ethereum's
// (the strictest) for an unrecognised chain.
func MinProfitFor(chain string) float64 {
	if v, ok := ChainMinProfit[chain]; ok {
		return v
	}
	return ChainMinProfit[Ethereum]
}

// BridgeCosts is a symmetric-ish table of estimated USD bridging cost
// between a buy chain and a sell chain, indexed [buyChain][sellChain].
var BridgeCosts = map[string]map[string]float64{
	Ethereum: {BSC: 12, Polygon: 10, Arbitrum: 8, Optimism: 8, Base: 8, Avalanche: 12, Fantom: 12},
	BSC:      {Ethereum: 12, Polygon: 6, Arbitrum: 10, Optimism: 10, Base: 10, Avalanche: 6, Fantom: 5},
	Polygon:  {Ethereum: 10, BSC: 6, Arbitrum: 7, Optimism: 7, Base: 7, Avalanche: 6, Fantom: 5},
	Arbitrum: {Ethereum: 8, BSC: 10, Polygon: 7, Optimism: 4, Base: 4, Avalanche: 9, Fantom: 9},
	Optimism: {Ethereum: 8, BSC: 10, Polygon: 7, Arbitrum: 4, Base: 4, Avalanche: 9, Fantom: 9},
	Base:     {Ethereum: 8, BSC: 10, Polygon: 7, Arbitrum: 4, Optimism: 4, Avalanche: 9, Fantom: 9},
	Avalanche: {Ethereum: 12, BSC: 6, Polygon: 6, Arbitrum: 9, Optimism: 9, Base: 9, Fantom: 5},
	Fantom:   {Ethereum: 12, BSC: 5, Polygon: 5, Arbitrum: 9, Optimism: 9, Base: 9, Avalanche: 5},
}

// BridgeCost returns the estimated bridging cost in USD between two
// chains, falling back to a conservative default for unlisted pairs.
func BridgeCost(buyChain, sellChain string) float64 {
	if row, ok := BridgeCosts[buyChain]; ok {
		if v, ok := row[sellChain]; ok {
			return v
		}
	}
	return 15
}

// GasEstimate is the per-chain estimated USD cost of a single settlement
// transaction on that chain.
var GasEstimate = map[string]float64{
	Ethereum:  6,
	BSC:       0.3,
	Polygon:   0.05,
	Arbitrum:  0.3,
	Optimism:  0.3,
	Base:      0.2,
	Avalanche: 0.4,
	Fantom:    0.1,
}

// GasCostFor returns the estimated gas cost in USD for one settlement
// transaction on the given chain, defaulting to Ethereum's (the most
// expensive) for unrecognised chains.
func GasCostFor(chain string) float64 {
	if v, ok := GasEstimate[chain]; ok {
		return v
	}
	return GasEstimate[Ethereum]
}
