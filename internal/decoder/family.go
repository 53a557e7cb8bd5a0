package decoder

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

// defaultSlippage is the fallback slippage tolerance (0.5%) used by every
// family unless it overrides (Curve does, see curvefamily.go).
const defaultSlippage = 0.005

// family is implemented by each router-family decoder (V2-style, V3-style,
// Curve, 1inch). Selectors returns the lowercase, "0x"-less 8-hex-char
// method selectors this family recognises, mapped to an opaque method id
// the family's own Decode switches on.
type family interface {
	Name() xtypes.RouterType
	Selectors() map[string]int
	Decode(tx collab.PendingTx, chainID int64, methodID int, router common.Address) (*xtypes.PendingSwapIntent, bool)
}

// baseIntent assembles the fields common to every decoded intent: hash,
// router, type, sender, gas pricing (legacy + EIP-1559), nonce, chain id,
// and first-seen timestamp. Family decoders fill in TokenIn/TokenOut/Path/
// AmountIn/ExpectedAmountOut/Deadline/SlippageTolerance on top of this.
func baseIntent(tx collab.PendingTx, chainID int64, router common.Address, typ xtypes.RouterType) xtypes.PendingSwapIntent {
	intent := xtypes.PendingSwapIntent{
		Hash:              tx.Hash,
		Router:            router,
		Type:              typ,
		Sender:            tx.From,
		Nonce:             tx.Nonce,
		ChainID:           chainID,
		FirstSeen:         time.Now(),
		SlippageTolerance: defaultSlippage,
	}
	extractGasPrice(tx, &intent)
	return intent
}

// extractGasPrice covers both legacy (GasPrice) and EIP-1559
// (GasFeeCap/GasTipCap) transactions, leaving MaxFeePerGas/
// MaxPriorityFeePerGas nil for legacy txs.
func extractGasPrice(tx collab.PendingTx, intent *xtypes.PendingSwapIntent) {
	if tx.GasFeeCap != nil || tx.GasTipCap != nil {
		intent.MaxFeePerGas = cloneBig(tx.GasFeeCap)
		intent.MaxPriorityFeePerGas = cloneBig(tx.GasTipCap)
		if tx.GasFeeCap != nil {
			intent.GasPrice = cloneBig(tx.GasFeeCap)
		}
		return
	}
	intent.GasPrice = cloneBig(tx.GasPrice)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// defaultDeadline is used by V3's "02" router generation, which dropped
// the deadline struct field; substitute now+1h.
func defaultDeadline() int64 {
	return time.Now().Add(1 * time.Hour).Unix()
}
