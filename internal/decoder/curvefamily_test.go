package decoder

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurveSlippageForComputesRatio(t *testing.T) {
	f := curveSlippageFor(big.NewInt(5000), big.NewInt(4950))
	require.InDelta(t, 0.01, f, 1e-9)
}

func TestCurveSlippageForClampsNegativeToZero(t *testing.T) {
	f := curveSlippageFor(big.NewInt(100), big.NewInt(110))
	require.Equal(t, 0.0, f)
}

func TestCurveSlippageForFallsBackOnDegenerateInput(t *testing.T) {
	require.Equal(t, curveDegenerateSlippage, curveSlippageFor(nil, big.NewInt(100)))
	require.Equal(t, curveDegenerateSlippage, curveSlippageFor(big.NewInt(0), big.NewInt(100)))
	require.Equal(t, curveDegenerateSlippage, curveSlippageFor(big.NewInt(100), nil))
}
