package decoder

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/xchainarb/detector/internal/collab"
	"github.com/xchainarb/detector/internal/xtypes"
)

func packTokenFeeToken(tokenA common.Address, fee uint32, tokenB common.Address) []byte {
	out := append([]byte{}, tokenA.Bytes()...)
	feeBytes := []byte{byte(fee >> 16), byte(fee >> 8), byte(fee)}
	out = append(out, feeBytes...)
	out = append(out, tokenB.Bytes()...)
	return out
}

func TestDecodePackedPath(t *testing.T) {
	tokenA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenC := common.HexToAddress("0x3333333333333333333333333333333333333333")

	t.Run("two hop path", func(t *testing.T) {
		packed := packTokenFeeToken(tokenA, 3000, tokenB)
		path, ok := decodePackedPath(packed)
		require.True(t, ok)
		require.Equal(t, []common.Address{tokenA, tokenB}, path)
	})

	t.Run("three hop path", func(t *testing.T) {
		packed := append([]byte{}, packTokenFeeToken(tokenA, 3000, tokenB)...)
		packed = append(packed, []byte{0x00, 0x01, 0xf4}...)
		packed = append(packed, tokenC.Bytes()...)
		path, ok := decodePackedPath(packed)
		require.True(t, ok)
		require.Equal(t, []common.Address{tokenA, tokenB, tokenC}, path)
	})

	t.Run("too short rejected", func(t *testing.T) {
		_, ok := decodePackedPath(make([]byte, 10))
		require.False(t, ok)
	})

	t.Run("misaligned length rejected", func(t *testing.T) {
		packed := append(packTokenFeeToken(tokenA, 3000, tokenB), 0x01)
		_, ok := decodePackedPath(packed)
		require.False(t, ok)
	})
}

// TestRegistryV3ExactInputMultiHop exercises an end-to-end scenario: a
// SwapRouter02 exactInput call encoding a three-hop packed
// path must decode to an intent whose TokenIn/TokenOut are the path's
// first and last tokens and whose full Path has all three legs.
func TestRegistryV3ExactInputMultiHop(t *testing.T) {
	router := common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	tokenIn := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")   // WETH
	mid := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")      // USDC
	tokenOut := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7") // USDT

	packed := append([]byte{}, packTokenFeeToken(tokenIn, 500, mid)...)
	packed = append(packed, []byte{0x00, 0x0b, 0xb8}...) // 3000 fee tier to the last leg
	packed = append(packed, tokenOut.Bytes()...)

	recipient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	amountIn := big.NewInt(1_000000000000000000)
	amountOutMin := big.NewInt(1_800_000000)

	packedData, err := v3ExactInput02Args.Pack(packed, recipient, amountIn, amountOutMin)
	require.NoError(t, err)

	selector, err := hex.DecodeString("b858183f") // registered as v3ExactInput02
	require.NoError(t, err)
	input := append(append([]byte{}, selector...), packedData...)

	tx := collab.PendingTx{
		Hash:     "0xdeadbeef",
		To:       router,
		From:     common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Input:    input,
		GasPrice: big.NewInt(30_000000000),
		Nonce:    7,
	}

	reg := NewRegistry()
	require.NoError(t, reg.RegisterRouter(1, router, xtypes.RouterUniswapV3))

	intent, err := reg.Decode(tx, 1)
	require.NoError(t, err)
	require.NotNil(t, intent)
	require.Equal(t, tokenIn, intent.TokenIn)
	require.Equal(t, tokenOut, intent.TokenOut)
	require.Equal(t, []common.Address{tokenIn, mid, tokenOut}, intent.Path)
	require.Equal(t, amountIn, intent.AmountIn)
	require.Equal(t, amountOutMin, intent.ExpectedAmountOut)
	require.Equal(t, xtypes.RouterUniswapV3, intent.Type)
}

func TestRegistryUnknownSelectorReturnsNoDecoder(t *testing.T) {
	reg := NewRegistry()
	tx := collab.PendingTx{
		Hash:  "0xabc",
		To:    common.HexToAddress("0x9999999999999999999999999999999999999999"),
		Input: []byte{0xaa, 0xbb, 0xcc, 0xdd, 0x01},
	}
	_, err := reg.Decode(tx, 1)
	require.ErrorIs(t, err, xtypes.ErrNoDecoder)
}

func TestRegistryCalldataTooShort(t *testing.T) {
	reg := NewRegistry()
	tx := collab.PendingTx{Hash: "0xshort", Input: []byte{0x01, 0x02}}
	_, err := reg.Decode(tx, 1)
	require.ErrorIs(t, err, xtypes.ErrNoDecoder)
}
