// Package collab defines the interfaces the detection core consumes from
// external collaborators: per-chain RPC providers, the durable message
// bus, contract call/send plumbing, nonce allocation, pre-submission
// simulation, and audit recording. internal/bus ships one concrete
// StreamBus and internal/audit ships one concrete AuditRecorder; every
// other interface here is implemented by the surrounding system and
// passed in.
package collab

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xchainarb/detector/internal/xtypes"
)

// Provider is a handle to a single chain's RPC/websocket endpoint.
type Provider interface {
	ChainID() int64
	Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error)
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	IsHealthy(ctx context.Context) bool
}

// StreamBus is the durable, Redis-Streams-shaped bus the pipeline appends
// to and consumes from.
type StreamBus interface {
	Append(ctx context.Context, stream string, record map[string]any, capHint int64) error
	ReadGroup(ctx context.Context, stream, group, consumer string, startID string) ([]BusRecord, error)
	Close() error
}

// BusRecord is one entry read back from a StreamBus consumer group.
type BusRecord struct {
	ID     string
	Stream string
	Fields map[string]string
}

// ContractCaller is the read/write contract interaction surface (Call for
// eth_call, Send for a signed transaction), parametric over chain.
type ContractCaller interface {
	ContractAddress() common.Address
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Send(ctx context.Context, method string, args ...any) (common.Hash, error)
}

// NonceManager is the single per-chain authority for next-nonce
// allocation.
type NonceManager interface {
	Next(ctx context.Context, chain string, sender common.Address) (uint64, error)
}

// SimulationResult is the outcome of a pre-submission simulation (C8).
type SimulationResult struct {
	Success      bool
	WouldRevert  bool
	RevertReason string
	GasUsed      uint64
	Provider     string
	LatencyMs    int64
	Err          error
}

// SimulationRequest is the input to SimulationService.Simulate.
type SimulationRequest struct {
	Chain string
	Tx    any
}

// SimulationService decides whether an opportunity should be simulated and
// performs the simulation itself (C8 steps 1-2).
type SimulationService interface {
	ShouldSimulate(expectedProfitUsd float64, opportunityAge time.Duration) bool
	Simulate(ctx context.Context, req SimulationRequest) (SimulationResult, error)
}

// GasPriceSource exposes the current gas price for a chain, used by the
// gas-spike detector (C8).
type GasPriceSource interface {
	CurrentGasPriceGwei(ctx context.Context, chain string) (float64, error)
}

// PendingTx is the raw shape the decoder registry (C1) consumes. Input is
// the calldata (including the 4-byte selector); Value is tx.value in wei.
type PendingTx struct {
	Hash     string
	To       common.Address
	From     common.Address
	Input    []byte
	Value    *big.Int
	GasPrice *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Nonce    uint64
}

// AuditRecorder persists pipeline audit rows (published opportunities,
// liquidity-check outcomes) for after-the-fact review. Deliberately out of
// scope for this repository; internal/audit ships one concrete
// GORM-over-MySQL implementation. Callers treat it as best-effort: a
// failure here never blocks or fails the caller's own operation.
type AuditRecorder interface {
	RecordOpportunity(op xtypes.ArbitrageOpportunity) error
	RecordLiquidityCheck(protocol, chain, asset, available string, sufficient, graceful bool) error
}
