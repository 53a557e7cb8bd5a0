package xtypes

import "errors"

// Sentinel errors for the pipeline's error taxonomy. ValidationError and
// TransientRpcError are represented by these sentinels wrapped with
// fmt.Errorf("...: %w", ...) at the call site; SimulationRevert, GasSpike,
// and ProviderUnhealthy carry their ERR_* name as their message so callers
// can surface the symbolic name verbatim. ConfigError's message is the
// plain "config error".
var (
	ErrInvalidPrice       = errors.New("invalid price: must be positive and finite")
	ErrNoDecoder          = errors.New("no decoder for selector/chain")
	ErrSimulationRevert   = errors.New("ERR_SIMULATION_REVERT")
	ErrGasSpike           = errors.New("ERR_GAS_SPIKE")
	ErrProviderUnhealthy  = errors.New("ERR_PROVIDER_UNHEALTHY")
	ErrConfigError        = errors.New("config error")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrNoRouterForHop     = errors.New("no router resolvable for hop")
	ErrInvalidIntentPath  = errors.New("invalid intent path")
)
