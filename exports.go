package jsrun

import "github.com/hostwire/jsrun/internal/core"

// Type aliases re-exporting internal/core types so downstream code can use
// jsrun.ExecutionResult, jsrun.TranspileError, etc. without importing the
// internal package directly.

type ExecutionResult = core.ExecutionResult

type ConfigError = core.ConfigError
type NotFoundError = core.NotFoundError
type TranspileError = core.TranspileError
type ExecutionError = core.ExecutionError
type TimeoutError = core.TimeoutError
type WorkerFaultError = core.WorkerFaultError
type PoolExhaustedError = core.PoolExhaustedError
