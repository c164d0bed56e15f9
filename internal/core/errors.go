package core

import (
	"fmt"
	"time"
)

// ConfigError reports an invalid runtime configuration. It is fatal: New never
// returns a partially initialized Runtime.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid config: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown page, source path, or function name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%q not found", e.Name)
}

// TranspileError reports a source file that failed to compile.
type TranspileError struct {
	Path    string
	Message string
}

func (e *TranspileError) Error() string {
	return fmt.Sprintf("transpiling %s: %s", e.Path, e.Message)
}

// ExecutionError reports a script that threw, or a render that produced a
// non-string result. Console output captured before the failure is attached
// so diagnostics are not lost.
type ExecutionError struct {
	Message string
	// InvalidRenderOutput is set when a page render returned something
	// that is not a markup string.
	InvalidRenderOutput bool
	ConsoleOutput       []string
	Err                 error
}

func (e *ExecutionError) Error() string {
	if e.InvalidRenderOutput {
		return fmt.Sprintf("invalid render output: %s", e.Message)
	}
	return fmt.Sprintf("script execution failed: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a job that exceeded the configured script timeout.
// The owning worker is retired and replaced, since an interrupted engine
// is in an unknown state.
type TimeoutError struct {
	Limit         time.Duration
	ConsoleOutput []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script execution timed out (limit: %v)", e.Limit)
}

// WorkerFaultError reports an unrecoverable engine fault. The triggering
// detail stays in logs; callers only see a generic execution failure. The
// worker is replaced, the pool and host process keep running.
type WorkerFaultError struct {
	ConsoleOutput []string
}

func (e *WorkerFaultError) Error() string {
	return "internal engine fault, worker retired"
}

// PoolExhaustedError reports that the pool could not accept a job, which
// only happens once the runtime has been closed. Jobs are never silently
// dropped while the pool is running.
type PoolExhaustedError struct {
	Reason string
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("worker pool cannot accept job: %s", e.Reason)
}
