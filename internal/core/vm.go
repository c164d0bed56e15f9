package core

// VM abstracts the JavaScript engine (QuickJS or V8) behind a common
// interface used by the worker pool. Implementations are not safe for
// concurrent use: each VM is owned by exactly one worker goroutine.
type VM interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalInto evaluates JavaScript and stores the completion value of the
	// script in globalThis under the given name. This preserves the
	// final-expression-value semantics of eval without round-tripping the
	// value through Go.
	EvalInto(js, globalName string) error

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Argument and return types are limited to strings, numbers and bools.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// are auto-converted; complex values are bridged through JSON.
	SetGlobal(name string, value any) error

	// Interrupt requests termination of the currently running script.
	// It is the only method that is safe to call from another goroutine.
	Interrupt()

	// Close releases the engine context. The VM must not be used afterwards.
	Close()
}

// VMConfig carries the engine-level knobs shared by both backends.
type VMConfig struct {
	MemoryLimitMB int // per-VM heap limit, 0 = engine default
}

// VMFactory builds a fresh VM. The pool uses it both for initial worker
// construction and to replace workers retired after a fault.
type VMFactory func() (VM, error)
