//go:build !v8

// Package quickjs implements core.VM on modernc.org/quickjs, the cgo-free
// QuickJS port. It is the default engine backend.
package quickjs

import (
	"fmt"

	qjs "modernc.org/quickjs"

	"github.com/hostwire/jsrun/internal/core"
)

// VM wraps one QuickJS context. Not safe for concurrent use; Interrupt is
// the only method that may be called from another goroutine.
type VM struct {
	vm *qjs.VM
}

var _ core.VM = (*VM)(nil)

// New creates a QuickJS VM with the configured memory limit.
func New(cfg core.VMConfig) (core.VM, error) {
	vm, err := qjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) * 1024 * 1024)
	}
	return &VM{vm: vm}, nil
}

// Eval evaluates JavaScript and discards the result.
func (v *VM) Eval(js string) error {
	val, err := v.vm.EvalValue(js, qjs.EvalGlobal)
	if err != nil {
		return err
	}
	val.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (v *VM) EvalString(js string) (string, error) {
	result, err := v.vm.Eval(js, qjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

// EvalInto evaluates JavaScript and stores the completion value under the
// given global name, without round-tripping it through Go.
func (v *VM) EvalInto(js, globalName string) error {
	val, err := v.vm.EvalValue(js, qjs.EvalGlobal)
	if err != nil {
		return err
	}
	defer val.Free()
	return v.setGlobal(globalName, val)
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are unwrapped in a JS shim: on success
// the call returns T, on error it throws a TypeError. The QuickJS wrapper
// otherwise surfaces multi-value results as JS arrays.
func (v *VM) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := v.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return v.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (v *VM) SetGlobal(name string, value any) error {
	return v.setGlobal(name, value)
}

func (v *VM) setGlobal(name string, value any) error {
	atom, err := v.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := v.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// Interrupt requests termination of the running script. Safe to call from
// the watchdog goroutine.
func (v *VM) Interrupt() {
	v.vm.Interrupt()
}

// Close releases the QuickJS context.
func (v *VM) Close() {
	v.vm.Close()
}
