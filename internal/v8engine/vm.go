//go:build v8

// Package v8engine implements core.VM on V8 via tommie/v8go. Selected with
// the "v8" build tag; QuickJS is the default backend.
package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	v8 "github.com/tommie/v8go"

	"github.com/hostwire/jsrun/internal/core"
)

// VM wraps one V8 isolate+context pair. Not safe for concurrent use;
// Interrupt (TerminateExecution) is the one thread-safe V8 call.
type VM struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.VM = (*VM)(nil)

// New creates a V8 isolate and context with the configured heap limit.
func New(cfg core.VMConfig) (core.VM, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	return &VM{iso: iso, ctx: ctx}, nil
}

// Eval evaluates JavaScript and discards the result.
func (v *VM) Eval(js string) error {
	_, err := v.ctx.RunScript(js, "eval.js")
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (v *VM) EvalString(js string) (string, error) {
	val, err := v.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalInto evaluates JavaScript and stores the completion value under the
// given global name.
func (v *VM) EvalInto(js, globalName string) error {
	val, err := v.ctx.RunScript(js, "eval_into.js")
	if err != nil {
		return err
	}
	return v.ctx.Global().Set(globalName, val)
}

// RegisterFunc registers a Go function as a global JavaScript function,
// marshaling arguments and return values by reflection.
//
// Supported signatures:
//   - func(args...)            — returns undefined
//   - func(args...) T          — returns T
//   - func(args...) (T, error) — returns T, or throws on error
//
// Argument and return types are limited to string, int, float64 and bool.
func (v *VM) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(v.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()

		if len(args) < fnType.NumIn() {
			msg := fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args))
			jsMsg, _ := v8.NewValue(v.iso, msg)
			v.iso.ThrowException(jsMsg)
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)

		switch fnType.NumOut() {
		case 0:
			return nil
		case 1:
			return goToJSValue(v.iso, results[0])
		case 2:
			errVal := results[1]
			if !errVal.IsNil() {
				msg := fmt.Sprintf("calling %s: %s", name, errVal.Interface().(error).Error())
				jsMsg, _ := v8.NewValue(v.iso, msg)
				v.iso.ThrowException(jsMsg)
				return nil
			}
			return goToJSValue(v.iso, results[0])
		default:
			return nil
		}
	})

	return v.ctx.Global().Set(name, tmpl.GetFunction(v.ctx))
}

// SetGlobal sets a global variable on the JS context. Basic Go types are
// converted directly; anything else is bridged through JSON.
func (v *VM) SetGlobal(name string, value any) error {
	jsVal, err := v.toJSValue(value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return v.ctx.Global().Set(name, jsVal)
}

func (v *VM) toJSValue(value any) (*v8.Value, error) {
	if value == nil {
		return v8.Undefined(v.iso), nil
	}
	switch val := value.(type) {
	case string:
		return v8.NewValue(v.iso, val)
	case int:
		return v8.NewValue(v.iso, int32(val))
	case int32:
		return v8.NewValue(v.iso, val)
	case int64:
		return v8.NewValue(v.iso, int32(val))
	case float64:
		return v8.NewValue(v.iso, val)
	case bool:
		return v8.NewValue(v.iso, val)
	case *v8.Value:
		return val, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		script := fmt.Sprintf("JSON.parse(%s)", strconv.Quote(string(data)))
		return v.ctx.RunScript(script, "set_global.js")
	}
}

// Interrupt terminates the currently running script.
func (v *VM) Interrupt() {
	v.iso.TerminateExecution()
}

// Close releases the context and isolate.
func (v *VM) Close() {
	v.ctx.Close()
	v.iso.Dispose()
}

func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		v, _ := v8.NewValue(iso, val.String())
		return v
	case reflect.Int, reflect.Int32, reflect.Int64:
		v, _ := v8.NewValue(iso, int32(val.Int()))
		return v
	case reflect.Float32, reflect.Float64:
		v, _ := v8.NewValue(iso, val.Float())
		return v
	case reflect.Bool:
		v, _ := v8.NewValue(iso, val.Bool())
		return v
	default:
		return nil
	}
}
