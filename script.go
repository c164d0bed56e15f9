package jsrun

import (
	"encoding/json"
	"fmt"

	"github.com/hostwire/jsrun/internal/core"
)

// Script is one unit of requested work: an ad hoc piece of JavaScript, a
// page render, or a call to a function precompiled from Config.Functions.
// Build one with Function, Page or Call.
type Script struct {
	kind core.ScriptKind
	code string
	name string
	args any
}

// Function runs code as a script; the completion value of its final
// expression becomes ExecutionResult.Output. args is any JSON-compatible
// value exposed to the script as globalThis.args (nil for none).
func Function(code string, args any) Script {
	return Script{kind: core.KindFunction, code: code, args: args}
}

// Page renders the registered page with the given props. The page's default
// export is called with globalThis.args set to props and must return a
// markup string.
func Page(name string, props any) Script {
	return Script{kind: core.KindPage, name: name, args: props}
}

// Call invokes a function registered via Config.Functions by name.
func Call(name string, args any) Script {
	return Script{kind: core.KindCall, name: name, args: args}
}

// toCore marshals the args once at submission; workers only ever see the
// JSON encoding.
func (s Script) toCore() (core.Script, error) {
	cs := core.Script{Kind: s.kind, Code: s.code, Name: s.name}
	if s.args != nil {
		raw, err := json.Marshal(s.args)
		if err != nil {
			return core.Script{}, &core.ExecutionError{
				Message: fmt.Sprintf("marshaling args: %v", err),
				Err:     err,
			}
		}
		cs.Args = raw
	}
	return cs, nil
}
