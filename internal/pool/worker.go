package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/transpile"
)

// consoleShimJS replaces globalThis.console with a version that forwards
// each call as one formatted line to the Go-registered __console_log hook.
// Arguments are joined with a single space; objects are JSON-encoded.
const consoleShimJS = `
(function () {
	function fmt(a) {
		if (typeof a === 'string') return a;
		if (a === undefined) return 'undefined';
		if (typeof a === 'function') return String(a);
		try {
			var s = JSON.stringify(a);
			return s === undefined ? String(a) : s;
		} catch (e) {
			return String(a);
		}
	}
	function emit(level) {
		return function () {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(fmt(arguments[i]));
			__console_log(level, parts.join(' '));
		};
	}
	globalThis.console = {
		log: emit('log'),
		info: emit('info'),
		warn: emit('warn'),
		error: emit('error'),
		debug: emit('debug')
	};
})();
`

// ctxGlobalJS exposes a small host-context object to scripts.
const ctxGlobalJS = `globalThis.ctx = { name: 'script' };`

// callPageJS invokes the page bundle's default export with the job args and
// coerces the JSX runtime's raw-markup wrapper back to a plain string.
const callPageJS = `
(function () {
	var page = globalThis.__page_module__;
	delete globalThis.__page_module__;
	if (typeof page !== 'function') {
		throw new TypeError('page module has no default render function');
	}
	var out = page(globalThis.args);
	if (out !== null && out !== undefined && out.__html !== undefined) out = out.__html;
	return out;
})()
`

// extractResultJS serializes the job's completion value into a typed JSON
// envelope so the Go side can tell a markup string from any other value.
const extractResultJS = `
(function () {
	var r = globalThis.__result;
	delete globalThis.__result;
	if (r === undefined) return '{"type":"undefined","value":null}';
	try {
		var v = JSON.stringify(r);
		if (v === undefined) v = 'null';
		return '{"type":"' + typeof r + '","value":' + v + '}';
	} catch (e) {
		return JSON.stringify({ type: 'unserializable', error: String(e) });
	}
})()
`

// jobCleanupJS removes per-job globals before the worker takes its next
// job, so no state leaks between jobs on the same lane.
const jobCleanupJS = `
delete globalThis.args;
delete globalThis.__result;
delete globalThis.__page_module__;
`

// resultEnvelope mirrors the JSON produced by extractResultJS.
type resultEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

// worker is one exclusive execution lane: a single engine VM processing one
// job at a time. Never shared outside the pool.
type worker struct {
	id      int
	pool    *Pool
	vm      core.VM
	console []string
	log     *zap.Logger
}

func newWorker(id int, p *Pool) *worker {
	return &worker{
		id:   id,
		pool: p,
		log:  p.log.With(zap.Int("worker", id)),
	}
}

// init builds a fresh VM and installs the host bindings: console capture,
// the JSX runtime, the ctx global, and the precompiled function table.
func (w *worker) init() error {
	vm, err := w.pool.cfg.Factory()
	if err != nil {
		return fmt.Errorf("creating engine VM: %w", err)
	}

	if err := vm.RegisterFunc("__console_log", func(level, message string) {
		w.console = append(w.console, message)
		w.log.Debug("console", zap.String("level", level), zap.String("message", message))
	}); err != nil {
		vm.Close()
		return fmt.Errorf("registering console hook: %w", err)
	}

	setup := []struct {
		name string
		js   string
	}{
		{"console shim", consoleShimJS},
		{"jsx runtime", transpile.JSXRuntime()},
		{"ctx global", ctxGlobalJS},
		{"function table", `globalThis.__fns = {};`},
	}
	for _, s := range setup {
		if err := vm.Eval(s.js); err != nil {
			vm.Close()
			return fmt.Errorf("installing %s: %w", s.name, err)
		}
	}

	for name, source := range w.pool.cfg.Functions {
		if err := registerFunction(vm, name, source); err != nil {
			vm.Close()
			return err
		}
	}

	w.vm = vm
	w.log.Debug("worker VM ready")
	return nil
}

// registerFunction stores a precompiled function source in the worker's
// function table and syntax-checks it, so a broken function fails runtime
// construction instead of its first call.
func registerFunction(vm core.VM, name, source string) error {
	if err := vm.SetGlobal("__tmp_fn_src", source); err != nil {
		return fmt.Errorf("staging function %q: %w", name, err)
	}
	check := fmt.Sprintf(`
		globalThis.__fns[%s] = globalThis.__tmp_fn_src;
		delete globalThis.__tmp_fn_src;
		new Function(globalThis.__fns[%s]);
	`, strconv.Quote(name), strconv.Quote(name))
	if err := vm.Eval(check); err != nil {
		return &core.TranspileError{Path: name, Message: err.Error()}
	}
	return nil
}

// run is the worker loop: take the oldest pending job, execute, repeat.
// The jobs channel preserves submission order, so a worker returning to
// idle always picks up the oldest pending job.
func (w *worker) run() {
	defer w.pool.wg.Done()
	defer w.closeVM()

	for {
		select {
		case <-w.pool.done:
			return
		case job := <-w.pool.jobs:
			w.handle(job)
		}
	}
}

func (w *worker) handle(job *core.Job) {
	// A worker retired by a previous fault rebuilds its VM lazily here.
	if w.vm == nil {
		if err := w.init(); err != nil {
			w.log.Error("rebuilding worker VM", zap.Error(err))
			job.Respond <- core.JobResponse{Err: &core.WorkerFaultError{}}
			return
		}
	}

	result, err, fatal := w.execute(job)
	if fatal {
		w.log.Warn("retiring worker after fault",
			zap.String("job", job.ID.String()), zap.Error(err))
		w.closeVM()
	}
	// Respond is buffered: delivery never blocks, even when the caller
	// abandoned the wait.
	job.Respond <- core.JobResponse{Result: result, Err: err}
}

// execute runs one job on the worker's VM. fatal reports that the VM is in
// an unknown state (timeout interrupt, engine panic) and must be discarded.
func (w *worker) execute(job *core.Job) (result *core.ExecutionResult, err error, fatal bool) {
	start := time.Now()
	w.console = w.console[:0]

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("engine panic", zap.Any("panic", r), zap.String("job", job.ID.String()))
			result, err, fatal = nil, &core.WorkerFaultError{ConsoleOutput: w.consoleLines()}, true
		}
		if !fatal && w.vm != nil {
			_ = w.vm.Eval(jobCleanupJS)
		}
	}()

	var timedOut atomic.Bool
	timeout := w.pool.cfg.ScriptTimeout
	if timeout > 0 {
		watchdog := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			w.vm.Interrupt()
		})
		defer watchdog.Stop()
	}

	if err := w.setArgs(job.Script.Args); err != nil {
		return nil, &core.ExecutionError{
			Message:       fmt.Sprintf("injecting args: %v", err),
			ConsoleOutput: w.consoleLines(),
			Err:           err,
		}, false
	}

	var evalErr error
	switch job.Script.Kind {
	case core.KindFunction:
		evalErr = w.vm.EvalInto(job.Script.Code, "__result")

	case core.KindPage:
		mod, cerr := w.compilePage(job.Script.Name)
		if cerr != nil {
			return nil, cerr, false
		}
		if evalErr = w.vm.Eval(mod.Code); evalErr == nil {
			evalErr = w.vm.EvalInto(callPageJS, "__result")
		}

	case core.KindCall:
		qname := strconv.Quote(job.Script.Name)
		kind, terr := w.vm.EvalString(fmt.Sprintf("typeof globalThis.__fns[%s]", qname))
		if terr != nil {
			evalErr = terr
			break
		}
		if kind != "string" {
			return nil, &core.NotFoundError{Name: job.Script.Name}, false
		}
		// Indirect eval keeps global scope and the script's
		// completion-value semantics.
		evalErr = w.vm.EvalInto(fmt.Sprintf("(0, eval)(globalThis.__fns[%s])", qname), "__result")

	default:
		return nil, &core.ExecutionError{Message: fmt.Sprintf("unknown script kind %d", job.Script.Kind)}, false
	}

	if evalErr != nil {
		ferr, fatal := w.evalFailure(evalErr, &timedOut)
		return nil, ferr, fatal
	}

	envelope, exErr := w.extractResult()
	if exErr != nil {
		ferr, fatal := w.evalFailure(exErr, &timedOut)
		return nil, ferr, fatal
	}
	if envelope.Type == "unserializable" {
		return nil, &core.ExecutionError{
			Message:       fmt.Sprintf("result is not JSON-compatible: %s", envelope.Error),
			ConsoleOutput: w.consoleLines(),
		}, false
	}

	output, oerr := w.decodeOutput(job.Script.Kind, envelope)
	if oerr != nil {
		return nil, oerr, false
	}

	return &core.ExecutionResult{
		Output:        output,
		ConsoleOutput: w.consoleLines(),
		Duration:      time.Since(start),
	}, nil, false
}

// compilePage resolves the page name under the configured pages directory
// and compiles it. A missing page surfaces as NotFound under the name the
// caller used, not the internal registry path.
func (w *worker) compilePage(name string) (*transpile.Module, error) {
	entry := path.Join(w.pool.cfg.PagesDir, name)
	mod, err := w.pool.cfg.Transpiler.Compile(entry)
	if err != nil {
		var nf *core.NotFoundError
		if errors.As(err, &nf) {
			return nil, &core.NotFoundError{Name: name}
		}
		return nil, err
	}
	return mod, nil
}

func (w *worker) setArgs(args json.RawMessage) error {
	if args == nil {
		return w.vm.Eval("globalThis.args = null;")
	}
	return w.vm.Eval(fmt.Sprintf("globalThis.args = JSON.parse(%s);", strconv.Quote(string(args))))
}

func (w *worker) extractResult() (*resultEnvelope, error) {
	raw, err := w.vm.EvalString(extractResultJS)
	if err != nil {
		return nil, err
	}
	var env resultEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decoding result envelope: %w", err)
	}
	return &env, nil
}

// decodeOutput converts the typed envelope into the caller-facing output.
// Render jobs must produce a markup string; anything else is a job-level
// failure, not a fault.
func (w *worker) decodeOutput(kind core.ScriptKind, env *resultEnvelope) (any, error) {
	if kind == core.KindPage {
		if env.Type != "string" {
			return nil, &core.ExecutionError{
				Message:             fmt.Sprintf("render returned %s, expected a markup string", env.Type),
				InvalidRenderOutput: true,
				ConsoleOutput:       w.consoleLines(),
			}
		}
		var markup string
		if err := json.Unmarshal(env.Value, &markup); err != nil {
			return nil, &core.ExecutionError{
				Message:       fmt.Sprintf("decoding markup: %v", err),
				ConsoleOutput: w.consoleLines(),
				Err:           err,
			}
		}
		return markup, nil
	}

	if env.Type == "undefined" {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(env.Value, &out); err != nil {
		return nil, &core.ExecutionError{
			Message:       fmt.Sprintf("decoding output: %v", err),
			ConsoleOutput: w.consoleLines(),
			Err:           err,
		}
	}
	return out, nil
}

// evalFailure classifies an engine error: a fired watchdog means the VM was
// interrupted mid-script and cannot be trusted; a plain script throw leaves
// the VM healthy.
func (w *worker) evalFailure(evalErr error, timedOut *atomic.Bool) (error, bool) {
	if timedOut.Load() {
		return &core.TimeoutError{
			Limit:         w.pool.cfg.ScriptTimeout,
			ConsoleOutput: w.consoleLines(),
		}, true
	}
	return &core.ExecutionError{
		Message:       evalErr.Error(),
		ConsoleOutput: w.consoleLines(),
		Err:           evalErr,
	}, false
}

// consoleLines snapshots the capture buffer; the buffer itself is reused
// across jobs on this lane.
func (w *worker) consoleLines() []string {
	if len(w.console) == 0 {
		return nil
	}
	lines := make([]string, len(w.console))
	copy(lines, w.console)
	return lines
}

func (w *worker) closeVM() {
	if w.vm != nil {
		w.vm.Close()
		w.vm = nil
	}
}
