package jsrun

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func exec(t *testing.T, rt *Runtime, script Script) (*ExecutionResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.ExecuteScript(ctx, script)
}

func TestExecuteExpression(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`2 + 2`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != float64(4) {
		t.Errorf("Output = %v (%T), want 4", res.Output, res.Output)
	}
	if len(res.ConsoleOutput) != 0 {
		t.Errorf("ConsoleOutput = %v, want empty", res.ConsoleOutput)
	}
}

func TestExecuteWithConsoleAndResult(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`console.log('hello'); 2 + 2`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != float64(4) {
		t.Errorf("Output = %v, want 4", res.Output)
	}
	if len(res.ConsoleOutput) != 1 || res.ConsoleOutput[0] != "hello" {
		t.Errorf("ConsoleOutput = %v, want [hello]", res.ConsoleOutput)
	}
}

func TestExecuteWithArgs(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`args.a + args.b`, map[string]int{"a": 2, "b": 3}))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != float64(5) {
		t.Errorf("Output = %v, want 5", res.Output)
	}
}

func TestExecuteStringResult(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`'hi ' + args.name`, map[string]string{"name": "bob"}))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != "hi bob" {
		t.Errorf("Output = %v, want %q", res.Output, "hi bob")
	}
}

func TestExecuteObjectResult(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`({ok: true, n: args.n * 2})`, map[string]int{"n": 21}))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	obj, ok := res.Output.(map[string]any)
	if !ok {
		t.Fatalf("Output = %T, want map", res.Output)
	}
	if obj["ok"] != true || obj["n"] != float64(42) {
		t.Errorf("Output = %v", obj)
	}
}

func TestExecuteNoCompletionValue(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`var unused = 1;`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != nil {
		t.Errorf("Output = %v, want nil for a script with no completion value", res.Output)
	}
}

func TestCtxGlobal(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`ctx.name`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != "script" {
		t.Errorf("ctx.name = %v, want %q", res.Output, "script")
	}
}

func TestConsoleCapture(t *testing.T) {
	rt := newRuntime(t, Config{})

	res, err := exec(t, rt, Function(`
		console.log('plain', 42, {nested: true});
		console.error('bad thing');
		'done'
	`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	want := []string{`plain 42 {"nested":true}`, `bad thing`}
	if len(res.ConsoleOutput) != len(want) {
		t.Fatalf("ConsoleOutput = %v, want %v", res.ConsoleOutput, want)
	}
	for i := range want {
		if res.ConsoleOutput[i] != want[i] {
			t.Errorf("ConsoleOutput[%d] = %q, want %q", i, res.ConsoleOutput[i], want[i])
		}
	}

	// The next job on the same worker starts with a clean console.
	res, err = exec(t, rt, Function(`1`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if len(res.ConsoleOutput) != 0 {
		t.Errorf("console leaked across jobs: %v", res.ConsoleOutput)
	}
}

func TestScriptThrow(t *testing.T) {
	rt := newRuntime(t, Config{})

	_, err := exec(t, rt, Function(`
		console.log('about to fail');
		throw new Error('nope');
	`, nil))
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !strings.Contains(ee.Message, "nope") {
		t.Errorf("error should carry the thrown message: %q", ee.Message)
	}
	if len(ee.ConsoleOutput) != 1 || ee.ConsoleOutput[0] != "about to fail" {
		t.Errorf("failed job should still surface its console lines: %v", ee.ConsoleOutput)
	}

	// A throw must not poison the worker.
	res, err := exec(t, rt, Function(`3 * 3`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript after throw: %v", err)
	}
	if res.Output != float64(9) {
		t.Errorf("Output = %v, want 9", res.Output)
	}
}

func TestScriptTimeout(t *testing.T) {
	rt := newRuntime(t, Config{ScriptTimeout: 100 * time.Millisecond})

	_, err := exec(t, rt, Function(`while (true) {}`, nil))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Limit != 100*time.Millisecond {
		t.Errorf("Limit = %v, want 100ms", te.Limit)
	}

	// The interrupted worker is replaced; the pool keeps serving.
	res, err := exec(t, rt, Function(`'alive'`, nil))
	if err != nil {
		t.Fatalf("ExecuteScript after timeout: %v", err)
	}
	if res.Output != "alive" {
		t.Errorf("Output = %v, want alive", res.Output)
	}
}

func TestCallPrecompiledFunction(t *testing.T) {
	rt := newRuntime(t, Config{
		Functions: map[string]string{
			"sum.js": `args.a * args.b;`,
		},
	})

	res, err := exec(t, rt, Call("sum.js", map[string]int{"a": 6, "b": 7}))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != float64(42) {
		t.Errorf("Output = %v, want 42", res.Output)
	}
}

func TestCallTypeScriptFunction(t *testing.T) {
	rt := newRuntime(t, Config{
		Functions: map[string]string{
			"double.ts": `const n: number = args.n; n * 2;`,
		},
	})

	res, err := exec(t, rt, Call("double.ts", map[string]int{"n": 5}))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if res.Output != float64(10) {
		t.Errorf("Output = %v, want 10", res.Output)
	}
}

func TestCallUnknownFunction(t *testing.T) {
	rt := newRuntime(t, Config{})

	_, err := exec(t, rt, Call("ghost", nil))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Name != "ghost" {
		t.Errorf("Name = %q, want ghost", nf.Name)
	}
}

func TestBrokenFunctionRejectedAtConstruction(t *testing.T) {
	_, err := New(Config{
		Workers: 1,
		Functions: map[string]string{
			"bad.js": `function ( { broken`,
		},
	})
	var te *TranspileError
	if !errors.As(err, &te) {
		t.Fatalf("expected TranspileError, got %v", err)
	}
}

func TestConfigRejectsZeroWorkers(t *testing.T) {
	_, err := New(Config{Workers: 0})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Field != "Workers" {
		t.Errorf("Field = %q, want Workers", ce.Field)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	rt, err := New(Config{Workers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Close()
	rt.Close() // idempotent

	_, err = rt.ExecuteScript(context.Background(), Function(`1`, nil))
	var pe *PoolExhaustedError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PoolExhaustedError, got %v", err)
	}
}

func TestConcurrentExecution(t *testing.T) {
	rt := newRuntime(t, Config{Workers: 2})

	type answer struct {
		res *ExecutionResult
		err error
	}
	const n = 16
	answers := make(chan answer, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := exec(t, rt, Function(`args.i * 10`, map[string]int{"i": 3}))
			answers <- answer{res, err}
		}()
	}
	for i := 0; i < n; i++ {
		a := <-answers
		if a.err != nil {
			t.Fatalf("concurrent ExecuteScript: %v", a.err)
		}
		if a.res.Output != float64(30) {
			t.Errorf("Output = %v, want 30", a.res.Output)
		}
	}
}
