// Package jsrun embeds a JavaScript engine in a host application to run
// scripts and render JSX/TSX page templates server-side. A fixed pool of
// isolated engine workers executes one job at a time each; sources come
// from an immutable embedded snapshot and are transpiled and cached on
// first use. Results carry both the computed output and the console lines
// the script logged.
package jsrun

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/pool"
	"github.com/hostwire/jsrun/internal/registry"
	"github.com/hostwire/jsrun/internal/transpile"
)

// Runtime is the public entry point: it composes the source registry, the
// transpiler and the worker pool. Safe for concurrent use.
type Runtime struct {
	cfg        Config
	log        *zap.Logger
	registry   *registry.Registry
	transpiler *transpile.Transpiler
	pool       *pool.Pool
	watcher    *registry.Watcher

	closeOnce sync.Once
}

// New validates the configuration and builds the runtime: the source
// snapshot, the transpiler, and Workers engine VMs, each fully initialized.
// On any error no partially initialized Runtime is returned.
func New(cfg Config) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	var reg *registry.Registry
	var err error
	if cfg.WatchDir != "" {
		reg, err = registry.FromFS(os.DirFS(cfg.WatchDir))
	} else {
		reg, err = registry.FromFS(cfg.Sources)
	}
	if err != nil {
		return nil, &core.ConfigError{Field: "Sources", Message: "loading source snapshot", Err: err}
	}

	tp, err := transpile.New(reg, log)
	if err != nil {
		return nil, &core.ConfigError{Message: "building transpiler", Err: err}
	}

	// Transpile inline functions once, up front; workers receive plain JS.
	functions := make(map[string]string, len(cfg.Functions))
	for name, src := range cfg.Functions {
		code, err := transpile.TransformFunction(name, src)
		if err != nil {
			return nil, err
		}
		functions[name] = code
	}

	p, err := pool.New(pool.Config{
		Workers:       cfg.Workers,
		QueueDepth:    cfg.QueueDepth,
		ScriptTimeout: cfg.ScriptTimeout,
		PagesDir:      cfg.PagesDir,
		Factory:       newVMFactory(core.VMConfig{MemoryLimitMB: cfg.MemoryLimitMB}),
		Transpiler:    tp,
		Functions:     functions,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		transpiler: tp,
		pool:       p,
	}

	if cfg.WatchDir != "" {
		w, err := registry.Watch(cfg.WatchDir, reg, tp.PurgeCache, log)
		if err != nil {
			p.Close()
			return nil, &core.ConfigError{Field: "WatchDir", Message: "starting source watcher", Err: err}
		}
		rt.watcher = w
	}

	log.Info("runtime ready",
		zap.Int("workers", cfg.Workers),
		zap.Int("sources", reg.Len()),
		zap.Duration("script_timeout", cfg.ScriptTimeout))
	return rt, nil
}

// ExecuteScript submits a script to the pool and waits for its result.
// The call suspends until a worker is free and the job completes; jobs are
// dispatched in strict submission order.
func (r *Runtime) ExecuteScript(ctx context.Context, script Script) (*ExecutionResult, error) {
	cs, err := script.toCore()
	if err != nil {
		return nil, err
	}
	return r.pool.Submit(ctx, cs)
}

// Render resolves pageName against the source registry, renders the page
// with props as its properties argument, and returns the markup string in
// ExecutionResult.Output. An unknown page fails with NotFoundError.
func (r *Runtime) Render(ctx context.Context, props any, pageName string) (*ExecutionResult, error) {
	if pageName == "" {
		return nil, &core.NotFoundError{Name: pageName}
	}
	return r.ExecuteScript(ctx, Page(pageName, props))
}

// Close stops the source watcher (if any) and shuts the pool down, waiting
// for in-flight jobs to finish. Subsequent submissions fail with
// PoolExhaustedError.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
		r.pool.Close()
		r.log.Info("runtime closed")
	})
}
