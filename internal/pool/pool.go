// Package pool owns the fixed set of script-engine workers and the FIFO
// dispatch of jobs onto them. Each worker pairs one engine VM with an
// exclusive execution lane: the engine is single-threaded and not
// reentrant, so true parallelism is bounded by the pool size.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/transpile"
)

// defaultQueueDepth bounds the pending-job queue. The channel keeps strict
// arrival order; a full queue makes submitters wait, it never drops jobs.
const defaultQueueDepth = 1024

// Config carries everything a pool needs to build and run its workers.
type Config struct {
	Workers       int
	QueueDepth    int           // 0 means defaultQueueDepth
	ScriptTimeout time.Duration // 0 means unbounded
	PagesDir      string        // registry subtree holding page entry files

	// Factory builds engine VMs, both at construction and when a worker
	// is replaced after a fault.
	Factory core.VMFactory

	// Transpiler compiles page sources for render jobs.
	Transpiler *transpile.Transpiler

	// Functions maps name to (already transpiled) source, precompiled into
	// every worker at VM setup and callable via KindCall scripts.
	Functions map[string]string

	Logger *zap.Logger
}

// Pool distributes jobs across workers in strict FIFO arrival order and
// delivers each result to exactly one waiting caller.
type Pool struct {
	cfg  Config
	jobs chan *core.Job
	log  *zap.Logger

	workers []*worker
	wg      sync.WaitGroup

	closeOnce  sync.Once
	done       chan struct{} // closed when Close begins
	terminated chan struct{} // closed once every worker has exited
}

// New builds the pool and eagerly initializes every worker VM, so that a
// broken engine setup (bad precompiled function, engine init failure)
// surfaces at construction instead of on the first job.
func New(cfg Config) (*Pool, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		cfg:        cfg,
		jobs:       make(chan *core.Job, cfg.QueueDepth),
		log:        cfg.Logger,
		done:       make(chan struct{}),
		terminated: make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		w := newWorker(i, p)
		if err := w.init(); err != nil {
			for _, prev := range p.workers {
				prev.closeVM()
			}
			return nil, err
		}
		p.workers = append(p.workers, w)
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	go func() {
		p.wg.Wait()
		close(p.terminated)
	}()

	return p, nil
}

// Submit enqueues a job and waits for its result. The caller suspends until
// a worker picks the job up and finishes; no lock is held while waiting.
func (p *Pool) Submit(ctx context.Context, script core.Script) (*core.ExecutionResult, error) {
	job := core.NewJob(script)

	select {
	case <-p.done:
		return nil, &core.PoolExhaustedError{Reason: "pool is closed"}
	case <-ctx.Done():
		return nil, waitErr(ctx)
	case p.jobs <- job:
	}

	select {
	case resp := <-job.Respond:
		return resp.Result, resp.Err
	case <-ctx.Done():
		// The worker still delivers into the buffered channel; the result
		// is simply abandoned.
		return nil, waitErr(ctx)
	case <-p.done:
		// Shutdown while queued or running. Workers finish their current
		// job before exiting, so wait for them and then check once more.
		<-p.terminated
		select {
		case resp := <-job.Respond:
			return resp.Result, resp.Err
		default:
			return nil, &core.PoolExhaustedError{Reason: "pool closed before job ran"}
		}
	}
}

// Close stops the workers and waits for the one job each may be executing.
// Jobs still queued are reported to their callers as failed, never dropped
// silently.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.terminated
	})
}

// Size reports the configured number of workers.
func (p *Pool) Size() int { return p.cfg.Workers }

func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.TimeoutError{}
	}
	return ctx.Err()
}
