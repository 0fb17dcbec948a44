// Package workpool runs independent per-binary-root indexing tasks either
// sequentially or with bounded concurrency.
package workpool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/RoaringBitmap/roaring"
	"github.com/sourcegraph/conc/pool"
)

const defaultMinProcessors = 4

// Task indexes one binary root and reports success
type Task func(ctx context.Context, root roots.Root) bool

// Pool picks an execution strategy per Execute call
type Pool struct {
	minProcessors int
	disabled      bool
	maxWorkers    int
	numCPU        func() int
	metrics       *common.PoolMetrics
}

// Option configures a Pool
type Option func(*Pool)

// WithMinProcessors sets the processor count required for concurrency
func WithMinProcessors(n int) Option {
	return func(p *Pool) {
		p.minProcessors = n
	}
}

// WithConcurrencyDisabled forces the sequential strategy
func WithConcurrencyDisabled(disabled bool) Option {
	return func(p *Pool) {
		p.disabled = disabled
	}
}

// WithMaxWorkers bounds the concurrent strategy. Defaults to the CPU count.
func WithMaxWorkers(n int) Option {
	return func(p *Pool) {
		p.maxWorkers = n
	}
}

// WithMetrics records every Execute call
func WithMetrics(m *common.PoolMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

func withNumCPU(fn func() int) Option {
	return func(p *Pool) {
		p.numCPU = fn
	}
}

// New creates a Pool
func New(opts ...Option) *Pool {
	p := &Pool{
		minProcessors: defaultMinProcessors,
		numCPU:        runtime.NumCPU,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Concurrent reports whether n tasks would run concurrently
func (p *Pool) Concurrent(n int) bool {
	return !p.disabled && n >= 2 && p.numCPU() >= p.minProcessors
}

// Execute runs task for every binary. It returns whether the batch was not
// cancelled and completed, and the roots whose task succeeded.
//
// The sequential strategy stops at the first failed or cancelled task. The
// concurrent strategy submits every task and drains all of them, so the
// returned roots are exact; its success flag comes from cancel alone.
func (p *Pool) Execute(ctx context.Context, task Task, cancel func() bool, binaries []roots.Root) (bool, []roots.Root) {
	if cancel == nil {
		cancel = func() bool { return false }
	}
	concurrent := p.Concurrent(len(binaries))

	var (
		ok      bool
		indexed []roots.Root
	)
	if concurrent {
		ok, indexed = p.executeConcurrent(ctx, task, cancel, binaries)
	} else {
		ok, indexed = p.executeSequential(ctx, task, cancel, binaries)
	}

	if p.metrics != nil {
		p.metrics.Record(concurrent, ok, len(indexed))
	}
	slog.Debug("Binary work pool finished",
		"concurrent", concurrent,
		"binaries", len(binaries),
		"indexed", len(indexed),
		"allSucceeded", ok)
	return ok, indexed
}

func (p *Pool) executeSequential(ctx context.Context, task Task, cancel func() bool, binaries []roots.Root) (bool, []roots.Root) {
	indexed := make([]roots.Root, 0, len(binaries))
	for _, root := range binaries {
		if cancel() || ctx.Err() != nil {
			return false, indexed
		}
		if !task(ctx, root) {
			return false, indexed
		}
		indexed = append(indexed, root)
	}
	return !cancel(), indexed
}

func (p *Pool) executeConcurrent(ctx context.Context, task Task, cancel func() bool, binaries []roots.Root) (bool, []roots.Root) {
	workers := p.maxWorkers
	if workers <= 0 {
		workers = p.numCPU()
	}

	var (
		mu        sync.Mutex
		succeeded = roaring.New()
	)
	wp := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for i, root := range binaries {
		i, root := i, root
		wp.Go(func(ctx context.Context) error {
			if cancel() || ctx.Err() != nil {
				return nil
			}
			if task(ctx, root) {
				mu.Lock()
				succeeded.Add(uint32(i))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = wp.Wait()

	indexed := make([]roots.Root, 0, succeeded.GetCardinality())
	it := succeeded.Iterator()
	for it.HasNext() {
		indexed = append(indexed, binaries[it.Next()])
	}
	return !cancel() && ctx.Err() == nil, indexed
}
