// Package updater keeps the indexes of registered roots current. It owns the
// root registry, runs full scans, and processes the Work produced by the
// roots listener and by visibility reconciliation.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/cachefolder"
	"github.com/ZanzyTHEbar/root-indexer/ridx/config"
	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/crawler"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/watcher"
	"github.com/ZanzyTHEbar/root-indexer/ridx/indexstore"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
	"github.com/ZanzyTHEbar/root-indexer/ridx/timestamps"
	"github.com/ZanzyTHEbar/root-indexer/ridx/visibility"
	"github.com/ZanzyTHEbar/root-indexer/ridx/workpool"

	"golang.org/x/sync/errgroup"
)

// Option configures an Updater
type Option func(*Updater)

// WithQuery replaces the visibility query built from the configuration
func WithQuery(q visibility.Query) Option {
	return func(u *Updater) {
		u.query = q
	}
}

// WithListenerOptions passes options to the roots listener
func WithListenerOptions(opts ...watcher.ListenerOption) Option {
	return func(u *Updater) {
		u.listenerOpts = append(u.listenerOpts, opts...)
	}
}

// WithPoolOptions passes options to the binary work pool
func WithPoolOptions(opts ...workpool.Option) Option {
	return func(u *Updater) {
		u.poolOpts = append(u.poolOpts, opts...)
	}
}

// ScanResult summarizes a Scan
type ScanResult struct {
	Roots            int
	Indexed          int
	Deleted          int
	BinariesIndexed  []roots.Root
	BinariesFinished bool
	Duration         time.Duration
}

// Updater is the repository updater. It is safe for concurrent use.
type Updater struct {
	cfg      *config.Config
	provider *cachefolder.Provider
	store    indexstore.Provider

	registry   *roots.Registry
	query      visibility.Query
	visibility *visibility.Support
	suspend    *crawler.SuspendSupport
	binaries   *workpool.Pool
	eventLog   *eventlog.Log
	listener   *watcher.RootsListener
	queue      *workQueue

	listenerOpts []watcher.ListenerOption
	poolOpts     []workpool.Option

	crawlMetrics *common.CrawlMetrics
	poolMetrics  *common.PoolMetrics

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	locksMu    sync.Mutex
	locks      map[roots.Root]*sync.Mutex
	foreground map[roots.Root]int
	background map[roots.Root]*backgroundCrawl

	validation *common.ValidationUtils
	errorUtils *common.ErrorUtils
}

// New wires an Updater over provider and store. The roots listener only
// starts when the watcher is enabled in cfg.
func New(cfg *config.Config, provider *cachefolder.Provider, store indexstore.Provider, opts ...Option) (*Updater, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		cfg:          cfg,
		provider:     provider,
		store:        store,
		registry:     roots.NewRegistry(),
		suspend:      crawler.NewSuspendSupport(),
		crawlMetrics: &common.CrawlMetrics{},
		poolMetrics:  &common.PoolMetrics{},
		ctx:          ctx,
		cancel:       cancel,
		locks:        make(map[roots.Root]*sync.Mutex),
		foreground:   make(map[roots.Root]int),
		background:   make(map[roots.Root]*backgroundCrawl),
		validation:   common.NewValidationUtils(),
		errorUtils:   common.NewErrorUtils(),
	}
	for _, opt := range opts {
		opt(u)
	}

	var rules watcher.RuleInvalidator
	if u.query == nil {
		q, err := visibility.NewGitignoreQuery(cfg.Visibility.IgnoreFile, cfg.Visibility.Excludes)
		if err != nil {
			cancel()
			return nil, err
		}
		u.query, rules = q, q
	} else if r, ok := u.query.(watcher.RuleInvalidator); ok {
		rules = r
	}

	support, err := visibility.NewSupport(u.query, u,
		visibility.WithCacheSize(cfg.Visibility.CacheSize),
		visibility.WithDebounce(cfg.Visibility.Debounce()))
	if err != nil {
		cancel()
		return nil, err
	}
	u.visibility = support

	poolOpts := append([]workpool.Option{
		workpool.WithMinProcessors(cfg.Indexer.Binaries.MinProcessors),
		workpool.WithConcurrencyDisabled(cfg.Indexer.Binaries.DisableConcurrency),
		workpool.WithMetrics(u.poolMetrics),
	}, u.poolOpts...)
	u.binaries = workpool.New(poolOpts...)

	u.eventLog = eventlog.NewLog(u)
	if cfg.Watcher.Enabled {
		listenerOpts := u.listenerOpts
		if rules != nil {
			listenerOpts = append([]watcher.ListenerOption{watcher.WithRules(rules)}, listenerOpts...)
		}
		l, err := watcher.NewRootsListener(u.eventLog, listenerOpts...)
		if err != nil {
			support.Close()
			cancel()
			return nil, err
		}
		u.listener = l
	}

	workers := cfg.Indexer.Workers
	if workers <= 0 {
		workers = 1
	}
	u.queue = newWorkQueue(workers, u.process)
	return u, nil
}

// Track starts tracking root without crawling it. Callers that Scan right
// after registering use it, so the Scan does the first crawl and counts it.
func (u *Updater) Track(root roots.Root, kind roots.Kind) error {
	if u.closed.Load() {
		return fmt.Errorf("cannot register %s: %w", root, common.ErrClosed)
	}
	if _, ok := root.Path(); !ok && kind == roots.KindSource {
		return fmt.Errorf("%s: %w", root, common.ErrNotLocalRoot)
	}
	u.registry.Register(root, kind)
	if kind == roots.KindSource {
		u.syncWatches()
	}
	slog.Info("Root registered", "root", root, "kind", kind)
	return nil
}

// RegisterSourceRoot starts tracking a local source root and schedules its
// first crawl
func (u *Updater) RegisterSourceRoot(root roots.Root) error {
	if err := u.Track(root, roots.KindSource); err != nil {
		return err
	}
	u.Schedule(eventlog.NewWork(root, eventlog.OpRefresh))
	return nil
}

// RegisterBinaryRoot starts tracking a binary root and queues it for indexing
func (u *Updater) RegisterBinaryRoot(root roots.Root) error {
	if err := u.Track(root, roots.KindBinary); err != nil {
		return err
	}
	u.MarkDirty(root)
	return nil
}

// Unregister stops tracking root. With purge its slice and stored documents
// are dropped as well; otherwise they stay for a later registration.
func (u *Updater) Unregister(ctx context.Context, root roots.Root, purge bool) error {
	kind, ok := u.registry.KindOf(root)
	if !ok {
		return fmt.Errorf("%s: %w", root, common.ErrRootNotRegistered)
	}
	u.registry.Unregister(root)
	u.syncWatches()
	slog.Info("Root unregistered", "root", root, "purge", purge)
	if !purge {
		return nil
	}

	unlock := u.lockRoot(root)
	defer unlock()
	if kind == roots.KindBinary {
		return u.errorUtils.WrapError(u.store.DeleteBinary(ctx, root), "failed to purge binary %s", root)
	}
	if err := u.store.DeleteRoot(ctx, root); err != nil {
		return u.errorUtils.WrapError(err, "failed to purge %s", root)
	}
	u.provider.RemoveSlice(root)
	return nil
}

// Roots returns the registered source and binary roots
func (u *Updater) Roots() (sources, binaries []roots.Root) {
	sources, binaries = u.registry.Sources(), u.registry.Binaries()
	roots.Sort(sources)
	roots.Sort(binaries)
	return sources, binaries
}

func (u *Updater) syncWatches() {
	if u.listener == nil {
		return
	}
	added, removed := u.listener.SetRoots(u.registry.Sources())
	if len(added)+len(removed) > 0 {
		slog.Debug("Watches updated", "added", len(added), "removed", len(removed))
	}
}

// Scan crawls every source root and indexes every binary root. Source roots
// are crawled in parallel up to the configured worker count. Queued work is
// suspended while the scan runs; refreshes it already covers are dropped.
func (u *Updater) Scan(ctx context.Context) (ScanResult, error) {
	if u.closed.Load() {
		return ScanResult{}, fmt.Errorf("cannot scan: %w", common.ErrClosed)
	}
	start := time.Now()
	sources := u.registry.Sources()
	res := ScanResult{Roots: len(sources)}

	u.suspend.Suspend()
	defer u.suspend.Resume()
	ctx = crawler.WithExempt(ctx)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(u.cfg.Indexer.Workers, 1))
	for _, root := range sources {
		root := root
		g.Go(func() error {
			if err := u.validation.ValidateContextCancellation(gctx); err != nil {
				return err
			}
			taken := u.queue.take(root, eventlog.OpRefresh)
			indexed, deleted, finished := u.crawlForeground(gctx, root)
			mu.Lock()
			res.Indexed += indexed
			res.Deleted += deleted
			mu.Unlock()
			if !finished {
				u.Schedule(taken...)
				if err := gctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	bins := u.registry.Binaries()
	var taken []*eventlog.Work
	for _, root := range bins {
		taken = append(taken, u.queue.take(root, eventlog.OpRefresh)...)
	}
	u.registry.TakeDirty()
	res.BinariesFinished, res.BinariesIndexed = u.indexBinaries(ctx, bins)
	if !res.BinariesFinished {
		u.Schedule(taken...)
	}
	res.Duration = time.Since(start)
	slog.Info("Scan finished",
		"roots", res.Roots,
		"indexed", res.Indexed,
		"deleted", res.Deleted,
		"binaries", len(res.BinariesIndexed),
		"duration", res.Duration)
	return res, ctx.Err()
}

// Schedule queues works for the worker pool. Works of the same root run in
// order, one at a time.
func (u *Updater) Schedule(works ...*eventlog.Work) {
	if len(works) == 0 {
		return
	}
	u.queue.push(works...)
}

// Wait blocks until all scheduled work has been processed
func (u *Updater) Wait(ctx context.Context) error {
	return u.queue.wait(ctx)
}

// OwnerOf returns the registered root enclosing path
func (u *Updater) OwnerOf(path string) (roots.Root, roots.Kind, bool) {
	root, ok := u.registry.OwnerOf(path)
	if !ok {
		return "", 0, false
	}
	kind, ok := u.registry.KindOf(root)
	return root, kind, ok
}

// MarkDirty queues a binary root for re-indexing
func (u *Updater) MarkDirty(root roots.Root) {
	u.registry.MarkDirty(root)
	dirty := u.registry.TakeDirty()
	works := make([]*eventlog.Work, 0, len(dirty))
	for _, r := range dirty {
		works = append(works, eventlog.NewWork(r, eventlog.OpRefresh))
	}
	u.Schedule(works...)
}

// Refresh re-crawls every source root and re-indexes every binary root
func (u *Updater) Refresh() {
	all := u.registry.All()
	roots.Sort(all)
	works := make([]*eventlog.Work, 0, len(all))
	for _, root := range all {
		works = append(works, eventlog.NewWork(root, eventlog.OpRefresh))
	}
	slog.Debug("Refreshing all roots", "roots", len(works))
	u.Schedule(works...)
}

// Suspend pauses background crawls until the matching Resume
func (u *Updater) Suspend() {
	u.suspend.Suspend()
}

// Resume undoes one Suspend
func (u *Updater) Resume() {
	u.suspend.Resume()
}

// Visibility exposes the memoized visibility answers
func (u *Updater) Visibility() *visibility.Support {
	return u.visibility
}

// Flush commits pending listener batches and visibility reconciliation
func (u *Updater) Flush() {
	if u.listener != nil {
		u.listener.Flush()
	}
	u.visibility.Flush()
}

// Metrics returns crawl and binary pool counters
func (u *Updater) Metrics() map[string]interface{} {
	sources := map[string]common.PerformanceMetrics{
		"crawl":    u.crawlMetrics,
		"binaries": u.poolMetrics,
	}
	out := make(map[string]interface{}, len(sources))
	for name, m := range sources {
		out[name] = m.GetMetrics()
	}
	return out
}

// Close stops listening, cancels running crawls and stops the workers.
// The provider and store stay open; they belong to the caller. Later calls
// are no-ops.
func (u *Updater) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if u.listener != nil {
		err = u.listener.Close()
	}
	u.visibility.Close()
	u.cancel()
	u.queue.close()
	u.provider.Flush()
	return err
}

func (u *Updater) lockRoot(root roots.Root) func() {
	u.locksMu.Lock()
	l, ok := u.locks[root]
	if !ok {
		l = &sync.Mutex{}
		u.locks[root] = l
	}
	u.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// backgroundCrawl is a queued crawl holding its root's lock
type backgroundCrawl struct {
	cancel    context.CancelFunc
	preempted bool
}

// crawlForeground crawls all of root for Scan. A queued crawl holding the
// root is cancelled first: it may be parked behind the scan's own suspend.
func (u *Updater) crawlForeground(ctx context.Context, root roots.Root) (int, int, bool) {
	u.locksMu.Lock()
	u.foreground[root]++
	if b, ok := u.background[root]; ok {
		b.preempted = true
		b.cancel()
	}
	u.locksMu.Unlock()

	unlock := u.lockRoot(root)
	defer unlock()
	defer func() {
		u.locksMu.Lock()
		if u.foreground[root]--; u.foreground[root] == 0 {
			delete(u.foreground, root)
		}
		u.locksMu.Unlock()
	}()
	return u.crawlRoot(ctx, root, nil)
}

// crawlQueued crawls root, or only paths, for a queued Work. It reports
// false when a foreground crawl took the root over; the Work must then run
// again.
func (u *Updater) crawlQueued(root roots.Root, paths []string) bool {
	unlock := u.lockRoot(root)
	defer unlock()

	ctx, cancel := context.WithCancel(u.ctx)
	defer cancel()
	b := &backgroundCrawl{cancel: cancel}
	u.locksMu.Lock()
	if u.foreground[root] > 0 {
		u.locksMu.Unlock()
		return false
	}
	u.background[root] = b
	u.locksMu.Unlock()

	u.crawlRoot(ctx, root, paths)

	u.locksMu.Lock()
	defer u.locksMu.Unlock()
	delete(u.background, root)
	return !b.preempted
}

// process runs one Work on a worker
func (u *Updater) process(w *eventlog.Work) {
	kind, ok := u.registry.KindOf(w.Root)
	if !ok {
		slog.Debug("Dropping work for unregistered root", "work", w)
		return
	}
	slog.Debug("Processing work", "work", w)

	if kind == roots.KindBinary {
		u.indexBinaries(u.ctx, []roots.Root{w.Root})
		return
	}

	crawl := func(paths []string) {
		if !u.crawlQueued(w.Root, paths) {
			slog.Debug("Work preempted by a scan, requeued", "work", w)
			u.Schedule(w)
		}
	}

	var paths []string
	for _, p := range w.Paths {
		if p == "" && w.Op == eventlog.OpCreate {
			// the root folder itself
			crawl(nil)
			return
		}
		if err := u.validation.ValidateRelativePath(p); err != nil {
			slog.Debug("Dropping invalid work path", "work", w, "path", p, "error", err)
			continue
		}
		paths = append(paths, p)
	}
	if w.Op != eventlog.OpRefresh && len(paths) == 0 {
		return
	}

	switch w.Op {
	case eventlog.OpRefresh:
		crawl(nil)
	case eventlog.OpCreate:
		crawl(paths)
	case eventlog.OpDelete:
		u.deletePaths(u.ctx, w.Root, paths)
	}
}

// crawlRoot crawls root, or only paths when given, and pushes the outcome to
// the store. The caller holds the root's lock. It reports indexed and deleted
// counts and whether the crawl finished. TimeStamps are only stored when the
// store accepted the results.
func (u *Updater) crawlRoot(ctx context.Context, root roots.Root, paths []string) (int, int, bool) {
	rootDir, ok := root.Path()
	if !ok {
		return 0, 0, false
	}
	slice, err := u.provider.GetOrCreateSlice(root, cachefolder.ModeCreate)
	if err != nil {
		slog.Warn("No cache slice for root", "root", root, "error", err)
		return 0, 0, false
	}
	dir, err := slice.Dir()
	if err != nil {
		slog.Warn("Cache slice unusable", "root", root, "error", err)
		return 0, 0, false
	}

	var info indexstore.ScanInfo
	rebuild := false
	if observer, ok := u.store.(indexstore.ScanObserver); ok {
		if !observer.ScanStarted(ctx, root) {
			// the store lost what earlier crawls gave it
			rebuild, paths = true, nil
		}
		defer func() { observer.ScanFinished(ctx, root, info) }()
	}

	full := len(paths) == 0
	detect := full && u.cfg.Indexer.DetectDeletedFiles
	ts := timestamps.Load(dir, detect)
	info.AllFiles = full && (rebuild || ts.Fresh())

	var files []string
	for _, p := range paths {
		files = append(files, filepath.Join(rootDir, filepath.FromSlash(p)))
	}
	c, err := crawler.NewFileObjectCrawler(root, crawler.Options{
		Files:              files,
		DetectDeletedFiles: detect,
		Visibility:         u.visibility,
		Cancel:             func() bool { return ctx.Err() != nil },
		Suspend:            u.suspend,
		TimeStamps:         ts,
		Metrics:            u.crawlMetrics,
	})
	if err != nil {
		slog.Warn("Cannot crawl root", "root", root, "error", err)
		return 0, 0, false
	}
	res := c.Collect(ctx)
	if !res.Finished {
		slog.Debug("Crawl cancelled, results dropped", "root", root)
		return 0, 0, false
	}

	toIndex := res.ToIndex
	if info.AllFiles {
		toIndex = res.AllKnown
	}
	var deleted []string
	for _, d := range res.Deleted {
		deleted = append(deleted, d.RelativePath())
	}
	if !full {
		deleted = append(deleted, staleEntries(ts, paths, res.AllKnown)...)
	}

	if err := u.store.Index(ctx, root, toIndex); err != nil {
		u.errorUtils.LogAndSwallow(err, slog.LevelWarn, "Indexing failed, root will be rescanned", "root", root)
		return 0, 0, true
	}
	info.Indexed = len(toIndex)
	if len(deleted) > 0 {
		if err := u.store.Delete(ctx, root, deleted); err != nil {
			u.errorUtils.LogAndSwallow(err, slog.LevelWarn, "Removing deleted files failed", "root", root)
			return len(toIndex), 0, true
		}
		ts.Remove(deleted)
	}
	ts.Store()
	info.Deleted, info.Finished = len(deleted), true
	slog.Debug("Root updated", "root", root, "indexed", len(toIndex), "deleted", len(deleted),
		"full", full, "allFiles", info.AllFiles)
	return len(toIndex), len(deleted), true
}

// staleEntries lists stored entries under paths that a constrained crawl
// did not see: files removed or hidden since the last crawl
func staleEntries(ts *timestamps.TimeStamps, paths []string, known []crawler.Indexable) []string {
	seen := make(map[string]struct{}, len(known))
	for _, k := range known {
		seen[k.RelativePath()] = struct{}{}
	}
	var stale []string
	for _, p := range paths {
		for _, e := range ts.EnclosedFiles(p) {
			if _, ok := seen[e]; !ok {
				stale = append(stale, e)
			}
		}
	}
	return stale
}

// deletePaths drops paths and everything stored below them
func (u *Updater) deletePaths(ctx context.Context, root roots.Root, paths []string) {
	unlock := u.lockRoot(root)
	defer unlock()

	slice, err := u.provider.GetOrCreateSlice(root, cachefolder.ModeExistent)
	if err != nil {
		slog.Debug("Nothing indexed for root", "root", root)
		return
	}
	ts := timestamps.Load(slice.Path(), false)

	seen := make(map[string]struct{})
	var removed []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			removed = append(removed, p)
		}
	}
	for _, p := range paths {
		add(p)
		for _, e := range ts.EnclosedFiles(p) {
			add(e)
		}
	}

	if err := u.store.Delete(ctx, root, removed); err != nil {
		u.errorUtils.LogAndSwallow(err, slog.LevelWarn, "Removing files failed", "root", root)
		return
	}
	ts.Remove(removed)
	ts.Store()
	slog.Debug("Paths removed", "root", root, "count", len(removed))
}

// indexBinaries runs the binary pool over bins
func (u *Updater) indexBinaries(ctx context.Context, bins []roots.Root) (bool, []roots.Root) {
	if len(bins) == 0 {
		return true, nil
	}
	task := func(ctx context.Context, root roots.Root) bool {
		if err := u.store.IndexBinary(ctx, root); err != nil {
			slog.Warn("Binary root not indexed", "root", root, "error", err)
			return false
		}
		return true
	}
	return u.binaries.Execute(ctx, task, func() bool { return ctx.Err() != nil }, bins)
}
