package visibility

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/watcher"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 10000
	defaultDebounce  = time.Second
)

// Host is the indexer side of reconciliation
type Host interface {
	eventlog.Scheduler
	// OwnerOf returns the registered root enclosing path
	OwnerOf(path string) (roots.Root, roots.Kind, bool)
	// MarkDirty queues a binary root for wholesale re-indexing
	MarkDirty(root roots.Root)
	// Refresh re-crawls every root
	Refresh()
}

// Option configures a Support
type Option func(*Support)

// WithCacheSize bounds the memo
func WithCacheSize(n int) Option {
	return func(s *Support) {
		s.cacheSize = n
	}
}

// WithDebounce sets the reconciliation window
func WithDebounce(d time.Duration) Option {
	return func(s *Support) {
		s.debounce = d
	}
}

// Support memoizes visibility answers and reconciles indexes when the rules
// change. The memo is bounded and safe for concurrent crawls.
type Support struct {
	query     Query
	host      Host
	cacheSize int
	debounce  time.Duration

	memo      *lru.Cache[string, bool]
	task      *watcher.Task
	pathUtils *common.PathUtils

	mu      sync.Mutex
	global  bool
	changed map[string]struct{}
}

// NewSupport creates a Support over query and subscribes to its changes
func NewSupport(query Query, host Host, opts ...Option) (*Support, error) {
	s := &Support{
		query:     query,
		host:      host,
		cacheSize: defaultCacheSize,
		debounce:  defaultDebounce,
		pathUtils: common.NewPathUtils(),
		changed:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	memo, err := lru.New[string, bool](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create visibility cache: %w", err)
	}
	s.memo = memo
	s.task = watcher.NewTask(s.debounce, s.reconcile)
	query.Subscribe(s.onChange)
	return s, nil
}

// IsVisible reports whether file under rootDir is visible. Ancestors between
// the root and file are consulted top-down and cached; an invisible ancestor
// hides everything below it.
func (s *Support) IsVisible(file, rootDir string) bool {
	file = filepath.Clean(file)
	rootDir = filepath.Clean(rootDir)
	if file == rootDir {
		return true
	}
	if !s.pathUtils.IsSubpath(rootDir, file) {
		return s.lookup(file)
	}

	// chain runs from file upward to the nearest cached ancestor
	var chain []string
	for p := file; p != rootDir; p = filepath.Dir(p) {
		if v, ok := s.memo.Get(p); ok {
			if !v {
				for _, c := range chain {
					s.memo.Add(c, false)
				}
				return false
			}
			break
		}
		chain = append(chain, p)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if !s.query.IsVisible(chain[i]) {
			for j := i; j >= 0; j-- {
				s.memo.Add(chain[j], false)
			}
			return false
		}
		s.memo.Add(chain[i], true)
	}
	return true
}

func (s *Support) lookup(file string) bool {
	if v, ok := s.memo.Get(file); ok {
		return v
	}
	v := s.query.IsVisible(file)
	s.memo.Add(file, v)
	return v
}

func (s *Support) onChange(ev ChangeEvent) {
	s.memo.Purge()

	s.mu.Lock()
	if ev.Global {
		s.global = true
	}
	for _, f := range ev.Files {
		s.changed[filepath.Clean(f)] = struct{}{}
	}
	s.mu.Unlock()

	slog.Debug("Visibility changed", "global", ev.Global, "files", len(ev.Files))
	s.task.Schedule()
}

// reconcile turns accumulated changes into work. A global change refreshes
// everything; local changes become per-root add and delete work, and mark
// binary roots dirty.
func (s *Support) reconcile() {
	s.mu.Lock()
	global, changed := s.global, s.changed
	s.global, s.changed = false, make(map[string]struct{})
	s.mu.Unlock()

	if global {
		slog.Debug("Visibility reconciliation: full refresh")
		s.host.Refresh()
		return
	}
	if len(changed) == 0 {
		return
	}

	files := make([]string, 0, len(changed))
	for f := range changed {
		files = append(files, f)
	}
	sort.Strings(files)

	type rootWork struct {
		added, removed []string
	}
	perRoot := make(map[roots.Root]*rootWork)
	var order []roots.Root
	var refreshed []*eventlog.Work

	for _, file := range files {
		root, kind, ok := s.host.OwnerOf(file)
		if !ok {
			continue
		}
		if kind == roots.KindBinary {
			s.host.MarkDirty(root)
			continue
		}
		rootDir, ok := root.Path()
		if !ok {
			continue
		}
		rel, err := s.pathUtils.RelativePath(rootDir, file)
		if err != nil {
			continue
		}
		if rel == "" {
			refreshed = append(refreshed, eventlog.NewWork(root, eventlog.OpRefresh))
			continue
		}

		rw, ok := perRoot[root]
		if !ok {
			rw = &rootWork{}
			perRoot[root] = rw
			order = append(order, root)
		}
		if s.IsVisible(file, rootDir) {
			rw.added = append(rw.added, rel)
		} else {
			rw.removed = append(rw.removed, rel)
		}
	}

	var deletes, creates []*eventlog.Work
	for _, root := range order {
		rw := perRoot[root]
		if len(rw.removed) > 0 {
			deletes = append(deletes, eventlog.NewWork(root, eventlog.OpDelete, rw.removed...))
		}
		if len(rw.added) > 0 {
			creates = append(creates, eventlog.NewWork(root, eventlog.OpCreate, rw.added...))
		}
	}
	slog.Debug("Visibility reconciliation", "files", len(files), "deleteWork", len(deletes), "createWork", len(creates))
	if len(deletes) > 0 {
		s.host.Schedule(deletes...)
	}
	if len(creates)+len(refreshed) > 0 {
		s.host.Schedule(append(creates, refreshed...)...)
	}
}

// Flush runs a pending reconciliation now
func (s *Support) Flush() {
	s.task.Flush()
}

// Close drops pending reconciliation
func (s *Support) Close() {
	s.task.Stop()
}
