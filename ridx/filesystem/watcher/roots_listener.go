package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/fsnotify/fsnotify"
)

const defaultQuietPeriod = 100 * time.Millisecond

// ListenerOption configures a RootsListener
type ListenerOption func(*RootsListener)

// WithQuietPeriod sets how long event delivery must pause before a batch
// is committed to the event log
func WithQuietPeriod(d time.Duration) ListenerOption {
	return func(l *RootsListener) {
		l.quiet = d
	}
}

// WithRules forwards changes of rule files to r
func WithRules(r RuleInvalidator) ListenerOption {
	return func(l *RootsListener) {
		l.rules = r
	}
}

// RootsListener keeps fsnotify watches on every folder of the registered
// local roots and feeds the resulting changes into the event log. Events
// arriving close together form one delivery.
type RootsListener struct {
	watcher *fsnotify.Watcher
	log     *eventlog.Log
	rules   RuleInvalidator
	quiet   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	roots    map[roots.Root]string // root -> local dir
	delivery *eventlog.Delivery
	endBatch *Task

	pathUtils *common.PathUtils
}

// NewRootsListener creates a listener feeding log and starts its event loop
func NewRootsListener(log *eventlog.Log, opts ...ListenerOption) (*RootsListener, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &RootsListener{
		watcher:   fsWatcher,
		log:       log,
		quiet:     defaultQuietPeriod,
		ctx:       ctx,
		cancel:    cancel,
		roots:     make(map[roots.Root]string),
		pathUtils: common.NewPathUtils(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.endBatch = NewTask(l.quiet, l.finishDelivery)

	l.wg.Add(1)
	go l.watchLoop()
	return l, nil
}

// Add starts watching root. Non-local roots are ignored.
func (l *RootsListener) Add(root roots.Root) error {
	dir, ok := root.Path()
	if !ok {
		slog.Debug("Not watching non-local root", "root", root)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, watched := l.roots[root]; watched {
		return nil
	}
	if err := l.addPathRecursive(dir); err != nil {
		return fmt.Errorf("failed to watch root %s: %w", root, err)
	}
	l.roots[root] = dir
	slog.Debug("Watching root", "root", root)
	return nil
}

// Remove stops watching root
func (l *RootsListener) Remove(root roots.Root) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(root)
}

func (l *RootsListener) removeLocked(root roots.Root) {
	dir, ok := l.roots[root]
	if !ok {
		return
	}
	delete(l.roots, root)

	// folders still covered by another root keep their watch
	for _, w := range l.watcher.WatchList() {
		if w != dir && !l.pathUtils.IsSubpath(dir, w) {
			continue
		}
		if _, owner := l.ownerLocked(w); owner != "" {
			continue
		}
		if err := l.watcher.Remove(w); err != nil {
			slog.Debug("Failed to remove watch", "path", w, "error", err)
		}
	}
	slog.Debug("Stopped watching root", "root", root)
}

// SetRoots reconciles the watched set with desired: new roots are added,
// roots no longer desired are removed.
func (l *RootsListener) SetRoots(desired []roots.Root) (added, removed []roots.Root) {
	want := make(map[roots.Root]struct{}, len(desired))
	for _, r := range desired {
		want[r] = struct{}{}
	}

	l.mu.Lock()
	for r := range l.roots {
		if _, ok := want[r]; !ok {
			l.removeLocked(r)
			removed = append(removed, r)
		}
	}
	current := make(map[roots.Root]struct{}, len(l.roots))
	for r := range l.roots {
		current[r] = struct{}{}
	}
	l.mu.Unlock()

	for _, r := range desired {
		if _, ok := current[r]; ok {
			continue
		}
		if err := l.Add(r); err != nil {
			slog.Warn("Failed to watch root", "root", r, "error", err)
			continue
		}
		if _, local := r.Path(); local {
			added = append(added, r)
		}
	}
	roots.Sort(added)
	roots.Sort(removed)
	return added, removed
}

// Roots returns the watched roots
func (l *RootsListener) Roots() []roots.Root {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]roots.Root, 0, len(l.roots))
	for r := range l.roots {
		out = append(out, r)
	}
	roots.Sort(out)
	return out
}

// Flush commits the current delivery without waiting for the quiet period
func (l *RootsListener) Flush() {
	l.endBatch.Flush()
}

// Close stops watching and commits the pending delivery
func (l *RootsListener) Close() error {
	l.cancel()
	if err := l.watcher.Close(); err != nil {
		slog.Warn("Error closing fsnotify watcher", "error", err)
	}
	l.wg.Wait()

	l.endBatch.Flush()
	l.endBatch.Stop()
	slog.Debug("Roots listener closed")
	return nil
}

// addPathRecursive adds a path and all its subdirectories to the watcher
func (l *RootsListener) addPathRecursive(rootPath string) error {
	if err := l.watcher.Add(rootPath); err != nil {
		return err
	}
	return filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("Skipping unreadable folder", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() && path != rootPath {
			if err := l.watcher.Add(path); err != nil {
				slog.Warn("Failed to add subdirectory to watcher", "path", path, "error", err)
			}
		}
		return nil
	})
}

// ownerLocked returns the root whose folder most closely encloses path
func (l *RootsListener) ownerLocked(path string) (roots.Root, string) {
	var (
		best    roots.Root
		bestDir string
	)
	for r, dir := range l.roots {
		if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
			continue
		}
		if len(dir) > len(bestDir) {
			best, bestDir = r, dir
		}
	}
	return best, bestDir
}

func (l *RootsListener) watchLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handle(event)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

func (l *RootsListener) handle(raw fsnotify.Event) {
	evType, ok := convertEventType(raw.Op)
	if !ok {
		return
	}
	path := filepath.Clean(raw.Name)

	l.mu.Lock()
	defer l.mu.Unlock()

	root, dir := l.ownerLocked(path)
	if dir == "" {
		return
	}
	rel, err := l.pathUtils.RelativePath(dir, path)
	if err != nil {
		return
	}
	ev := Event{Type: evType, Root: root, Path: path, Rel: rel, Timestamp: time.Now()}

	if evType == EventCreate {
		// new folders need their own watches; files inside them may already exist
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			if err := l.addPathRecursive(path); err != nil {
				slog.Debug("Failed to watch new folder", "path", path, "error", err)
			}
		}
	}
	if l.rules != nil && l.rules.IsRuleFile(path) {
		l.rules.Invalidate(path)
	}

	op, ok := ev.Operation()
	if !ok {
		return
	}
	if l.delivery == nil {
		l.delivery = l.log.BeginDelivery()
	}
	l.delivery.Record(op, root, rel, eventlog.NewWork(root, op, rel))
	l.endBatch.Schedule()
}

func (l *RootsListener) finishDelivery() {
	l.mu.Lock()
	d := l.delivery
	l.delivery = nil
	l.mu.Unlock()

	if d != nil {
		d.Done()
	}
}
