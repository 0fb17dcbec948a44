// Package cachefolder maps roots to stable on-disk slice directories and
// persists the mapping in a segments file inside the cache root.
package cachefolder

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/watcher"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/armon/go-radix"
)

const (
	// SegmentsFileName is the segments table inside the cache root
	SegmentsFileName = "segments"
	slicePrefix      = "s"
	defaultSaveDelay = 500 * time.Millisecond
)

// Mode selects whether a missing slice is allocated
type Mode int

const (
	// ModeCreate allocates a slice when none is bound to the root
	ModeCreate Mode = iota
	// ModeExistent only returns slices that are already bound
	ModeExistent
)

// Slice is the storage directory bound to one root
type Slice struct {
	name string
	dir  string
	root roots.Root
}

// Name returns the stable slice name, e.g. "s12"
func (s *Slice) Name() string { return s.name }

// Root returns the root the slice is bound to
func (s *Slice) Root() roots.Root { return s.root }

// Dir returns the slice directory, creating it if needed
func (s *Slice) Dir() (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create slice %s: %w", s.name, err)
	}
	return s.dir, nil
}

// Path returns the slice directory without touching the disk
func (s *Slice) Path() string { return s.dir }

// Option configures a Provider
type Option func(*Provider)

// WithSaveDelay overrides the segments save window
func WithSaveDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.saveDelay = d
	}
}

// Provider owns the segments table of one cache root. Create one per process
// and share it; tests create independent instances.
type Provider struct {
	cacheRoot    string
	segmentsFile string
	saveDelay    time.Duration
	fileUtils    *common.FileUtils

	mu      sync.Mutex
	loaded  bool
	bySlice map[string]roots.Root
	byRoot  *radix.Tree // root URL -> slice name
	counter int

	save *watcher.Task
}

// NewProvider opens the cache root. A cache root that cannot be created, read
// and written is a structural misconfiguration and fails here rather than on
// every later call.
func NewProvider(cacheRoot string, opts ...Option) (*Provider, error) {
	if cacheRoot == "" {
		return nil, fmt.Errorf("%w: empty path", common.ErrCacheRootNotWritable)
	}
	abs, err := filepath.Abs(cacheRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCacheRootNotWritable, err)
	}
	fu := common.NewFileUtils()
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCacheRootNotWritable, err)
	}
	if err := fu.CheckReadWrite(abs); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCacheRootNotWritable, err)
	}

	p := &Provider{
		cacheRoot:    abs,
		segmentsFile: filepath.Join(abs, SegmentsFileName),
		saveDelay:    defaultSaveDelay,
		fileUtils:    fu,
		bySlice:      make(map[string]roots.Root),
		byRoot:       radix.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.save = watcher.NewTask(p.saveDelay, p.storeSegments)

	slog.Debug("Cache folder provider opened", "cacheRoot", abs)
	return p, nil
}

// CacheRoot returns the absolute cache root directory
func (p *Provider) CacheRoot() string {
	return p.cacheRoot
}

// GetOrCreateSlice returns the slice bound to root, allocating one in
// ModeCreate. ModeExistent returns ErrSliceNotFound for unbound roots.
func (p *Provider) GetOrCreateSlice(root roots.Root, mode Mode) (*Slice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	if name, ok := p.byRoot.Get(string(root)); ok {
		return p.slice(name.(string), root), nil
	}
	if mode == ModeExistent {
		return nil, fmt.Errorf("%s: %w", root, common.ErrSliceNotFound)
	}

	name := p.allocateName()
	p.bySlice[name] = root
	p.byRoot.Insert(string(root), name)
	p.save.Schedule()

	s := p.slice(name, root)
	if _, err := s.Dir(); err != nil {
		return nil, err
	}
	slog.Debug("Allocated cache slice", "root", root, "slice", name)
	return s, nil
}

// GetRootForSlice returns the root bound to the named slice
func (p *Provider) GetRootForSlice(name string) (roots.Root, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	root, ok := p.bySlice[name]
	return root, ok
}

// FindRootsUnderFolder returns every bound root equal to or below folder
func (p *Provider) FindRootsUnderFolder(folder roots.Root) []roots.Root {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	prefix := strings.TrimSuffix(string(folder), "/")
	var out []roots.Root
	p.byRoot.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		if r := roots.Root(key); r.IsUnder(folder) {
			out = append(out, r)
		}
		return false
	})
	return out
}

// RemoveSlice unbinds root. The slice name is retired and its directory is
// left on disk so the name is never handed out again.
func (p *Provider) RemoveSlice(root roots.Root) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	name, ok := p.byRoot.Delete(string(root))
	if !ok {
		return false
	}
	delete(p.bySlice, name.(string))
	p.save.Schedule()
	return true
}

// Bindings returns a copy of the slice name to root table
func (p *Provider) Bindings() map[string]roots.Root {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureLoaded()

	out := make(map[string]roots.Root, len(p.bySlice))
	for k, v := range p.bySlice {
		out[k] = v
	}
	return out
}

// Flush writes a pending segments save immediately
func (p *Provider) Flush() {
	p.save.Flush()
}

// Close flushes pending state and stops background saves
func (p *Provider) Close() error {
	p.save.Flush()
	p.save.Stop()
	return nil
}

func (p *Provider) slice(name string, root roots.Root) *Slice {
	return &Slice{name: name, dir: filepath.Join(p.cacheRoot, name), root: root}
}

// allocateName picks the next counter value, skipping names bound in the
// table or present on disk. Called with mu held.
func (p *Provider) allocateName() string {
	for {
		name := slicePrefix + strconv.Itoa(p.counter)
		p.counter++
		if _, taken := p.bySlice[name]; taken {
			continue
		}
		if _, err := os.Lstat(filepath.Join(p.cacheRoot, name)); err == nil {
			continue
		}
		return name
	}
}

// ensureLoaded reads the segments table once. Called with mu held.
func (p *Provider) ensureLoaded() {
	if p.loaded {
		return
	}
	p.loaded = true

	f, err := os.Open(p.segmentsFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Cannot read segments file, starting empty", "path", p.segmentsFile, "error", err)
		}
		return
	}
	defer f.Close()

	props, err := common.ParseProperties(f)
	if err != nil {
		slog.Warn("Segments file partially read", "path", p.segmentsFile, "error", err)
	}
	for _, prop := range props {
		n, ok := sliceNumber(prop.Key)
		if !ok || prop.Value == "" {
			slog.Warn("Skipping malformed segments entry", "line", prop.Line, "key", prop.Key)
			continue
		}
		if _, dup := p.byRoot.Get(prop.Value); dup {
			slog.Warn("Skipping duplicate root binding", "line", prop.Line, "root", prop.Value)
			continue
		}
		p.bySlice[prop.Key] = roots.Root(prop.Value)
		p.byRoot.Insert(prop.Value, prop.Key)
		if n >= p.counter {
			p.counter = n + 1
		}
	}
	slog.Debug("Segments table loaded", "path", p.segmentsFile, "slices", len(p.bySlice))
}

// storeSegments rewrites the segments file wholesale. Failures are logged;
// a stale table only costs re-indexing.
func (p *Provider) storeSegments() {
	p.mu.Lock()
	names := make([]string, 0, len(p.bySlice))
	for name := range p.bySlice {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := sliceNumber(names[i])
		b, _ := sliceNumber(names[j])
		return a < b
	})
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(common.EscapeProperty(name, true))
		buf.WriteByte('=')
		buf.WriteString(common.EscapeProperty(string(p.bySlice[name]), false))
		buf.WriteByte('\n')
	}
	p.mu.Unlock()

	if err := p.fileUtils.WriteFileAtomic(p.segmentsFile, buf.Bytes(), 0o644); err != nil {
		slog.Warn("Failed to store segments file", "path", p.segmentsFile, "error", err)
		return
	}
	slog.Debug("Segments table stored", "path", p.segmentsFile, "slices", len(names))
}

func sliceNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, slicePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(slicePrefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
