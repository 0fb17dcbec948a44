package roots

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Kind distinguishes per-file indexed source roots from opaque binary roots
type Kind int

const (
	// KindSource roots are crawled and indexed per file
	KindSource Kind = iota
	// KindBinary roots are indexed as a single unit
	KindBinary
)

func (k Kind) String() string {
	if k == KindBinary {
		return "binary"
	}
	return "source"
}

// Registry interns registered roots to small ids and keeps kind and dirty
// membership as roaring bitmaps. Ids are never reused.
type Registry struct {
	mu     sync.RWMutex
	ids    map[Root]uint32
	byID   map[uint32]Root
	next   uint32
	source *roaring.Bitmap
	binary *roaring.Bitmap
	dirty  *roaring.Bitmap
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		ids:    make(map[Root]uint32),
		byID:   make(map[uint32]Root),
		source: roaring.New(),
		binary: roaring.New(),
		dirty:  roaring.New(),
	}
}

// Register adds root with the given kind. Re-registering changes its kind.
func (r *Registry) Register(root Root, kind Kind) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.ids[root]
	if !ok {
		id = r.next
		r.next++
		r.ids[root] = id
		r.byID[id] = root
	}
	if kind == KindBinary {
		r.source.Remove(id)
		r.binary.Add(id)
	} else {
		r.binary.Remove(id)
		r.source.Add(id)
	}
	return id
}

// Unregister removes root. It returns false if it was not registered.
func (r *Registry) Unregister(root Root) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.ids[root]
	if !ok {
		return false
	}
	delete(r.ids, root)
	delete(r.byID, id)
	r.source.Remove(id)
	r.binary.Remove(id)
	r.dirty.Remove(id)
	return true
}

// Contains reports whether root is registered
func (r *Registry) Contains(root Root) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[root]
	return ok
}

// KindOf returns the kind of a registered root
func (r *Registry) KindOf(root Root) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[root]
	if !ok {
		return KindSource, false
	}
	if r.binary.Contains(id) {
		return KindBinary, true
	}
	return KindSource, true
}

// Sources returns registered source roots in registration order
func (r *Registry) Sources() []Root {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.source)
}

// Binaries returns registered binary roots in registration order
func (r *Registry) Binaries() []Root {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.binary)
}

// All returns every registered root
func (r *Registry) All() []Root {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(roaring.Or(r.source, r.binary))
}

// MarkDirty flags roots for wholesale re-indexing
func (r *Registry) MarkDirty(roots ...Root) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, root := range roots {
		if id, ok := r.ids[root]; ok {
			r.dirty.Add(id)
		}
	}
}

// TakeDirty returns and clears the dirty set
func (r *Registry) TakeDirty() []Root {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.collect(r.dirty)
	r.dirty.Clear()
	return out
}

// OwnerOf returns the registered root whose local directory most closely
// encloses path.
func (r *Registry) OwnerOf(path string) (Root, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    Root
		bestLen = -1
	)
	clean := filepath.Clean(path)
	for root := range r.ids {
		dir, ok := root.Path()
		if !ok {
			continue
		}
		if clean != dir && !strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			continue
		}
		if len(dir) > bestLen {
			best, bestLen = root, len(dir)
		}
	}
	return best, bestLen >= 0
}

func (r *Registry) collect(bm *roaring.Bitmap) []Root {
	out := make([]Root, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		if root, ok := r.byID[it.Next()]; ok {
			out = append(out, root)
		}
	}
	return out
}

// Sort orders roots lexically, mostly for stable output
func Sort(roots []Root) {
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
}
