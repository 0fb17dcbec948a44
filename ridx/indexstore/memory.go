package indexstore

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/crawler"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
)

// MemoryStore is an in-memory Provider for tests and dry runs
type MemoryStore struct {
	mu        sync.Mutex
	documents map[roots.Root]map[string]Document
	binaries  map[roots.Root]Binary
	completed map[roots.Root]bool
	started   []roots.Root
	finished  []ScanRecord

	// FailBinary makes IndexBinary fail for the given roots
	FailBinary map[roots.Root]bool
}

// ScanRecord is one ScanFinished call seen by a MemoryStore
type ScanRecord struct {
	Root roots.Root
	Info ScanInfo
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:  make(map[roots.Root]map[string]Document),
		binaries:   make(map[roots.Root]Binary),
		completed:  make(map[roots.Root]bool),
		FailBinary: make(map[roots.Root]bool),
	}
}

// Index implements Indexer
func (m *MemoryStore) Index(_ context.Context, root roots.Root, items []crawler.Indexable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.documents[root]
	if !ok {
		docs = make(map[string]Document)
		m.documents[root] = docs
	}
	now := time.Now()
	for _, item := range items {
		file, ok := item.File()
		if !ok {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		docs[item.RelativePath()] = Document{
			Root:      root,
			Path:      item.RelativePath(),
			URL:       item.URL(),
			MimeType:  item.MimeType(),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			IndexedAt: now,
		}
	}
	return nil
}

// Delete implements Indexer
func (m *MemoryStore) Delete(_ context.Context, root roots.Root, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		delete(m.documents[root], p)
	}
	return nil
}

// DeleteRoot implements Indexer
func (m *MemoryStore) DeleteRoot(_ context.Context, root roots.Root) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, root)
	delete(m.completed, root)
	return nil
}

// ScanStarted implements ScanObserver
func (m *MemoryStore) ScanStarted(_ context.Context, root roots.Root) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, root)
	return m.completed[root]
}

// ScanFinished implements ScanObserver
func (m *MemoryStore) ScanFinished(_ context.Context, root roots.Root, info ScanInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, ScanRecord{Root: root, Info: info})
	if info.Finished {
		m.completed[root] = true
	}
}

// Scans returns the roots passed to ScanStarted and the ScanFinished calls,
// in call order, and forgets them
func (m *MemoryStore) Scans() ([]roots.Root, []ScanRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	started, finished := m.started, m.finished
	m.started, m.finished = nil, nil
	return started, finished
}

// IndexBinary implements BinaryIndexer
func (m *MemoryStore) IndexBinary(_ context.Context, root roots.Root) error {
	m.mu.Lock()
	fail := m.FailBinary[root]
	m.mu.Unlock()
	if fail {
		return ErrBinaryMissing
	}

	size, err := binarySize(root)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binaries[root] = Binary{Root: root, Size: size, IndexedAt: time.Now()}
	return nil
}

// DeleteBinary implements BinaryIndexer
func (m *MemoryStore) DeleteBinary(_ context.Context, root roots.Root) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.binaries, root)
	return nil
}

// Documents implements Provider
func (m *MemoryStore) Documents(_ context.Context, root roots.Root) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Document
	for _, d := range m.documents[root] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Binaries implements Provider
func (m *MemoryStore) Binaries(_ context.Context) ([]Binary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Binary
	for _, b := range m.binaries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out, nil
}

// Close implements Provider
func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Provider     = (*Store)(nil)
	_ Provider     = (*MemoryStore)(nil)
	_ ScanObserver = (*Store)(nil)
	_ ScanObserver = (*MemoryStore)(nil)
)
