// Package indexstore persists what the indexer produced for each root: one
// document per indexed source file and one record per indexed binary root.
package indexstore

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/crawler"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
)

// ErrBinaryMissing is returned when a binary root has nothing to index
var ErrBinaryMissing = errors.New("binary root does not exist")

// Document is the stored form of one indexed file
type Document struct {
	Root      roots.Root
	Path      string
	URL       string
	MimeType  string
	Size      int64
	ModTime   time.Time
	IndexedAt time.Time
}

// Binary is the stored form of one indexed binary root
type Binary struct {
	Root      roots.Root
	Size      int64
	IndexedAt time.Time
}

// Indexer receives per-file indexing results for source roots
type Indexer interface {
	Index(ctx context.Context, root roots.Root, items []crawler.Indexable) error
	Delete(ctx context.Context, root roots.Root, paths []string) error
	DeleteRoot(ctx context.Context, root roots.Root) error
}

// ScanInfo describes how one crawl of a root ended
type ScanInfo struct {
	// Finished is set when the crawl ran to completion and its results were stored
	Finished bool
	// AllFiles is set when every file of the root was indexed, not only the changed ones
	AllFiles bool
	Indexed  int
	Deleted  int
}

// ScanObserver is implemented by indexers that follow the crawl lifecycle.
// Both calls happen once per crawl of a root, under that root's lock.
type ScanObserver interface {
	// ScanStarted reports whether the indexer still holds the data of earlier
	// crawls of root. False makes the crawl rebuild the root from all files.
	ScanStarted(ctx context.Context, root roots.Root) bool
	ScanFinished(ctx context.Context, root roots.Root, info ScanInfo)
}

// BinaryIndexer indexes binary roots as single units
type BinaryIndexer interface {
	IndexBinary(ctx context.Context, root roots.Root) error
	DeleteBinary(ctx context.Context, root roots.Root) error
}

// Provider is a full store: both indexers plus read access
type Provider interface {
	Indexer
	BinaryIndexer
	Documents(ctx context.Context, root roots.Root) ([]Document, error)
	Binaries(ctx context.Context) ([]Binary, error)
	Close() error
}
