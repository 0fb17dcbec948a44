package crawler

import (
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
)

// Indexable is one file of a root handed to an indexer
type Indexable interface {
	RelativePath() string
	Root() roots.Root
	URL() string
	MimeType() string
	// File returns the local path of the file, or false when it is gone
	File() (string, bool)
}

type fileIndexable struct {
	root     roots.Root
	rel      string
	file     string
	mimeOnce sync.Once
	mimeType string
}

func newFileIndexable(root roots.Root, rel, file string) *fileIndexable {
	return &fileIndexable{root: root, rel: rel, file: file}
}

func (f *fileIndexable) RelativePath() string { return f.rel }
func (f *fileIndexable) Root() roots.Root     { return f.root }
func (f *fileIndexable) URL() string          { return resolveURL(f.root, f.rel) }
func (f *fileIndexable) File() (string, bool) { return f.file, true }

func (f *fileIndexable) MimeType() string {
	f.mimeOnce.Do(func() {
		f.mimeType = mimeTypeOf(f.rel)
	})
	return f.mimeType
}

// DeletedIndexable stands for a file known to the timestamp table that no
// longer exists on disk.
type DeletedIndexable struct {
	root roots.Root
	rel  string
}

// NewDeletedIndexable creates a deleted entry for rel under root
func NewDeletedIndexable(root roots.Root, rel string) *DeletedIndexable {
	return &DeletedIndexable{root: root, rel: rel}
}

func (d *DeletedIndexable) RelativePath() string { return d.rel }
func (d *DeletedIndexable) Root() roots.Root     { return d.root }
func (d *DeletedIndexable) URL() string          { return resolveURL(d.root, d.rel) }
func (d *DeletedIndexable) MimeType() string     { return mimeTypeOf(d.rel) }
func (d *DeletedIndexable) File() (string, bool) { return "", false }

func resolveURL(root roots.Root, rel string) string {
	base := strings.TrimSuffix(string(root), "/")
	if rel == "" {
		return base
	}
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return base + "/" + strings.Join(segs, "/")
}

func mimeTypeOf(rel string) string {
	if t := mime.TypeByExtension(path.Ext(rel)); t != "" {
		return t
	}
	return "content/unknown"
}
