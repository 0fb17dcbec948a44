// Package crawler walks a root, or a subset of it, and sorts the files it
// finds into known files and files that need (re)indexing.
package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
	"github.com/ZanzyTHEbar/root-indexer/ridx/timestamps"
)

// Visibility decides whether a path counts as project content
type Visibility interface {
	IsVisible(file, rootDir string) bool
}

// Options configures one crawl
type Options struct {
	// Files constrains the crawl to these absolute files and folders.
	// Empty means the whole root.
	Files []string
	// DetectDeletedFiles reports unseen timestamp entries as deleted after
	// a finished full-root crawl. The TimeStamps must have been loaded with
	// deletion detection.
	DetectDeletedFiles bool
	Visibility         Visibility
	// Cancel is polled at every folder and every top-level input file
	Cancel     func() bool
	Suspend    *SuspendSupport
	TimeStamps *timestamps.TimeStamps
	Metrics    *common.CrawlMetrics
}

// Result is the outcome of a crawl. A cancelled crawl returns what it
// gathered with Finished false.
type Result struct {
	ToIndex  []Indexable
	AllKnown []Indexable
	Deleted  []Indexable
	Finished bool
}

// FileObjectCrawler crawls one local root
type FileObjectCrawler struct {
	root    roots.Root
	rootDir string
	opts    Options

	pathUtils *common.PathUtils

	// per crawl state
	visited   map[string]struct{}
	folders   int
	result    Result
	cancelled bool
}

// NewFileObjectCrawler creates a crawler for a file root
func NewFileObjectCrawler(root roots.Root, opts Options) (*FileObjectCrawler, error) {
	dir, ok := root.Path()
	if !ok {
		return nil, fmt.Errorf("%s: %w", root, common.ErrNotLocalRoot)
	}
	return &FileObjectCrawler{
		root:      root,
		rootDir:   dir,
		opts:      opts,
		pathUtils: common.NewPathUtils(),
	}, nil
}

// Collect runs the crawl
func (c *FileObjectCrawler) Collect(ctx context.Context) Result {
	start := time.Now()
	c.visited = make(map[string]struct{})
	c.folders = 0
	c.result = Result{}
	c.cancelled = false

	rootCanon, err := filepath.EvalSymlinks(c.rootDir)
	if err != nil {
		slog.Debug("Root is not accessible", "root", c.root, "error", err)
		c.result.Finished = !c.isCancelled(ctx)
		return c.finish(start, false)
	}

	full := len(c.opts.Files) == 0
	if full {
		c.walk(ctx, c.rootDir, "", []string{rootCanon})
	} else {
		c.collectConstrained(ctx, rootCanon)
	}
	c.result.Finished = !c.cancelled
	return c.finish(start, full)
}

func (c *FileObjectCrawler) finish(start time.Time, full bool) Result {
	if full && c.result.Finished && c.opts.DetectDeletedFiles && c.opts.TimeStamps != nil {
		for _, rel := range c.opts.TimeStamps.UnseenFiles() {
			c.result.Deleted = append(c.result.Deleted, NewDeletedIndexable(c.root, rel))
		}
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.Record(start, c.result.Finished, len(c.result.AllKnown), len(c.result.ToIndex), len(c.result.Deleted), c.folders)
	}
	slog.Debug("Crawl finished",
		"root", c.root,
		"finished", c.result.Finished,
		"known", len(c.result.AllKnown),
		"toIndex", len(c.result.ToIndex),
		"deleted", len(c.result.Deleted),
		"duration", time.Since(start))
	return c.result
}

func (c *FileObjectCrawler) collectConstrained(ctx context.Context, rootCanon string) {
	rels := make([]string, 0, len(c.opts.Files))
	for _, f := range c.opts.Files {
		rel, err := c.pathUtils.RelativePath(c.rootDir, f)
		if err != nil {
			slog.Debug("Skipping file outside root", "root", c.root, "file", f)
			continue
		}
		rels = append(rels, rel)
	}

	for _, cluster := range ClusterFiles(rels) {
		for _, rel := range cluster.Members {
			if c.isCancelled(ctx) {
				return
			}
			abs := c.pathUtils.Join(c.rootDir, rel)
			if rel == "" {
				c.walk(ctx, abs, "", []string{rootCanon})
				continue
			}
			if !c.visible(abs) {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil {
				slog.Debug("Skipping missing file", "root", c.root, "file", abs, "error", err)
				continue
			}
			if info.IsDir() {
				stack, ok := c.ancestorStack(rootCanon, rel)
				if !ok {
					continue
				}
				c.walk(ctx, abs, rel, stack)
				continue
			}
			c.visitFile(abs, rel, info)
		}
		if c.cancelled {
			return
		}
	}
}

// ancestorStack resolves the canonical path of every folder from the root
// down to rel
func (c *FileObjectCrawler) ancestorStack(rootCanon, rel string) ([]string, bool) {
	stack := []string{rootCanon}
	segs := strings.Split(rel, "/")
	for i := range segs {
		canon, err := filepath.EvalSymlinks(c.pathUtils.Join(c.rootDir, strings.Join(segs[:i+1], "/")))
		if err != nil {
			slog.Debug("Cannot resolve folder", "root", c.root, "folder", rel, "error", err)
			return nil, false
		}
		if slices.Contains(stack, canon) {
			slog.Debug("Skipping cyclic folder", "root", c.root, "folder", rel)
			return nil, false
		}
		stack = append(stack, canon)
	}
	return stack, true
}

func (c *FileObjectCrawler) isCancelled(ctx context.Context) bool {
	if c.cancelled {
		return true
	}
	if ctx.Err() != nil || (c.opts.Cancel != nil && c.opts.Cancel()) {
		c.cancelled = true
		return true
	}
	if !c.opts.Suspend.ParkWhileSuspended(ctx) {
		c.cancelled = true
		return true
	}
	// a cancel may have arrived while parked
	if c.opts.Cancel != nil && c.opts.Cancel() {
		c.cancelled = true
	}
	return c.cancelled
}

// walk visits the children of dir. stack holds the canonical paths of dir
// and all its ancestors; a child folder resolving to any of them is a cycle.
func (c *FileObjectCrawler) walk(ctx context.Context, dir, rel string, stack []string) {
	if c.isCancelled(ctx) {
		return
	}
	c.folders++

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("Cannot read folder", "root", c.root, "folder", dir, "error", err)
		return
	}
	parentCanon := stack[len(stack)-1]

	for _, entry := range entries {
		if c.cancelled {
			return
		}
		abs := filepath.Join(dir, entry.Name())
		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}
		if !c.visible(abs) {
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			// dangling symlink or deleted under our feet
			slog.Debug("Skipping unreadable entry", "root", c.root, "file", abs, "error", err)
			continue
		}
		if !info.IsDir() {
			c.visitFile(abs, childRel, info)
			continue
		}

		canon := filepath.Join(parentCanon, entry.Name())
		if entry.Type()&fs.ModeSymlink != 0 {
			canon, err = filepath.EvalSymlinks(abs)
			if err != nil {
				slog.Debug("Cannot resolve symlink", "root", c.root, "file", abs, "error", err)
				continue
			}
		}
		if slices.Contains(stack, canon) {
			slog.Debug("Skipping symlink cycle", "root", c.root, "folder", abs, "target", canon)
			continue
		}
		c.walk(ctx, abs, childRel, append(stack[:len(stack):len(stack)], canon))
	}
}

func (c *FileObjectCrawler) visitFile(abs, rel string, info os.FileInfo) {
	if _, seen := c.visited[rel]; seen {
		return
	}
	c.visited[rel] = struct{}{}

	idx := newFileIndexable(c.root, rel, abs)
	c.result.AllKnown = append(c.result.AllKnown, idx)
	if c.opts.TimeStamps == nil || !c.opts.TimeStamps.CheckAndStoreTimestamp(info.ModTime(), rel) {
		c.result.ToIndex = append(c.result.ToIndex, idx)
	}
}

func (c *FileObjectCrawler) visible(abs string) bool {
	if c.opts.Visibility == nil {
		return true
	}
	return c.opts.Visibility.IsVisible(abs, c.rootDir)
}
