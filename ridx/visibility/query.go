// Package visibility decides which paths count as project content and turns
// changes of that answer into indexing work.
package visibility

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
)

// ErrInvalidPattern is returned for an exclude glob that does not compile
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// ChangeEvent reports changed visibility rules. A global change carries no
// files; a local change lists the absolute paths whose answer may differ.
type ChangeEvent struct {
	Global bool
	Files  []string
}

// Query answers visibility for absolute paths and reports rule changes
type Query interface {
	IsVisible(path string) bool
	Subscribe(fn func(ChangeEvent))
}

// GitignoreQuery hides paths matched by ignore files found in any ancestor
// folder, and paths matched by exclude globs.
type GitignoreQuery struct {
	ignoreFile string
	excludes   []glob.Glob

	mu       sync.RWMutex
	matchers map[string]*ignore.GitIgnore // folder -> rules, nil when absent

	listenersMu sync.RWMutex
	listeners   []func(ChangeEvent)
}

// NewGitignoreQuery creates a query reading ignoreFile in every folder and
// applying the exclude globs
func NewGitignoreQuery(ignoreFile string, excludes []string) (*GitignoreQuery, error) {
	compiled, err := compileExcludePatterns(excludes)
	if err != nil {
		return nil, err
	}
	return &GitignoreQuery{
		ignoreFile: ignoreFile,
		excludes:   compiled,
		matchers:   make(map[string]*ignore.GitIgnore),
	}, nil
}

func compileExcludePatterns(patterns []string) ([]glob.Glob, error) {
	excludes := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
		}
		excludes = append(excludes, g)
	}
	return excludes, nil
}

// IsVisible implements Query
func (q *GitignoreQuery) IsVisible(path string) bool {
	path = filepath.Clean(path)
	if q.excluded(filepath.ToSlash(path)) {
		return false
	}
	if q.ignoreFile == "" {
		return true
	}

	isDir := false
	if info, err := os.Stat(path); err == nil {
		isDir = info.IsDir()
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if m := q.matcherFor(dir); m != nil {
			rel, err := filepath.Rel(dir, path)
			if err == nil {
				rel = filepath.ToSlash(rel)
				if m.MatchesPath(rel) || (isDir && m.MatchesPath(rel+"/")) {
					return false
				}
			}
		}
		if parent := filepath.Dir(dir); parent == dir {
			return true
		}
	}
}

func (q *GitignoreQuery) excluded(slashPath string) bool {
	for _, g := range q.excludes {
		if g.Match(slashPath) || g.Match(pathBase(slashPath)) {
			return true
		}
		// suffixes let relative patterns like "build/**" match anywhere
		for i := 0; i < len(slashPath); i++ {
			if slashPath[i] == '/' && g.Match(slashPath[i+1:]) {
				return true
			}
		}
	}
	return false
}

func pathBase(slashPath string) string {
	if i := strings.LastIndexByte(slashPath, '/'); i >= 0 {
		return slashPath[i+1:]
	}
	return slashPath
}

func (q *GitignoreQuery) matcherFor(dir string) *ignore.GitIgnore {
	q.mu.RLock()
	m, ok := q.matchers[dir]
	q.mu.RUnlock()
	if ok {
		return m
	}

	file := filepath.Join(dir, q.ignoreFile)
	if _, err := os.Stat(file); err == nil {
		compiled, err := ignore.CompileIgnoreFile(file)
		if err != nil {
			slog.Warn("Cannot read ignore file", "file", file, "error", err)
		} else {
			m = compiled
		}
	}

	q.mu.Lock()
	q.matchers[dir] = m
	q.mu.Unlock()
	return m
}

// Subscribe implements Query
func (q *GitignoreQuery) Subscribe(fn func(ChangeEvent)) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// IsRuleFile reports whether path is an ignore file this query reads
func (q *GitignoreQuery) IsRuleFile(path string) bool {
	return q.ignoreFile != "" && filepath.Base(path) == q.ignoreFile
}

// Invalidate drops cached rules for changed ignore files and reports a local
// change. An ignore file affects its whole folder; other paths affect
// themselves.
func (q *GitignoreQuery) Invalidate(paths ...string) {
	if len(paths) == 0 {
		return
	}
	files := make([]string, 0, len(paths))
	q.mu.Lock()
	for _, p := range paths {
		p = filepath.Clean(p)
		if q.IsRuleFile(p) {
			dir := filepath.Dir(p)
			delete(q.matchers, dir)
			files = append(files, dir)
			continue
		}
		files = append(files, p)
	}
	q.mu.Unlock()

	q.fire(ChangeEvent{Files: files})
}

// InvalidateAll drops every cached rule and reports a global change
func (q *GitignoreQuery) InvalidateAll() {
	q.mu.Lock()
	q.matchers = make(map[string]*ignore.GitIgnore)
	q.mu.Unlock()

	q.fire(ChangeEvent{Global: true})
}

func (q *GitignoreQuery) fire(ev ChangeEvent) {
	q.listenersMu.RLock()
	listeners := append([]func(ChangeEvent){}, q.listeners...)
	q.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
