// Package timestamps keeps the per-root table of relative path to last
// observed modification time, the up-to-date oracle of the crawler.
package timestamps

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"

	"github.com/armon/go-radix"
)

const (
	// FileName is the table file inside a root's cache slice
	FileName = "timestamps.properties"
	// VersionMarker is the first line of the current format
	VersionMarker = "#v2"
)

// TimeStamps maps '/'-separated relative paths to modification millis. A
// table belongs to the single crawl that loaded it and is not safe for
// concurrent use.
type TimeStamps struct {
	file     string
	entries  *radix.Tree // relative path -> int64 millis
	unseen   map[string]struct{}
	fresh    bool
	modified bool

	fileUtils  *common.FileUtils
	pathUtils  *common.PathUtils
	validation *common.ValidationUtils
}

// Load reads the table stored in dir. A missing or unreadable file yields an
// empty table; the failure only costs a rescan. When detectDeletedFiles is
// set every loaded path starts in the unseen set.
func Load(dir string, detectDeletedFiles bool) *TimeStamps {
	ts := &TimeStamps{
		file:       filepath.Join(dir, FileName),
		entries:    radix.New(),
		fileUtils:  common.NewFileUtils(),
		pathUtils:  common.NewPathUtils(),
		validation: common.NewValidationUtils(),
	}
	if detectDeletedFiles {
		ts.unseen = make(map[string]struct{})
	}

	f, err := os.Open(ts.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ts.fresh = true
		} else {
			slog.Warn("Cannot read timestamps, starting empty", "path", ts.file, "error", err)
		}
		return ts
	}
	defer f.Close()

	if err := ts.read(f); err != nil {
		slog.Warn("Timestamps partially read", "path", ts.file, "error", err)
	}
	if detectDeletedFiles {
		ts.entries.Walk(func(key string, _ interface{}) bool {
			ts.unseen[key] = struct{}{}
			return false
		})
	}
	slog.Debug("Timestamps loaded", "path", ts.file, "entries", ts.entries.Len())
	return ts
}

func (ts *TimeStamps) read(r io.Reader) error {
	br := bufio.NewReader(r)
	first, err := br.Peek(len(VersionMarker))
	if err == nil && string(first) == VersionMarker {
		return ts.readCurrent(br)
	}
	return ts.readLegacy(br)
}

// readCurrent parses "#v2" followed by escapedPath=millis lines
func (ts *TimeStamps) readCurrent(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 || line == "" {
			continue
		}
		sep := separatorIndex(line)
		if sep < 0 {
			slog.Warn("Skipping malformed timestamp line", "path", ts.file, "line", lineNo)
			continue
		}
		props, _ := common.ParseProperties(strings.NewReader(line[:sep] + "=\n"))
		if len(props) != 1 {
			slog.Warn("Skipping malformed timestamp line", "path", ts.file, "line", lineNo)
			continue
		}
		ts.put(props[0].Key, line[sep+1:], lineNo)
	}
	return scanner.Err()
}

// readLegacy parses the unversioned properties dialect
func (ts *TimeStamps) readLegacy(r io.Reader) error {
	props, err := common.ParseProperties(r)
	for _, p := range props {
		ts.put(p.Key, p.Value, p.Line)
	}
	return err
}

func (ts *TimeStamps) put(path, millis string, line int) {
	if err := ts.validation.ValidateRelativePath(path); err != nil {
		slog.Warn("Skipping invalid timestamp path", "path", ts.file, "line", line, "entry", path, "error", err)
		return
	}
	v, err := strconv.ParseInt(strings.TrimSpace(millis), 10, 64)
	if err != nil {
		slog.Warn("Skipping malformed timestamp value", "path", ts.file, "line", line, "value", millis)
		return
	}
	ts.entries.Insert(path, v)
}

// separatorIndex finds the first unescaped '='
func separatorIndex(line string) int {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '=':
			return i
		}
	}
	return -1
}

// CheckAndStoreTimestamp records modTime for relativePath and reports whether
// it matched the previously stored value. A path never seen before is never
// up to date.
func (ts *TimeStamps) CheckAndStoreTimestamp(modTime time.Time, relativePath string) bool {
	return ts.check(modTime.UnixMilli(), relativePath)
}

func (ts *TimeStamps) check(millis int64, relativePath string) bool {
	if ts.unseen != nil {
		delete(ts.unseen, relativePath)
	}
	old, updated := ts.entries.Insert(relativePath, millis)
	if updated && old.(int64) == millis {
		return true
	}
	ts.modified = true
	return false
}

// CheckAndStoreFile stats file and checks it under relativePath. A file that
// cannot be stat'ed is reported as changed.
func (ts *TimeStamps) CheckAndStoreFile(file, relativePath string) bool {
	millis, err := ts.fileUtils.ModTimeMillis(file)
	if err != nil {
		slog.Debug("Cannot stat file, treating as changed", "file", file, "error", err)
		return false
	}
	return ts.check(millis, relativePath)
}

// Get returns the stored millis for relativePath
func (ts *TimeStamps) Get(relativePath string) (int64, bool) {
	v, ok := ts.entries.Get(relativePath)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Len returns the number of entries
func (ts *TimeStamps) Len() int {
	return ts.entries.Len()
}

// Fresh reports whether no table had ever been stored in the slice, i.e. the
// root is being crawled for the first time
func (ts *TimeStamps) Fresh() bool {
	return ts.fresh
}

// UnseenFiles returns the loaded paths not observed since Load. It is nil
// unless deletion detection was requested.
func (ts *TimeStamps) UnseenFiles() []string {
	if ts.unseen == nil {
		return nil
	}
	out := make([]string, 0, len(ts.unseen))
	for p := range ts.unseen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Reset sets every existing entry to millis
func (ts *TimeStamps) Reset(millis int64) {
	keys := ts.keys("")
	for _, k := range keys {
		ts.entries.Insert(k, millis)
	}
	if len(keys) > 0 {
		ts.modified = true
	}
}

// Remove drops the given relative paths
func (ts *TimeStamps) Remove(paths []string) {
	for _, p := range paths {
		if _, ok := ts.entries.Delete(p); ok {
			ts.modified = true
		}
		if ts.unseen != nil {
			delete(ts.unseen, p)
		}
	}
}

// EnclosedFiles returns every stored path inside folder, plus folder itself
// when it is stored as a file entry. The empty folder encloses everything.
func (ts *TimeStamps) EnclosedFiles(folder string) []string {
	folder = strings.TrimSuffix(folder, "/")
	out := ts.keys(ts.pathUtils.FolderPrefix(folder))
	if folder != "" {
		if _, ok := ts.entries.Get(folder); ok {
			out = append([]string{folder}, out...)
		}
	}
	return out
}

func (ts *TimeStamps) keys(prefix string) []string {
	var out []string
	ts.entries.WalkPrefix(prefix, func(key string, _ interface{}) bool {
		out = append(out, key)
		return false
	})
	return out
}

// Store writes the table if it changed since Load, or if none existed yet.
// It reports success; write failures are logged and never returned.
func (ts *TimeStamps) Store() bool {
	if !ts.modified && !ts.fresh {
		return true
	}
	var buf bytes.Buffer
	buf.WriteString(VersionMarker)
	buf.WriteByte('\n')
	ts.entries.Walk(func(key string, v interface{}) bool {
		buf.WriteString(common.EscapeProperty(key, true))
		buf.WriteByte('=')
		buf.WriteString(strconv.FormatInt(v.(int64), 10))
		buf.WriteByte('\n')
		return false
	})

	if err := os.MkdirAll(filepath.Dir(ts.file), 0o755); err != nil {
		slog.Warn("Failed to store timestamps", "path", ts.file, "error", err)
		return false
	}
	if err := ts.fileUtils.WriteFileAtomic(ts.file, buf.Bytes(), 0o644); err != nil {
		slog.Warn("Failed to store timestamps", "path", ts.file, "error", fmt.Errorf("write: %w", err))
		return false
	}
	ts.modified = false
	ts.fresh = false
	slog.Debug("Timestamps stored", "path", ts.file, "entries", ts.entries.Len())
	return true
}
