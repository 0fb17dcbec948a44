package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathUtils provides path manipulation utilities used across packages
type PathUtils struct{}

// NewPathUtils creates a new PathUtils instance
func NewPathUtils() *PathUtils {
	return &PathUtils{}
}

// NormalizePath converts a path to a cleaned absolute path
func (pu *PathUtils) NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// IsSubpath checks if child is a strict subpath of parent
func (pu *PathUtils) IsSubpath(parent, child string) bool {
	rel, err := filepath.Rel(pu.NormalizePath(parent), pu.NormalizePath(child))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RelativePath returns the '/'-separated path of target relative to rootDir.
// The root itself maps to the empty string.
func (pu *PathUtils) RelativePath(rootDir, target string) (string, error) {
	rel, err := filepath.Rel(pu.NormalizePath(rootDir), pu.NormalizePath(target))
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", target, err)
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", target, ErrNotUnderRoot)
	}
	return filepath.ToSlash(rel), nil
}

// Join resolves a '/'-separated relative path against rootDir
func (pu *PathUtils) Join(rootDir, relativePath string) string {
	if relativePath == "" {
		return rootDir
	}
	return filepath.Join(rootDir, filepath.FromSlash(relativePath))
}

// IsAncestorOrSelf reports whether relative path a equals b or is a folder
// prefix of it ("src" covers "src/a.go" but not "srcx/a.go").
func (pu *PathUtils) IsAncestorOrSelf(a, b string) bool {
	if a == "" || a == b {
		return true
	}
	return strings.HasPrefix(b, a) && len(b) > len(a) && b[len(a)] == '/'
}

// FolderPrefix returns the prefix used to scan entries enclosed by folder
func (pu *PathUtils) FolderPrefix(folder string) string {
	if folder == "" || strings.HasSuffix(folder, "/") {
		return folder
	}
	return folder + "/"
}

// FileUtils provides file inspection utilities used across packages
type FileUtils struct{}

// NewFileUtils creates a new FileUtils instance
func NewFileUtils() *FileUtils {
	return &FileUtils{}
}

// ModTimeMillis returns the modification time of path in milliseconds since epoch
func (fu *FileUtils) ModTimeMillis(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	return info.ModTime().UnixMilli(), nil
}

// CheckReadWrite verifies that dir is a directory the process can list and
// create files in.
func (fu *FileUtils) CheckReadWrite(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	if _, err := os.ReadDir(dir); err != nil {
		return err
	}
	check, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := check.Name()
	check.Close()
	return os.Remove(name)
}

// WriteFileAtomic writes data to a temp file next to path and renames it over path
func (fu *FileUtils) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
