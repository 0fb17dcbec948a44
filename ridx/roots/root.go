// Package roots defines root identifiers and the registry of source and
// binary roots known to the updater.
package roots

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Root is an opaque, comparable root identifier. It is logically a URL;
// local directories use the file scheme.
type Root string

// FromPath returns the file URL root for a local directory
func FromPath(dir string) Root {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return Root(u.String())
}

// Path returns the local directory of a file root
func (r Root) Path() (string, bool) {
	u, err := url.Parse(string(r))
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

// String implements fmt.Stringer
func (r Root) String() string {
	return string(r)
}

// IsUnder reports whether r equals folder or lives below it, by URL prefix
func (r Root) IsUnder(folder Root) bool {
	f := strings.TrimSuffix(string(folder), "/")
	s := string(r)
	return s == f || strings.HasPrefix(s, f+"/")
}
