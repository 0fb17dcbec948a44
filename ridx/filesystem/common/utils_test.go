package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathUtils_RelativePath(t *testing.T) {
	pu := NewPathUtils()
	root := t.TempDir()

	tests := []struct {
		name    string
		target  string
		want    string
		wantErr error
	}{
		{"root itself", root, "", nil},
		{"direct child", filepath.Join(root, "a.txt"), "a.txt", nil},
		{"nested", filepath.Join(root, "src", "pkg", "b.go"), "src/pkg/b.go", nil},
		{"outside", filepath.Dir(root), "", ErrNotUnderRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pu.RelativePath(root, tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathUtils_IsAncestorOrSelf(t *testing.T) {
	pu := NewPathUtils()

	assert.True(t, pu.IsAncestorOrSelf("", "a/b"))
	assert.True(t, pu.IsAncestorOrSelf("a", "a"))
	assert.True(t, pu.IsAncestorOrSelf("a", "a/b/c"))
	assert.False(t, pu.IsAncestorOrSelf("a", "ab/c"))
	assert.False(t, pu.IsAncestorOrSelf("a/b", "a"))
	assert.Equal(t, "dir/", pu.FolderPrefix("dir"))
	assert.Equal(t, "", pu.FolderPrefix(""))
}

func TestValidationUtils_ValidateRelativePath(t *testing.T) {
	vu := NewValidationUtils()

	assert.NoError(t, vu.ValidateRelativePath("a/b.txt"))
	assert.ErrorIs(t, vu.ValidateRelativePath(""), ErrPathEmpty)
	assert.ErrorIs(t, vu.ValidateRelativePath("/abs"), ErrInvalidRelativePath)
	assert.ErrorIs(t, vu.ValidateRelativePath("a\nb"), ErrPathInvalid)
}

func TestFileUtils_WriteFileAtomicAndCheckReadWrite(t *testing.T) {
	fu := NewFileUtils()
	dir := t.TempDir()

	require.NoError(t, fu.CheckReadWrite(dir))
	assert.Error(t, fu.CheckReadWrite(filepath.Join(dir, "missing")))

	target := filepath.Join(dir, "out.txt")
	require.NoError(t, fu.WriteFileAtomic(target, []byte("one"), 0o644))
	require.NoError(t, fu.WriteFileAtomic(target, []byte("two"), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestCrawlMetrics_Record(t *testing.T) {
	m := &CrawlMetrics{}
	m.Record(time.Now(), true, 10, 2, 1, 3)
	m.Record(time.Now(), false, 5, 5, 0, 1)

	got := m.GetMetrics()
	assert.Equal(t, int64(2), got["total_operations"])
	assert.Equal(t, int64(1), got["successful_ops"])
	assert.Equal(t, int64(1), got["failed_ops"])
	assert.Equal(t, int64(15), got["files_visited"])
	assert.Equal(t, int64(7), got["files_changed"])
	assert.Equal(t, int64(4), got["folders_walked"])
}
