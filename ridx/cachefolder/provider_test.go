package cachefolder

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, dir string) *Provider {
	t.Helper()
	p, err := NewProvider(dir, WithSaveDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestProvider_SliceStableAcrossRestart(t *testing.T) {
	cache := t.TempDir()
	root := roots.Root("file:///work/project/src")

	p := newTestProvider(t, cache)
	s1, err := p.GetOrCreateSlice(root, ModeCreate)
	require.NoError(t, err)
	_, err = p.GetOrCreateSlice(roots.Root("file:///other"), ModeCreate)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// a fresh provider reloads the table from disk
	reloaded := newTestProvider(t, cache)
	s2, err := reloaded.GetOrCreateSlice(root, ModeExistent)
	require.NoError(t, err)
	assert.Equal(t, s1.Name(), s2.Name())
	assert.Equal(t, s1.Path(), s2.Path())

	again, err := reloaded.GetOrCreateSlice(root, ModeCreate)
	require.NoError(t, err)
	assert.Equal(t, s1.Name(), again.Name())
}

func TestProvider_ModeExistent(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	_, err := p.GetOrCreateSlice(roots.Root("file:///missing"), ModeExistent)
	assert.ErrorIs(t, err, common.ErrSliceNotFound)
}

func TestProvider_NamesAreUniqueAndNeverReused(t *testing.T) {
	cache := t.TempDir()
	p := newTestProvider(t, cache)

	a, err := p.GetOrCreateSlice(roots.Root("file:///a"), ModeCreate)
	require.NoError(t, err)
	b, err := p.GetOrCreateSlice(roots.Root("file:///b"), ModeCreate)
	require.NoError(t, err)
	assert.NotEqual(t, a.Name(), b.Name())

	require.True(t, p.RemoveSlice(roots.Root("file:///b")))
	assert.False(t, p.RemoveSlice(roots.Root("file:///b")))
	p.Flush()

	// reload: the removed highest slice still exists on disk, so its name is skipped
	reloaded := newTestProvider(t, cache)
	c, err := reloaded.GetOrCreateSlice(roots.Root("file:///c"), ModeCreate)
	require.NoError(t, err)
	assert.NotEqual(t, a.Name(), c.Name())
	assert.NotEqual(t, b.Name(), c.Name())

	root, ok := reloaded.GetRootForSlice(a.Name())
	require.True(t, ok)
	assert.Equal(t, roots.Root("file:///a"), root)
	_, ok = reloaded.GetRootForSlice(b.Name())
	assert.False(t, ok)
}

func TestProvider_SkipsNamesFromExternalEdits(t *testing.T) {
	cache := t.TempDir()
	content := "s0=file:///zero\ns5=file:///five\nbroken line\n"
	require.NoError(t, os.WriteFile(filepath.Join(cache, SegmentsFileName), []byte(content), 0o644))

	p := newTestProvider(t, cache)
	assert.Len(t, p.Bindings(), 2)

	s, err := p.GetOrCreateSlice(roots.Root("file:///new"), ModeCreate)
	require.NoError(t, err)
	assert.Equal(t, "s6", s.Name())
}

func TestProvider_FindRootsUnderFolder(t *testing.T) {
	p := newTestProvider(t, t.TempDir())
	for _, r := range []roots.Root{"file:///ws/a", "file:///ws/a/b", "file:///ws/ab", "file:///elsewhere"} {
		_, err := p.GetOrCreateSlice(r, ModeCreate)
		require.NoError(t, err)
	}

	found := p.FindRootsUnderFolder(roots.Root("file:///ws/a"))
	roots.Sort(found)
	assert.Equal(t, []roots.Root{"file:///ws/a", "file:///ws/a/b"}, found)
}

func TestProvider_DebouncedSaveCoalesces(t *testing.T) {
	cache := t.TempDir()
	p, err := NewProvider(cache, WithSaveDelay(time.Hour))
	require.NoError(t, err)
	defer p.Close()

	for _, r := range []roots.Root{"file:///1", "file:///2", "file:///3"} {
		_, err := p.GetOrCreateSlice(r, ModeCreate)
		require.NoError(t, err)
	}

	_, err = os.Stat(filepath.Join(cache, SegmentsFileName))
	assert.True(t, os.IsNotExist(err), "save must wait for the window")

	p.Flush()
	data, err := os.ReadFile(filepath.Join(cache, SegmentsFileName))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestProvider_ConcurrentAllocation(t *testing.T) {
	p := newTestProvider(t, t.TempDir())

	var wg sync.WaitGroup
	names := make([]string, 20)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.GetOrCreateSlice(roots.Root("file:///shared"), ModeCreate)
			if err == nil {
				names[i] = s.Name()
			}
		}(i)
	}
	wg.Wait()

	for _, n := range names {
		assert.Equal(t, names[0], n)
	}
}

func TestNewProvider_UnusableCacheRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewProvider(file)
	assert.ErrorIs(t, err, common.ErrCacheRootNotWritable)

	_, err = NewProvider("")
	assert.ErrorIs(t, err, common.ErrCacheRootNotWritable)
}
