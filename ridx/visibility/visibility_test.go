package visibility

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingQuery struct {
	mu        sync.Mutex
	hidden    map[string]bool
	calls     map[string]int
	listeners []func(ChangeEvent)
}

func newCountingQuery(hidden ...string) *countingQuery {
	q := &countingQuery{hidden: map[string]bool{}, calls: map[string]int{}}
	for _, h := range hidden {
		q.hidden[h] = true
	}
	return q
}

func (q *countingQuery) IsVisible(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls[path]++
	return !q.hidden[path]
}

func (q *countingQuery) Subscribe(fn func(ChangeEvent)) {
	q.listeners = append(q.listeners, fn)
}

func (q *countingQuery) set(path string, hidden bool) {
	q.mu.Lock()
	q.hidden[path] = hidden
	q.mu.Unlock()
}

func (q *countingQuery) fire(ev ChangeEvent) {
	for _, fn := range q.listeners {
		fn(ev)
	}
}

type fakeHost struct {
	mu        sync.Mutex
	registry  *roots.Registry
	scheduled [][]*eventlog.Work
	dirty     []roots.Root
	refreshes int
}

func newFakeHost() *fakeHost {
	return &fakeHost{registry: roots.NewRegistry()}
}

func (h *fakeHost) Schedule(works ...*eventlog.Work) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduled = append(h.scheduled, works)
}

func (h *fakeHost) OwnerOf(path string) (roots.Root, roots.Kind, bool) {
	root, ok := h.registry.OwnerOf(path)
	if !ok {
		return "", roots.KindSource, false
	}
	kind, _ := h.registry.KindOf(root)
	return root, kind, true
}

func (h *fakeHost) MarkDirty(root roots.Root) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = append(h.dirty, root)
}

func (h *fakeHost) Refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes++
}

func TestSupport_AncestorShortCircuit(t *testing.T) {
	q := newCountingQuery("/r/build")
	s, err := NewSupport(q, newFakeHost())
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.IsVisible("/r/build/a/b.class", "/r"))
	assert.False(t, s.IsVisible("/r/build/a/c.class", "/r"))
	assert.False(t, s.IsVisible("/r/build/x", "/r"))
	assert.Equal(t, 1, q.calls["/r/build"])
	assert.Zero(t, q.calls["/r/build/a/b.class"], "descendants of an invisible folder are never queried")

	assert.True(t, s.IsVisible("/r/src/a.go", "/r"))
	assert.True(t, s.IsVisible("/r/src/b.go", "/r"))
	assert.Equal(t, 1, q.calls["/r/src"])
	assert.Zero(t, q.calls["/r"], "the root itself is never queried")
	assert.True(t, s.IsVisible("/r", "/r"))
}

func TestSupport_ChangeClearsMemoAndSchedulesWork(t *testing.T) {
	rootDir := t.TempDir()
	host := newFakeHost()
	source := roots.FromPath(rootDir)
	host.registry.Register(source, roots.KindSource)

	q := newCountingQuery()
	s, err := NewSupport(q, host, WithDebounce(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	gen := filepath.Join(rootDir, "gen")
	src := filepath.Join(rootDir, "src")
	assert.True(t, s.IsVisible(filepath.Join(gen, "a.go"), rootDir))

	q.set(gen, true)
	q.fire(ChangeEvent{Files: []string{gen}})
	q.fire(ChangeEvent{Files: []string{src}})
	q.fire(ChangeEvent{Files: []string{filepath.Join(t.TempDir(), "unowned")}})
	assert.Empty(t, host.scheduled, "reconciliation waits for the window")

	s.Flush()
	require.Len(t, host.scheduled, 2)
	del := host.scheduled[0]
	require.Len(t, del, 1)
	assert.Equal(t, eventlog.OpDelete, del[0].Op)
	assert.Equal(t, []string{"gen"}, del[0].Paths)

	add := host.scheduled[1]
	require.Len(t, add, 1)
	assert.Equal(t, eventlog.OpCreate, add[0].Op)
	assert.Equal(t, []string{"src"}, add[0].Paths)
	assert.Equal(t, source, add[0].Root)

	// the memo was cleared, so the new rule is visible to crawls
	assert.False(t, s.IsVisible(filepath.Join(gen, "a.go"), rootDir))
}

func TestSupport_GlobalChangeRefreshes(t *testing.T) {
	host := newFakeHost()
	q := newCountingQuery()
	s, err := NewSupport(q, host, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		q.fire(ChangeEvent{Global: true})
	}
	assert.Eventually(t, func() bool {
		host.mu.Lock()
		defer host.mu.Unlock()
		return host.refreshes == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, host.scheduled)
}

func TestSupport_BinaryRootsMarkedDirty(t *testing.T) {
	host := newFakeHost()
	binDir := t.TempDir()
	bin := roots.FromPath(binDir)
	host.registry.Register(bin, roots.KindBinary)

	s, err := NewSupport(newCountingQuery(), host, WithDebounce(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	s.onChange(ChangeEvent{Files: []string{filepath.Join(binDir, "lib", "x.class")}})
	s.Flush()

	assert.Equal(t, []roots.Root{bin}, host.dirty)
	assert.Empty(t, host.scheduled)
}

func TestGitignoreQuery(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"build", "src/nested", "logs"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("build/\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", ".gitignore"), []byte("secret.txt\n"), 0o644))

	q, err := NewGitignoreQuery(".gitignore", []string{"**/*.class", ".idea"})
	require.NoError(t, err)

	tests := []struct {
		path    string
		visible bool
	}{
		{"src/main.go", true},
		{"build", false},
		{"build/out.bin", false},
		{"logs/app.log", false},
		{"src/nested/deep.log", false},
		{"src/secret.txt", false},
		{"secret.txt", true},
		{"src/nested/A.class", false},
		{".idea", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.visible, q.IsVisible(filepath.Join(root, filepath.FromSlash(tt.path))))
		})
	}
}

func TestGitignoreQuery_Invalidate(t *testing.T) {
	root := t.TempDir()
	ignoreFile := filepath.Join(root, ".gitignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte("a.txt\n"), 0o644))

	q, err := NewGitignoreQuery(".gitignore", nil)
	require.NoError(t, err)
	var events []ChangeEvent
	q.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })

	assert.False(t, q.IsVisible(filepath.Join(root, "a.txt")))

	require.NoError(t, os.WriteFile(ignoreFile, []byte("b.txt\n"), 0o644))
	assert.False(t, q.IsVisible(filepath.Join(root, "a.txt")), "rules are cached until invalidated")

	q.Invalidate(ignoreFile, filepath.Join(root, "c.txt"))
	assert.True(t, q.IsVisible(filepath.Join(root, "a.txt")))
	assert.False(t, q.IsVisible(filepath.Join(root, "b.txt")))

	q.InvalidateAll()
	require.Len(t, events, 2)
	assert.Equal(t, []string{root, filepath.Join(root, "c.txt")}, events[0].Files)
	assert.True(t, events[1].Global)
	assert.True(t, q.IsRuleFile(ignoreFile))
}

func TestNewGitignoreQuery_InvalidPattern(t *testing.T) {
	_, err := NewGitignoreQuery(".gitignore", []string{"[unclosed"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
