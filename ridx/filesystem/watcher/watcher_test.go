package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_CoalescesBurst(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(30*time.Millisecond, func() { runs.Add(1) })
	defer task.Stop()

	for i := 0; i < 10; i++ {
		task.Schedule()
	}
	assert.True(t, task.Pending())
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, task.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_FlushAndStop(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(time.Hour, func() { runs.Add(1) })

	task.Flush()
	assert.Equal(t, int32(0), runs.Load(), "nothing pending")

	task.Schedule()
	task.Flush()
	assert.Equal(t, int32(1), runs.Load())

	task.Schedule()
	task.Stop()
	task.Flush()
	task.Schedule()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, task.Pending())
}

func TestTask_FlushWaitsForTimerRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	task := NewTask(time.Millisecond, func() {
		if runs.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	defer task.Stop()

	task.Schedule()
	<-entered

	flushed := make(chan struct{})
	go func() {
		task.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
		close(release)
		t.Fatal("Flush returned while the timer run was in progress")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return after the run")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_FlushNeverReturnsMidRun(t *testing.T) {
	for i := 0; i < 50; i++ {
		var done atomic.Bool
		task := NewTask(time.Microsecond, func() {
			time.Sleep(time.Millisecond)
			done.Store(true)
		})
		task.Schedule()
		time.Sleep(time.Duration(i%5) * 20 * time.Microsecond)
		task.Flush()
		// either Flush ran the request or it waited for the timer's run
		require.True(t, done.Load(), "iteration %d", i)
		task.Stop()
	}
}

type recordingScheduler struct {
	mu    sync.Mutex
	works []*eventlog.Work
}

func (r *recordingScheduler) Schedule(works ...*eventlog.Work) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.works = append(r.works, works...)
}

func (r *recordingScheduler) has(op eventlog.Operation, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.works {
		if w.Op == op && len(w.Paths) == 1 && w.Paths[0] == rel {
			return true
		}
	}
	return false
}

type ruleRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *ruleRecorder) IsRuleFile(path string) bool { return filepath.Base(path) == ".gitignore" }

func (r *ruleRecorder) Invalidate(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, paths...)
}

func (r *ruleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func TestRootsListener_RecordsChanges(t *testing.T) {
	rootDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootDir, "sub"), 0o755))
	root := roots.FromPath(rootDir)

	sched := &recordingScheduler{}
	rules := &ruleRecorder{}
	l, err := NewRootsListener(eventlog.NewLog(sched), WithQuietPeriod(20*time.Millisecond), WithRules(rules))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Add(root))

	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "sub", "a.txt"), []byte("a"), 0o644))
	assert.Eventually(t, func() bool { return sched.has(eventlog.OpCreate, "sub/a.txt") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(rootDir, "sub", "a.txt")))
	assert.Eventually(t, func() bool { return sched.has(eventlog.OpDelete, "sub/a.txt") }, 5*time.Second, 10*time.Millisecond)

	// folders created later are watched too
	require.NoError(t, os.MkdirAll(filepath.Join(rootDir, "later"), 0o755))
	assert.Eventually(t, func() bool { return sched.has(eventlog.OpCreate, "later") }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "later", "b.txt"), []byte("b"), 0o644))
	assert.Eventually(t, func() bool { return sched.has(eventlog.OpCreate, "later/b.txt") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(rootDir, ".gitignore"), []byte("*.log\n"), 0o644))
	assert.Eventually(t, func() bool { return rules.count() > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRootsListener_SetRoots(t *testing.T) {
	a, b, c := roots.FromPath(t.TempDir()), roots.FromPath(t.TempDir()), roots.FromPath(t.TempDir())

	l, err := NewRootsListener(eventlog.NewLog(&recordingScheduler{}))
	require.NoError(t, err)
	defer l.Close()

	added, removed := l.SetRoots([]roots.Root{a, b})
	expected := []roots.Root{a, b}
	roots.Sort(expected)
	assert.Equal(t, expected, added)
	assert.Empty(t, removed)

	added, removed = l.SetRoots([]roots.Root{b, c, roots.Root("jar:file:///x.jar!/")})
	assert.Equal(t, []roots.Root{c}, added)
	assert.Equal(t, []roots.Root{a}, removed)

	expected = []roots.Root{b, c}
	roots.Sort(expected)
	assert.Equal(t, expected, l.Roots())

	l.Remove(b)
	assert.Equal(t, []roots.Root{c}, l.Roots())
}

func TestRootsListener_IgnoresUnwatchedAndMissing(t *testing.T) {
	l, err := NewRootsListener(eventlog.NewLog(&recordingScheduler{}))
	require.NoError(t, err)
	defer l.Close()

	assert.Error(t, l.Add(roots.FromPath(filepath.Join(t.TempDir(), "missing"))))
	assert.NoError(t, l.Add(roots.Root("jar:file:///x.jar!/")))
	assert.Empty(t, l.Roots())
}
