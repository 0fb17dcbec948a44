package eventlog

import (
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	mu      sync.Mutex
	batches [][]*Work
}

func (r *recordingScheduler) Schedule(works ...*Work) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, works)
}

func (r *recordingScheduler) flat() []*Work {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Work
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

const root = roots.Root("file:///project")

func TestDelivery_DeletesBeforeCreates(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	create := NewWork(root, OpCreate, "p")
	del := NewWork(root, OpDelete, "p")
	other := NewWork(root, OpCreate, "q")

	d := log.BeginDelivery()
	d.Record(OpCreate, root, "q", other)
	d.Record(OpDelete, root, "p", del)
	d.Record(OpCreate, root, "p", create)
	assert.Empty(t, sched.flat(), "nothing is scheduled before the delivery ends")

	d.Done()
	got := sched.flat()
	require.Len(t, got, 3)
	assert.Equal(t, del.ID, got[0].ID)
	assert.ElementsMatch(t, []*Work{other, create}, got[1:])
	require.Len(t, sched.batches, 2)
	assert.Equal(t, []*Work{del}, sched.batches[0])
}

func TestDelivery_DeleteSupersedesEarlierCreate(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	d := log.BeginDelivery()
	d.Record(OpCreate, root, "p", NewWork(root, OpCreate, "p"))
	del := NewWork(root, OpDelete, "p")
	d.Record(OpDelete, root, "p", del)
	d.Done()

	assert.Equal(t, []*Work{del}, sched.flat())
}

func TestDelivery_LaterRecordReplacesEarlier(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	first := NewWork(root, OpCreate, "p")
	second := NewWork(root, OpCreate, "p")
	d := log.BeginDelivery()
	d.Record(OpCreate, root, "p", first)
	d.Record(OpCreate, root, "p", second)
	assert.Equal(t, 1, d.Len())
	d.Done()

	assert.Equal(t, []*Work{second}, sched.flat())
}

func TestDelivery_SharedWorkScheduledOnce(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	folderDelete := NewWork(root, OpDelete, "dir")
	d := log.BeginDelivery()
	d.Record(OpDelete, root, "dir/a", folderDelete)
	d.Record(OpDelete, root, "dir/b", folderDelete)
	d.Record(OpDelete, roots.Root("file:///other"), "x", folderDelete)
	d.Done()

	assert.Equal(t, []*Work{folderDelete}, sched.flat())
}

func TestDelivery_DoneIsIdempotentAndClears(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	d := log.BeginDelivery()
	d.Record(OpCreate, root, "a", NewWork(root, OpCreate, "a"))
	d.Done()
	d.Done()
	d.Record(OpCreate, root, "b", NewWork(root, OpCreate, "b"))
	d.Done()

	assert.Len(t, sched.flat(), 1)
	assert.Equal(t, 0, d.Len())

	empty := log.BeginDelivery()
	empty.Done()
	assert.Len(t, sched.batches, 1)
}

func TestDelivery_IndependentConcurrentBatches(t *testing.T) {
	sched := &recordingScheduler{}
	log := NewLog(sched)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := log.BeginDelivery()
			for j := 0; j < 10; j++ {
				d.Record(OpCreate, root, "c", NewWork(root, OpCreate, "c"))
				d.Record(OpDelete, root, "d", NewWork(root, OpDelete, "d"))
			}
			d.Done()
		}()
	}
	wg.Wait()

	// every delivery commits one delete batch followed by one create batch
	require.Len(t, sched.batches, 16)
	for i := 0; i < len(sched.batches); i += 2 {
		assert.Equal(t, OpDelete, sched.batches[i][0].Op)
		assert.Equal(t, OpCreate, sched.batches[i+1][0].Op)
	}
}

func TestLog_RecordAndSchedulerFunc(t *testing.T) {
	var got []*Work
	log := NewLog(SchedulerFunc(func(works ...*Work) { got = append(got, works...) }))

	w := NewWork(root, OpRefresh)
	log.Record(OpRefresh, root, "", w)
	assert.Equal(t, []*Work{w}, got)
	assert.Equal(t, "refresh", OpRefresh.String())
	assert.Contains(t, w.String(), string(root))
}
