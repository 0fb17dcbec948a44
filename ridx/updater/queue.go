package updater

import (
	"context"
	"sync"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/sourcegraph/conc/pool"
)

// workQueue hands Work to a fixed set of workers. Works of one root run in
// the order they were scheduled and never concurrently, so a root's
// TimeStamps only ever has one owner.
type workQueue struct {
	process func(*eventlog.Work)

	mu       sync.Mutex
	cond     *sync.Cond
	perRoot  map[roots.Root][]*eventlog.Work
	running  map[roots.Root]bool
	ready    []roots.Root
	inflight int
	closed   bool

	workers *pool.Pool
}

func newWorkQueue(workers int, process func(*eventlog.Work)) *workQueue {
	q := &workQueue{
		process: process,
		perRoot: make(map[roots.Root][]*eventlog.Work),
		running: make(map[roots.Root]bool),
		workers: pool.New().WithMaxGoroutines(workers),
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.workers.Go(q.workerLoop)
	}
	return q
}

func (q *workQueue) push(works ...*eventlog.Work) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	for _, w := range works {
		q.perRoot[w.Root] = append(q.perRoot[w.Root], w)
		q.inflight++
		if !q.running[w.Root] {
			q.running[w.Root] = true
			q.ready = append(q.ready, w.Root)
		}
	}
	q.cond.Broadcast()
}

// take removes the queued works of root with operation op and returns them.
// A work already handed to a worker is not affected.
func (q *workQueue) take(root roots.Root, op eventlog.Operation) []*eventlog.Work {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken, kept []*eventlog.Work
	for _, w := range q.perRoot[root] {
		if w.Op == op {
			taken = append(taken, w)
		} else {
			kept = append(kept, w)
		}
	}
	if len(taken) == 0 {
		return nil
	}
	q.perRoot[root] = kept
	q.inflight -= len(taken)
	q.cond.Broadcast()
	return taken
}

func (q *workQueue) workerLoop() {
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		root := q.ready[0]
		q.ready = q.ready[1:]
		q.mu.Unlock()

		q.drain(root)
	}
}

// drain runs the works of root until its queue is empty
func (q *workQueue) drain(root roots.Root) {
	for {
		q.mu.Lock()
		pending := q.perRoot[root]
		if len(pending) == 0 || q.closed {
			delete(q.perRoot, root)
			delete(q.running, root)
			q.inflight -= len(pending)
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		w := pending[0]
		q.perRoot[root] = pending[1:]
		q.mu.Unlock()

		q.process(w)

		q.mu.Lock()
		q.inflight--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// wait blocks until no work is queued or running, or ctx ends
func (q *workQueue) wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.inflight > 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// close drops queued work, lets running work finish and stops the workers
func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.workers.Wait()
}
