package eventlog

import (
	"log/slog"
	"sync"

	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/google/uuid"
)

// Log collects change events per delivery and commits each delivery to the
// scheduler with every delete ahead of the rest.
type Log struct {
	scheduler Scheduler

	// orders commits of concurrent deliveries
	commitMu sync.Mutex
}

// NewLog creates a Log feeding scheduler
func NewLog(scheduler Scheduler) *Log {
	return &Log{scheduler: scheduler}
}

type pathKey struct {
	root roots.Root
	rel  string
}

// entry holds the pending works of one path. A delete followed by a create
// keeps both so the delete still runs first; a delete drops an earlier
// create of the same path.
type entry struct {
	del   *Work
	other *Work
}

// Delivery accumulates the events of one delivery batch and is cleared by
// Done. Deliveries share no state, so accumulation never contends across
// batches.
type Delivery struct {
	log *Log

	mu      sync.Mutex
	changes map[pathKey]entry
	order   []pathKey
	done    bool
}

// BeginDelivery starts a new batch
func (l *Log) BeginDelivery() *Delivery {
	return &Delivery{
		log:     l,
		changes: make(map[pathKey]entry),
	}
}

// Record notes op for rel under root. A later record of the same kind for
// the same path replaces the earlier one. Records after Done are dropped.
func (d *Delivery) Record(op Operation, root roots.Root, rel string, work *Work) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done {
		slog.Warn("Event recorded after delivery finished", "root", root, "path", rel, "op", op)
		return
	}
	key := pathKey{root: root, rel: rel}
	e, ok := d.changes[key]
	if !ok {
		d.order = append(d.order, key)
	}
	if op == OpDelete {
		e.del = work
		e.other = nil
	} else {
		e.other = work
	}
	d.changes[key] = e
}

// Len returns the number of distinct paths recorded
func (d *Delivery) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.changes)
}

// Done ends the batch and commits it. Only the first call has an effect.
func (d *Delivery) Done() {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	changes, order := d.changes, d.order
	d.changes, d.order = nil, nil
	d.mu.Unlock()

	d.log.commit(changes, order)
}

func (l *Log) commit(changes map[pathKey]entry, order []pathKey) {
	if len(changes) == 0 {
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(changes))
	var deletes, rest []*Work
	for _, key := range order {
		if w := changes[key].del; w != nil {
			if _, dup := seen[w.ID]; !dup {
				seen[w.ID] = struct{}{}
				deletes = append(deletes, w)
			}
		}
	}
	for _, key := range order {
		if w := changes[key].other; w != nil {
			if _, dup := seen[w.ID]; !dup {
				seen[w.ID] = struct{}{}
				rest = append(rest, w)
			}
		}
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	slog.Debug("Committing file events", "paths", len(changes), "deletes", len(deletes), "other", len(rest))
	if len(deletes) > 0 {
		l.scheduler.Schedule(deletes...)
	}
	if len(rest) > 0 {
		l.scheduler.Schedule(rest...)
	}
}

// Record commits a single event as its own delivery
func (l *Log) Record(op Operation, root roots.Root, rel string, work *Work) {
	d := l.BeginDelivery()
	d.Record(op, root, rel, work)
	d.Done()
}
