// Package eventlog batches file change events into ordered indexing work.
package eventlog

import (
	"fmt"

	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/google/uuid"
)

// Operation is the kind of change recorded for a path
type Operation int

const (
	// OpCreate covers creation and modification
	OpCreate Operation = iota
	// OpDelete covers removal
	OpDelete
	// OpRefresh re-crawls a whole root
	OpRefresh
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Work is one unit handed to the scheduler: an operation over paths of a
// root. Works are identified by ID; the same Work recorded twice is
// scheduled once.
type Work struct {
	ID    uuid.UUID
	Root  roots.Root
	Op    Operation
	Paths []string
}

// NewWork creates a Work with a fresh identity
func NewWork(root roots.Root, op Operation, paths ...string) *Work {
	return &Work{
		ID:    uuid.New(),
		Root:  root,
		Op:    op,
		Paths: paths,
	}
}

func (w *Work) String() string {
	return fmt.Sprintf("%s %s %v", w.Op, w.Root, w.Paths)
}

// Scheduler consumes Work. Works passed in one call are processed in order.
type Scheduler interface {
	Schedule(works ...*Work)
}

// SchedulerFunc adapts a function to Scheduler
type SchedulerFunc func(works ...*Work)

// Schedule implements Scheduler
func (f SchedulerFunc) Schedule(works ...*Work) {
	f(works...)
}
