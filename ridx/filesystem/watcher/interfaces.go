package watcher

import (
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/eventlog"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType int

const (
	// EventCreate represents file/directory creation
	EventCreate EventType = iota
	// EventWrite represents file modification
	EventWrite
	// EventRemove represents file/directory removal
	EventRemove
	// EventRename represents the old name of a renamed file/directory
	EventRename
	// EventChmod represents permission changes
	EventChmod
)

// Event is a file system event attributed to a root
type Event struct {
	Type      EventType
	Root      roots.Root
	Path      string
	Rel       string
	Timestamp time.Time
}

// Operation maps the event to the change recorded in the event log. Chmod
// events carry no content change.
func (e Event) Operation() (eventlog.Operation, bool) {
	switch e.Type {
	case EventCreate, EventWrite:
		return eventlog.OpCreate, true
	case EventRemove, EventRename:
		return eventlog.OpDelete, true
	default:
		return 0, false
	}
}

// RuleInvalidator is told about changed visibility rule files
type RuleInvalidator interface {
	IsRuleFile(path string) bool
	Invalidate(paths ...string)
}

func convertEventType(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate, true
	case op.Has(fsnotify.Write):
		return EventWrite, true
	case op.Has(fsnotify.Remove):
		return EventRemove, true
	case op.Has(fsnotify.Rename):
		return EventRename, true
	case op.Has(fsnotify.Chmod):
		return EventChmod, true
	default:
		return 0, false
	}
}
