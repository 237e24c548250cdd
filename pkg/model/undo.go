package model

import (
	"github.com/ritzau/blockgraph/pkg/logging"
)

// Listener receives change records after they are applied.
type Listener interface {
	HandleEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// ListenerID identifies a registered listener.
type ListenerID int

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// AddChangeListener registers l. Listeners run synchronously in
// registration order.
func (ws *Workspace) AddChangeListener(l Listener) ListenerID {
	ws.nextListener++
	ws.listeners = append(ws.listeners, listenerEntry{id: ws.nextListener, l: l})
	return ws.nextListener
}

// RemoveChangeListener unregisters a listener. Unknown ids are ignored.
func (ws *Workspace) RemoveChangeListener(id ListenerID) {
	for i, e := range ws.listeners {
		if e.id == id {
			ws.listeners = append(ws.listeners[:i], ws.listeners[i+1:]...)
			return
		}
	}
}

// DisableEvents stops record emission until the matching EnableEvents.
// Calls nest.
func (ws *Workspace) DisableEvents() { ws.disabled++ }

// EnableEvents undoes one DisableEvents.
func (ws *Workspace) EnableEvents() {
	if ws.disabled == 0 {
		logging.Warn("EnableEvents called more often than DisableEvents", "workspace", ws.id)
		return
	}
	ws.disabled--
}

func (ws *Workspace) eventsEnabled() bool { return ws.disabled == 0 }

// EventsEnabled reports whether mutations currently emit records.
func (ws *Workspace) EventsEnabled() bool { return ws.eventsEnabled() }

// SetRecordUndo controls whether new records reach the undo stack. Records
// are still delivered to listeners either way. It returns the old value.
func (ws *Workspace) SetRecordUndo(record bool) bool {
	old := ws.recordUndo
	ws.recordUndo = record
	return old
}

// RecordUndo reports whether new records are undoable.
func (ws *Workspace) RecordUndo() bool { return ws.recordUndo }

// Group returns the current event group id.
func (ws *Workspace) Group() string { return ws.group }

// SetGroup sets the event group stamped on new records. Empty clears it.
func (ws *Workspace) SetGroup(group string) { ws.group = group }

// NewGroup starts a fresh event group and returns its id.
func (ws *Workspace) NewGroup() string {
	ws.group = newGroupID()
	return ws.group
}

// withGroup runs fn inside the current group, opening one if none is set.
func (ws *Workspace) withGroup(fn func()) {
	if ws.group != "" {
		fn()
		return
	}
	ws.group = newGroupID()
	defer func() { ws.group = "" }()
	fn()
}

// Fire emits a record built by one of the exported constructors.
func (ws *Workspace) Fire(e Event) {
	if e == nil || !ws.eventsEnabled() {
		return
	}
	ws.fire(e)
}

func (ws *Workspace) fire(e Event) {
	if !ws.eventsEnabled() {
		return
	}
	ws.queue = append(ws.queue, e)
	if ws.batchDepth == 0 {
		ws.flush()
	}
}

// Batch runs fn and delivers the records it emits as one filtered queue.
func (ws *Workspace) Batch(fn func()) {
	ws.batchDepth++
	defer func() {
		ws.batchDepth--
		if ws.batchDepth == 0 && len(ws.queue) > 0 {
			ws.queue = Filter(ws.queue, true)
			ws.flush()
		}
	}()
	fn()
}

// flush dispatches queued records. Records emitted by listeners are queued
// behind the current one rather than dispatched re-entrantly.
func (ws *Workspace) flush() {
	if ws.flushing {
		return
	}
	ws.flushing = true
	defer func() { ws.flushing = false }()
	for len(ws.queue) > 0 {
		e := ws.queue[0]
		ws.queue = ws.queue[1:]
		ws.dispatch(e)
	}
	ws.queue = nil
}

func (ws *Workspace) dispatch(e Event) {
	if e.RecordUndo() && !e.IsNull() {
		ws.undoStack = append(ws.undoStack, e)
		ws.undoPushes++
		ws.redoStack = nil
		if max := ws.opts.MaxUndo; max > 0 && len(ws.undoStack) > max {
			ws.undoStack = append([]Event(nil), ws.undoStack[len(ws.undoStack)-max:]...)
		}
	}
	for _, entry := range append([]listenerEntry(nil), ws.listeners...) {
		entry.l.HandleEvent(e)
	}
}

// UndoStack returns a copy of the undo history, oldest first.
func (ws *Workspace) UndoStack() []Event { return append([]Event(nil), ws.undoStack...) }

// RedoStack returns a copy of the redo history, oldest first.
func (ws *Workspace) RedoStack() []Event { return append([]Event(nil), ws.redoStack...) }

// CanUndo reports whether Undo(false) would do anything.
func (ws *Workspace) CanUndo() bool { return len(ws.undoStack) > 0 }

// CanRedo reports whether Undo(true) would do anything.
func (ws *Workspace) CanRedo() bool { return len(ws.redoStack) > 0 }

// ClearUndo empties both stacks.
func (ws *Workspace) ClearUndo() {
	ws.undoStack = nil
	ws.redoStack = nil
}

// Undo reverts the most recent group of records, or re-applies the most
// recently undone group when redo is set. Replayed mutations emit records
// to listeners but are not recorded again.
func (ws *Workspace) Undo(redo bool) {
	from, to := &ws.undoStack, &ws.redoStack
	if redo {
		from, to = to, from
	}
	events := popGroup(from)
	if len(events) == 0 {
		return
	}
	*to = append(*to, events...)
	if redo {
		ws.undoPushes += len(events)
	} else {
		ws.undoPushes -= len(events)
	}
	ws.replay(Filter(events, redo), redo)
}

// popGroup pops the last record and every record before it sharing its
// non-empty group. The result is in pop order, newest first.
func popGroup(stack *[]Event) []Event {
	s := *stack
	if len(s) == 0 {
		return nil
	}
	last := s[len(s)-1]
	events := []Event{last}
	s = s[:len(s)-1]
	for g := last.Group(); g != "" && len(s) > 0 && s[len(s)-1].Group() == g; {
		events = append(events, s[len(s)-1])
		s = s[:len(s)-1]
	}
	*stack = s
	return events
}

func (ws *Workspace) replay(events []Event, forward bool) {
	old := ws.SetRecordUndo(false)
	defer ws.SetRecordUndo(old)
	group := ws.group
	if len(events) > 0 {
		ws.group = events[0].Group()
	}
	defer func() { ws.group = group }()
	for _, e := range events {
		if err := e.Run(ws, forward); err != nil {
			logging.Warn("replaying change record failed", "type", e.Type(), "entity", e.EntityID(), "error", err)
		}
	}
}

// Checkpoint marks a point in the undo history that RevertTo can return to.
type Checkpoint struct {
	pushes int
	redo   []Event
}

// Checkpoint captures the current history position.
func (ws *Workspace) Checkpoint() Checkpoint {
	return Checkpoint{pushes: ws.undoPushes, redo: ws.RedoStack()}
}

// RevertTo undoes every record recorded since cp without making it
// redoable, and restores the redo history cp saw.
func (ws *Workspace) RevertTo(cp Checkpoint) {
	n := ws.undoPushes - cp.pushes
	if n > len(ws.undoStack) {
		n = len(ws.undoStack)
	}
	if n <= 0 {
		ws.redoStack = cp.redo
		return
	}
	tail := ws.undoStack[len(ws.undoStack)-n:]
	ws.undoStack = ws.undoStack[:len(ws.undoStack)-n]
	ws.undoPushes = cp.pushes
	events := make([]Event, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		events = append(events, tail[i])
	}
	ws.replay(Filter(events, false), false)
	ws.redoStack = cp.redo
}

// RollbackGroup reverts and discards the trailing records of group. They
// are not pushed onto the redo stack.
func (ws *Workspace) RollbackGroup(group string) {
	if group == "" {
		return
	}
	var events []Event
	for len(ws.undoStack) > 0 && ws.undoStack[len(ws.undoStack)-1].Group() == group {
		events = append(events, ws.undoStack[len(ws.undoStack)-1])
		ws.undoStack = ws.undoStack[:len(ws.undoStack)-1]
		ws.undoPushes--
	}
	ws.replay(Filter(events, false), false)
}
