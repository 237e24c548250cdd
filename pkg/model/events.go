package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
)

// EventType discriminates change records on the wire.
type EventType string

const (
	EventBlockCreate     EventType = "create"
	EventBlockDelete     EventType = "delete"
	EventBlockChange     EventType = "change"
	EventBlockMove       EventType = "move"
	EventVarCreate       EventType = "var_create"
	EventVarDelete       EventType = "var_delete"
	EventVarRename       EventType = "var_rename"
	EventCommentCreate   EventType = "comment_create"
	EventCommentDelete   EventType = "comment_delete"
	EventCommentChange   EventType = "comment_change"
	EventCommentMove     EventType = "comment_move"
	EventSelected        EventType = "selected"
	EventBlockDrag       EventType = "drag"
	EventFinishedLoading EventType = "finished_loading"
)

// Event is a change record. Every undoable record can replay itself in
// either direction on a workspace.
type Event interface {
	Type() EventType
	WorkspaceID() string
	Group() string
	RecordUndo() bool
	IsUI() bool
	IsNull() bool
	// Run applies the record forward (redo) or backward (undo).
	Run(ws *Workspace, forward bool) error
	// EntityID is the block, variable or comment the record is about.
	EntityID() string

	base() *Base
}

// Base carries the fields shared by all records.
type Base struct {
	Kind      EventType `json:"type"`
	Workspace string    `json:"workspaceId,omitempty"`
	GroupID   string    `json:"group,omitempty"`
	Undo      bool      `json:"recordUndo,omitempty"`
}

func (e *Base) Type() EventType     { return e.Kind }
func (e *Base) WorkspaceID() string { return e.Workspace }
func (e *Base) Group() string       { return e.GroupID }
func (e *Base) RecordUndo() bool    { return e.Undo }
func (e *Base) IsUI() bool          { return false }
func (e *Base) IsNull() bool        { return false }
func (e *Base) base() *Base         { return e }

func (ws *Workspace) newBase(kind EventType, undo bool) Base {
	return Base{Kind: kind, Workspace: ws.id, GroupID: ws.group, Undo: undo && ws.recordUndo}
}

// BlockCreate records a new top-level tree.
type BlockCreate struct {
	Base
	BlockID string      `json:"blockId"`
	State   *BlockState `json:"json"`
	IDs     []string    `json:"ids"`
}

func newBlockCreate(b *Block) *BlockCreate {
	return &BlockCreate{
		Base:    b.ws.newBase(EventBlockCreate, !b.shadow),
		BlockID: b.id,
		State:   SaveBlock(b, SaveOptions{AddCoordinates: true}),
		IDs:     blockIDs(b),
	}
}

func blockIDs(b *Block) []string {
	var ids []string
	for _, d := range b.Descendants(false) {
		ids = append(ids, d.id)
	}
	return ids
}

func (e *BlockCreate) EntityID() string { return e.BlockID }

func (e *BlockCreate) Run(ws *Workspace, forward bool) error {
	if forward {
		_, err := ws.AppendBlock(e.State.Clone(), AppendOptions{})
		return err
	}
	disposeIDs(ws, e.BlockID, e.IDs)
	return nil
}

func disposeIDs(ws *Workspace, rootID string, ids []string) {
	for _, id := range ids {
		if b := ws.BlockByID(id); b != nil {
			b.Dispose(false)
		} else if id == rootID {
			logging.Warn("cannot dispose a block that does not exist", "block", id)
		}
	}
}

// BlockDelete records the removal of a tree, with enough state to rebuild
// it.
type BlockDelete struct {
	Base
	BlockID   string      `json:"blockId"`
	OldState  *BlockState `json:"oldJson"`
	IDs       []string    `json:"ids"`
	WasShadow bool        `json:"wasShadow,omitempty"`
}

func newBlockDelete(b *Block) *BlockDelete {
	return &BlockDelete{
		Base:      b.ws.newBase(EventBlockDelete, !b.shadow),
		BlockID:   b.id,
		OldState:  SaveBlock(b, SaveOptions{AddCoordinates: true}),
		IDs:       blockIDs(b),
		WasShadow: b.shadow,
	}
}

func (e *BlockDelete) EntityID() string { return e.BlockID }

func (e *BlockDelete) Run(ws *Workspace, forward bool) error {
	if forward {
		disposeIDs(ws, e.BlockID, e.IDs)
		return nil
	}
	_, err := ws.AppendBlock(e.OldState.Clone(), AppendOptions{Shadow: e.WasShadow})
	return err
}

// BlockChange records an attribute or field edit. Booleans are encoded as
// "true" and "false".
type BlockChange struct {
	Base
	BlockID  string `json:"blockId"`
	Element  string `json:"element"`
	Name     string `json:"name,omitempty"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

func (ws *Workspace) fireChange(b *Block, element, name, oldValue, newValue string) {
	if !ws.eventsEnabled() {
		return
	}
	ws.fire(&BlockChange{
		Base:     ws.newBase(EventBlockChange, true),
		BlockID:  b.id,
		Element:  element,
		Name:     name,
		OldValue: oldValue,
		NewValue: newValue,
	})
}

func (e *BlockChange) EntityID() string { return e.BlockID }
func (e *BlockChange) IsNull() bool     { return e.OldValue == e.NewValue }

func (e *BlockChange) Run(ws *Workspace, forward bool) error {
	b := ws.BlockByID(e.BlockID)
	if b == nil {
		logging.Warn("cannot change a block that does not exist", "block", e.BlockID)
		return nil
	}
	value := e.OldValue
	if forward {
		value = e.NewValue
	}
	switch e.Element {
	case "field":
		return b.SetFieldValue(e.Name, value)
	case "disabled":
		b.SetEnabled(value != "true")
	case "collapsed":
		b.SetCollapsed(value == "true")
	case "inline":
		b.SetInputsInline(value == "true")
	case "comment":
		b.SetComment(value)
	case "data":
		b.SetData(value)
	default:
		logging.Warn("unknown change element", "element", e.Element, "block", e.BlockID)
	}
	return nil
}

// Location is where a block sits: inside a parent, or at a coordinate.
type Location struct {
	ParentID   string           `json:"parentId,omitempty"`
	InputName  string           `json:"inputName,omitempty"`
	Coordinate *geom.Coordinate `json:"coordinate,omitempty"`
}

func locationOf(b *Block) Location {
	pc := b.parentConnection()
	if pc == nil {
		xy := b.xy
		return Location{Coordinate: &xy}
	}
	loc := Location{ParentID: pc.owner.id}
	if pc.input != nil {
		loc.InputName = pc.input.name
	}
	return loc
}

func (l Location) equal(o Location) bool {
	if l.ParentID != o.ParentID || l.InputName != o.InputName {
		return false
	}
	if l.Coordinate == nil || o.Coordinate == nil {
		return l.Coordinate == nil && o.Coordinate == nil
	}
	return l.Coordinate.Equal(*o.Coordinate)
}

// BlockMove records a block changing parent or position.
type BlockMove struct {
	Base
	BlockID string   `json:"blockId"`
	Old     Location `json:"old"`
	New     Location `json:"new"`
}

// newBlockMove snapshots b's location before a move. It returns nil when
// events are disabled.
func (ws *Workspace) newBlockMove(b *Block) *BlockMove {
	if !ws.eventsEnabled() {
		return nil
	}
	return &BlockMove{
		Base:    ws.newBase(EventBlockMove, !b.shadow),
		BlockID: b.id,
		Old:     locationOf(b),
	}
}

// NewBlockMove is newBlockMove for callers that move blocks silently and
// record the move afterwards, such as the drag engine.
func NewBlockMove(b *Block, from geom.Coordinate) *BlockMove {
	ev := b.ws.newBlockMove(b)
	if ev != nil {
		ev.Old = Location{Coordinate: &from}
	}
	return ev
}

// fireMove completes a move snapshot with the block's current location.
func (ws *Workspace) fireMove(ev *BlockMove) {
	if ev == nil {
		return
	}
	b := ws.BlockByID(ev.BlockID)
	if b == nil {
		return
	}
	ev.New = locationOf(b)
	ws.fire(ev)
}

// FireMove completes and emits a move created with NewBlockMove.
func (ws *Workspace) FireMove(ev *BlockMove) { ws.fireMove(ev) }

func (e *BlockMove) EntityID() string { return e.BlockID }
func (e *BlockMove) IsNull() bool     { return e.Old.equal(e.New) }

func (e *BlockMove) Run(ws *Workspace, forward bool) error {
	b := ws.BlockByID(e.BlockID)
	if b == nil {
		logging.Warn("cannot move a block that does not exist", "block", e.BlockID)
		return nil
	}
	loc := e.Old
	if forward {
		loc = e.New
	}
	var parent *Block
	if loc.ParentID != "" {
		if parent = ws.BlockByID(loc.ParentID); parent == nil {
			logging.Warn("cannot move into a parent that does not exist", "parent", loc.ParentID)
			return nil
		}
	}
	if b.Parent() != nil {
		b.Unplug(false)
	}
	if loc.Coordinate != nil {
		if err := b.MoveTo(*loc.Coordinate); err != nil {
			return err
		}
	}
	if parent == nil {
		return nil
	}
	plug := b.output
	if plug == nil {
		plug = b.previous
	}
	var socket *Connection
	if loc.InputName != "" {
		if in := parent.Input(loc.InputName); in != nil {
			socket = in.conn
		}
	} else if plug != nil && plug.kind == KindPrevious {
		socket = parent.next
	}
	if plug == nil || socket == nil {
		logging.Warn("cannot connect to a connection that does not exist", "block", e.BlockID, "parent", loc.ParentID, "input", loc.InputName)
		return nil
	}
	return plug.Connect(socket)
}

// VarCreate records a new variable.
type VarCreate struct {
	Base
	VarID   string `json:"varId"`
	VarName string `json:"varName"`
	VarType string `json:"varType,omitempty"`
}

func (e *VarCreate) EntityID() string { return e.VarID }

func (e *VarCreate) Run(ws *Workspace, forward bool) error {
	if forward {
		_, err := ws.variables.Create(e.VarName, e.VarType, e.VarID)
		return err
	}
	return ws.variables.Delete(e.VarID)
}

// VarDelete records the removal of a variable.
type VarDelete struct {
	Base
	VarID   string `json:"varId"`
	VarName string `json:"varName"`
	VarType string `json:"varType,omitempty"`
}

func (e *VarDelete) EntityID() string { return e.VarID }

func (e *VarDelete) Run(ws *Workspace, forward bool) error {
	if forward {
		return ws.variables.Delete(e.VarID)
	}
	_, err := ws.variables.Create(e.VarName, e.VarType, e.VarID)
	return err
}

// VarRename records a variable's name change.
type VarRename struct {
	Base
	VarID   string `json:"varId"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

func (e *VarRename) EntityID() string { return e.VarID }
func (e *VarRename) IsNull() bool     { return e.OldName == e.NewName }

func (e *VarRename) Run(ws *Workspace, forward bool) error {
	if forward {
		return ws.variables.Rename(e.VarID, e.NewName)
	}
	return ws.variables.Rename(e.VarID, e.OldName)
}

// CommentCreate records a new workspace comment.
type CommentCreate struct {
	Base
	CommentID string       `json:"commentId"`
	State     CommentState `json:"json"`
}

func (e *CommentCreate) EntityID() string { return e.CommentID }

func (e *CommentCreate) Run(ws *Workspace, forward bool) error {
	if forward {
		_, err := ws.AppendComment(e.State)
		return err
	}
	return ws.deleteComment(e.CommentID)
}

// CommentDelete records the removal of a workspace comment.
type CommentDelete struct {
	Base
	CommentID string       `json:"commentId"`
	State     CommentState `json:"json"`
}

func (e *CommentDelete) EntityID() string { return e.CommentID }

func (e *CommentDelete) Run(ws *Workspace, forward bool) error {
	if forward {
		return ws.deleteComment(e.CommentID)
	}
	_, err := ws.AppendComment(e.State)
	return err
}

// CommentChange records an edit of a workspace comment's text.
type CommentChange struct {
	Base
	CommentID string `json:"commentId"`
	OldText   string `json:"oldContents"`
	NewText   string `json:"newContents"`
}

func (e *CommentChange) EntityID() string { return e.CommentID }
func (e *CommentChange) IsNull() bool     { return e.OldText == e.NewText }

func (e *CommentChange) Run(ws *Workspace, forward bool) error {
	c := ws.CommentByID(e.CommentID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchComment, e.CommentID)
	}
	if forward {
		c.SetText(e.NewText)
	} else {
		c.SetText(e.OldText)
	}
	return nil
}

// CommentMove records a workspace comment changing position.
type CommentMove struct {
	Base
	CommentID string          `json:"commentId"`
	Old       geom.Coordinate `json:"oldCoordinate"`
	New       geom.Coordinate `json:"newCoordinate"`
}

func (e *CommentMove) EntityID() string { return e.CommentID }
func (e *CommentMove) IsNull() bool     { return e.Old.Equal(e.New) }

func (e *CommentMove) Run(ws *Workspace, forward bool) error {
	c := ws.CommentByID(e.CommentID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchComment, e.CommentID)
	}
	if forward {
		c.MoveTo(e.New)
	} else {
		c.MoveTo(e.Old)
	}
	return nil
}

// uiEvent is embedded by records that describe transient interface state.
// They reach listeners but are never undoable.
type uiEvent struct{ Base }

func (e *uiEvent) IsUI() bool                 { return true }
func (e *uiEvent) Run(*Workspace, bool) error { return nil }
func (e *uiEvent) RecordUndo() bool           { return false }

// Selected records a selection change.
type Selected struct {
	uiEvent
	OldElementID string `json:"oldElementId,omitempty"`
	NewElementID string `json:"newElementId,omitempty"`
}

// NewSelected builds a Selected record.
func NewSelected(ws *Workspace, oldID, newID string) *Selected {
	return &Selected{uiEvent: uiEvent{ws.newBase(EventSelected, false)}, OldElementID: oldID, NewElementID: newID}
}

func (e *Selected) EntityID() string { return e.NewElementID }

// BlockDrag marks the start or end of a drag gesture.
type BlockDrag struct {
	uiEvent
	BlockID string   `json:"blockId"`
	IsStart bool     `json:"isStart"`
	Blocks  []string `json:"blocks,omitempty"`
}

// NewBlockDrag builds a BlockDrag record for b's stack.
func NewBlockDrag(b *Block, isStart bool) *BlockDrag {
	return &BlockDrag{
		uiEvent: uiEvent{b.ws.newBase(EventBlockDrag, false)},
		BlockID: b.id,
		IsStart: isStart,
		Blocks:  blockIDs(b),
	}
}

func (e *BlockDrag) EntityID() string { return e.BlockID }

// FinishedLoading is emitted once a document load completes.
type FinishedLoading struct {
	uiEvent
}

// NewFinishedLoading builds a FinishedLoading record.
func NewFinishedLoading(ws *Workspace) *FinishedLoading {
	return &FinishedLoading{uiEvent{ws.newBase(EventFinishedLoading, false)}}
}

func (e *FinishedLoading) EntityID() string { return "" }

// MarshalEvent encodes a record with its type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes a record produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Kind EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var e Event
	switch head.Kind {
	case EventBlockCreate:
		e = &BlockCreate{}
	case EventBlockDelete:
		e = &BlockDelete{}
	case EventBlockChange:
		e = &BlockChange{}
	case EventBlockMove:
		e = &BlockMove{}
	case EventVarCreate:
		e = &VarCreate{}
	case EventVarDelete:
		e = &VarDelete{}
	case EventVarRename:
		e = &VarRename{}
	case EventCommentCreate:
		e = &CommentCreate{}
	case EventCommentDelete:
		e = &CommentDelete{}
	case EventCommentChange:
		e = &CommentChange{}
	case EventCommentMove:
		e = &CommentMove{}
	case EventSelected:
		e = &Selected{}
	case EventBlockDrag:
		e = &BlockDrag{}
	case EventFinishedLoading:
		e = &FinishedLoading{}
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Kind)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Kind, err)
	}
	return e, nil
}

func newGroupID() string {
	return uuid.NewString()
}
