// Package model holds the block graph: workspaces, blocks, inputs, fields,
// connections and variables, together with the connection checker and the
// change log that makes every mutation undoable.
//
// A Workspace is not safe for concurrent use. Callers that share one between
// goroutines serialize access themselves.
package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/ritzau/blockgraph/pkg/connectiondb"
	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
)

// Workspace owns blocks, comments and variables, and the per-kind
// connection indexes used for proximity queries.
type Workspace struct {
	id       string
	opts     Options
	registry *Registry
	checker  ConnectionChecker

	blocks []*Block // creation order
	byID   map[string]*Block

	comments     []*Comment
	commentsByID map[string]*Comment
	variables    *VariableMap
	selectedID   string
	dbs          [numConnectionKinds]*connectiondb.DB[*Connection]
	disposed     bool

	// change log state, see events.go and undo.go
	disabled     int
	recordUndo   bool
	group        string
	listeners    []listenerEntry
	nextListener ListenerID
	queue        []Event
	batchDepth   int
	flushing     bool
	undoStack    []Event
	redoStack    []Event
	undoPushes   int
}

// NewWorkspace creates an empty workspace instantiating blocks from reg.
func NewWorkspace(reg *Registry, opts ...Option) *Workspace {
	ws := &Workspace{
		id:           uuid.NewString(),
		opts:         DefaultOptions(),
		registry:     reg,
		byID:         make(map[string]*Block),
		commentsByID: make(map[string]*Comment),
		recordUndo:   true,
	}
	for _, opt := range opts {
		opt(ws)
	}
	if ws.checker == nil {
		ws.checker = NewChecker()
	}
	for k := range ws.dbs {
		ws.dbs[k] = connectiondb.New((*Connection).anchor)
	}
	ws.variables = newVariableMap(ws)
	return ws
}

func (ws *Workspace) ID() string                     { return ws.id }
func (ws *Workspace) Options() Options               { return ws.opts }
func (ws *Workspace) Registry() *Registry            { return ws.registry }
func (ws *Workspace) Checker() ConnectionChecker     { return ws.checker }
func (ws *Workspace) Variables() *VariableMap        { return ws.variables }
func (ws *Workspace) IsDisposed() bool               { return ws.disposed }
func (ws *Workspace) SetOptions(o Options)           { ws.opts = o }
func (ws *Workspace) SetChecker(c ConnectionChecker) { ws.checker = c }

// ConnectionDB exposes the index for kind k. It is read-only for callers:
// only block mutations add or remove entries.
func (ws *Workspace) ConnectionDB(k ConnectionKind) *connectiondb.DB[*Connection] {
	return ws.dbs[k]
}

// NewBlock instantiates a block of type typ. An empty or already used id is
// replaced by a fresh one. Default shadows and variables are created, and a
// BlockCreate record is emitted for the finished block.
func (ws *Workspace) NewBlock(typ, id string) (*Block, error) {
	if ws.disposed {
		return nil, ErrWorkspaceDisposed
	}
	var (
		b   *Block
		err error
	)
	ws.withGroup(func() {
		ws.DisableEvents()
		b, err = ws.newBlock(typ, id)
		ws.EnableEvents()
		if err != nil {
			return
		}
		// Default variables are real workspace state and get their own
		// records; shadows are part of the block's create record.
		if err = b.initVariables(); err == nil {
			ws.DisableEvents()
			err = b.initShadows()
			ws.EnableEvents()
		}
		if err != nil {
			ws.DisableEvents()
			b.disposeInternal()
			ws.EnableEvents()
			return
		}
		if ws.eventsEnabled() {
			ws.fire(newBlockCreate(b))
		}
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// newBlock builds and registers a bare block. It emits nothing.
func (ws *Workspace) newBlock(typ, id string) (*Block, error) {
	def, ok := ws.registry.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlockType, typ)
	}
	if id == "" {
		id = uuid.NewString()
	} else if _, taken := ws.byID[id]; taken {
		logging.Debug("block id collision, using fresh id", "id", id, "type", typ)
		id = uuid.NewString()
	}
	b := &Block{
		id:        id,
		typ:       typ,
		ws:        ws,
		def:       def,
		deletable: true,
		movable:   true,
		editable:  true,
	}
	if def.Previous != nil {
		b.previous = newConnection(b, KindPrevious, def.Previous.Check, def.Previous.Offset)
	}
	if def.Next != nil {
		b.next = newConnection(b, KindNext, def.Next.Check, def.Next.Offset)
	}
	if def.Output != nil {
		b.output = newConnection(b, KindOutput, def.Output.Check, def.Output.Offset)
	}
	for i := range def.Inputs {
		b.inputs = append(b.inputs, newInput(b, &def.Inputs[i]))
	}
	ws.blocks = append(ws.blocks, b)
	ws.byID[b.id] = b
	for _, c := range b.Connections(true) {
		c.refreshTracking()
	}
	return b, nil
}

func (ws *Workspace) removeBlock(b *Block) {
	delete(ws.byID, b.id)
	for i, x := range ws.blocks {
		if x == b {
			ws.blocks = append(ws.blocks[:i], ws.blocks[i+1:]...)
			break
		}
	}
	if ws.selectedID == b.id {
		ws.selectedID = ""
	}
}

// BlockByID returns the live block with the given id, or nil.
func (ws *Workspace) BlockByID(id string) *Block {
	return ws.byID[id]
}

// AllBlocks returns every live block in creation order.
func (ws *Workspace) AllBlocks() []*Block {
	out := make([]*Block, len(ws.blocks))
	copy(out, ws.blocks)
	return out
}

// scanAngle tilts the top-to-bottom ordering slightly so that blocks further
// left sort first among blocks at a similar height.
const scanAngle = 3 * math.Pi / 180

// TopBlocks returns blocks without a parent. When ordered is set they are
// sorted top to bottom with a slight left bias, otherwise creation order.
func (ws *Workspace) TopBlocks(ordered bool) []*Block {
	var top []*Block
	for _, b := range ws.blocks {
		if b.Parent() == nil {
			top = append(top, b)
		}
	}
	if ordered && len(top) > 1 {
		offset := math.Sin(scanAngle)
		sort.SliceStable(top, func(i, j int) bool {
			a, b := top[i].xy, top[j].xy
			return a.Y+offset*a.X < b.Y+offset*b.X
		})
	}
	return top
}

// Clear disposes all blocks, comments and variables in one event group.
func (ws *Workspace) Clear() {
	ws.withGroup(func() {
		for _, b := range ws.TopBlocks(false) {
			b.Dispose(false)
		}
		for _, c := range ws.Comments() {
			c.Dispose()
		}
		ws.variables.clear()
	})
	ws.selectedID = ""
}

// Dispose clears the workspace and invalidates it. Listeners are dropped.
func (ws *Workspace) Dispose() {
	if ws.disposed {
		logging.Warn("workspace disposed twice", "workspace", ws.id)
		return
	}
	ws.DisableEvents()
	ws.Clear()
	ws.EnableEvents()
	ws.disposed = true
	ws.listeners = nil
	ws.queue = nil
	ws.ClearUndo()
}

// Selected returns the id of the selected block, if any.
func (ws *Workspace) Selected() string {
	return ws.selectedID
}

// Select marks a block as selected and emits a Selected UI record.
// An empty id clears the selection.
func (ws *Workspace) Select(id string) error {
	if id != "" && ws.byID[id] == nil {
		return fmt.Errorf("select %q: %w", id, ErrBlockDisposed)
	}
	if id == ws.selectedID {
		return nil
	}
	old := ws.selectedID
	ws.selectedID = id
	if ws.eventsEnabled() {
		ws.fire(NewSelected(ws, old, id))
	}
	return nil
}

// reindex suspends index tracking for every connection in root's subtree
// while fn edits the graph, then re-tracks whatever should be visible.
// Index edits and graph edits therefore always happen in one call.
func (ws *Workspace) reindex(root *Block, fn func()) {
	for _, c := range root.subtreeConnections() {
		c.untrack()
	}
	fn()
	for _, c := range root.subtreeConnections() {
		c.refreshTracking()
	}
}

// translate shifts root's subtree by delta. Callers hold tracking
// suspended through reindex.
func (root *Block) translate(delta geom.Coordinate) {
	for _, b := range root.Descendants(false) {
		b.xy = b.xy.Add(delta)
	}
}
