package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
)

// BlockState is the flat serialized form of a block and everything below
// it.
type BlockState struct {
	Type      string                      `json:"type"`
	ID        string                      `json:"id,omitempty"`
	X         *float64                    `json:"x,omitempty"`
	Y         *float64                    `json:"y,omitempty"`
	Collapsed bool                        `json:"collapsed,omitempty"`
	Disabled  bool                        `json:"disabled,omitempty"`
	Inline    *bool                       `json:"inline,omitempty"`
	Deletable *bool                       `json:"deletable,omitempty"`
	Movable   *bool                       `json:"movable,omitempty"`
	Editable  *bool                       `json:"editable,omitempty"`
	Data      string                      `json:"data,omitempty"`
	Comment   string                      `json:"comment,omitempty"`
	Fields    map[string]any              `json:"fields,omitempty"`
	Inputs    map[string]*ConnectionState `json:"inputs,omitempty"`
	Next      *ConnectionState            `json:"next,omitempty"`
}

// ConnectionState describes what occupies a superior connection: the
// shadow that refills it, the real block in it, or both.
type ConnectionState struct {
	Shadow *BlockState `json:"shadow,omitempty"`
	Block  *BlockState `json:"block,omitempty"`
}

// Clone returns a deep copy. Cloning nil returns nil.
func (s *BlockState) Clone() *BlockState {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("model: block state is not serializable: %v", err))
	}
	var out BlockState
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("model: block state does not round-trip: %v", err))
	}
	return &out
}

// Position returns the saved coordinate, if any.
func (s *BlockState) Position() (geom.Coordinate, bool) {
	if s.X == nil && s.Y == nil {
		return geom.Coordinate{}, false
	}
	var xy geom.Coordinate
	if s.X != nil {
		xy.X = *s.X
	}
	if s.Y != nil {
		xy.Y = *s.Y
	}
	return xy, true
}

// SetPosition stores a coordinate.
func (s *BlockState) SetPosition(xy geom.Coordinate) {
	x, y := xy.X, xy.Y
	s.X, s.Y = &x, &y
}

// StripIDs clears block ids throughout the state, so loading it always
// mints fresh ones.
func (s *BlockState) StripIDs() {
	if s == nil {
		return
	}
	s.ID = ""
	for _, cs := range s.Inputs {
		cs.stripIDs()
	}
	s.Next.stripIDs()
}

func (cs *ConnectionState) stripIDs() {
	if cs == nil {
		return
	}
	cs.Shadow.StripIDs()
	cs.Block.StripIDs()
}

// Walk visits s and every nested block and shadow state in pre-order.
func (s *BlockState) Walk(fn func(state *BlockState, shadow bool)) {
	s.walk(fn, false)
}

func (s *BlockState) walk(fn func(*BlockState, bool), shadow bool) {
	if s == nil {
		return
	}
	fn(s, shadow)
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cs := s.Inputs[name]
		cs.Shadow.walk(fn, true)
		cs.Block.walk(fn, false)
	}
	if s.Next != nil {
		s.Next.Shadow.walk(fn, true)
		s.Next.Block.walk(fn, false)
	}
}

// SaveOptions tunes SaveBlock.
type SaveOptions struct {
	// AddCoordinates records the block's position. Only the root of the
	// saved tree gets one.
	AddCoordinates bool
	// OmitIDs leaves block ids out.
	OmitIDs bool
}

func boolPtr(v bool) *bool { return &v }

// SaveBlock serializes b and its subtree. Insertion markers are never
// saved: SaveBlock returns nil for one, and a marker inside a stack is
// skipped over.
func SaveBlock(b *Block, opts SaveOptions) *BlockState {
	if b == nil || b.marker {
		return nil
	}
	s := &BlockState{Type: b.typ}
	if !opts.OmitIDs {
		s.ID = b.id
	}
	if opts.AddCoordinates {
		s.SetPosition(b.xy)
	}
	s.Collapsed = b.collapsed
	s.Disabled = b.disabled
	if b.inline != nil {
		s.Inline = boolPtr(*b.inline)
	}
	if !b.deletable {
		s.Deletable = boolPtr(false)
	}
	if !b.movable {
		s.Movable = boolPtr(false)
	}
	if !b.editable {
		s.Editable = boolPtr(false)
	}
	s.Data = b.data
	s.Comment = b.comment

	for _, f := range b.Fields() {
		if !f.IsSerializable() {
			continue
		}
		if s.Fields == nil {
			s.Fields = make(map[string]any)
		}
		s.Fields[f.name] = f.SaveState()
	}

	child := opts
	child.AddCoordinates = false
	for _, in := range b.inputs {
		if in.conn == nil {
			continue
		}
		if cs := saveConnection(in.conn, child); cs != nil {
			if s.Inputs == nil {
				s.Inputs = make(map[string]*ConnectionState)
			}
			s.Inputs[in.name] = cs
		}
	}
	if b.next != nil {
		s.Next = saveConnection(b.next, child)
	}
	return s
}

func saveConnection(c *Connection, opts SaveOptions) *ConnectionState {
	shadow := c.CurrentShadowState()
	if opts.OmitIDs {
		shadow.StripIDs()
	}
	target := c.TargetBlock()
	for target != nil && target.marker && c.kind == KindNext {
		target = target.NextBlock()
	}
	var real *BlockState
	if target != nil && !target.shadow {
		real = SaveBlock(target, opts)
	}
	if shadow == nil && real == nil {
		return nil
	}
	return &ConnectionState{Shadow: shadow, Block: real}
}

// AppendOptions tunes AppendBlock.
type AppendOptions struct {
	// Parent plugs the new block into this superior connection.
	Parent *Connection
	// Shadow builds the root block as a shadow.
	Shadow bool
}

// AppendBlock builds blocks from state. On error nothing is left behind on
// the workspace and the error is a *DeserializationError.
func (ws *Workspace) AppendBlock(state *BlockState, opts AppendOptions) (*Block, error) {
	if ws.disposed {
		return nil, ErrWorkspaceDisposed
	}
	var (
		b   *Block
		err error
	)
	ws.withGroup(func() {
		ws.DisableEvents()
		b, err = ws.appendPrivate(state, opts.Parent, opts.Shadow)
		ws.EnableEvents()
		if err != nil || !ws.eventsEnabled() {
			return
		}
		ws.fire(newBlockCreate(b))
		// A real block built straight into a parent is recorded as a
		// top-level create followed by the move into place.
		if opts.Parent != nil && !b.shadow {
			ws.fireMove(NewBlockMove(b, b.xy))
		}
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// appendPrivate builds a block with events disabled. On error the partial
// block is disposed.
func (ws *Workspace) appendPrivate(state *BlockState, parent *Connection, isShadow bool) (b *Block, err error) {
	if state == nil || state.Type == "" {
		return nil, newDeserializationError(MissingBlockType, state)
	}
	b, err = ws.newBlock(state.Type, state.ID)
	if err != nil {
		return nil, newDeserializationError(UnknownBlockType, state)
	}
	defer func() {
		if err != nil {
			b.Dispose(false)
			b = nil
		}
	}()

	b.shadow = isShadow
	if xy, ok := state.Position(); ok {
		ws.reindex(b, func() { b.translate(xy.Sub(b.xy)) })
	}
	b.disabled = state.Disabled
	if state.Collapsed {
		ws.reindex(b, func() { b.collapsed = true })
	}
	if state.Inline != nil {
		b.inline = boolPtr(*state.Inline)
	}
	if state.Deletable != nil {
		b.deletable = *state.Deletable
	}
	if state.Movable != nil {
		b.movable = *state.Movable
	}
	if state.Editable != nil {
		b.editable = *state.Editable
	}
	b.data = state.Data
	b.comment = state.Comment

	if err := ws.tryToConnectParent(parent, b, state); err != nil {
		return b, err
	}
	if err := loadFields(b, state); err != nil {
		return b, err
	}

	for name := range state.Inputs {
		if in := b.Input(name); in == nil || in.conn == nil {
			e := newDeserializationError(MissingConnection, state)
			e.Connection = name
			return b, e
		}
	}
	for _, in := range b.inputs {
		cs, ok := state.Inputs[in.name]
		if !ok || cs == nil || in.conn == nil {
			continue
		}
		if err := ws.loadConnection(in.conn, cs); err != nil {
			return b, err
		}
	}
	if state.Next != nil {
		if b.next == nil {
			e := newDeserializationError(MissingConnection, state)
			e.Connection = "next"
			return b, e
		}
		if err := ws.loadConnection(b.next, state.Next); err != nil {
			return b, err
		}
	}
	return b, nil
}

func loadFields(b *Block, state *BlockState) error {
	names := make([]string, 0, len(state.Fields))
	for name := range state.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := b.Field(name)
		if f == nil {
			logging.Warn("ignoring state for unknown field", "block", b.typ, "field", name)
			continue
		}
		if err := f.LoadState(state.Fields[name]); err != nil {
			e := newDeserializationError(InvalidFieldValue, state)
			e.Field = name
			e.Err = err
			return e
		}
	}
	return nil
}

func (ws *Workspace) tryToConnectParent(parent *Connection, child *Block, state *BlockState) error {
	if parent == nil {
		return nil
	}
	if parent.owner.shadow && !child.shadow {
		e := newDeserializationError(RealChildOfShadow, state)
		e.Reason = fmt.Sprintf("parent %s is a shadow", parent.owner)
		return e
	}
	plug := child.previous
	if parent.kind == KindInput {
		plug = child.output
	}
	if plug == nil {
		e := newDeserializationError(MissingConnection, state)
		e.Connection = parent.kind.Opposite().String()
		e.Reason = "cannot attach to " + parent.String()
		return e
	}
	if err := parent.Connect(plug); err != nil {
		e := newDeserializationError(BadConnectionCheck, state)
		e.Connection = plug.kind.String()
		e.Reason = err.Error()
		return e
	}
	return nil
}

func (ws *Workspace) loadConnection(c *Connection, cs *ConnectionState) error {
	if cs.Shadow != nil {
		if err := c.SetShadowState(cs.Shadow); err != nil {
			return err
		}
	}
	if cs.Block != nil {
		if _, err := ws.appendPrivate(cs.Block, c, false); err != nil {
			return err
		}
	}
	return nil
}
