package model

import (
	"fmt"
	"strconv"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
)

// Block is a node of the graph. Its parent is derived from its output or
// previous connection; children are found through its superior connections.
type Block struct {
	id  string
	typ string
	ws  *Workspace
	def *BlockDefinition

	inputs   []*Input
	previous *Connection
	next     *Connection
	output   *Connection

	xy        geom.Coordinate
	disabled  bool
	collapsed bool
	shadow    bool
	marker    bool
	deletable bool
	movable   bool
	editable  bool
	inline    *bool
	data      string
	comment   string

	dragging  bool
	disposing bool
	disposed  bool
}

func (b *Block) ID() string                   { return b.id }
func (b *Block) Type() string                 { return b.typ }
func (b *Block) Workspace() *Workspace        { return b.ws }
func (b *Block) Definition() *BlockDefinition { return b.def }
func (b *Block) Position() geom.Coordinate    { return b.xy }
func (b *Block) IsDisposed() bool             { return b.disposed }
func (b *Block) IsShadow() bool               { return b.shadow }
func (b *Block) IsInsertionMarker() bool      { return b.marker }
func (b *Block) IsEnabled() bool              { return !b.disabled }
func (b *Block) IsCollapsed() bool            { return b.collapsed }
func (b *Block) IsDeletable() bool            { return b.deletable }
func (b *Block) IsMovable() bool              { return b.movable }
func (b *Block) IsEditable() bool             { return b.editable }
func (b *Block) IsDragging() bool             { return b.dragging }
func (b *Block) Data() string                 { return b.data }
func (b *Block) Comment() string              { return b.comment }
func (b *Block) Previous() *Connection        { return b.previous }
func (b *Block) Next() *Connection            { return b.next }
func (b *Block) Output() *Connection          { return b.output }
func (b *Block) Inputs() []*Input             { return append([]*Input(nil), b.inputs...) }

func (b *Block) String() string {
	return fmt.Sprintf("%s(%s)", b.typ, b.id)
}

// parentConnection is the superior connection b hangs from, or nil.
func (b *Block) parentConnection() *Connection {
	if b.output != nil && b.output.target != nil {
		return b.output.target
	}
	if b.previous != nil && b.previous.target != nil {
		return b.previous.target
	}
	return nil
}

// Parent returns the block b is plugged into, or nil for a top-level block.
func (b *Block) Parent() *Block {
	if pc := b.parentConnection(); pc != nil {
		return pc.owner
	}
	return nil
}

// Root follows parents to the top-level block of b's tree.
func (b *Block) Root() *Block {
	root := b
	for p := root.Parent(); p != nil; p = root.Parent() {
		root = p
	}
	return root
}

// SurroundParent returns the nearest ancestor that encloses b in one of its
// inputs, skipping blocks that merely precede b in a stack.
func (b *Block) SurroundParent() *Block {
	cur := b
	for {
		prev := cur
		cur = cur.Parent()
		if cur == nil {
			return nil
		}
		if cur.NextBlock() != prev {
			return cur
		}
	}
}

// NextBlock returns the block attached below b.
func (b *Block) NextBlock() *Block {
	if b.next == nil {
		return nil
	}
	return b.next.TargetBlock()
}

// PreviousBlock returns the block b's previous connection is attached to,
// which may be a statement-input parent.
func (b *Block) PreviousBlock() *Block {
	if b.previous == nil {
		return nil
	}
	return b.previous.TargetBlock()
}

// Children returns the blocks attached to b's inputs, in input order,
// followed by the next block.
func (b *Block) Children() []*Block {
	var out []*Block
	for _, in := range b.inputs {
		if in.conn != nil && in.conn.target != nil {
			out = append(out, in.conn.target.owner)
		}
	}
	if nb := b.NextBlock(); nb != nil {
		out = append(out, nb)
	}
	return out
}

// Descendants returns b and everything below it in pre-order. Shadows are
// left out when ignoreShadows is set.
func (b *Block) Descendants(ignoreShadows bool) []*Block {
	out := []*Block{b}
	for _, child := range b.Children() {
		if ignoreShadows && child.shadow {
			continue
		}
		out = append(out, child.Descendants(ignoreShadows)...)
	}
	return out
}

func (b *Block) subtreeConnections() []*Connection {
	var out []*Connection
	for _, d := range b.Descendants(false) {
		out = append(out, d.Connections(true)...)
	}
	return out
}

// Connections returns b's connections. Unless all is set, input connections
// of a collapsed block are left out.
func (b *Block) Connections(all bool) []*Connection {
	var out []*Connection
	for _, c := range []*Connection{b.output, b.previous, b.next} {
		if c != nil {
			out = append(out, c)
		}
	}
	if all || !b.collapsed {
		for _, in := range b.inputs {
			if in.conn != nil {
				out = append(out, in.conn)
			}
		}
	}
	return out
}

// LastConnectionInStack walks down next connections and returns the first
// free one. A shadow at the end counts as free when ignoreShadows is set.
func (b *Block) LastConnectionInStack(ignoreShadows bool) *Connection {
	nc := b.next
	for nc != nil {
		nb := nc.TargetBlock()
		if nb == nil || (ignoreShadows && nb.shadow) {
			return nc
		}
		nc = nb.next
	}
	return nil
}

// Input returns the named input, or nil.
func (b *Block) Input(name string) *Input {
	for _, in := range b.inputs {
		if in.name == name {
			return in
		}
	}
	return nil
}

// Field returns the named field from any input, or nil.
func (b *Block) Field(name string) *Field {
	for _, in := range b.inputs {
		for _, f := range in.fields {
			if f.name == name {
				return f
			}
		}
	}
	return nil
}

// Fields returns every field in input order.
func (b *Block) Fields() []*Field {
	var out []*Field
	for _, in := range b.inputs {
		out = append(out, in.fields...)
	}
	return out
}

// FieldValue returns the value of the named field, or "".
func (b *Block) FieldValue(name string) string {
	if f := b.Field(name); f != nil {
		return f.value
	}
	return ""
}

// SetFieldValue validates and sets the named field.
func (b *Block) SetFieldValue(name, value string) error {
	f := b.Field(name)
	if f == nil {
		return fmt.Errorf("%s: %w %q", b, ErrNoSuchField, name)
	}
	return f.SetValue(value)
}

// AppendInput adds an input at the end of b's input list.
func (b *Block) AppendInput(def InputDef) (*Input, error) {
	if !def.Kind.Valid() {
		return nil, fmt.Errorf("%s: unknown input kind %q", b, def.Kind)
	}
	if def.Kind != InputDummy && b.Input(def.Name) != nil {
		return nil, fmt.Errorf("%s: duplicate input %q", b, def.Name)
	}
	in := newInput(b, &def)
	b.inputs = append(b.inputs, in)
	if in.conn != nil {
		in.conn.refreshTracking()
	}
	return in, nil
}

// RemoveInput removes the named input. An attached shadow is disposed and a
// real block is unplugged and left on the workspace.
func (b *Block) RemoveInput(name string) error {
	for i, in := range b.inputs {
		if in.name != name {
			continue
		}
		if c := in.conn; c != nil {
			c.shadowState = nil
			if tb := c.TargetBlock(); tb != nil {
				if tb.shadow {
					tb.Dispose(false)
				} else {
					tb.Unplug(false)
				}
			}
			c.untrack()
		}
		b.inputs = append(b.inputs[:i], b.inputs[i+1:]...)
		return nil
	}
	return fmt.Errorf("%s: %w %q", b, ErrNoSuchInput, name)
}

// MoveBy translates a top-level block and everything attached to it.
func (b *Block) MoveBy(dx, dy float64) error {
	if b.disposed {
		return ErrBlockDisposed
	}
	if b.Parent() != nil {
		return fmt.Errorf("%s: %w", b, ErrNotTopLevel)
	}
	if dx == 0 && dy == 0 {
		return nil
	}
	ev := b.ws.newBlockMove(b)
	b.ws.reindex(b, func() { b.translate(geom.Coordinate{X: dx, Y: dy}) })
	b.ws.fireMove(ev)
	return nil
}

// MoveTo places a top-level block at xy.
func (b *Block) MoveTo(xy geom.Coordinate) error {
	d := xy.Sub(b.xy)
	return b.MoveBy(d.X, d.Y)
}

// SetDragging suspends or restores index tracking for b's subtree. It emits
// nothing; the drag engine records moves itself.
func (b *Block) SetDragging(dragging bool) {
	if b.dragging == dragging {
		return
	}
	b.ws.reindex(b, func() { b.dragging = dragging })
}

// MoveDuringDrag repositions a dragged stack without emitting records.
// The stack is untracked, so the index is untouched.
func (b *Block) MoveDuringDrag(xy geom.Coordinate) error {
	if !b.dragging {
		return fmt.Errorf("%s: not being dragged", b)
	}
	b.translate(xy.Sub(b.xy))
	return nil
}

// SetEnabled toggles the disabled flag.
func (b *Block) SetEnabled(enabled bool) {
	if b.disabled == !enabled {
		return
	}
	old := b.disabled
	b.disabled = !enabled
	b.ws.fireChange(b, "disabled", "", strconv.FormatBool(old), strconv.FormatBool(b.disabled))
}

// SetCollapsed folds b. Connections inside a collapsed block leave the index.
func (b *Block) SetCollapsed(collapsed bool) {
	if b.collapsed == collapsed {
		return
	}
	b.ws.reindex(b, func() { b.collapsed = collapsed })
	b.ws.fireChange(b, "collapsed", "", strconv.FormatBool(!collapsed), strconv.FormatBool(collapsed))
}

// InputsInline reports the effective inline layout.
func (b *Block) InputsInline() bool {
	if b.inline != nil {
		return *b.inline
	}
	return b.def.InputsInline
}

// HasInlineOverride reports whether inline layout was set explicitly.
func (b *Block) HasInlineOverride() bool { return b.inline != nil }

// SetInputsInline overrides the definition's inline layout.
func (b *Block) SetInputsInline(inline bool) {
	old := b.InputsInline()
	v := inline
	b.inline = &v
	if old != inline {
		b.ws.fireChange(b, "inline", "", strconv.FormatBool(old), strconv.FormatBool(inline))
	}
}

// SetComment sets the block comment. An empty text removes it.
func (b *Block) SetComment(text string) {
	if b.comment == text {
		return
	}
	old := b.comment
	b.comment = text
	b.ws.fireChange(b, "comment", "", old, text)
}

// SetData sets the opaque host data string.
func (b *Block) SetData(data string) {
	if b.data == data {
		return
	}
	old := b.data
	b.data = data
	b.ws.fireChange(b, "data", "", old, data)
}

func (b *Block) SetDeletable(v bool) { b.deletable = v }
func (b *Block) SetMovable(v bool)   { b.movable = v }
func (b *Block) SetEditable(v bool)  { b.editable = v }

// SetInsertionMarker flags b as drag scaffolding. Markers are never
// serialized and never become connection targets during a drag.
func (b *Block) SetInsertionMarker(marker bool) { b.marker = marker }

// SetShadow changes b's shadow status. A shadow may only have shadow
// descendants, and a real block may not sit under a shadow.
func (b *Block) SetShadow(shadow bool) error {
	if b.shadow == shadow {
		return nil
	}
	if shadow {
		for _, d := range b.Descendants(false)[1:] {
			if !d.shadow {
				return fmt.Errorf("%s: %w (%s)", b, ErrShadowHasRealChild, d)
			}
		}
	} else if p := b.Parent(); p != nil && p.shadow {
		return fmt.Errorf("%s: %w (parent %s)", b, ErrShadowHasRealChild, p)
	}
	b.shadow = shadow
	return nil
}

// Unplug detaches b from its parent. With healStack the gap is closed: the
// block below b moves up, or b's only value child takes its place.
func (b *Block) Unplug(healStack bool) {
	b.ws.withGroup(func() {
		if b.output != nil {
			b.unplugFromRow(healStack)
		} else if b.previous != nil {
			b.unplugFromStack(healStack)
		}
	})
}

func (b *Block) unplugFromRow(healStack bool) {
	var parentConn *Connection
	if b.output.target != nil {
		parentConn = b.output.target
		b.output.Disconnect()
	}
	if parentConn == nil || !healStack {
		return
	}
	thisConn := b.onlyValueConnection()
	if thisConn == nil || thisConn.target == nil || thisConn.TargetBlock().shadow {
		return
	}
	childConn := thisConn.target
	childConn.Disconnect()
	if b.ws.checker.CanConnect(childConn, parentConn, false, 0) {
		if err := parentConn.Connect(childConn); err == nil {
			return
		}
	}
	childConn.bumpAwayFrom(parentConn)
}

// onlyValueConnection returns the single occupied value input, or nil when
// there are none or several.
func (b *Block) onlyValueConnection() *Connection {
	var found *Connection
	for _, in := range b.inputs {
		c := in.conn
		if c == nil || c.kind != KindInput || c.target == nil {
			continue
		}
		if found != nil {
			return nil
		}
		found = c
	}
	return found
}

func (b *Block) unplugFromStack(healStack bool) {
	var prevTarget *Connection
	if b.previous.target != nil {
		prevTarget = b.previous.target
		b.previous.Disconnect()
	}
	nb := b.NextBlock()
	if !healStack || nb == nil || nb.shadow {
		return
	}
	nextTarget := b.next.target
	nextTarget.Disconnect()
	if prevTarget != nil && b.ws.checker.CanConnect(prevTarget, nextTarget, false, 0) {
		if err := prevTarget.Connect(nextTarget); err != nil {
			logging.Debug("heal failed", "block", b.id, "error", err)
		}
	}
}

// Dispose unplugs b and destroys it together with its subtree. Disposing
// twice is a no-op.
func (b *Block) Dispose(healStack bool) {
	if b.disposed || b.disposing {
		return
	}
	ws := b.ws
	ws.withGroup(func() {
		b.Unplug(healStack)
		if ws.eventsEnabled() {
			ws.fire(newBlockDelete(b))
		}
		b.disposeInternal()
	})
}

func (b *Block) disposeInternal() {
	if b.disposed {
		return
	}
	b.disposing = true
	for _, child := range b.Children() {
		child.disposeInternal()
	}
	for _, c := range b.Connections(true) {
		c.untrack()
		if c.target != nil {
			c.target.target = nil
			c.target = nil
		}
	}
	b.ws.removeBlock(b)
	b.disposed = true
	b.disposing = false
}

// BumpNeighbours pushes unrelated stacks whose free connections sit within
// the connecting snap radius of b's tree.
func (b *Block) BumpNeighbours() {
	if b.disposed || b.ws.disposed {
		return
	}
	root := b.Root()
	if root.dragging {
		return
	}
	radius := b.ws.opts.ConnectingSnapRadius
	for _, c := range b.Connections(false) {
		if c.IsSuperior() && c.target != nil {
			c.TargetBlock().BumpNeighbours()
		}
		if !c.tracked {
			continue
		}
		for _, other := range c.Neighbours(radius) {
			if other.owner.Root() == root {
				continue
			}
			if c.target != nil && other.target != nil {
				continue
			}
			if c.IsSuperior() {
				other.bumpAwayFrom(c)
			} else {
				c.bumpAwayFrom(other)
			}
		}
	}
}

// initVariables points fresh variable fields at their default variables.
func (b *Block) initVariables() error {
	for _, f := range b.Fields() {
		if f.kind == FieldVariable && f.value == "" {
			if err := f.initDefaultVariable(); err != nil {
				return err
			}
		}
	}
	return nil
}

// initShadows installs the shadows declared by the block definition.
func (b *Block) initShadows() error {
	for _, in := range b.inputs {
		if in.conn == nil || in.def == nil || in.def.Shadow == nil {
			continue
		}
		if err := in.conn.SetShadowState(in.def.Shadow); err != nil {
			return fmt.Errorf("%s: default shadow for %q: %w", b, in.name, err)
		}
	}
	return nil
}
