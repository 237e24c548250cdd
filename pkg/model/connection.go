package model

import (
	"fmt"

	"github.com/ritzau/blockgraph/pkg/connectiondb"
	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
)

// Connection is one side of a potential joint between two blocks.
// Attachment is symmetric: a.Target() == b exactly when b.Target() == a.
type Connection struct {
	kind        ConnectionKind
	owner       *Block
	input       *Input // set for input and statement connections
	target      *Connection
	check       []string
	shadowState *BlockState
	offset      geom.Coordinate
	probe       geom.Coordinate
	tracked     bool
}

func newConnection(owner *Block, kind ConnectionKind, check []string, offset geom.Coordinate) *Connection {
	return &Connection{
		kind:   kind,
		owner:  owner,
		check:  copyStrings(check),
		offset: offset,
	}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (c *Connection) Kind() ConnectionKind { return c.kind }
func (c *Connection) Owner() *Block        { return c.owner }
func (c *Connection) Target() *Connection  { return c.target }
func (c *Connection) IsConnected() bool    { return c.target != nil }
func (c *Connection) IsSuperior() bool     { return c.kind.IsSuperior() }

// ParentInput returns the input owning c, or nil for previous, next and
// output connections.
func (c *Connection) ParentInput() *Input { return c.input }

// TargetBlock returns the block on the other side, or nil.
func (c *Connection) TargetBlock() *Block {
	if c.target == nil {
		return nil
	}
	return c.target.owner
}

// Check returns the accepted type names. Nil accepts anything.
func (c *Connection) Check() []string {
	return copyStrings(c.check)
}

func (c *Connection) String() string {
	name := c.kind.String()
	if c.input != nil {
		name = c.input.name
	}
	return fmt.Sprintf("%s.%s", c.owner.id, name)
}

func (c *Connection) workspace() *Workspace { return c.owner.ws }

// anchor is the position used as the index key. It never includes the
// temporary search offset.
func (c *Connection) anchor() geom.Coordinate {
	return c.owner.xy.Add(c.offset)
}

// Position is the absolute workspace position of the connection.
func (c *Connection) Position() geom.Coordinate {
	return c.anchor().Add(c.probe)
}

// Offset is the position relative to the owning block.
func (c *Connection) Offset() geom.Coordinate { return c.offset }

// SetOffset moves the connection within its block. An attached child
// follows a superior connection.
func (c *Connection) SetOffset(o geom.Coordinate) {
	if c.offset.Equal(o) {
		return
	}
	c.untrack()
	c.offset = o
	c.refreshTracking()
	if c.IsSuperior() && c.target != nil {
		child := c.target
		c.workspace().reindex(child.owner, func() {
			child.owner.translate(c.Position().Sub(child.Position()))
		})
	}
}

// DistanceFrom is the Euclidean distance between the two positions.
func (c *Connection) DistanceFrom(other *Connection) float64 {
	return c.Position().DistanceTo(other.Position())
}

func (c *Connection) db() *connectiondb.DB[*Connection] {
	return c.workspace().dbs[c.kind]
}

// IsTracked reports whether c is currently in the proximity index.
func (c *Connection) IsTracked() bool { return c.tracked }

func (c *Connection) track() {
	if c.tracked {
		return
	}
	c.db().Add(c, c.anchor().Y)
	c.tracked = true
}

func (c *Connection) untrack() {
	if !c.tracked {
		return
	}
	if err := c.db().Remove(c, c.anchor().Y); err != nil {
		panic(fmt.Sprintf("model: connection index out of sync for %s: %v", c, err))
	}
	c.tracked = false
}

// shouldTrack reports whether c belongs in the index: its block is live, not
// inside a collapsed input and not part of a stack being dragged.
func (c *Connection) shouldTrack() bool {
	b := c.owner
	if b.disposed || b.disposing || b.ws.disposed {
		return false
	}
	if c.input != nil && (b.collapsed || !c.input.visible) {
		return false
	}
	for cur := b; cur != nil; {
		if cur.dragging {
			return false
		}
		pc := cur.parentConnection()
		if pc == nil {
			break
		}
		if pc.input != nil && (pc.owner.collapsed || !pc.input.visible) {
			return false
		}
		cur = pc.owner
	}
	return true
}

// ShouldTrack reports whether c belongs in the proximity index.
func (c *Connection) ShouldTrack() bool { return c.shouldTrack() }

// InIndex reports whether the proximity index actually holds c, which
// agrees with IsTracked unless the index is out of sync.
func (c *Connection) InIndex() bool { return c.db().Contains(c, c.anchor().Y) }

func (c *Connection) refreshTracking() {
	if c.shouldTrack() {
		c.track()
	} else {
		c.untrack()
	}
}

// superiorAndInferior orders a joint between c and other.
func superiorAndInferior(a, b *Connection) (parent, child *Connection) {
	if a.IsSuperior() {
		return a, b
	}
	return b, a
}

// Connect attaches c to other after asking the workspace checker. A block
// already plugged into the superior side is displaced: shadows are disposed,
// real blocks are re-homed on the incoming block or bumped away.
func (c *Connection) Connect(other *Connection) error {
	ws := c.workspace()
	if ws.disposed {
		return ErrWorkspaceDisposed
	}
	if other != nil && c.target == other {
		return nil
	}
	if r := ws.checker.CanConnectWithReason(c, other, false, 0); r != ReasonOK {
		return &ConnectError{Reason: r, Message: ws.checker.ErrorMessage(r, c, other)}
	}
	parent, child := superiorAndInferior(c, other)
	ws.withGroup(func() { parent.connectChild(child) })
	return nil
}

func (c *Connection) connectChild(child *Connection) {
	parent := c
	ws := c.workspace()
	childBlock := child.owner

	if child.target != nil {
		child.Disconnect()
	}

	var orphan *Block
	if parent.target != nil {
		stash := parent.stashShadowState()
		displaced := parent.TargetBlock()
		if displaced.shadow {
			displaced.Dispose(false)
		} else {
			parent.disconnectInternal()
			orphan = displaced
		}
		parent.shadowState = stash
	}

	ev := ws.newBlockMove(childBlock)
	ws.reindex(childBlock, func() {
		parent.target = child
		child.target = parent
		childBlock.translate(parent.Position().Sub(child.Position()))
	})
	ws.fireMove(ev)

	if orphan == nil {
		return
	}
	orphanConn := orphan.previous
	if parent.kind == KindInput {
		orphanConn = orphan.output
	}
	if orphanConn == nil {
		return
	}
	if home := orphanHome(childBlock, orphanConn); home != nil {
		if err := orphanConn.Connect(home); err == nil {
			return
		}
	}
	orphanConn.bumpAwayFrom(parent)
}

// orphanHome finds where a displaced block can re-attach on the block that
// displaced it: the single compatible value input (descending through
// occupied ones) or the end of its statement stack.
func orphanHome(newBlock *Block, orphanConn *Connection) *Connection {
	checker := newBlock.ws.checker
	if orphanConn.kind == KindOutput {
		b := newBlock
		for {
			conn := singleCompatibleInput(b, orphanConn)
			if conn == nil {
				return nil
			}
			b = conn.TargetBlock()
			if b == nil || b.shadow {
				return conn
			}
		}
	}
	last := newBlock.LastConnectionInStack(true)
	if last != nil && checker.CanConnect(orphanConn, last, false, 0) {
		return last
	}
	return nil
}

func singleCompatibleInput(b *Block, output *Connection) *Connection {
	var found *Connection
	for _, in := range b.inputs {
		conn := in.conn
		if conn == nil || !b.ws.checker.CanConnect(output, conn, false, 0) {
			continue
		}
		if found != nil {
			return nil
		}
		found = conn
	}
	return found
}

// Disconnect detaches c from its target. It is a no-op when c is not
// attached. A real child leaving an input respawns the input's shadow.
func (c *Connection) Disconnect() {
	if c.target == nil {
		return
	}
	if c.target.target != c {
		panic(fmt.Sprintf("model: asymmetric attachment at %s", c))
	}
	ws := c.workspace()
	ws.withGroup(func() {
		parent, child := superiorAndInferior(c, c.target)
		childBlock := child.owner
		c.disconnectInternal()
		if !childBlock.shadow {
			parent.respawnShadow()
		}
	})
}

func (c *Connection) disconnectInternal() {
	parent, child := superiorAndInferior(c, c.target)
	ws := c.workspace()
	childBlock := child.owner
	ev := ws.newBlockMove(childBlock)
	ws.reindex(childBlock, func() {
		parent.target = nil
		child.target = nil
	})
	ws.fireMove(ev)
}

// ShadowState returns the shadow that refills c when it is vacated. The
// state is a copy.
func (c *Connection) ShadowState() *BlockState {
	return c.shadowState.Clone()
}

// CurrentShadowState is like ShadowState but reflects edits made to the
// shadow block currently attached.
func (c *Connection) CurrentShadowState() *BlockState {
	if tb := c.TargetBlock(); tb != nil && tb.shadow {
		return SaveBlock(tb, SaveOptions{})
	}
	return c.ShadowState()
}

func (c *Connection) stashShadowState() *BlockState {
	return c.CurrentShadowState()
}

// SetShadowState installs the shadow used to refill c, validating it first.
// A nil state removes the shadow. An attached shadow is replaced at once; an
// attached real block keeps its place.
func (c *Connection) SetShadowState(state *BlockState) error {
	if !c.IsSuperior() {
		return fmt.Errorf("%s: only inputs and next connections take shadows", c)
	}
	if state != nil {
		if err := c.validateShadow(state); err != nil {
			return err
		}
	}
	ws := c.workspace()
	ws.withGroup(func() {
		c.shadowState = state.Clone()
		tb := c.TargetBlock()
		if tb != nil && tb.shadow {
			tb.Dispose(false)
			tb = nil
		}
		if tb == nil {
			c.respawnShadow()
		}
	})
	return nil
}

// validateShadow builds the shadow off to the side with events disabled and
// checks it could plug into c.
func (c *Connection) validateShadow(state *BlockState) error {
	ws := c.workspace()
	ws.DisableEvents()
	defer ws.EnableEvents()
	b, err := ws.appendPrivate(state.Clone(), nil, true)
	if b != nil {
		defer b.disposeInternal()
	}
	if err != nil {
		return err
	}
	plug := b.previous
	if c.kind == KindInput {
		plug = b.output
	}
	if plug == nil {
		return &DeserializationError{Kind: MissingConnection, State: state, BlockType: state.Type, BlockID: state.ID,
			Connection: c.kind.Opposite().String(), Reason: "shadow cannot plug into " + c.String()}
	}
	if !ws.checker.DoTypeChecks(c, plug) {
		return &DeserializationError{Kind: BadConnectionCheck, State: state, BlockType: state.Type, BlockID: state.ID,
			Connection: plug.kind.String(), Reason: ws.checker.ErrorMessage(ReasonChecksFailed, c, plug)}
	}
	return nil
}

// respawnShadow plugs a fresh shadow into an empty connection.
func (c *Connection) respawnShadow() {
	if c.shadowState == nil || c.target != nil || c.owner.disposing || c.owner.disposed {
		return
	}
	if _, err := c.workspace().AppendBlock(c.shadowState.Clone(), AppendOptions{Parent: c, Shadow: true}); err != nil {
		logging.Error("respawning shadow failed", "connection", c.String(), "error", err)
	}
}

// SetCheck replaces the accepted types. A child that no longer fits is
// unplugged.
func (c *Connection) SetCheck(check ...string) {
	if len(check) == 0 {
		c.check = nil
	} else {
		c.check = copyStrings(check)
	}
	if c.target == nil || c.workspace().checker.CanConnect(c, c.target, false, 0) {
		return
	}
	child := c.owner
	if c.IsSuperior() {
		child = c.TargetBlock()
	}
	child.Unplug(false)
}

// Neighbours returns every indexed connection of the opposite kind within
// maxRadius, compatible or not.
func (c *Connection) Neighbours(maxRadius float64) []*Connection {
	return c.workspace().dbs[c.kind.Opposite()].Neighbours(c.Position(), maxRadius)
}

// Closest finds the nearest connection c may legally attach to while being
// dragged by dxy. It returns nil and maxRadius when none qualifies.
func (c *Connection) Closest(maxRadius float64, dxy geom.Coordinate) (*Connection, float64) {
	return c.ClosestPreferring(maxRadius, dxy, nil, 0)
}

// ClosestPreferring is Closest with a bonus of preference subtracted from
// the distance of the candidate preferred.
func (c *Connection) ClosestPreferring(maxRadius float64, dxy geom.Coordinate, preferred *Connection, preference float64) (*Connection, float64) {
	ws := c.workspace()
	// c lives in a different index than the one searched, so shifting it
	// for the duration of the search never disturbs an index key.
	c.probe = c.probe.Add(dxy)
	defer func() { c.probe = c.probe.Sub(dxy) }()

	accept := func(cand *Connection) bool {
		return ws.checker.CanConnect(c, cand, true, maxRadius)
	}
	opts := connectiondb.SearchOptions[*Connection]{Preferred: preferred, Preference: preference}
	best, dist, ok := ws.dbs[c.kind.Opposite()].SearchForClosest(c.Position(), maxRadius, accept, opts)
	if !ok {
		return nil, maxRadius
	}
	return best, dist
}

// bumpAwayFrom moves c's stack so that it no longer sits on static. The
// inferior stack moves unless it is immovable.
func (c *Connection) bumpAwayFrom(static *Connection) {
	ws := c.workspace()
	dynamic := c
	root := c.owner.Root()
	reverse := false
	if root.dragging {
		return
	}
	if !root.movable {
		root = static.owner.Root()
		if !root.movable || root.dragging {
			return
		}
		static, dynamic = dynamic, static
		reverse = true
	}
	d := ws.opts.BumpDelta
	off := geom.Coordinate{X: d, Y: d}
	if reverse {
		off.Y = -d
	}
	delta := static.Position().Add(off).Sub(dynamic.Position())
	if err := root.MoveBy(delta.X, delta.Y); err != nil {
		logging.Debug("bump skipped", "block", root.id, "error", err)
	}
}
