// Package drag resolves where a dragged stack of blocks would land and
// applies the drop. It owns the insertion-marker preview and leaves no
// trace on the workspace when a drag is cancelled.
package drag

import (
	"errors"
	"fmt"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// State is the phase of a drag gesture.
type State int

const (
	StateIdle State = iota
	StateDragStarted
	StatePreviewing
	StateNoTarget
	StateEnded
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragStarted:
		return "started"
	case StatePreviewing:
		return "previewing"
	case StateNoTarget:
		return "no-target"
	case StateEnded:
		return "ended"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is how a drag ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeConnected
	OutcomeDeleted
	OutcomeReturned
	OutcomeMoved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeConnected:
		return "connected"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeReturned:
		return "returned"
	case OutcomeMoved:
		return "moved"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

var (
	ErrNotDraggable = errors.New("block cannot be dragged")
	ErrDragFinished = errors.New("drag already finished")
)

// DropTarget is an area outside the workspace, such as a trash can, that
// may swallow the dragged stack.
type DropTarget interface {
	WouldDelete(b *model.Block) bool
	AcceptDrop(b *model.Block) bool
}

// Feedback receives preview changes so a renderer can draw them.
type Feedback interface {
	HighlightConnection(c *model.Connection, on bool)
	FadeForReplacement(b *model.Block, on bool)
}

// Options tunes a drag.
type Options struct {
	// HealStack closes the gap the dragged block leaves in its old stack.
	HealStack bool
	Feedback  Feedback
}

// Candidate is the connection pair a drop would join.
type Candidate struct {
	Local   *model.Connection // on the dragged stack
	Closest *model.Connection // on the rest of the workspace
	Radius  float64
}

// Preview describes what a drop at the current position would do.
type Preview struct {
	State       State
	Candidate   *Candidate
	WouldDelete bool
	Marker      *model.Block // insertion marker shown, if any
	Replaced    *model.Block // block that would be displaced, if any
}

// Result reports the outcome of End.
type Result struct {
	Outcome Outcome
	Target  *model.Connection
	Group   string
}

// Dragger runs one drag gesture.
type Dragger struct {
	ws    *model.Workspace
	block *model.Block
	opts  Options
	state State

	startXY     geom.Coordinate
	checkpoint  model.Checkpoint
	group       string
	ownsGroup   bool
	available   []*model.Connection
	lastOnStack *model.Connection

	firstMarker  *model.Block
	lastMarker   *model.Block
	markerConn   *model.Connection
	markerTarget *model.Connection
	displaced    *model.Connection

	candidate   *Candidate
	replaced    *model.Block
	wouldDelete bool
	disposed    bool
}

// Start begins dragging b. The block is unplugged from its parent and its
// stack stops taking part in connection searches until the drag ends.
func Start(ws *model.Workspace, b *model.Block, opts Options) (*Dragger, error) {
	if ws.IsDisposed() {
		return nil, model.ErrWorkspaceDisposed
	}
	if b == nil || b.IsDisposed() || b.Workspace() != ws {
		return nil, fmt.Errorf("%w: %v", ErrNotDraggable, b)
	}
	if !b.IsMovable() || b.IsShadow() || b.IsInsertionMarker() {
		return nil, fmt.Errorf("%w: %s", ErrNotDraggable, b)
	}

	d := &Dragger{
		ws:         ws,
		block:      b,
		opts:       opts,
		state:      StateDragStarted,
		startXY:    b.Position(),
		checkpoint: ws.Checkpoint(),
		group:      ws.Group(),
	}
	if d.group == "" {
		d.group = ws.NewGroup()
		d.ownsGroup = true
	}

	ws.Fire(model.NewBlockDrag(b, true))
	if b.Parent() != nil {
		b.Unplug(opts.HealStack)
	}
	b.SetDragging(true)
	d.initAvailable()
	d.initMarkers()
	logging.Debug("drag started", "block", b.ID(), "available", len(d.available))
	return d, nil
}

func (d *Dragger) initAvailable() {
	d.available = d.block.Connections(false)
	last := d.block.LastConnectionInStack(true)
	if last != nil && last != d.block.Next() {
		d.lastOnStack = last
		d.available = append(d.available, last)
	}
}

func (d *Dragger) initMarkers() {
	d.firstMarker = d.newMarker(d.block)
	if d.lastOnStack != nil {
		d.lastMarker = d.newMarker(d.lastOnStack.Owner())
	}
}

// newMarker builds a silent, childless copy of src used only for previews.
func (d *Dragger) newMarker(src *model.Block) *model.Block {
	state := model.SaveBlock(src, model.SaveOptions{OmitIDs: true})
	state.Inputs = nil
	state.Next = nil
	state.Comment = ""
	state.Data = ""

	d.ws.DisableEvents()
	defer d.ws.EnableEvents()
	m, err := d.ws.AppendBlock(state, model.AppendOptions{})
	if err != nil {
		logging.Warn("cannot build insertion marker", "type", src.Type(), "error", err)
		return nil
	}
	m.SetInsertionMarker(true)
	return m
}

// State returns the current phase.
func (d *Dragger) State() State { return d.state }

// Block returns the block being dragged.
func (d *Dragger) Block() *model.Block { return d.block }

// Group returns the event group that collects the drag's records.
func (d *Dragger) Group() string { return d.group }

// Candidate returns the current preview target, or nil.
func (d *Dragger) Candidate() *Candidate {
	if d.candidate == nil {
		return nil
	}
	c := *d.candidate
	return &c
}

func (d *Dragger) active() bool {
	return d.state == StateDragStarted || d.state == StatePreviewing || d.state == StateNoTarget
}

// Drag moves the stack to its start position plus delta and updates the
// preview. target may be nil.
func (d *Dragger) Drag(delta geom.Coordinate, target DropTarget) (Preview, error) {
	if !d.active() {
		return Preview{State: d.state}, ErrDragFinished
	}
	if err := d.block.MoveDuringDrag(d.startXY.Add(delta)); err != nil {
		return Preview{State: d.state}, err
	}

	d.wouldDelete = target != nil && d.block.IsDeletable() && target.WouldDelete(d.block)
	var next *Candidate
	if !d.wouldDelete {
		next = d.search()
	}
	if !sameCandidate(next, d.candidate) {
		d.hidePreview()
		if next != nil {
			d.showPreview(next)
		}
	} else if next != nil {
		d.candidate.Radius = next.Radius
	}

	if d.candidate != nil {
		d.state = StatePreviewing
	} else {
		d.state = StateNoTarget
	}
	return d.preview(), nil
}

func sameCandidate(a, b *Candidate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Local == b.Local && a.Closest == b.Closest
}

// search finds the best candidate over every available connection. The
// radius shrinks once a preview is shown, and the previewed pair is ranked
// as if it were CurrentConnectionPreference closer, so the preview does not
// flap between near-equidistant targets.
func (d *Dragger) search() *Candidate {
	opts := d.ws.Options()
	radius := opts.SnapRadius
	if d.candidate != nil {
		radius = opts.ConnectingSnapRadius
	}

	var best *Candidate
	bestScore := 0.0
	for _, local := range d.available {
		var preferred *model.Connection
		if d.candidate != nil && d.candidate.Local == local {
			preferred = d.candidate.Closest
		}
		closest, dist := local.ClosestPreferring(radius, geom.Coordinate{}, preferred, opts.CurrentConnectionPreference)
		if closest == nil {
			continue
		}
		score := dist
		if preferred != nil && closest == preferred {
			score -= opts.CurrentConnectionPreference
		}
		if best == nil || score < bestScore {
			best = &Candidate{Local: local, Closest: closest, Radius: dist}
			bestScore = score
		}
	}
	return best
}

func (d *Dragger) preview() Preview {
	p := Preview{State: d.state, WouldDelete: d.wouldDelete, Replaced: d.replaced}
	if d.candidate != nil {
		p.Candidate = d.Candidate()
	}
	if d.markerConn != nil {
		p.Marker = d.markerConn.Owner()
	}
	return p
}

// shouldReplace reports whether a drop on c would displace a real block
// that cannot be kept by inserting a marker in front of it.
func (d *Dragger) shouldReplace(c *Candidate) bool {
	occupant := c.Closest.TargetBlock()
	if occupant == nil || occupant.IsShadow() || occupant.IsInsertionMarker() {
		return false
	}
	switch c.Local.Kind() {
	case model.KindOutput:
		return true
	case model.KindPrevious:
		return c.Local.Owner().LastConnectionInStack(true) == nil
	}
	return false
}

func (d *Dragger) showPreview(c *Candidate) {
	d.candidate = c
	if fb := d.opts.Feedback; fb != nil {
		fb.HighlightConnection(c.Closest, true)
	}
	if d.shouldReplace(c) {
		d.replaced = c.Closest.TargetBlock()
		if fb := d.opts.Feedback; fb != nil {
			fb.FadeForReplacement(d.replaced, true)
		}
		return
	}
	d.showMarker(c)
}

func (d *Dragger) showMarker(c *Candidate) {
	marker := d.firstMarker
	if c.Local == d.lastOnStack && d.lastMarker != nil {
		marker = d.lastMarker
	}
	if marker == nil {
		return
	}
	conn := matchingConnection(marker, c.Local)
	if conn == nil {
		return
	}

	d.ws.DisableEvents()
	defer d.ws.EnableEvents()
	delta := c.Closest.Position().Sub(conn.Position())
	if err := marker.MoveBy(delta.X, delta.Y); err != nil {
		logging.Debug("cannot position insertion marker", "error", err)
		return
	}
	occupant := c.Closest.Target()
	if err := conn.Connect(c.Closest); err != nil {
		logging.Debug("cannot show insertion marker", "connection", c.Closest.String(), "error", err)
		return
	}
	d.markerConn = conn
	d.markerTarget = c.Closest
	// An occupant that fits nowhere on the marker was bumped off silently
	// and must go back when the marker is hidden.
	if occupant != nil && !occupant.Owner().IsDisposed() && !occupant.IsConnected() {
		d.displaced = occupant
	}
}

// matchingConnection returns the connection on marker that sits where
// local sits on its own block.
func matchingConnection(marker *model.Block, local *model.Connection) *model.Connection {
	src := local.Owner().Connections(true)
	dst := marker.Connections(true)
	if len(src) != len(dst) {
		return nil
	}
	for i, c := range src {
		if c == local {
			return dst[i]
		}
	}
	return nil
}

func (d *Dragger) hidePreview() {
	if d.candidate != nil {
		if fb := d.opts.Feedback; fb != nil {
			fb.HighlightConnection(d.candidate.Closest, false)
		}
	}
	if d.replaced != nil {
		if fb := d.opts.Feedback; fb != nil {
			fb.FadeForReplacement(d.replaced, false)
		}
		d.replaced = nil
	}
	d.hideMarker()
	d.candidate = nil
}

// hideMarker takes the insertion marker out of the graph and restores
// whatever it displaced.
func (d *Dragger) hideMarker() {
	conn := d.markerConn
	if conn == nil {
		return
	}
	d.markerConn = nil
	marker := conn.Owner()

	d.ws.DisableEvents()
	defer d.ws.EnableEvents()

	prev, next, output := marker.Previous(), marker.Next(), marker.Output()
	firstInStatementStack := conn == next && (prev == nil || !prev.IsConnected())
	firstInOutputStack := conn.Kind() == model.KindInput && (output == nil || !output.IsConnected())

	switch {
	case firstInStatementStack || firstInOutputStack:
		if tb := conn.TargetBlock(); tb != nil {
			tb.Unplug(false)
		}
	case conn.Kind() == model.KindNext && conn != next:
		// The marker was the first statement inside another block's
		// statement input.
		inner := conn.Target()
		if inner != nil {
			inner.Owner().Unplug(false)
		}
		var above *model.Connection
		if prev != nil {
			above = prev.Target()
		}
		marker.Unplug(true)
		if above != nil && inner != nil {
			if err := above.Connect(inner); err != nil {
				logging.Warn("cannot restore stack under insertion marker", "error", err)
			}
		}
	default:
		marker.Unplug(true)
	}
	if conn.IsConnected() {
		panic(fmt.Sprintf("drag: insertion marker still attached at %s", conn))
	}

	displaced, target := d.displaced, d.markerTarget
	d.displaced, d.markerTarget = nil, nil
	if displaced != nil && !displaced.IsConnected() && !target.IsConnected() {
		if err := displaced.Connect(target); err != nil {
			logging.Warn("cannot restore block displaced by insertion marker", "block", displaced.Owner().ID(), "error", err)
		}
	}
}

func (d *Dragger) disposeMarkers() {
	d.hideMarker()
	d.ws.DisableEvents()
	defer d.ws.EnableEvents()
	for _, m := range []*model.Block{d.firstMarker, d.lastMarker} {
		if m != nil {
			m.Dispose(false)
		}
	}
	d.firstMarker, d.lastMarker = nil, nil
}

// End drops the stack at its start position plus delta. The drop connects
// to the previewed candidate, is swallowed by target, is sent back, or
// leaves the stack where it is. All records share the drag's group.
func (d *Dragger) End(delta geom.Coordinate, target DropTarget) (Result, error) {
	if _, err := d.Drag(delta, target); err != nil {
		return Result{}, err
	}
	cand := d.candidate
	wouldDelete := d.wouldDelete
	d.hidePreview()
	d.disposeMarkers()
	d.block.SetDragging(false)
	d.ws.Fire(model.NewBlockDrag(d.block, false))

	res := Result{Group: d.group}
	switch {
	case wouldDelete && !target.AcceptDrop(d.block):
		d.restore()
		res.Outcome = OutcomeReturned
	case wouldDelete:
		d.recordMove()
		d.block.Dispose(false)
		res.Outcome = OutcomeDeleted
	case cand != nil:
		d.recordMove()
		if err := cand.Local.Connect(cand.Closest); err != nil {
			logging.Warn("drop target refused the connection", "block", d.block.ID(), "target", cand.Closest.String(), "error", err)
			res.Outcome = OutcomeMoved
		} else {
			res.Outcome = OutcomeConnected
			res.Target = cand.Closest
		}
		d.block.BumpNeighbours()
	default:
		d.recordMove()
		d.block.BumpNeighbours()
		res.Outcome = OutcomeMoved
	}

	d.state = StateEnded
	d.release()
	logging.Debug("drag ended", "block", d.block.ID(), "outcome", res.Outcome.String())
	return res, nil
}

// recordMove emits the single move covering every silent drag tick.
func (d *Dragger) recordMove() {
	d.ws.FireMove(model.NewBlockMove(d.block, d.startXY))
}

// restore returns the stack to where it was before Start, reverting the
// unplug and any stack healing.
func (d *Dragger) restore() {
	d.ws.DisableEvents()
	if err := d.block.MoveTo(d.startXY); err != nil {
		logging.Warn("cannot move dragged block back", "block", d.block.ID(), "error", err)
	}
	d.ws.EnableEvents()
	d.ws.RevertTo(d.checkpoint)
}

// Cancel abandons the drag. The workspace ends up exactly as before Start,
// with nothing added to the undo history.
func (d *Dragger) Cancel() error {
	if !d.active() {
		return ErrDragFinished
	}
	d.hidePreview()
	d.disposeMarkers()
	d.block.SetDragging(false)
	d.ws.Fire(model.NewBlockDrag(d.block, false))
	d.restore()
	d.state = StateCancelled
	d.release()
	logging.Debug("drag cancelled", "block", d.block.ID())
	return nil
}

func (d *Dragger) release() {
	if d.ownsGroup && d.ws.Group() == d.group {
		d.ws.SetGroup("")
	}
}

// Dispose cancels an unfinished drag and frees its markers. Calling it more
// than once only logs a warning.
func (d *Dragger) Dispose() {
	if d.disposed {
		logging.Warn("drag disposed twice", "block", d.block.ID())
		return
	}
	d.disposed = true
	if d.active() {
		if err := d.Cancel(); err != nil {
			logging.Warn("cancel during dispose failed", "error", err)
		}
	}
	d.disposeMarkers()
}
