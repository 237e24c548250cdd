package model

import (
	"fmt"
	"strings"
)

// Reason is the outcome of a compatibility check.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonSelfConnection
	ReasonWrongType
	ReasonTargetNull
	ReasonChecksFailed
	ReasonDifferentWorkspaces
	ReasonShadowParent
	ReasonDragChecksFailed
	ReasonTargetOccupied
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "CAN_CONNECT"
	case ReasonSelfConnection:
		return "REASON_SELF_CONNECTION"
	case ReasonWrongType:
		return "REASON_WRONG_TYPE"
	case ReasonTargetNull:
		return "REASON_TARGET_NULL"
	case ReasonChecksFailed:
		return "REASON_CHECKS_FAILED"
	case ReasonDifferentWorkspaces:
		return "REASON_DIFFERENT_WORKSPACES"
	case ReasonShadowParent:
		return "REASON_SHADOW_PARENT"
	case ReasonDragChecksFailed:
		return "REASON_DRAG_CHECKS_FAILED"
	case ReasonTargetOccupied:
		return "REASON_TARGET_OCCUPIED"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// ConnectionChecker decides whether two connections may attach. It is a
// pure policy: it reads the graph, never mutates it, and never panics.
type ConnectionChecker interface {
	CanConnect(a, b *Connection, isDragging bool, maxDistance float64) bool
	CanConnectWithReason(a, b *Connection, isDragging bool, maxDistance float64) Reason
	ErrorMessage(r Reason, a, b *Connection) string
	DoSafetyChecks(a, b *Connection) Reason
	DoTypeChecks(a, b *Connection) bool
	DoDragChecks(a, b *Connection, maxDistance float64) bool
}

// DefaultChecker is the stock policy.
type DefaultChecker struct {
	// AllowReplacement lets a connection that already has a target be
	// offered as a candidate; the occupant is displaced on connect.
	AllowReplacement bool
}

// NewChecker returns the stock checker, which allows replacement.
func NewChecker() *DefaultChecker {
	return &DefaultChecker{AllowReplacement: true}
}

func (dc *DefaultChecker) CanConnect(a, b *Connection, isDragging bool, maxDistance float64) bool {
	return dc.CanConnectWithReason(a, b, isDragging, maxDistance) == ReasonOK
}

func (dc *DefaultChecker) CanConnectWithReason(a, b *Connection, isDragging bool, maxDistance float64) Reason {
	if r := dc.DoSafetyChecks(a, b); r != ReasonOK {
		return r
	}
	if !dc.DoTypeChecks(a, b) {
		return ReasonChecksFailed
	}
	if isDragging && !dc.DoDragChecks(a, b, maxDistance) {
		return ReasonDragChecksFailed
	}
	return ReasonOK
}

func (dc *DefaultChecker) ErrorMessage(r Reason, a, b *Connection) string {
	switch r {
	case ReasonSelfConnection:
		return "attempted to connect a block to itself or into its own subtree"
	case ReasonDifferentWorkspaces:
		return "blocks not on same workspace"
	case ReasonWrongType:
		return fmt.Sprintf("attempt to connect incompatible types: %s to %s", kindOf(a), kindOf(b))
	case ReasonTargetNull:
		return "target connection is null"
	case ReasonChecksFailed:
		return fmt.Sprintf("connection checks failed: %s expected %s, found %s",
			describe(a), checkString(a), checkString(b))
	case ReasonShadowParent:
		return "connecting non-shadow to shadow block"
	case ReasonDragChecksFailed:
		return "drag checks failed"
	case ReasonTargetOccupied:
		return fmt.Sprintf("connection %s is already attached", describe(b))
	}
	return fmt.Sprintf("unknown connection failure: %s", r)
}

func kindOf(c *Connection) string {
	if c == nil {
		return "null"
	}
	return c.kind.String()
}

func describe(c *Connection) string {
	if c == nil {
		return "null"
	}
	return fmt.Sprintf("%s %s", c.owner, kindOf(c))
}

func checkString(c *Connection) string {
	if c == nil || c.check == nil {
		return "[any]"
	}
	return "[" + strings.Join(c.check, ", ") + "]"
}

// DoSafetyChecks rejects attachments that would corrupt the graph
// regardless of types.
func (dc *DefaultChecker) DoSafetyChecks(a, b *Connection) Reason {
	if a == nil || b == nil || a.owner == nil || b.owner == nil || a.owner.disposed || b.owner.disposed {
		return ReasonTargetNull
	}
	parent, child := superiorAndInferior(a, b)
	if a.owner == b.owner {
		return ReasonSelfConnection
	}
	if b.kind != a.kind.Opposite() {
		return ReasonWrongType
	}
	if a.owner.ws != b.owner.ws {
		return ReasonDifferentWorkspaces
	}
	for anc := parent.owner; anc != nil; anc = anc.Parent() {
		if anc == child.owner {
			return ReasonSelfConnection
		}
	}
	if parent.owner.shadow && !child.owner.shadow {
		return ReasonShadowParent
	}
	if !dc.AllowReplacement && a.target != b {
		if a.target != nil || b.target != nil {
			return ReasonTargetOccupied
		}
	}
	return ReasonOK
}

// DoTypeChecks passes when either side accepts anything, or the two check
// lists share a type name. Names compare case-insensitively.
func (dc *DefaultChecker) DoTypeChecks(a, b *Connection) bool {
	if a.check == nil || b.check == nil {
		return true
	}
	for _, x := range a.check {
		for _, y := range b.check {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// DoDragChecks applies the rules for candidates offered during a drag. a is
// the connection on the dragged stack, b the candidate.
func (dc *DefaultChecker) DoDragChecks(a, b *Connection, maxDistance float64) bool {
	if a.DistanceFrom(b) > maxDistance {
		return false
	}
	if b.owner.marker {
		return false
	}
	if b.owner.Root() == a.owner.Root() {
		return false
	}
	switch b.kind {
	case KindPrevious:
		return dc.canConnectToPrevious(a, b)
	case KindOutput:
		// Don't offer to connect an already connected left (male) value
		// plug to an available right (female) value plug.
		if (b.target != nil && !b.TargetBlock().marker) || a.target != nil {
			return false
		}
	case KindInput:
		// Offering to connect the left (male) of a value block to an
		// already connected value pair is ok, we'll splice it in. However,
		// don't offer to splice into an immovable block.
		if b.target != nil && !b.TargetBlock().movable && !b.TargetBlock().shadow {
			return false
		}
	case KindNext:
		// Don't let a block with no next connection bump other blocks out
		// of the stack, but covering up a shadow block or stack of shadow
		// blocks is fine. Similarly, replacing a terminal statement with
		// another terminal statement is allowed.
		if b.target != nil && a.owner.next == nil && !b.TargetBlock().shadow && b.TargetBlock().next != nil {
			return false
		}
	}
	return true
}

// canConnectToPrevious handles a dragged next connection approaching the
// top of a stack.
func (dc *DefaultChecker) canConnectToPrevious(a, b *Connection) bool {
	if a.target != nil {
		// This connection is already occupied; a next connection will
		// never disconnect itself mid-drag.
		return false
	}
	if b.target == nil {
		return true
	}
	tb := b.TargetBlock()
	// Only the top of a stack above an insertion marker is available.
	if !tb.marker {
		return false
	}
	return tb.PreviousBlock() == nil
}
