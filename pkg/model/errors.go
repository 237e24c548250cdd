package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownBlockType   = errors.New("unknown block type")
	ErrWorkspaceDisposed  = errors.New("workspace is disposed")
	ErrBlockDisposed      = errors.New("block is disposed")
	ErrNotTopLevel        = errors.New("block is not top-level")
	ErrCannotConnect      = errors.New("connection refused")
	ErrInvalidValue       = errors.New("invalid field value")
	ErrNoSuchField        = errors.New("no such field")
	ErrNoSuchInput        = errors.New("no such input")
	ErrVariableExists     = errors.New("variable name already in use")
	ErrVariableIDInUse    = errors.New("variable id already in use")
	ErrNoSuchVariable     = errors.New("no such variable")
	ErrNoSuchComment      = errors.New("no such comment")
	ErrShadowHasRealChild = errors.New("shadow block cannot have a real child")
)

// ConnectError explains why Connect refused an attachment.
type ConnectError struct {
	Reason  Reason
	Message string
}

func (e *ConnectError) Error() string {
	return e.Message
}

func (e *ConnectError) Unwrap() error {
	return ErrCannotConnect
}

// DeserializationErrorKind classifies a rejected block state.
type DeserializationErrorKind int

const (
	MissingBlockType DeserializationErrorKind = iota + 1
	UnknownBlockType
	MissingConnection
	BadConnectionCheck
	RealChildOfShadow
	InvalidFieldValue
)

func (k DeserializationErrorKind) String() string {
	switch k {
	case MissingBlockType:
		return "missing block type"
	case UnknownBlockType:
		return "unknown block type"
	case MissingConnection:
		return "missing connection"
	case BadConnectionCheck:
		return "bad connection check"
	case RealChildOfShadow:
		return "real child of shadow"
	case InvalidFieldValue:
		return "invalid field value"
	}
	return fmt.Sprintf("DeserializationErrorKind(%d)", int(k))
}

// DeserializationError reports a state that cannot be turned into blocks.
// State is the offending fragment.
type DeserializationError struct {
	Kind       DeserializationErrorKind
	State      *BlockState
	BlockType  string
	BlockID    string
	Connection string
	Field      string
	Reason     string
	Err        error
}

func (e *DeserializationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.BlockType != "" {
		fmt.Fprintf(&b, ": block %q", e.BlockType)
	} else {
		b.WriteString(": block")
	}
	if e.BlockID != "" {
		fmt.Fprintf(&b, " (id %s)", e.BlockID)
	}
	if e.Connection != "" {
		fmt.Fprintf(&b, " connection %q", e.Connection)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Is matches another *DeserializationError of the same kind, so callers can
// test with errors.Is(err, &DeserializationError{Kind: MissingConnection}).
func (e *DeserializationError) Is(target error) bool {
	t, ok := target.(*DeserializationError)
	return ok && t.Kind == e.Kind && t.State == nil
}

func newDeserializationError(kind DeserializationErrorKind, state *BlockState) *DeserializationError {
	e := &DeserializationError{Kind: kind, State: state}
	if state != nil {
		e.BlockType = state.Type
		e.BlockID = state.ID
	}
	return e
}
