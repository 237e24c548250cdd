package model

import "fmt"

// ConnectionKind identifies which side of a joint a connection sits on.
type ConnectionKind int

const (
	KindPrevious ConnectionKind = iota // top of a statement block
	KindNext                           // bottom of a statement block, or a statement input
	KindOutput                         // left plug of a value block
	KindInput                          // value input socket
)

const numConnectionKinds = 4

// Opposite returns the only kind k may attach to.
func (k ConnectionKind) Opposite() ConnectionKind {
	switch k {
	case KindPrevious:
		return KindNext
	case KindNext:
		return KindPrevious
	case KindOutput:
		return KindInput
	case KindInput:
		return KindOutput
	}
	panic(fmt.Sprintf("model: unknown connection kind %d", int(k)))
}

// IsSuperior reports whether k is the parent side of a joint.
func (k ConnectionKind) IsSuperior() bool {
	switch k {
	case KindNext, KindInput:
		return true
	case KindPrevious, KindOutput:
		return false
	}
	panic(fmt.Sprintf("model: unknown connection kind %d", int(k)))
}

func (k ConnectionKind) String() string {
	switch k {
	case KindPrevious:
		return "previous"
	case KindNext:
		return "next"
	case KindOutput:
		return "output"
	case KindInput:
		return "input"
	}
	return fmt.Sprintf("ConnectionKind(%d)", int(k))
}

// InputKind is the kind of slot an Input provides.
type InputKind string

const (
	InputValue     InputKind = "value"
	InputStatement InputKind = "statement"
	InputDummy     InputKind = "dummy"
)

// connectionKind returns the kind of the connection owned by an input of
// kind k, and false for dummy inputs.
func (k InputKind) connectionKind() (ConnectionKind, bool) {
	switch k {
	case InputValue:
		return KindInput, true
	case InputStatement:
		return KindNext, true
	case InputDummy:
		return 0, false
	}
	panic(fmt.Sprintf("model: unknown input kind %q", string(k)))
}

// Valid reports whether k is one of the three input kinds.
func (k InputKind) Valid() bool {
	return k == InputValue || k == InputStatement || k == InputDummy
}

// FieldKind is the editor type of a Field.
type FieldKind string

const (
	FieldLabel    FieldKind = "label"
	FieldText     FieldKind = "text"
	FieldNumber   FieldKind = "number"
	FieldDropdown FieldKind = "dropdown"
	FieldCheckbox FieldKind = "checkbox"
	FieldVariable FieldKind = "variable"
)

// Valid reports whether k is a known field kind.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldLabel, FieldText, FieldNumber, FieldDropdown, FieldCheckbox, FieldVariable:
		return true
	}
	return false
}
