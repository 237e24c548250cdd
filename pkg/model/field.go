package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const defaultVariableName = "item"

// Field is an editable value on a block. Values are strings; each kind
// validates and normalizes them.
type Field struct {
	name  string
	kind  FieldKind
	value string
	def   FieldDef
	input *Input
}

func newField(in *Input, def FieldDef) *Field {
	f := &Field{name: def.Name, kind: def.Kind, def: def, input: in}
	switch def.Kind {
	case FieldDropdown:
		f.value = def.Value
		if f.value == "" && len(def.Options) > 0 {
			f.value = def.Options[0]
		}
	case FieldNumber:
		f.value = "0"
		if v, err := f.normalize(def.Value); err == nil && def.Value != "" {
			f.value = v
		}
	case FieldCheckbox:
		f.value = "FALSE"
		if v, err := f.normalize(def.Value); err == nil && def.Value != "" {
			f.value = v
		}
	case FieldVariable:
		// resolved by initDefaults or by loading state
	default:
		f.value = def.Value
	}
	return f
}

func (f *Field) Name() string      { return f.name }
func (f *Field) Kind() FieldKind   { return f.kind }
func (f *Field) Value() string     { return f.value }
func (f *Field) Block() *Block     { return f.input.owner }
func (f *Field) Input() *Input     { return f.input }
func (f *Field) Options() []string { return copyStrings(f.def.Options) }

// IsSerializable reports whether the field is saved. Labels are not.
func (f *Field) IsSerializable() bool {
	return f.kind != FieldLabel && f.name != ""
}

// SetValue validates v and stores its normalized form.
func (f *Field) SetValue(v string) error {
	nv, err := f.normalize(v)
	if err != nil {
		return err
	}
	if nv == f.value {
		return nil
	}
	old := f.value
	f.value = nv
	b := f.Block()
	b.ws.fireChange(b, "field", f.name, old, nv)
	return nil
}

func (f *Field) invalid(v string, why string) error {
	return fmt.Errorf("%w for %s field %q: %q %s", ErrInvalidValue, f.kind, f.name, v, why)
}

func (f *Field) normalize(v string) (string, error) {
	switch f.kind {
	case FieldNumber:
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(x) {
			return "", f.invalid(v, "is not a number")
		}
		if f.def.Min != nil && x < *f.def.Min {
			x = *f.def.Min
		}
		if f.def.Max != nil && x > *f.def.Max {
			x = *f.def.Max
		}
		if p := f.def.Precision; p > 0 {
			x = math.Round(x/p) * p
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case FieldDropdown:
		if !contains(f.def.Options, v) {
			return "", f.invalid(v, "is not an option")
		}
		return v, nil
	case FieldCheckbox:
		switch strings.ToUpper(v) {
		case "TRUE":
			return "TRUE", nil
		case "FALSE":
			return "FALSE", nil
		}
		return "", f.invalid(v, "is not TRUE or FALSE")
	case FieldVariable:
		ws := f.Block().ws
		variable := ws.variables.ByID(v)
		if variable == nil {
			return "", f.invalid(v, "is not a variable id")
		}
		if len(f.def.VariableTypes) > 0 && !contains(f.def.VariableTypes, variable.typ) {
			return "", f.invalid(v, "has type "+strconv.Quote(variable.typ))
		}
		return v, nil
	}
	return v, nil
}

// Variable returns the variable a variable field refers to, or nil.
func (f *Field) Variable() *Variable {
	if f.kind != FieldVariable {
		return nil
	}
	return f.Block().ws.variables.ByID(f.value)
}

// SaveState returns the serialized form of the field value.
func (f *Field) SaveState() any {
	switch f.kind {
	case FieldNumber:
		x, err := strconv.ParseFloat(f.value, 64)
		if err != nil {
			return f.value
		}
		return x
	case FieldVariable:
		state := map[string]any{"id": f.value}
		if v := f.Variable(); v != nil {
			state["name"] = v.name
			if v.typ != "" {
				state["type"] = v.typ
			}
		}
		return state
	}
	return f.value
}

// LoadState applies a serialized value. Variable states may name a variable
// that does not exist yet; it is created.
func (f *Field) LoadState(state any) error {
	if f.kind == FieldVariable {
		return f.loadVariable(state)
	}
	var v string
	switch t := state.(type) {
	case string:
		v = t
	case float64:
		v = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		v = t.String()
	case int:
		v = strconv.Itoa(t)
	case bool:
		v = strings.ToUpper(strconv.FormatBool(t))
	case nil:
		return f.invalid("null", "is not a value")
	default:
		v = fmt.Sprint(t)
	}
	return f.SetValue(v)
}

func (f *Field) loadVariable(state any) error {
	var id, name, typ string
	switch t := state.(type) {
	case string:
		id = t
	case map[string]any:
		id, _ = t["id"].(string)
		name, _ = t["name"].(string)
		typ, _ = t["type"].(string)
	default:
		return f.invalid(fmt.Sprint(state), "is not a variable reference")
	}
	vars := f.Block().ws.variables
	if id != "" {
		if v := vars.ByID(id); v != nil {
			return f.SetValue(v.id)
		}
	}
	if name == "" {
		return f.invalid(id, "references an unknown variable")
	}
	v, err := vars.GetOrCreate(name, typ, id)
	if err != nil {
		return fmt.Errorf("field %q: %w", f.name, err)
	}
	return f.SetValue(v.id)
}

// initDefaultVariable points a fresh variable field at the variable named by
// its definition, creating it when needed.
func (f *Field) initDefaultVariable() error {
	name := f.def.Value
	if name == "" {
		name = defaultVariableName
	}
	v, err := f.Block().ws.variables.GetOrCreate(name, f.def.DefaultType, "")
	if err != nil {
		return err
	}
	f.value = v.id
	return nil
}
