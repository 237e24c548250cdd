package model

import (
	"fmt"
	"sort"

	"github.com/ritzau/blockgraph/pkg/geom"
)

// ConnectionDef declares a previous, next or output connection.
type ConnectionDef struct {
	Check  []string        `json:"check,omitempty"`
	Offset geom.Coordinate `json:"offset"`
}

// FieldDef declares a field inside an input.
type FieldDef struct {
	Name          string    `json:"name"`
	Kind          FieldKind `json:"kind"`
	Value         string    `json:"value,omitempty"` // default value, or default variable name
	Options       []string  `json:"options,omitempty"`
	Min           *float64  `json:"min,omitempty"`
	Max           *float64  `json:"max,omitempty"`
	Precision     float64   `json:"precision,omitempty"`
	VariableTypes []string  `json:"variableTypes,omitempty"`
	DefaultType   string    `json:"defaultType,omitempty"`
}

// InputDef declares an input and the fields rendered on its row.
type InputDef struct {
	Name   string          `json:"name"`
	Kind   InputKind       `json:"kind"`
	Check  []string        `json:"check,omitempty"`
	Offset geom.Coordinate `json:"offset"`
	Fields []FieldDef      `json:"fields,omitempty"`
	Shadow *BlockState     `json:"shadow,omitempty"` // respawned whenever the input is vacated
}

// BlockDefinition describes the shape of every block of one type.
type BlockDefinition struct {
	Type         string         `json:"type"`
	Previous     *ConnectionDef `json:"previous,omitempty"`
	Next         *ConnectionDef `json:"next,omitempty"`
	Output       *ConnectionDef `json:"output,omitempty"`
	Inputs       []InputDef     `json:"inputs,omitempty"`
	InputsInline bool           `json:"inputsInline,omitempty"`
	Colour       string         `json:"colour,omitempty"`
	Tooltip      string         `json:"tooltip,omitempty"`
}

// Validate checks a definition for shapes that can never be instantiated.
func (d *BlockDefinition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("block definition has no type")
	}
	if d.Output != nil && d.Previous != nil {
		return fmt.Errorf("block %q: a block cannot have both an output and a previous connection", d.Type)
	}
	inputs := make(map[string]bool)
	fields := make(map[string]bool)
	for _, in := range d.Inputs {
		if !in.Kind.Valid() {
			return fmt.Errorf("block %q: input %q has unknown kind %q", d.Type, in.Name, in.Kind)
		}
		if in.Kind != InputDummy {
			if in.Name == "" {
				return fmt.Errorf("block %q: %s input needs a name", d.Type, in.Kind)
			}
			if inputs[in.Name] {
				return fmt.Errorf("block %q: duplicate input %q", d.Type, in.Name)
			}
			inputs[in.Name] = true
		} else if in.Shadow != nil {
			return fmt.Errorf("block %q: dummy input %q cannot carry a shadow", d.Type, in.Name)
		}
		for _, f := range in.Fields {
			if !f.Kind.Valid() {
				return fmt.Errorf("block %q: field %q has unknown kind %q", d.Type, f.Name, f.Kind)
			}
			if f.Kind == FieldLabel {
				continue
			}
			if f.Name == "" {
				return fmt.Errorf("block %q: %s field needs a name", d.Type, f.Kind)
			}
			if fields[f.Name] {
				return fmt.Errorf("block %q: duplicate field %q", d.Type, f.Name)
			}
			fields[f.Name] = true
			if f.Kind == FieldDropdown {
				if len(f.Options) == 0 {
					return fmt.Errorf("block %q: dropdown %q has no options", d.Type, f.Name)
				}
				if f.Value != "" && !contains(f.Options, f.Value) {
					return fmt.Errorf("block %q: dropdown %q default %q is not an option", d.Type, f.Name, f.Value)
				}
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Registry maps block type names to definitions.
type Registry struct {
	defs map[string]*BlockDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*BlockDefinition)}
}

// Define registers def, replacing any earlier definition of the same type.
func (r *Registry) Define(def BlockDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	d := def
	r.defs[def.Type] = &d
	return nil
}

// MustDefine is Define for static definitions.
func (r *Registry) MustDefine(defs ...BlockDefinition) *Registry {
	for _, def := range defs {
		if err := r.Define(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the definition for typ.
func (r *Registry) Lookup(typ string) (*BlockDefinition, bool) {
	d, ok := r.defs[typ]
	return d, ok
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// InputKindOf reports the kind of the named input on blocks of type typ.
func (r *Registry) InputKindOf(typ, input string) (InputKind, bool) {
	d, ok := r.defs[typ]
	if !ok {
		return "", false
	}
	for _, in := range d.Inputs {
		if in.Name == input {
			return in.Kind, true
		}
	}
	return "", false
}
