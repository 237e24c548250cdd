package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Variable is a named, typed slot referenced by variable fields.
type Variable struct {
	id   string
	name string
	typ  string
}

func (v *Variable) ID() string   { return v.id }
func (v *Variable) Name() string { return v.name }
func (v *Variable) Type() string { return v.typ }

// VariableMap holds a workspace's variables. Names are unique per type,
// ignoring case.
type VariableMap struct {
	ws   *Workspace
	byID map[string]*Variable
}

func newVariableMap(ws *Workspace) *VariableMap {
	return &VariableMap{ws: ws, byID: make(map[string]*Variable)}
}

// ByID returns the variable with id, or nil.
func (m *VariableMap) ByID(id string) *Variable {
	return m.byID[id]
}

// ByName finds a variable of type typ by case-insensitive name.
func (m *VariableMap) ByName(name, typ string) *Variable {
	for _, v := range m.byID {
		if v.typ == typ && strings.EqualFold(v.name, name) {
			return v
		}
	}
	return nil
}

// All returns every variable sorted by type, then name.
func (m *VariableMap) All() []*Variable {
	out := make([]*Variable, 0, len(m.byID))
	for _, v := range m.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].typ != out[j].typ {
			return out[i].typ < out[j].typ
		}
		a, b := strings.ToLower(out[i].name), strings.ToLower(out[j].name)
		if a != b {
			return a < b
		}
		return out[i].id < out[j].id
	})
	return out
}

// Len returns the number of variables.
func (m *VariableMap) Len() int { return len(m.byID) }

// Create adds a variable. An existing variable with the same name and type
// is returned as is, unless id names a different one.
func (m *VariableMap) Create(name, typ, id string) (*Variable, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: variable name is empty", ErrInvalidValue)
	}
	if existing := m.ByName(name, typ); existing != nil {
		if id != "" && existing.id != id {
			return nil, fmt.Errorf("%w: %q of type %q has id %s, not %s", ErrVariableExists, name, typ, existing.id, id)
		}
		return existing, nil
	}
	if id == "" {
		id = uuid.NewString()
	} else if _, taken := m.byID[id]; taken {
		return nil, fmt.Errorf("%w: %s", ErrVariableIDInUse, id)
	}
	v := &Variable{id: id, name: name, typ: typ}
	m.byID[id] = v
	if m.ws.eventsEnabled() {
		m.ws.fire(&VarCreate{Base: m.ws.newBase(EventVarCreate, true), VarID: id, VarName: name, VarType: typ})
	}
	return v, nil
}

// GetOrCreate returns the variable with id if it exists, otherwise the one
// named name of type typ, creating it if needed.
func (m *VariableMap) GetOrCreate(name, typ, id string) (*Variable, error) {
	if id != "" {
		if v := m.byID[id]; v != nil {
			return v, nil
		}
	}
	return m.Create(name, typ, id)
}

// Rename changes a variable's name. Renaming onto another variable of the
// same type fails.
func (m *VariableMap) Rename(id, newName string) error {
	v := m.byID[id]
	if v == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchVariable, id)
	}
	if newName == "" {
		return fmt.Errorf("%w: variable name is empty", ErrInvalidValue)
	}
	if newName == v.name {
		return nil
	}
	if other := m.ByName(newName, v.typ); other != nil && other != v {
		return fmt.Errorf("%w: %q of type %q", ErrVariableExists, newName, v.typ)
	}
	old := v.name
	v.name = newName
	if m.ws.eventsEnabled() {
		m.ws.fire(&VarRename{Base: m.ws.newBase(EventVarRename, true), VarID: id, OldName: old, NewName: newName})
	}
	return nil
}

// Uses returns the blocks with a field referring to the variable.
func (m *VariableMap) Uses(id string) []*Block {
	var out []*Block
	for _, b := range m.ws.blocks {
		for _, f := range b.Fields() {
			if f.kind == FieldVariable && f.value == id {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// Delete removes a variable and every block using it, in one event group.
func (m *VariableMap) Delete(id string) error {
	v := m.byID[id]
	if v == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchVariable, id)
	}
	m.ws.withGroup(func() {
		for _, b := range m.Uses(id) {
			if !b.disposed {
				b.Dispose(true)
			}
		}
		if m.ws.eventsEnabled() {
			m.ws.fire(&VarDelete{Base: m.ws.newBase(EventVarDelete, true), VarID: id, VarName: v.name, VarType: v.typ})
		}
		delete(m.byID, id)
	})
	return nil
}

func (m *VariableMap) clear() {
	for _, v := range m.All() {
		if err := m.Delete(v.id); err != nil {
			delete(m.byID, v.id)
		}
	}
}
