package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ritzau/blockgraph/pkg/model"
)

// VariableState is one entry of the "variables" member.
type VariableState struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// VariablesSerializer handles the variable map. It loads first so that
// variable fields can resolve their references by id.
type VariablesSerializer struct{}

func (VariablesSerializer) Name() string  { return "variables" }
func (VariablesSerializer) Priority() int { return PriorityVariables }

func (VariablesSerializer) Save(ws *model.Workspace) (any, error) {
	vars := ws.Variables().All()
	if len(vars) == 0 {
		return nil, nil
	}
	out := make([]VariableState, 0, len(vars))
	for _, v := range vars {
		out = append(out, VariableState{Name: v.Name(), ID: v.ID(), Type: v.Type()})
	}
	return out, nil
}

func (VariablesSerializer) Load(data json.RawMessage, ws *model.Workspace, _ LoadOptions) ([]string, error) {
	var vars []VariableState
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("parsing variables: %w", err)
	}
	for _, v := range vars {
		if _, err := ws.Variables().Create(v.Name, v.Type, v.ID); err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
	}
	return nil, nil
}

func (VariablesSerializer) Clear(ws *model.Workspace) {
	for _, v := range ws.Variables().All() {
		_ = ws.Variables().Delete(v.ID())
	}
}
