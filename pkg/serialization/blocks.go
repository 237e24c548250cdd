package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ritzau/blockgraph/pkg/model"
)

// BlocksState is the "blocks" member of a document.
type BlocksState struct {
	LanguageVersion int                 `json:"languageVersion"`
	Blocks          []*model.BlockState `json:"blocks"`
}

// BlocksSerializer handles top-level blocks and everything attached to them.
type BlocksSerializer struct{}

func (BlocksSerializer) Name() string  { return "blocks" }
func (BlocksSerializer) Priority() int { return PriorityBlocks }

// Save records top-level blocks ordered top to bottom with a slight left
// bias. Insertion markers are left out.
func (BlocksSerializer) Save(ws *model.Workspace) (any, error) {
	states := SaveTopBlocks(ws)
	if len(states) == 0 {
		return nil, nil
	}
	return &BlocksState{Blocks: states}, nil
}

// SaveTopBlocks returns the states of the top-level blocks of ws, with
// coordinates, in reading order.
func SaveTopBlocks(ws *model.Workspace) []*model.BlockState {
	var states []*model.BlockState
	for _, b := range ws.TopBlocks(true) {
		if s := model.SaveBlock(b, model.SaveOptions{AddCoordinates: true}); s != nil {
			states = append(states, s)
		}
	}
	return states
}

func (BlocksSerializer) Load(data json.RawMessage, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	var st BlocksState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing blocks: %w", err)
	}
	ids := make([]string, 0, len(st.Blocks))
	for i, state := range st.Blocks {
		if opts.FreshIDs {
			state = state.Clone()
			state.StripIDs()
		}
		b, err := ws.AppendBlock(state, model.AppendOptions{})
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		ids = append(ids, b.ID())
	}
	return ids, nil
}

func (BlocksSerializer) Clear(ws *model.Workspace) {
	for _, b := range ws.TopBlocks(false) {
		b.Dispose(false)
	}
}
