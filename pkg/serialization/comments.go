package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ritzau/blockgraph/pkg/model"
)

// CommentsSerializer handles free-floating workspace comments.
type CommentsSerializer struct{}

func (CommentsSerializer) Name() string  { return "workspaceComments" }
func (CommentsSerializer) Priority() int { return PriorityComments }

func (CommentsSerializer) Save(ws *model.Workspace) (any, error) {
	comments := ws.Comments()
	if len(comments) == 0 {
		return nil, nil
	}
	out := make([]model.CommentState, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.State())
	}
	return out, nil
}

func (CommentsSerializer) Load(data json.RawMessage, ws *model.Workspace, opts LoadOptions) ([]string, error) {
	var comments []model.CommentState
	if err := json.Unmarshal(data, &comments); err != nil {
		return nil, fmt.Errorf("parsing workspace comments: %w", err)
	}
	for _, c := range comments {
		if opts.FreshIDs {
			c.ID = ""
		}
		if _, err := ws.AppendComment(c); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (CommentsSerializer) Clear(ws *model.Workspace) {
	for _, c := range ws.Comments() {
		c.Dispose()
	}
}
