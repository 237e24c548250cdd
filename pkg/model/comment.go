package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ritzau/blockgraph/pkg/geom"
)

// CommentState is the serialized form of a workspace comment.
type CommentState struct {
	ID     string  `json:"id,omitempty"`
	Text   string  `json:"text"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Comment is a free-floating note on the workspace.
type Comment struct {
	id   string
	text string
	xy   geom.Coordinate
	size geom.Coordinate
	ws   *Workspace
}

func (c *Comment) ID() string                { return c.id }
func (c *Comment) Text() string              { return c.text }
func (c *Comment) Position() geom.Coordinate { return c.xy }
func (c *Comment) Size() geom.Coordinate     { return c.size }

// State returns the comment's serialized form.
func (c *Comment) State() CommentState {
	return CommentState{ID: c.id, Text: c.text, X: c.xy.X, Y: c.xy.Y, Width: c.size.X, Height: c.size.Y}
}

// NewComment creates a comment at xy.
func (ws *Workspace) NewComment(text string, xy geom.Coordinate) (*Comment, error) {
	return ws.AppendComment(CommentState{Text: text, X: xy.X, Y: xy.Y})
}

// AppendComment creates a comment from its state. A used id is replaced.
func (ws *Workspace) AppendComment(state CommentState) (*Comment, error) {
	if ws.disposed {
		return nil, ErrWorkspaceDisposed
	}
	id := state.ID
	if _, taken := ws.commentsByID[id]; id == "" || taken {
		id = uuid.NewString()
	}
	c := &Comment{
		id:   id,
		text: state.Text,
		xy:   geom.Coordinate{X: state.X, Y: state.Y},
		size: geom.Coordinate{X: state.Width, Y: state.Height},
		ws:   ws,
	}
	ws.comments = append(ws.comments, c)
	ws.commentsByID[id] = c
	if ws.eventsEnabled() {
		ws.fire(&CommentCreate{Base: ws.newBase(EventCommentCreate, true), CommentID: id, State: c.State()})
	}
	return c, nil
}

// Comments returns the workspace comments in creation order.
func (ws *Workspace) Comments() []*Comment {
	return append([]*Comment(nil), ws.comments...)
}

// CommentByID returns the comment with id, or nil.
func (ws *Workspace) CommentByID(id string) *Comment {
	return ws.commentsByID[id]
}

// SetText edits the comment.
func (c *Comment) SetText(text string) {
	if c.text == text {
		return
	}
	old := c.text
	c.text = text
	if c.ws.eventsEnabled() {
		c.ws.fire(&CommentChange{Base: c.ws.newBase(EventCommentChange, true), CommentID: c.id, OldText: old, NewText: text})
	}
}

// MoveTo repositions the comment.
func (c *Comment) MoveTo(xy geom.Coordinate) {
	if c.xy.Equal(xy) {
		return
	}
	old := c.xy
	c.xy = xy
	if c.ws.eventsEnabled() {
		c.ws.fire(&CommentMove{Base: c.ws.newBase(EventCommentMove, true), CommentID: c.id, Old: old, New: xy})
	}
}

// SetSize records the rendered size. It is not undoable.
func (c *Comment) SetSize(w, h float64) {
	c.size = geom.Coordinate{X: w, Y: h}
}

// Dispose deletes the comment. Disposing twice is a no-op.
func (c *Comment) Dispose() {
	_ = c.ws.deleteComment(c.id)
}

func (ws *Workspace) deleteComment(id string) error {
	c := ws.commentsByID[id]
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchComment, id)
	}
	if ws.eventsEnabled() {
		ws.fire(&CommentDelete{Base: ws.newBase(EventCommentDelete, true), CommentID: id, State: c.State()})
	}
	delete(ws.commentsByID, id)
	for i, x := range ws.comments {
		if x == c {
			ws.comments = append(ws.comments[:i], ws.comments[i+1:]...)
			break
		}
	}
	return nil
}
