package web

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ritzau/blockgraph/pkg/drag"
	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

type dragSession struct {
	id      string
	dragger *drag.Dragger
}

// trash is the drop target a client reports the pointer over. It takes
// whatever is deletable.
type trash struct{}

func (trash) WouldDelete(b *model.Block) bool { return b.IsDeletable() }
func (trash) AcceptDrop(b *model.Block) bool  { return b.IsDeletable() }

type startDragRequest struct {
	BlockID   string `json:"blockId"`
	HealStack bool   `json:"healStack"`
}

type dragMoveRequest struct {
	Delta     geom.Coordinate `json:"delta"`
	OverTrash bool            `json:"overTrash"`
}

type candidateView struct {
	Local    *ConnectionRef `json:"local"`
	Closest  *ConnectionRef `json:"closest"`
	Distance float64        `json:"distance"`
}

type previewView struct {
	ID          string         `json:"id"`
	State       string         `json:"state"`
	Candidate   *candidateView `json:"candidate,omitempty"`
	WouldDelete bool           `json:"wouldDelete"`
	Marker      string         `json:"marker,omitempty"`
	Replaced    string         `json:"replaced,omitempty"`
}

type dragResultView struct {
	Outcome string         `json:"outcome"`
	Target  *ConnectionRef `json:"target,omitempty"`
	Group   string         `json:"group"`
}

func viewOfCandidate(c *drag.Candidate) *candidateView {
	if c == nil {
		return nil
	}
	return &candidateView{Local: refOf(c.Local), Closest: refOf(c.Closest), Distance: c.Radius}
}

func target(overTrash bool) drag.DropTarget {
	if overTrash {
		return trash{}
	}
	return nil
}

func (s *Server) session(r *http.Request) (*dragSession, error) {
	id := mux.Vars(r)["id"]
	sess, ok := s.drags[id]
	if !ok {
		return nil, fmt.Errorf("drag %s: %w", id, errNotFound)
	}
	return sess, nil
}

// cancelDrags abandons every open drag. Callers hold the lock.
func (s *Server) cancelDrags() {
	for id, sess := range s.drags {
		sess.dragger.Dispose()
		delete(s.drags, id)
		logging.Debug("drag abandoned", "drag", id)
	}
}

func (s *Server) handleStartDrag(w http.ResponseWriter, r *http.Request) {
	var req startDragRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.block(req.BlockID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	d, err := drag.Start(s.ws, b, drag.Options{HealStack: req.HealStack})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sess := &dragSession{id: uuid.NewString(), dragger: d}
	s.drags[sess.id] = sess
	logging.DebugContext(r.Context(), "drag started", "drag", sess.id, "block", b.ID())
	writeJSON(w, http.StatusCreated, previewView{ID: sess.id, State: d.State().String()})
}

func (s *Server) handleDragMove(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req dragMoveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := sess.dragger.Drag(req.Delta, target(req.OverTrash))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	v := previewView{
		ID:          sess.id,
		State:       p.State.String(),
		Candidate:   viewOfCandidate(p.Candidate),
		WouldDelete: p.WouldDelete,
	}
	if p.Marker != nil {
		v.Marker = p.Marker.ID()
	}
	if p.Replaced != nil {
		v.Replaced = p.Replaced.ID()
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req dragMoveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delete(s.drags, sess.id)
	res, err := sess.dragger.End(req.Delta, target(req.OverTrash))
	if err != nil {
		sess.dragger.Dispose()
		writeError(w, statusFor(err), err)
		return
	}
	dragsTotal.WithLabelValues(res.Outcome.String()).Inc()
	writeJSON(w, http.StatusOK, dragResultView{Outcome: res.Outcome.String(), Target: refOf(res.Target), Group: res.Group})
}

func (s *Server) handleDragCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	delete(s.drags, sess.id)
	if err := sess.dragger.Cancel(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	dragsTotal.WithLabelValues("cancelled").Inc()
	w.WriteHeader(http.StatusNoContent)
}
