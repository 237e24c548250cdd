package web

import (
	"encoding/json"
	"net/http"

	"github.com/ritzau/blockgraph/pkg/model"
)

type historyView struct {
	CanUndo bool              `json:"canUndo"`
	CanRedo bool              `json:"canRedo"`
	Undo    []json.RawMessage `json:"undo"`
	Redo    []json.RawMessage `json:"redo"`
}

func encodeRecords(events []model.Event) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		if data, err := model.MarshalEvent(e); err == nil {
			out = append(out, data)
		}
	}
	return out
}

func (s *Server) history() historyView {
	return historyView{
		CanUndo: s.ws.CanUndo(),
		CanRedo: s.ws.CanRedo(),
		Undo:    encodeRecords(s.ws.UndoStack()),
		Redo:    encodeRecords(s.ws.RedoStack()),
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history())
}

// handleUndo steps the history one group back, or forward with redo
func (s *Server) handleUndo(redo bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.ws.Undo(redo)
		writeJSON(w, http.StatusOK, s.history())
	}
}
