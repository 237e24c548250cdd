package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/serialization"
	"github.com/ritzau/blockgraph/pkg/verify"
)

const maxDocumentSize = 16 << 20

// requestFormat picks the document format from ?format= or the given header
func requestFormat(r *http.Request, header string) (serialization.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return serialization.ParseFormat(f)
	}
	mediaType, _, _ := strings.Cut(r.Header.Get(header), ";")
	if f, err := serialization.ParseFormat(mediaType); err == nil {
		return f, nil
	}
	return serialization.FormatJSON, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r, "Accept")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := serialization.SaveAs(s.ws, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Write(data)
}

type loadResponse struct {
	TopBlocks []string `json:"topBlocks"`
}

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r, "Content-Type")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := serialization.LoadAs(data, format, s.ws, serialization.LoadOptions{
		RecordUndo:    true,
		IgnoreUnknown: r.URL.Query().Get("strict") != "true",
	})
	if err != nil {
		writeError(w, statusForLoad(err), err)
		return
	}
	logging.InfoContext(r.Context(), "document replaced", "format", format, "topBlocks", len(ids))
	writeJSON(w, http.StatusOK, loadResponse{TopBlocks: nonNil(ids)})
}

// statusForLoad treats undecodable input as a bad request
func statusForLoad(err error) int {
	if status := statusFor(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusBadRequest
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, verify.Workspace(s.ws))
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no document store configured"))
		return false
	}
	return true
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	infos, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetStored(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	data, err := s.store.Load(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", serialization.FormatJSON.ContentType())
	w.Write(data)
}

// handleLoadStored replaces the workspace with a stored document
func (s *Server) handleLoadStored(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	name := mux.Vars(r)["name"]
	data, err := s.store.Load(r.Context(), name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ids, err := serialization.LoadAs(data, serialization.FormatJSON, s.ws, serialization.LoadOptions{RecordUndo: true, IgnoreUnknown: true})
	if err != nil {
		writeError(w, statusForLoad(err), fmt.Errorf("stored document %s: %w", name, err))
		return
	}
	logging.InfoContext(r.Context(), "stored document loaded", "name", name, "topBlocks", len(ids))
	writeJSON(w, http.StatusOK, loadResponse{TopBlocks: nonNil(ids)})
}

// handleSaveStored saves the current workspace under a name
func (s *Server) handleSaveStored(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	name := mux.Vars(r)["name"]
	data, err := serialization.SaveAs(s.ws, serialization.FormatJSON)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.Save(r.Context(), name, data); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteStored(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
