package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ritzau/blockgraph/pkg/drag"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
	"github.com/ritzau/blockgraph/pkg/pubsub"
	"github.com/ritzau/blockgraph/pkg/serialization"
	"github.com/ritzau/blockgraph/pkg/store"
)

// changeBacklog is the number of change records kept for resuming streams
const changeBacklog = 1024

// Server serves one workspace over HTTP. Every request holds the
// workspace lock for its whole duration, so the engine itself never sees
// concurrent calls.
type Server struct {
	router    *mux.Router
	publisher *pubsub.SSEPublisher
	store     store.Store

	mu        sync.Mutex
	ws        *model.Workspace
	forwarder *pubsub.ChangeForwarder
	drags     map[string]*dragSession
}

// NewServer creates a new web server for ws
func NewServer(ws *model.Workspace) *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	ssePublisher.ConfigureTopic(pubsub.TopicWorkspaceStatus, pubsub.TopicConfig{
		Backlog: 1,
		Replay:  pubsub.ReplayLatest,
	})
	// Late joiners fetch the document; reconnecting clients resume from
	// Last-Event-ID while their cursor is still retained.
	ssePublisher.ConfigureTopic(pubsub.TopicChanges, pubsub.TopicConfig{
		Backlog: changeBacklog,
		Replay:  pubsub.ReplaySince,
	})

	s := &Server{
		router:    mux.NewRouter(),
		publisher: ssePublisher,
		ws:        ws,
		drags:     make(map[string]*dragSession),
	}
	s.forwarder = pubsub.ForwardChanges(ws, ssePublisher)
	ws.AddChangeListener(model.ListenerFunc(countRecord))
	s.setupRoutes()
	s.updateGauges()
	return s
}

// SetStore enables the stored document endpoints
func (s *Server) SetStore(st store.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = st
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in the request logging middleware
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// Update runs fn with the workspace locked. Open drags are cancelled
// first, as fn may replace what they are dragging.
func (s *Server) Update(fn func(ws *model.Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelDrags()
	err := fn(s.ws)
	s.updateGauges()
	return err
}

// Close cancels open drags and shuts down the event streams
func (s *Server) Close() error {
	s.mu.Lock()
	s.cancelDrags()
	s.forwarder.Stop()
	s.mu.Unlock()
	return s.publisher.Close()
}

// PublishWorkspaceStatus publishes a workspace status event
func (s *Server) PublishWorkspaceStatus(state, message string) error {
	s.mu.Lock()
	status := s.status(state, message)
	s.mu.Unlock()
	return s.publisher.Publish(pubsub.TopicWorkspaceStatus, state, status)
}

func (s *Server) status(state, message string) pubsub.WorkspaceStatus {
	return pubsub.WorkspaceStatus{
		State:     state,
		Message:   message,
		Blocks:    len(s.ws.AllBlocks()),
		TopBlocks: len(s.ws.TopBlocks(false)),
		CanUndo:   s.ws.CanUndo(),
		CanRedo:   s.ws.CanRedo(),
	}
}

func (s *Server) updateGauges() {
	blocksGauge.Set(float64(len(s.ws.AllBlocks())))
	undoDepthGauge.Set(float64(len(s.ws.UndoStack())))
	dragsGauge.Set(float64(len(s.drags)))
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(instrument)

	api.HandleFunc("/status", s.locked(s.handleStatus)).Methods("GET")
	api.HandleFunc("/verify", s.locked(s.handleVerify)).Methods("GET")

	// Document
	api.HandleFunc("/document", s.locked(s.handleGetDocument)).Methods("GET")
	api.HandleFunc("/document", s.mutating(s.handlePutDocument)).Methods("PUT")

	// Blocks - more specific routes must come first
	api.HandleFunc("/blocks", s.locked(s.handleListBlocks)).Methods("GET")
	api.HandleFunc("/blocks", s.mutating(s.handleCreateBlock)).Methods("POST")
	api.HandleFunc("/blocks/{id}/move", s.mutating(s.handleMoveBlock)).Methods("POST")
	api.HandleFunc("/blocks/{id}/unplug", s.mutating(s.handleUnplugBlock)).Methods("POST")
	api.HandleFunc("/blocks/{id}/fields/{name}", s.mutating(s.handleSetField)).Methods("PUT")
	api.HandleFunc("/blocks/{id}/connections/{conn}/closest", s.locked(s.handleClosest)).Methods("GET")
	api.HandleFunc("/blocks/{id}/connections/{conn}/neighbours", s.locked(s.handleNeighbours)).Methods("GET")
	api.HandleFunc("/blocks/{id}", s.locked(s.handleGetBlock)).Methods("GET")
	api.HandleFunc("/blocks/{id}", s.mutating(s.handleDeleteBlock)).Methods("DELETE")
	api.HandleFunc("/connect", s.mutating(s.handleConnect)).Methods("POST")
	api.HandleFunc("/disconnect", s.mutating(s.handleDisconnect)).Methods("POST")

	// Drags
	api.HandleFunc("/drags", s.mutating(s.handleStartDrag)).Methods("POST")
	api.HandleFunc("/drags/{id}/move", s.locked(s.handleDragMove)).Methods("POST")
	api.HandleFunc("/drags/{id}/end", s.locked(s.handleDragEnd)).Methods("POST")
	api.HandleFunc("/drags/{id}", s.locked(s.handleDragCancel)).Methods("DELETE")

	// History
	api.HandleFunc("/undo", s.mutating(s.handleUndo(false))).Methods("POST")
	api.HandleFunc("/redo", s.mutating(s.handleUndo(true))).Methods("POST")
	api.HandleFunc("/history", s.locked(s.handleHistory)).Methods("GET")

	// Stored documents
	api.HandleFunc("/documents", s.locked(s.handleListDocuments)).Methods("GET")
	api.HandleFunc("/documents/{name}", s.locked(s.handleGetStored)).Methods("GET")
	api.HandleFunc("/documents/{name}/open", s.mutating(s.handleLoadStored)).Methods("POST")
	api.HandleFunc("/documents/{name}", s.locked(s.handleSaveStored)).Methods("PUT")
	api.HandleFunc("/documents/{name}", s.locked(s.handleDeleteStored)).Methods("DELETE")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// locked serializes handlers on the workspace
func (s *Server) locked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		h(w, r)
		s.updateGauges()
	}
}

// mutating is locked for handlers that edit the workspace outside a drag.
// Open drags are abandoned first: they own the current event group and a
// checkpoint into the history.
func (s *Server) mutating(h http.HandlerFunc) http.HandlerFunc {
	return s.locked(func(w http.ResponseWriter, r *http.Request) {
		s.cancelDrags()
		h(w, r)
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic != pubsub.TopicChanges && topic != pubsub.TopicWorkspaceStatus {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic %q", topic))
		return
	}

	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = r.URL.Query().Get("lastEventId")
	}
	after, err := pubsub.ParseCursor(cursor)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid Last-Event-ID %q", cursor))
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Create subscription
	sub, err := s.publisher.Subscribe(r.Context(), topic, after)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	// Stream events
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.WarnContext(r.Context(), "error writing SSE event", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status("ready", ""))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var de *model.DeserializationError
	if errors.As(err, &de) {
		resp.Detail = map[string]any{
			"kind":       de.Kind.String(),
			"blockType":  de.BlockType,
			"blockId":    de.BlockID,
			"connection": de.Connection,
			"field":      de.Field,
		}
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP statuses
func statusFor(err error) int {
	var de *model.DeserializationError
	var ce *model.ConnectError
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, store.ErrNotFound),
		errors.Is(err, model.ErrNoSuchField), errors.Is(err, model.ErrNoSuchInput):
		return http.StatusNotFound
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ce), errors.Is(err, model.ErrCannotConnect),
		errors.Is(err, drag.ErrNotDraggable), errors.Is(err, drag.ErrDragFinished),
		errors.Is(err, model.ErrNotTopLevel), errors.Is(err, model.ErrBlockDisposed),
		errors.Is(err, serialization.ErrUnknownMember):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidValue), errors.Is(err, model.ErrUnknownBlockType),
		errors.Is(err, store.ErrInvalidName), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
