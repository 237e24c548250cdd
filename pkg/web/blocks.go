package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/model"
	"github.com/ritzau/blockgraph/pkg/serialization"
)

// ConnectionRef names a connection by its block and its name: "previous",
// "next", "output" or the name of the owning input.
type ConnectionRef struct {
	BlockID    string `json:"blockId"`
	Connection string `json:"connection"`
}

// ConnectionView describes one connection of a block
type ConnectionView struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Position geom.Coordinate `json:"position"`
	Check    []string        `json:"check,omitempty"`
	Tracked  bool            `json:"tracked"`
	Target   *ConnectionRef  `json:"target,omitempty"`
}

// BlockView is the API form of a block
type BlockView struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Position    geom.Coordinate   `json:"position"`
	Parent      string            `json:"parent,omitempty"`
	Shadow      bool              `json:"shadow,omitempty"`
	Collapsed   bool              `json:"collapsed,omitempty"`
	Enabled     bool              `json:"enabled"`
	Fields      map[string]string `json:"fields,omitempty"`
	Connections []ConnectionView  `json:"connections"`
	State       *model.BlockState `json:"state"`
}

func connectionName(c *model.Connection) string {
	if in := c.ParentInput(); in != nil {
		return in.Name()
	}
	return c.Kind().String()
}

func refOf(c *model.Connection) *ConnectionRef {
	if c == nil {
		return nil
	}
	return &ConnectionRef{BlockID: c.Owner().ID(), Connection: connectionName(c)}
}

func viewOf(b *model.Block) BlockView {
	v := BlockView{
		ID:        b.ID(),
		Type:      b.Type(),
		Position:  b.Position(),
		Shadow:    b.IsShadow(),
		Collapsed: b.IsCollapsed(),
		Enabled:   b.IsEnabled(),
		State:     model.SaveBlock(b, model.SaveOptions{AddCoordinates: b.Parent() == nil}),
	}
	if p := b.Parent(); p != nil {
		v.Parent = p.ID()
	}
	for _, f := range b.Fields() {
		if f.IsSerializable() {
			if v.Fields == nil {
				v.Fields = make(map[string]string)
			}
			v.Fields[f.Name()] = f.Value()
		}
	}
	v.Connections = make([]ConnectionView, 0)
	for _, c := range b.Connections(true) {
		v.Connections = append(v.Connections, ConnectionView{
			Name:     connectionName(c),
			Kind:     c.Kind().String(),
			Position: c.Position(),
			Check:    c.Check(),
			Tracked:  c.IsTracked(),
			Target:   refOf(c.Target()),
		})
	}
	return v
}

func (s *Server) block(id string) (*model.Block, error) {
	b := s.ws.BlockByID(id)
	if b == nil {
		return nil, fmt.Errorf("block %s: %w", id, errNotFound)
	}
	return b, nil
}

// resolve finds a connection by reference
func (s *Server) resolve(ref ConnectionRef) (*model.Connection, error) {
	b, err := s.block(ref.BlockID)
	if err != nil {
		return nil, err
	}
	for _, c := range b.Connections(true) {
		if connectionName(c) == ref.Connection {
			return c, nil
		}
	}
	return nil, fmt.Errorf("block %s has no connection %q: %w", ref.BlockID, ref.Connection, errNotFound)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(serialization.SaveTopBlocks(s.ws)))
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.block(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b))
}

type createRequest struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Position *geom.Coordinate  `json:"position"`
	State    *model.BlockState `json:"state"`
}

// handleCreateBlock builds a block from a type, or a whole tree from a
// saved block state.
func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var b *model.Block
	var err error
	switch {
	case req.State != nil:
		b, err = s.ws.AppendBlock(req.State, model.AppendOptions{})
	case req.Type != "":
		s.ws.NewGroup()
		defer s.ws.SetGroup("")
		b, err = s.ws.NewBlock(req.Type, req.ID)
		if err == nil && req.Position != nil {
			err = b.MoveTo(*req.Position)
		}
	default:
		err = fmt.Errorf("%w: type or state required", errBadRequest)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(b))
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.block(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !b.IsDeletable() {
		writeError(w, http.StatusConflict, fmt.Errorf("block %s is not deletable", b.ID()))
		return
	}
	b.Dispose(r.URL.Query().Get("heal") == "true")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.block(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var to geom.Coordinate
	if err := decode(r, &to); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := b.MoveTo(to); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b))
}

func (s *Server) handleUnplugBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.block(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	b.Unplug(r.URL.Query().Get("heal") == "true")
	writeJSON(w, http.StatusOK, viewOf(b))
}

type fieldRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.block(vars["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var req fieldRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := b.SetFieldValue(vars["name"], req.Value); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(b))
}

type connectRequest struct {
	From ConnectionRef `json:"from"`
	To   ConnectionRef `json:"to"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := s.resolve(req.From)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	to, err := s.resolve(req.To)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := from.Connect(to); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(from.Owner()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var ref ConnectionRef
	if err := decode(r, &ref); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.resolve(ref)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	c.Disconnect()
	writeJSON(w, http.StatusOK, viewOf(c.Owner()))
}

// floatParam reads a query parameter, falling back to def
func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return f, nil
}

type closestResponse struct {
	Connection *ConnectionRef `json:"connection"`
	Distance   float64        `json:"distance"`
}

func (s *Server) pathConnection(r *http.Request) (*model.Connection, error) {
	vars := mux.Vars(r)
	return s.resolve(ConnectionRef{BlockID: vars["id"], Connection: vars["conn"]})
}

// handleClosest answers where the connection would snap if its block were
// dragged by (dx, dy).
func (s *Server) handleClosest(w http.ResponseWriter, r *http.Request) {
	c, err := s.pathConnection(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var dxy geom.Coordinate
	radius, err := floatParam(r, "radius", s.ws.Options().SnapRadius)
	if err == nil {
		dxy.X, err = floatParam(r, "dx", 0)
	}
	if err == nil {
		dxy.Y, err = floatParam(r, "dy", 0)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	closest, dist := c.Closest(radius, dxy)
	writeJSON(w, http.StatusOK, closestResponse{Connection: refOf(closest), Distance: dist})
}

func (s *Server) handleNeighbours(w http.ResponseWriter, r *http.Request) {
	c, err := s.pathConnection(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	radius, err := floatParam(r, "radius", s.ws.Options().SnapRadius)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	refs := make([]*ConnectionRef, 0)
	for _, n := range c.Neighbours(radius) {
		refs = append(refs, refOf(n))
	}
	writeJSON(w, http.StatusOK, refs)
}
