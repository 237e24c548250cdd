package web

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/model"
	"github.com/ritzau/blockgraph/pkg/store"
)

func testRegistry() *model.Registry {
	return model.NewRegistry().MustDefine(
		model.BlockDefinition{
			Type:     "stmt",
			Previous: &model.ConnectionDef{},
			Next:     &model.ConnectionDef{Offset: geom.Coordinate{Y: 30}},
			Inputs: []model.InputDef{
				{Name: "VAL", Kind: model.InputValue, Offset: geom.Coordinate{X: 50}},
			},
		},
		model.BlockDefinition{
			Type:   "num",
			Output: &model.ConnectionDef{Check: []string{"Number"}},
			Inputs: []model.InputDef{{Kind: model.InputDummy, Fields: []model.FieldDef{{Name: "NUM", Kind: model.FieldNumber, Value: "0"}}}},
		},
	)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(model.NewWorkspace(testRegistry()))
	t.Cleanup(func() { s.Close() })
	return s
}

func call(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func create(t *testing.T, s *Server, typ, id string, x, y float64) {
	t.Helper()
	rec := call(t, s, "POST", "/api/blocks", map[string]any{"type": typ, "id": id, "position": map[string]float64{"x": x, "y": y}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConnectAndUndo(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	create(t, s, "stmt", "b", 200, 200)

	rec := call(t, s, "POST", "/api/connect", connectRequest{
		From: ConnectionRef{BlockID: "b", Connection: "previous"},
		To:   ConnectionRef{BlockID: "a", Connection: "next"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b := decodeBody[BlockView](t, call(t, s, "GET", "/api/blocks/b", nil))
	assert.Equal(t, "a", b.Parent)
	assert.Equal(t, geom.Coordinate{X: 0, Y: 30}, b.Position)

	report := call(t, s, "GET", "/api/verify", nil)
	assert.Contains(t, report.Body.String(), `"issues":[]`)

	hist := decodeBody[historyView](t, call(t, s, "POST", "/api/undo", nil))
	assert.True(t, hist.CanRedo)

	b = decodeBody[BlockView](t, call(t, s, "GET", "/api/blocks/b", nil))
	assert.Empty(t, b.Parent)
	assert.Equal(t, geom.Coordinate{X: 200, Y: 200}, b.Position)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	create(t, s, "num", "n", 100, 0)
	create(t, s, "stmt", "c", 0, 100)
	require.Equal(t, http.StatusOK, call(t, s, "POST", "/api/connect", connectRequest{
		From: ConnectionRef{BlockID: "c", Connection: "previous"},
		To:   ConnectionRef{BlockID: "a", Connection: "next"},
	}).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown block", "GET", "/api/blocks/nope", nil, http.StatusNotFound},
		{"unknown type", "POST", "/api/blocks", map[string]string{"type": "nope"}, http.StatusBadRequest},
		{"missing type", "POST", "/api/blocks", map[string]string{}, http.StatusBadRequest},
		{"malformed body", "POST", "/api/blocks", "{", http.StatusBadRequest},
		{"bad field value", "PUT", "/api/blocks/n/fields/NUM", fieldRequest{Value: "abc"}, http.StatusBadRequest},
		{"unknown field", "PUT", "/api/blocks/n/fields/NOPE", fieldRequest{Value: "1"}, http.StatusNotFound},
		{"incompatible kinds", "POST", "/api/connect", connectRequest{
			From: ConnectionRef{BlockID: "n", Connection: "output"},
			To:   ConnectionRef{BlockID: "a", Connection: "next"},
		}, http.StatusConflict},
		{"unknown connection", "POST", "/api/disconnect", ConnectionRef{BlockID: "a", Connection: "sideways"}, http.StatusNotFound},
		{"move attached block", "POST", "/api/blocks/c/move", geom.Coordinate{X: 1}, http.StatusConflict},
		{"broken document", "PUT", "/api/document", `{"blocks":{"blocks":[{"type":"nope"}]}}`, http.StatusUnprocessableEntity},
		{"undecodable document", "PUT", "/api/document", `not json`, http.StatusBadRequest},
		{"unknown drag", "DELETE", "/api/drags/none", nil, http.StatusNotFound},
		{"no store", "GET", "/api/documents", nil, http.StatusNotImplemented},
		{"unknown topic", "GET", "/api/subscribe/gossip", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	// failed calls leave the workspace as it was
	assert.Len(t, decodeBody[[]model.BlockState](t, call(t, s, "GET", "/api/blocks", nil)), 2)
}

func TestSetFieldAndClosest(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	create(t, s, "num", "n", 100, 100)

	rec := call(t, s, "PUT", "/api/blocks/n/fields/NUM", fieldRequest{Value: "42"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "42", decodeBody[BlockView](t, rec).Fields["NUM"])

	// n.output sits at (100,100); a.VAL at (50,0)
	rec = call(t, s, "GET", "/api/blocks/n/connections/output/closest?dx=-45&dy=-98", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[closestResponse](t, rec)
	require.NotNil(t, got.Connection)
	assert.Equal(t, ConnectionRef{BlockID: "a", Connection: "VAL"}, *got.Connection)
	assert.InDelta(t, 5.385, got.Distance, 0.001)

	rec = call(t, s, "GET", "/api/blocks/n/connections/output/closest", nil)
	assert.Nil(t, decodeBody[closestResponse](t, rec).Connection)

	refs := decodeBody[[]ConnectionRef](t, call(t, s, "GET", "/api/blocks/n/connections/output/neighbours?radius=200", nil))
	assert.Equal(t, []ConnectionRef{{BlockID: "a", Connection: "VAL"}}, refs)
}

func TestDragSession(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	create(t, s, "stmt", "b", 200, 200)
	before := call(t, s, "GET", "/api/document", nil).Body.String()

	start := decodeBody[previewView](t, call(t, s, "POST", "/api/drags", startDragRequest{BlockID: "b"}))
	require.NotEmpty(t, start.ID)

	rec := call(t, s, "POST", "/api/drags/"+start.ID+"/move", dragMoveRequest{Delta: geom.Coordinate{X: -198, Y: -168}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[previewView](t, rec)
	require.NotNil(t, preview.Candidate)
	assert.Equal(t, ConnectionRef{BlockID: "a", Connection: "next"}, *preview.Candidate.Closest)

	rec = call(t, s, "POST", "/api/drags/"+start.ID+"/end", dragMoveRequest{Delta: geom.Coordinate{X: -198, Y: -168}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[dragResultView](t, rec)
	assert.Equal(t, "connected", res.Outcome)
	assert.Equal(t, "a", decodeBody[BlockView](t, call(t, s, "GET", "/api/blocks/b", nil)).Parent)

	// the whole drag is one undo step
	call(t, s, "POST", "/api/undo", nil)
	assert.JSONEq(t, before, call(t, s, "GET", "/api/document", nil).Body.String())

	assert.Equal(t, http.StatusNotFound, call(t, s, "POST", "/api/drags/"+start.ID+"/end", dragMoveRequest{}).Code)
}

func TestDragCancelAndTrash(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	before := call(t, s, "GET", "/api/document", nil).Body.String()

	start := decodeBody[previewView](t, call(t, s, "POST", "/api/drags", startDragRequest{BlockID: "a"}))
	call(t, s, "POST", "/api/drags/"+start.ID+"/move", dragMoveRequest{Delta: geom.Coordinate{X: 10}})
	assert.Equal(t, http.StatusNoContent, call(t, s, "DELETE", "/api/drags/"+start.ID, nil).Code)
	assert.JSONEq(t, before, call(t, s, "GET", "/api/document", nil).Body.String())
	assert.Empty(t, decodeBody[historyView](t, call(t, s, "GET", "/api/history", nil)).Redo)

	start = decodeBody[previewView](t, call(t, s, "POST", "/api/drags", startDragRequest{BlockID: "a"}))
	preview := decodeBody[previewView](t, call(t, s, "POST", "/api/drags/"+start.ID+"/move", dragMoveRequest{OverTrash: true}))
	assert.True(t, preview.WouldDelete)
	res := decodeBody[dragResultView](t, call(t, s, "POST", "/api/drags/"+start.ID+"/end", dragMoveRequest{OverTrash: true}))
	assert.Equal(t, "deleted", res.Outcome)
	assert.Equal(t, http.StatusNotFound, call(t, s, "GET", "/api/blocks/a", nil).Code)
}

func TestMutationAbandonsOpenDrag(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	start := decodeBody[previewView](t, call(t, s, "POST", "/api/drags", startDragRequest{BlockID: "a"}))

	create(t, s, "num", "n", 50, 50)

	assert.Equal(t, http.StatusNotFound, call(t, s, "POST", "/api/drags/"+start.ID+"/move", dragMoveRequest{}).Code)
	a := decodeBody[BlockView](t, call(t, s, "GET", "/api/blocks/a", nil))
	assert.Equal(t, geom.Coordinate{}, a.Position)
}

func TestDocumentFormats(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 10, 20)

	rec := call(t, s, "GET", "/api/document?format=xml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	xmlDoc := rec.Body.String()
	assert.Contains(t, xmlDoc, `<block type="stmt" id="a"`)

	other := newTestServer(t)
	req := httptest.NewRequest("PUT", "/api/document", strings.NewReader(xmlDoc))
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	put := httptest.NewRecorder()
	other.Handler().ServeHTTP(put, req)
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())
	assert.Equal(t, []string{"a"}, decodeBody[loadResponse](t, put).TopBlocks)

	assert.JSONEq(t, call(t, s, "GET", "/api/document", nil).Body.String(), call(t, other, "GET", "/api/document", nil).Body.String())
}

func TestStoredDocuments(t *testing.T) {
	s := newTestServer(t)
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s.SetStore(fs)
	create(t, s, "stmt", "a", 0, 0)

	assert.Equal(t, http.StatusNoContent, call(t, s, "PUT", "/api/documents/first", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, s, "PUT", "/api/documents/..bad", nil).Code)
	infos := decodeBody[[]store.Info](t, call(t, s, "GET", "/api/documents", nil))
	require.Len(t, infos, 1)
	assert.Equal(t, "first", infos[0].Name)

	require.Equal(t, http.StatusNoContent, call(t, s, "DELETE", "/api/blocks/a", nil).Code)
	rec := call(t, s, "POST", "/api/documents/first/open", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, call(t, s, "GET", "/api/blocks/a", nil).Code)

	assert.Equal(t, http.StatusNoContent, call(t, s, "DELETE", "/api/documents/first", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, s, "GET", "/api/documents/first", nil).Code)
}

func TestChangeStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/subscribe/changes")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	require.Equal(t, ": connected", <-lines)

	create(t, s, "stmt", "a", 0, 0)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "data: ") {
				assert.Contains(t, line, `"type":"create"`)
				assert.Contains(t, line, `"blockId":"a"`)
				return
			}
		case <-timeout:
			t.Fatal("Timeout waiting for change record")
		}
	}
}

func TestChangeStreamResumes(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)
	create(t, s, "stmt", "b", 100, 0)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest("GET", srv.URL+"/api/subscribe/changes", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	require.Equal(t, ": connected", <-lines)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "id: ") {
				assert.Equal(t, "id: 2", line, "replay starts after the cursor")
				return
			}
		case <-timeout:
			t.Fatal("Timeout waiting for replayed record")
		}
	}
}

func TestChangeStreamRejectsBadCursor(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/subscribe/changes?lastEventId=soon", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "stmt", "a", 0, 0)

	rec := call(t, s, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "blockgraph_blocks 1")
	assert.Contains(t, body, `blockgraph_change_records_total{type="create"}`)
	assert.Contains(t, body, `blockgraph_http_request_duration_seconds_count{method="POST",route="/api/blocks",status="201"}`)
}
