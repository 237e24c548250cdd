package serialization

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/model"
)

func xy(x, y float64) geom.Coordinate { return geom.Coordinate{X: x, Y: y} }

func testRegistry() *model.Registry {
	return model.NewRegistry().MustDefine(
		model.BlockDefinition{
			Type:     "stmt",
			Previous: &model.ConnectionDef{},
			Next:     &model.ConnectionDef{Offset: xy(0, 30)},
		},
		model.BlockDefinition{
			Type:     "wrap",
			Previous: &model.ConnectionDef{},
			Next:     &model.ConnectionDef{Offset: xy(0, 60)},
			Inputs: []model.InputDef{
				{Name: "COND", Kind: model.InputValue, Check: []string{"Boolean"}, Offset: xy(80, 0)},
				{Name: "DO", Kind: model.InputStatement, Offset: xy(20, 30)},
			},
		},
		model.BlockDefinition{
			Type:   "num",
			Output: &model.ConnectionDef{Check: []string{"Number"}},
			Inputs: []model.InputDef{{Kind: model.InputDummy, Fields: []model.FieldDef{{Name: "NUM", Kind: model.FieldNumber}}}},
		},
		model.BlockDefinition{
			Type:   "bool",
			Output: &model.ConnectionDef{Check: []string{"Boolean"}},
			Inputs: []model.InputDef{{Kind: model.InputDummy, Fields: []model.FieldDef{
				{Name: "BOOL", Kind: model.FieldDropdown, Options: []string{"TRUE", "FALSE"}},
			}}},
		},
		model.BlockDefinition{
			Type:   "add",
			Output: &model.ConnectionDef{Check: []string{"Number"}},
			Inputs: []model.InputDef{
				{Name: "A", Kind: model.InputValue, Check: []string{"Number"}, Offset: xy(30, 0),
					Shadow: &model.BlockState{Type: "num", Fields: map[string]any{"NUM": 1.0}}},
				{Name: "B", Kind: model.InputValue, Check: []string{"Number"}, Offset: xy(60, 0)},
			},
		},
		model.BlockDefinition{
			Type:   "var_get",
			Output: &model.ConnectionDef{},
			Inputs: []model.InputDef{{Kind: model.InputDummy, Fields: []model.FieldDef{
				{Name: "VAR", Kind: model.FieldVariable, Value: "x"},
			}}},
		},
	)
}

func newBlock(t *testing.T, ws *model.Workspace, typ, id string) *model.Block {
	t.Helper()
	b, err := ws.NewBlock(typ, id)
	require.NoError(t, err)
	return b
}

// populate builds a workspace with a bit of everything.
func populate(t *testing.T) *model.Workspace {
	t.Helper()
	ws := model.NewWorkspace(testRegistry())

	w := newBlock(t, ws, "wrap", "w")
	require.NoError(t, w.MoveTo(xy(10, 20)))
	cond := newBlock(t, ws, "bool", "cond")
	require.NoError(t, cond.SetFieldValue("BOOL", "FALSE"))
	require.NoError(t, cond.Output().Connect(w.Input("COND").Connection()))
	inner := newBlock(t, ws, "stmt", "inner")
	require.NoError(t, inner.Previous().Connect(w.Input("DO").Connection()))
	after := newBlock(t, ws, "stmt", "after")
	require.NoError(t, after.Previous().Connect(w.Next()))
	after.SetComment("then this")

	sum := newBlock(t, ws, "add", "sum")
	require.NoError(t, sum.MoveTo(xy(200, 300)))
	g := newBlock(t, ws, "var_get", "g")
	require.NoError(t, g.Output().Connect(sum.Input("B").Connection()))

	_, err := ws.NewComment("remember", xy(400, 10))
	require.NoError(t, err)
	return ws
}

func encode(t *testing.T, doc Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

type recorder struct{ events []model.Event }

func (r *recorder) HandleEvent(e model.Event) { r.events = append(r.events, e) }

func TestSaveLoadRoundTrip(t *testing.T) {
	src := populate(t)
	doc, err := Save(src)
	require.NoError(t, err)
	assert.Contains(t, doc, "variables")
	assert.Contains(t, doc, "blocks")
	assert.Contains(t, doc, "workspaceComments")

	dst := model.NewWorkspace(testRegistry())
	ids, err := Load(doc, dst, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"w", "sum"}, ids)

	again, err := Save(dst)
	require.NoError(t, err)
	assert.JSONEq(t, encode(t, doc), encode(t, again))

	sum := dst.BlockByID("sum")
	require.NotNil(t, sum)
	shadow := sum.Input("A").Connection().TargetBlock()
	require.NotNil(t, shadow)
	assert.True(t, shadow.IsShadow())
	assert.Equal(t, "then this", dst.BlockByID("after").Comment())
}

func TestSaveOrdersTopBlocks(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())
	for id, at := range map[string]geom.Coordinate{"right": xy(100, 0), "left": xy(0, 0), "low": xy(0, 50)} {
		b := newBlock(t, ws, "stmt", id)
		require.NoError(t, b.MoveTo(at))
	}

	var got []string
	for _, s := range SaveTopBlocks(ws) {
		got = append(got, s.ID)
	}
	assert.Equal(t, []string{"left", "right", "low"}, got)
}

func TestSaveSkipsInsertionMarkers(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())
	newBlock(t, ws, "stmt", "real")
	newBlock(t, ws, "stmt", "marker").SetInsertionMarker(true)

	states := SaveTopBlocks(ws)
	require.Len(t, states, 1)
	assert.Equal(t, "real", states[0].ID)
}

func TestEmptyWorkspaceSavesEmptyDocument(t *testing.T) {
	doc, err := Save(model.NewWorkspace(testRegistry()))
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestFailedLoadLeavesTargetUntouched(t *testing.T) {
	ws := populate(t)
	before, err := Save(ws)
	require.NoError(t, err)
	rec := &recorder{}
	ws.AddChangeListener(rec)

	doc, err := Unmarshal([]byte(`{
		"variables": [{"name": "n", "id": "v1"}],
		"blocks": {"languageVersion": 0, "blocks": [
			{"type": "stmt", "id": "ok"},
			{"type": "wrap", "id": "bad", "inputs": {"COND": {"block": {"type": "nope", "id": "deep"}}}}
		]}
	}`))
	require.NoError(t, err)

	_, err = Load(doc, ws, LoadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, &model.DeserializationError{Kind: model.UnknownBlockType})
	var de *model.DeserializationError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "nope", de.BlockType)
	assert.Equal(t, "deep", de.BlockID)

	after, err := Save(ws)
	require.NoError(t, err)
	assert.JSONEq(t, encode(t, before), encode(t, after))
	assert.Empty(t, rec.events)
}

func TestLoadErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		block string
		want  model.DeserializationErrorKind
	}{
		{"missing type", `{"id": "a"}`, model.MissingBlockType},
		{"unknown input", `{"type": "stmt", "inputs": {"X": {"block": {"type": "num"}}}}`, model.MissingConnection},
		{"bad check", `{"type": "wrap", "inputs": {"COND": {"block": {"type": "num"}}}}`, model.BadConnectionCheck},
		{"bad field", `{"type": "bool", "fields": {"BOOL": "MAYBE"}}`, model.InvalidFieldValue},
		{"real child of shadow", `{"type": "add", "inputs": {"B": {"shadow": {"type": "add", "inputs": {"B": {"block": {"type": "num"}}}}}}}`, model.RealChildOfShadow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := model.NewWorkspace(testRegistry())
			doc := Document{"blocks": json.RawMessage(`{"languageVersion": 0, "blocks": [` + tt.block + `]}`)}
			_, err := Load(doc, ws, LoadOptions{})
			assert.ErrorIs(t, err, &model.DeserializationError{Kind: tt.want})
			assert.Empty(t, ws.AllBlocks())
		})
	}
}

func TestLoadReplacesContent(t *testing.T) {
	ws := populate(t)
	doc := Document{"blocks": json.RawMessage(`{"languageVersion": 0, "blocks": [{"type": "stmt", "id": "only", "x": 5, "y": 6}]}`)}

	ids, err := Load(doc, ws, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids)
	assert.Len(t, ws.AllBlocks(), 1)
	assert.Empty(t, ws.Comments())
	assert.Zero(t, ws.Variables().Len())
	assert.Equal(t, xy(5, 6), ws.BlockByID("only").Position())
}

func TestLoadUndo(t *testing.T) {
	doc, err := Save(populate(t))
	require.NoError(t, err)

	ws := model.NewWorkspace(testRegistry())
	_, err = Load(doc, ws, LoadOptions{})
	require.NoError(t, err)
	assert.False(t, ws.CanUndo(), "loading is not undoable by default")
	assert.True(t, ws.RecordUndo(), "the record flag is restored")

	ws = model.NewWorkspace(testRegistry())
	_, err = Load(doc, ws, LoadOptions{RecordUndo: true})
	require.NoError(t, err)
	require.True(t, ws.CanUndo())

	ws.Undo(false)
	assert.Empty(t, ws.AllBlocks())
	assert.Empty(t, ws.Comments())
	assert.False(t, ws.CanUndo(), "the whole load is one group")
}

func TestLoadFiresFinishedLoading(t *testing.T) {
	doc, err := Save(populate(t))
	require.NoError(t, err)
	ws := model.NewWorkspace(testRegistry())
	rec := &recorder{}
	ws.AddChangeListener(rec)

	_, err = Load(doc, ws, LoadOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, rec.events)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, model.EventFinishedLoading, last.Type())

	group := rec.events[0].Group()
	assert.NotEmpty(t, group)
	for _, e := range rec.events {
		assert.Equal(t, group, e.Group())
	}
	assert.Empty(t, ws.Group())
}

func TestLoadFreshIDs(t *testing.T) {
	doc, err := Save(populate(t))
	require.NoError(t, err)
	ws := model.NewWorkspace(testRegistry())

	ids, err := Load(doc, ws, LoadOptions{FreshIDs: true})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotContains(t, ids, "w")
	assert.NotContains(t, ids, "sum")
	assert.Nil(t, ws.BlockByID("inner"))
	assert.Len(t, ws.AllBlocks(), 7)
	assert.Len(t, ws.Comments(), 1)
}

func TestVariablesLoadBeforeBlocks(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())
	doc, err := Unmarshal([]byte(`{
		"blocks": {"languageVersion": 0, "blocks": [{"type": "var_get", "id": "g", "fields": {"VAR": {"id": "v1"}}}]},
		"variables": [{"name": "count", "id": "v1"}]
	}`))
	require.NoError(t, err)

	_, err = Load(doc, ws, LoadOptions{})
	require.NoError(t, err)
	v := ws.Variables().ByID("v1")
	require.NotNil(t, v)
	assert.Equal(t, "count", v.Name())
	assert.Equal(t, "v1", ws.BlockByID("g").FieldValue("VAR"))
}

type orderSerializer struct {
	name     string
	priority int
	log      *[]string
}

func (s orderSerializer) Name() string                       { return s.name }
func (s orderSerializer) Priority() int                      { return s.priority }
func (s orderSerializer) Save(*model.Workspace) (any, error) { return s.name, nil }
func (s orderSerializer) Clear(*model.Workspace)             { *s.log = append(*s.log, "clear "+s.name) }
func (s orderSerializer) Load(_ json.RawMessage, _ *model.Workspace, _ LoadOptions) ([]string, error) {
	*s.log = append(*s.log, "load "+s.name)
	return nil, nil
}

func TestRegistryOrder(t *testing.T) {
	var log []string
	reg, err := NewRegistry(
		orderSerializer{"low", 1, &log},
		orderSerializer{"high", 10, &log},
		orderSerializer{"mid", 5, &log},
	)
	require.NoError(t, err)
	ws := model.NewWorkspace(testRegistry())

	doc, err := reg.Save(ws)
	require.NoError(t, err)
	require.Len(t, doc, 3)

	log = nil
	_, err = reg.Load(doc, ws, LoadOptions{})
	require.NoError(t, err)
	// The scratch pass loads without clearing; the real pass clears in
	// ascending priority, then loads in descending priority.
	assert.Equal(t, []string{
		"load high", "load mid", "load low",
		"clear low", "clear mid", "clear high",
		"load high", "load mid", "load low",
	}, log)

	assert.ErrorIs(t, reg.Register(orderSerializer{"mid", 3, &log}), ErrDuplicateSerializer)
}

func TestUnknownMember(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())
	doc := Document{"plugins": json.RawMessage(`{}`)}

	_, err := Load(doc, ws, LoadOptions{})
	assert.ErrorIs(t, err, ErrUnknownMember)

	_, err = Load(doc, ws, LoadOptions{IgnoreUnknown: true})
	assert.NoError(t, err)
}

func TestXMLRoundTrip(t *testing.T) {
	src := populate(t)
	data, err := SaveXML(src)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `xmlns="`+XMLNamespace+`"`)
	assert.Contains(t, text, `<statement name="DO">`)
	assert.Contains(t, text, `<value name="COND">`)
	assert.Contains(t, text, `<shadow type="num"`)
	assert.Contains(t, text, `<comment>then this</comment>`)

	dst := model.NewWorkspace(testRegistry())
	ids, err := LoadXML(data, dst, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"w", "sum"}, ids)

	want, err := Save(src)
	require.NoError(t, err)
	got, err := Save(dst)
	require.NoError(t, err)
	assert.JSONEq(t, encode(t, want), encode(t, got))
}

func TestLoadXMLVariableByName(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())
	data := `<xml><block type="var_get" id="g" x="5" y="5"><field name="VAR">count</field></block></xml>`

	_, err := LoadXML([]byte(data), ws, LoadOptions{})
	require.NoError(t, err)
	v := ws.Variables().ByName("count", "")
	require.NotNil(t, v)
	assert.Equal(t, v.ID(), ws.BlockByID("g").FieldValue("VAR"))
}

func TestLoadXMLErrors(t *testing.T) {
	ws := model.NewWorkspace(testRegistry())

	_, err := LoadXML([]byte(`<document/>`), ws, LoadOptions{})
	assert.Error(t, err)

	_, err = LoadXML([]byte(`<xml><block type="stmt"><value name="X"><block type="num"/></value></block></xml>`), ws, LoadOptions{})
	assert.True(t, errors.Is(err, &model.DeserializationError{Kind: model.MissingConnection}), "got %v", err)

	_, err = LoadXML([]byte(`<xml><block`), ws, LoadOptions{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parsing xml"))
}
