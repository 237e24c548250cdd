package drag

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/model"
)

func xy(x, y float64) geom.Coordinate { return geom.Coordinate{X: x, Y: y} }

func testWorkspace(t *testing.T, opts ...model.Option) *model.Workspace {
	t.Helper()
	reg := model.NewRegistry().MustDefine(
		model.BlockDefinition{
			Type:     "stmt",
			Previous: &model.ConnectionDef{},
			Next:     &model.ConnectionDef{Offset: xy(0, 30)},
		},
		model.BlockDefinition{
			Type:     "terminal",
			Previous: &model.ConnectionDef{},
		},
		model.BlockDefinition{
			Type: "top",
			Next: &model.ConnectionDef{Offset: xy(0, 30)},
		},
		model.BlockDefinition{
			Type:     "picky",
			Previous: &model.ConnectionDef{Check: []string{"Y"}},
		},
		model.BlockDefinition{
			Type:     "narrow",
			Previous: &model.ConnectionDef{},
			Next:     &model.ConnectionDef{Offset: xy(0, 30), Check: []string{"X"}},
		},
		model.BlockDefinition{
			Type:   "num",
			Output: &model.ConnectionDef{Check: []string{"Number"}},
			Inputs: []model.InputDef{{Kind: model.InputDummy, Fields: []model.FieldDef{{Name: "NUM", Kind: model.FieldNumber}}}},
		},
		model.BlockDefinition{
			Type:   "add",
			Output: &model.ConnectionDef{Check: []string{"Number"}},
			Inputs: []model.InputDef{
				{Name: "A", Kind: model.InputValue, Check: []string{"Number"}, Offset: xy(30, 0)},
				{Name: "B", Kind: model.InputValue, Check: []string{"Number"}, Offset: xy(60, 0)},
			},
		},
	)
	return model.NewWorkspace(reg, opts...)
}

func newBlock(t *testing.T, ws *model.Workspace, typ, id string, at geom.Coordinate) *model.Block {
	t.Helper()
	b, err := ws.NewBlock(typ, id)
	require.NoError(t, err)
	require.NoError(t, b.MoveTo(at))
	return b
}

func snapshot(t *testing.T, ws *model.Workspace) string {
	t.Helper()
	var states []*model.BlockState
	for _, b := range ws.TopBlocks(false) {
		states = append(states, model.SaveBlock(b, model.SaveOptions{AddCoordinates: true}))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	data, err := json.Marshal(states)
	require.NoError(t, err)
	return string(data)
}

func indexSize(ws *model.Workspace) int {
	n := 0
	for _, k := range []model.ConnectionKind{model.KindPrevious, model.KindNext, model.KindOutput, model.KindInput} {
		n += ws.ConnectionDB(k).Len()
	}
	return n
}

type trash struct {
	wouldDelete bool
	accept      bool
}

func (tr *trash) WouldDelete(*model.Block) bool { return tr.wouldDelete }
func (tr *trash) AcceptDrop(*model.Block) bool  { return tr.accept }

type feedback struct {
	highlighted map[*model.Connection]bool
	faded       map[*model.Block]bool
}

func newFeedback() *feedback {
	return &feedback{highlighted: map[*model.Connection]bool{}, faded: map[*model.Block]bool{}}
}

func (f *feedback) HighlightConnection(c *model.Connection, on bool) { f.highlighted[c] = on }
func (f *feedback) FadeForReplacement(b *model.Block, on bool)       { f.faded[b] = on }

func TestClosestWithinRadius(t *testing.T) {
	ws := testWorkspace(t)
	d := newBlock(t, ws, "stmt", "D", xy(0, 0))
	c := newBlock(t, ws, "stmt", "C", xy(0, 35))

	got, radius := c.Previous().Closest(10, xy(0, 0))
	assert.Equal(t, d.Next(), got)
	assert.InDelta(t, 5, radius, 1e-9)

	got, radius = c.Previous().Closest(4, xy(0, 0))
	assert.Nil(t, got)
	assert.Equal(t, 4.0, radius)
}

func TestDropConnectsInOneGroup(t *testing.T) {
	opts := model.DefaultOptions()
	opts.SnapRadius = 10
	ws := testWorkspace(t, model.WithOptions(opts))
	d := newBlock(t, ws, "stmt", "D", xy(0, 0))
	c := newBlock(t, ws, "stmt", "C", xy(100, 100))
	ws.ClearUndo()

	dr, err := Start(ws, c, Options{})
	require.NoError(t, err)
	delta := xy(0, 35).Sub(xy(100, 100))

	p, err := dr.Drag(delta, nil)
	require.NoError(t, err)
	require.NotNil(t, p.Candidate)
	assert.Equal(t, StatePreviewing, p.State)
	assert.Equal(t, d.Next(), p.Candidate.Closest)
	assert.Equal(t, c.Previous(), p.Candidate.Local)
	assert.InDelta(t, 5, p.Candidate.Radius, 1e-9)
	assert.NotNil(t, p.Marker)

	res, err := dr.End(delta, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, res.Outcome)
	assert.Equal(t, d, c.Parent())
	assert.Len(t, ws.AllBlocks(), 2, "markers must be gone")
	assert.Equal(t, "", ws.Group())

	stack := ws.UndoStack()
	require.NotEmpty(t, stack)
	for _, e := range stack {
		assert.Equal(t, res.Group, e.Group())
	}

	ws.Undo(false)
	assert.Nil(t, c.Parent())
	assert.Equal(t, xy(100, 100), c.Position())
	assert.False(t, ws.CanUndo())
}

func TestPreviewPrefersCurrentCandidate(t *testing.T) {
	ws := testWorkspace(t)
	d1 := newBlock(t, ws, "stmt", "D1", xy(0, 0))
	d2 := newBlock(t, ws, "stmt", "D2", xy(10, 0))
	c := newBlock(t, ws, "stmt", "C", xy(300, 300))

	dr, err := Start(ws, c, Options{})
	require.NoError(t, err)
	move := func(to geom.Coordinate) Preview {
		p, err := dr.Drag(to.Sub(xy(300, 300)), nil)
		require.NoError(t, err)
		require.NotNil(t, p.Candidate)
		return p
	}

	assert.Equal(t, d1.Next(), move(xy(0, 31)).Candidate.Closest)
	// D2 is now closer, but not by more than the preference.
	assert.Equal(t, d1.Next(), move(xy(6, 30)).Candidate.Closest)
	assert.Equal(t, d2.Next(), move(xy(14, 30)).Candidate.Closest)

	require.NoError(t, dr.Cancel())
}

func TestInsertionMarkerLifecycle(t *testing.T) {
	ws := testWorkspace(t)
	d := newBlock(t, ws, "stmt", "D", xy(0, 0))
	e := newBlock(t, ws, "stmt", "E", xy(0, 0))
	require.NoError(t, e.Previous().Connect(d.Next()))
	c := newBlock(t, ws, "stmt", "C", xy(200, 200))

	dr, err := Start(ws, c, Options{})
	require.NoError(t, err)

	p, err := dr.Drag(xy(0, 33).Sub(xy(200, 200)), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Marker)
	assert.True(t, p.Marker.IsInsertionMarker())
	assert.Equal(t, d, p.Marker.Parent())
	assert.Equal(t, p.Marker, e.Parent())
	assert.Equal(t, xy(0, 60), e.Position())

	p, err = dr.Drag(xy(0, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, StateNoTarget, p.State)
	assert.Nil(t, p.Marker)
	assert.Equal(t, d, e.Parent())
	assert.Equal(t, xy(0, 30), e.Position())

	res, err := dr.End(xy(0, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMoved, res.Outcome)
	assert.Len(t, ws.AllBlocks(), 3)
	for _, b := range ws.AllBlocks() {
		assert.False(t, b.IsInsertionMarker())
	}
}

func TestDropIntoStackInsertsBlock(t *testing.T) {
	ws := testWorkspace(t)
	d := newBlock(t, ws, "stmt", "D", xy(0, 0))
	e := newBlock(t, ws, "stmt", "E", xy(0, 0))
	require.NoError(t, e.Previous().Connect(d.Next()))
	c := newBlock(t, ws, "stmt", "C", xy(200, 200))

	dr, err := Start(ws, c, Options{})
	require.NoError(t, err)
	res, err := dr.End(xy(0, 33).Sub(xy(200, 200)), nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConnected, res.Outcome)
	assert.Equal(t, d, c.Parent())
	assert.Equal(t, c, e.Parent())
}

func TestCancelLeavesNoTrace(t *testing.T) {
	ws := testWorkspace(t)
	a := newBlock(t, ws, "stmt", "A", xy(0, 0))
	b := newBlock(t, ws, "stmt", "B", xy(0, 0))
	c := newBlock(t, ws, "stmt", "C", xy(0, 0))
	other := newBlock(t, ws, "stmt", "O", xy(300, 0))
	require.NoError(t, b.Previous().Connect(a.Next()))
	require.NoError(t, c.Previous().Connect(b.Next()))

	before := snapshot(t, ws)
	undoDepth := len(ws.UndoStack())
	indexed := indexSize(ws)

	dr, err := Start(ws, b, Options{HealStack: true})
	require.NoError(t, err)
	assert.Equal(t, a, c.Parent(), "healing moves C up while B is dragged")

	p, err := dr.Drag(xy(300, 5).Sub(xy(0, 30)), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Candidate)
	assert.Equal(t, other.Next(), p.Candidate.Closest)

	require.NoError(t, dr.Cancel())
	assert.Equal(t, StateCancelled, dr.State())
	assert.Equal(t, before, snapshot(t, ws))
	assert.Len(t, ws.UndoStack(), undoDepth)
	assert.Equal(t, indexed, indexSize(ws))
	assert.Len(t, ws.AllBlocks(), 4)
	assert.Equal(t, "", ws.Group())

	assert.ErrorIs(t, dr.Cancel(), ErrDragFinished)
	_, err = dr.Drag(xy(0, 0), nil)
	assert.ErrorIs(t, err, ErrDragFinished)
}

func TestCancelRestoresBlockMarkerCouldNotHold(t *testing.T) {
	ws := testWorkspace(t)
	a := newBlock(t, ws, "top", "A", xy(0, 0))
	b := newBlock(t, ws, "picky", "B", xy(0, 0))
	require.NoError(t, b.Previous().Connect(a.Next()))
	d := newBlock(t, ws, "narrow", "D", xy(200, 200))

	before := snapshot(t, ws)
	undoDepth := len(ws.UndoStack())
	indexed := indexSize(ws)

	dr, err := Start(ws, d, Options{})
	require.NoError(t, err)
	p, err := dr.Drag(xy(0, 30).Sub(xy(200, 200)), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Marker)
	assert.Nil(t, b.Parent(), "B does not fit under the marker")

	require.NoError(t, dr.Cancel())
	assert.Equal(t, a, b.Parent())
	assert.Equal(t, xy(0, 30), b.Position())
	assert.Equal(t, before, snapshot(t, ws))
	assert.Len(t, ws.UndoStack(), undoDepth)
	assert.Equal(t, indexed, indexSize(ws))
	assert.Len(t, ws.AllBlocks(), 3)
}

func TestDropElsewhereRestoresBlockMarkerCouldNotHold(t *testing.T) {
	ws := testWorkspace(t)
	a := newBlock(t, ws, "top", "A", xy(0, 0))
	b := newBlock(t, ws, "picky", "B", xy(0, 0))
	require.NoError(t, b.Previous().Connect(a.Next()))
	d := newBlock(t, ws, "narrow", "D", xy(200, 200))
	undoDepth := len(ws.UndoStack())

	dr, err := Start(ws, d, Options{})
	require.NoError(t, err)
	p, err := dr.Drag(xy(0, 30).Sub(xy(200, 200)), nil)
	require.NoError(t, err)
	require.NotNil(t, p.Marker)

	res, err := dr.End(xy(300, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMoved, res.Outcome)
	assert.Equal(t, a, b.Parent())
	assert.Equal(t, xy(0, 30), b.Position())
	assert.Equal(t, xy(500, 200), d.Position())

	for _, ev := range ws.UndoStack()[undoDepth:] {
		if mv, ok := ev.(*model.BlockMove); ok {
			assert.Equal(t, "D", mv.BlockID, "only the dragged block moves")
		}
	}
}

func TestDropOnTrash(t *testing.T) {
	ws := testWorkspace(t)
	b := newBlock(t, ws, "stmt", "B", xy(10, 10))

	dr, err := Start(ws, b, Options{})
	require.NoError(t, err)
	p, err := dr.Drag(xy(500, 0), &trash{wouldDelete: true, accept: true})
	require.NoError(t, err)
	assert.True(t, p.WouldDelete)
	assert.Nil(t, p.Candidate)

	res, err := dr.End(xy(500, 0), &trash{wouldDelete: true, accept: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.True(t, b.IsDisposed())

	ws.Undo(false)
	restored := ws.BlockByID("B")
	require.NotNil(t, restored)
	assert.Equal(t, xy(10, 10), restored.Position())
}

func TestRefusedDeleteReturnsBlock(t *testing.T) {
	ws := testWorkspace(t)
	a := newBlock(t, ws, "stmt", "A", xy(0, 0))
	b := newBlock(t, ws, "stmt", "B", xy(0, 0))
	require.NoError(t, b.Previous().Connect(a.Next()))
	before := snapshot(t, ws)

	dr, err := Start(ws, b, Options{})
	require.NoError(t, err)
	res, err := dr.End(xy(400, 400), &trash{wouldDelete: true, accept: false})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReturned, res.Outcome)
	assert.Equal(t, a, b.Parent())
	assert.Equal(t, before, snapshot(t, ws))
}

func TestReplacementFade(t *testing.T) {
	ws := testWorkspace(t)
	sum := newBlock(t, ws, "add", "sum", xy(0, 0))
	old := newBlock(t, ws, "num", "old", xy(0, 0))
	require.NoError(t, old.Output().Connect(sum.Input("B").Connection()))
	n := newBlock(t, ws, "num", "new", xy(200, 200))
	fb := newFeedback()

	dr, err := Start(ws, n, Options{Feedback: fb})
	require.NoError(t, err)
	p, err := dr.Drag(xy(62, 2).Sub(xy(200, 200)), nil)
	require.NoError(t, err)

	require.NotNil(t, p.Candidate)
	assert.Equal(t, sum.Input("B").Connection(), p.Candidate.Closest)
	assert.Equal(t, old, p.Replaced)
	assert.Nil(t, p.Marker)
	assert.True(t, fb.faded[old])
	assert.True(t, fb.highlighted[sum.Input("B").Connection()])

	res, err := dr.End(xy(62, 2).Sub(xy(200, 200)), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, res.Outcome)
	assert.Equal(t, sum, n.Parent())
	assert.Nil(t, old.Parent(), "the displaced block is bumped out")
	assert.False(t, fb.faded[old])
	assert.False(t, fb.highlighted[sum.Input("B").Connection()])
}

func TestStartRejectsImmovable(t *testing.T) {
	ws := testWorkspace(t)
	b := newBlock(t, ws, "stmt", "B", xy(0, 0))
	b.SetMovable(false)

	_, err := Start(ws, b, Options{})
	assert.ErrorIs(t, err, ErrNotDraggable)
}

func TestDisposeIsIdempotent(t *testing.T) {
	ws := testWorkspace(t)
	b := newBlock(t, ws, "stmt", "B", xy(0, 0))

	dr, err := Start(ws, b, Options{})
	require.NoError(t, err)
	dr.Dispose()
	dr.Dispose()

	assert.Equal(t, StateCancelled, dr.State())
	assert.Len(t, ws.AllBlocks(), 1)
	assert.False(t, b.IsDragging())
}
