package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/blockgraph/pkg/model"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, typ := range []string{
		"controls_if", "controls_repeat_ext", "controls_whileUntil",
		"logic_compare", "logic_boolean", "math_number", "math_arithmetic",
		"text", "text_print", "variables_get", "variables_set",
	} {
		_, ok := c.Lookup(typ)
		assert.True(t, ok, "missing %s", typ)
	}

	def, _ := c.Lookup("controls_if")
	require.NotNil(t, def.Next)
	assert.Equal(t, 80.0, def.Next.Offset.Y)
	require.Len(t, def.Inputs, 2)
	assert.Equal(t, model.InputStatement, def.Inputs[1].Kind)
}

func TestDefaultCatalogInstantiates(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	reg, err := c.Registry()
	require.NoError(t, err)
	ws := model.NewWorkspace(reg)

	for _, typ := range reg.Types() {
		_, err := ws.NewBlock(typ, "")
		assert.NoError(t, err, typ)
	}

	loop := mustNew(t, ws, "controls_repeat_ext")
	shadow := loop.Input("TIMES").Connection().TargetBlock()
	require.NotNil(t, shadow)
	assert.True(t, shadow.IsShadow())
	assert.Equal(t, "10", shadow.FieldValue("NUM"))

	set := mustNew(t, ws, "variables_set")
	v := ws.Variables().ByID(set.FieldValue("VAR"))
	require.NotNil(t, v)
	assert.Equal(t, "item", v.Name())
}

func mustNew(t *testing.T, ws *model.Workspace, typ string) *model.Block {
	t.Helper()
	b, err := ws.NewBlock(typ, "")
	require.NoError(t, err)
	return b
}

func TestLoadMergesExternalFiles(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[[blocks]]
type = "math_number"
colour = "0"
output = { check = ["Number", "Integer"] }

[[blocks.inputs]]
kind = "dummy"
fields = [{ name = "NUM", kind = "number", precision = 1.0 }]

[[blocks]]
type = "robot_move"
previous = {}
next = { offset = { x = 0, y = 30 } }
`), 0o644))

	base, err := Default()
	require.NoError(t, err)
	c, err := Load(override)
	require.NoError(t, err)

	assert.Equal(t, base.Len()+1, c.Len())
	num, _ := c.Lookup("math_number")
	assert.Equal(t, "0", num.Colour)
	assert.Equal(t, []string{"Number", "Integer"}, num.Output.Check)
	_, ok := c.Lookup("robot_move")
	assert.True(t, ok)

	fromDir, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), fromDir.Len())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `[[blocks]`},
		{"no type", "[[blocks]]\ncolour = \"1\""},
		{"output and previous", "[[blocks]]\ntype = \"x\"\noutput = {}\nprevious = {}"},
		{"bad input kind", "[[blocks]]\ntype = \"x\"\n[[blocks.inputs]]\nname = \"A\"\nkind = \"sideways\""},
		{"dropdown without options", "[[blocks]]\ntype = \"x\"\n[[blocks.inputs]]\nfields = [{ name = \"D\", kind = \"dropdown\" }]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "test.toml")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLaterDefinitionWins(t *testing.T) {
	c := New(
		model.BlockDefinition{Type: "a", Colour: "1"},
		model.BlockDefinition{Type: "b"},
		model.BlockDefinition{Type: "a", Colour: "2"},
	)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, "a", c.Definitions()[0].Type)
	assert.Equal(t, "2", c.Definitions()[0].Colour)
}
