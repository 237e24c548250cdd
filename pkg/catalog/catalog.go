// Package catalog loads block definitions from TOML files.
//
// A catalog file holds a list of [[blocks]] tables:
//
//	[[blocks]]
//	type = "text_print"
//	previous = {}
//	next = { offset = { x = 0, y = 30 } }
//
//	[[blocks.inputs]]
//	name = "TEXT"
//	kind = "value"
//	shadow = { type = "text", fields = { TEXT = "abc" } }
//
// The default catalog is embedded in the binary. External files are merged
// on top of it, a later definition of a type replacing an earlier one.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ritzau/blockgraph/pkg/geom"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

//go:embed blocks/*.toml
var builtin embed.FS

type point struct {
	X float64 `toml:"x"`
	Y float64 `toml:"y"`
}

func (p point) coordinate() geom.Coordinate { return geom.Coordinate{X: p.X, Y: p.Y} }

type connectionEntry struct {
	Check  []string `toml:"check"`
	Offset point    `toml:"offset"`
}

type shadowEntry struct {
	Type   string         `toml:"type"`
	Fields map[string]any `toml:"fields"`
}

type fieldEntry struct {
	Name          string   `toml:"name"`
	Kind          string   `toml:"kind"`
	Value         string   `toml:"value"`
	Options       []string `toml:"options"`
	Min           *float64 `toml:"min"`
	Max           *float64 `toml:"max"`
	Precision     float64  `toml:"precision"`
	VariableTypes []string `toml:"variable_types"`
	DefaultType   string   `toml:"default_type"`
}

type inputEntry struct {
	Name   string       `toml:"name"`
	Kind   string       `toml:"kind"`
	Check  []string     `toml:"check"`
	Offset point        `toml:"offset"`
	Fields []fieldEntry `toml:"fields"`
	Shadow *shadowEntry `toml:"shadow"`
}

type blockEntry struct {
	Type     string           `toml:"type"`
	Colour   string           `toml:"colour"`
	Tooltip  string           `toml:"tooltip"`
	Inline   bool             `toml:"inline"`
	Previous *connectionEntry `toml:"previous"`
	Next     *connectionEntry `toml:"next"`
	Output   *connectionEntry `toml:"output"`
	Inputs   []inputEntry     `toml:"inputs"`
}

type catalogFile struct {
	Blocks []blockEntry `toml:"blocks"`
}

func (c *connectionEntry) definition() *model.ConnectionDef {
	if c == nil {
		return nil
	}
	return &model.ConnectionDef{Check: c.Check, Offset: c.Offset.coordinate()}
}

func (b blockEntry) definition() model.BlockDefinition {
	def := model.BlockDefinition{
		Type:         b.Type,
		Colour:       b.Colour,
		Tooltip:      b.Tooltip,
		InputsInline: b.Inline,
		Previous:     b.Previous.definition(),
		Next:         b.Next.definition(),
		Output:       b.Output.definition(),
	}
	for _, in := range b.Inputs {
		kind := model.InputKind(in.Kind)
		if in.Kind == "" {
			kind = model.InputDummy
		}
		id := model.InputDef{
			Name:   in.Name,
			Kind:   kind,
			Check:  in.Check,
			Offset: in.Offset.coordinate(),
		}
		for _, f := range in.Fields {
			id.Fields = append(id.Fields, model.FieldDef{
				Name:          f.Name,
				Kind:          model.FieldKind(f.Kind),
				Value:         f.Value,
				Options:       f.Options,
				Min:           f.Min,
				Max:           f.Max,
				Precision:     f.Precision,
				VariableTypes: f.VariableTypes,
				DefaultType:   f.DefaultType,
			})
		}
		if in.Shadow != nil {
			id.Shadow = &model.BlockState{Type: in.Shadow.Type, Fields: in.Shadow.Fields}
		}
		def.Inputs = append(def.Inputs, id)
	}
	return def
}

// Parse decodes one catalog file. name is used in error messages.
func Parse(data []byte, name string) ([]model.BlockDefinition, error) {
	var cf catalogFile
	md, err := toml.Decode(string(data), &cf)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logging.Warn("ignoring unknown catalog keys", "file", name, "keys", fmt.Sprint(undecoded))
	}

	defs := make([]model.BlockDefinition, 0, len(cf.Blocks))
	for _, b := range cf.Blocks {
		def := b.definition()
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Catalog is an ordered set of block definitions, unique by type.
type Catalog struct {
	defs   []model.BlockDefinition
	byType map[string]int
}

// New returns a catalog holding defs. Later definitions of a type replace
// earlier ones in place.
func New(defs ...model.BlockDefinition) *Catalog {
	c := &Catalog{byType: make(map[string]int)}
	c.Add(defs...)
	return c
}

// Add merges defs into the catalog.
func (c *Catalog) Add(defs ...model.BlockDefinition) {
	for _, d := range defs {
		if i, ok := c.byType[d.Type]; ok {
			c.defs[i] = d
			continue
		}
		c.byType[d.Type] = len(c.defs)
		c.defs = append(c.defs, d)
	}
}

// Definitions returns the definitions in load order.
func (c *Catalog) Definitions() []model.BlockDefinition {
	return c.defs
}

// Lookup returns the definition of typ.
func (c *Catalog) Lookup(typ string) (model.BlockDefinition, bool) {
	i, ok := c.byType[typ]
	if !ok {
		return model.BlockDefinition{}, false
	}
	return c.defs[i], true
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// RegisterInto defines every block of the catalog on reg.
func (c *Catalog) RegisterInto(reg *model.Registry) error {
	for _, d := range c.defs {
		if err := reg.Define(d); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns a fresh registry holding the catalog.
func (c *Catalog) Registry() (*model.Registry, error) {
	reg := model.NewRegistry()
	if err := c.RegisterInto(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadFS reads every .toml file under dir of fsys, in name order.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading catalog dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	c := New()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		p := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		defs, err := Parse(data, p)
		if err != nil {
			return nil, err
		}
		c.Add(defs...)
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return LoadFS(builtin, "blocks")
}

// Load returns the embedded catalog with the given files merged on top.
// A directory contributes all of its .toml files.
func Load(paths ...string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}
		if info.IsDir() {
			ext, err := LoadFS(os.DirFS(p), ".")
			if err != nil {
				return nil, err
			}
			c.Add(ext.Definitions()...)
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}
		defs, err := Parse(data, p)
		if err != nil {
			return nil, err
		}
		c.Add(defs...)
		logging.Debug("catalog file merged", "path", p, "blocks", len(defs))
	}
	return c, nil
}
