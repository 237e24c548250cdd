// Package verify audits a workspace for broken structural invariants: the
// checks a healthy engine never trips, useful after loading foreign
// documents or while debugging the engine itself.
package verify

import (
	"fmt"
	"sort"

	"github.com/ritzau/blockgraph/pkg/cycles"
	"github.com/ritzau/blockgraph/pkg/graph"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

// Severity ranks an issue
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// MarshalText lets reports serialize severities by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Issue is one finding. BlockID is empty for workspace-wide findings.
type Issue struct {
	Severity Severity `json:"severity"`
	BlockID  string   `json:"blockId,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	if i.BlockID == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: block %s: %s", i.Severity, i.BlockID, i.Message)
}

// Report collects the findings for one workspace
type Report struct {
	Blocks    int                 `json:"blocks"`
	TopBlocks int                 `json:"topBlocks"`
	Variables int                 `json:"variables"`
	Cycles    []cycles.BlockCycle `json:"cycles,omitempty"`
	Issues    []Issue             `json:"issues"`
}

// OK reports whether no errors were found. Warnings do not count.
func (r *Report) OK() bool {
	return len(r.Errors()) == 0
}

// Errors returns the error-level issues
func (r *Report) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-level issues
func (r *Report) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r *Report) filter(s Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

func (r *Report) add(s Severity, blockID, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: s, BlockID: blockID, Message: fmt.Sprintf(format, args...)})
}

// Workspace runs every check against ws.
func Workspace(ws *model.Workspace) *Report {
	blocks := ws.AllBlocks()
	r := &Report{
		Blocks:    len(blocks),
		TopBlocks: len(ws.TopBlocks(false)),
		Variables: ws.Variables().Len(),
		Issues:    []Issue{},
	}

	bg := graph.BuildBlockGraph(ws)
	checkAttachments(r, ws, blocks)
	checkParents(r, bg)
	checkCycles(r, bg)
	checkShadows(r, blocks)
	checkIndex(r, ws, blocks)
	checkVariables(r, ws, blocks)

	sort.SliceStable(r.Issues, func(i, j int) bool {
		if r.Issues[i].Severity != r.Issues[j].Severity {
			return r.Issues[i].Severity > r.Issues[j].Severity
		}
		return r.Issues[i].BlockID < r.Issues[j].BlockID
	})

	logging.Debug("workspace verified", "workspace", ws.ID(), "blocks", r.Blocks,
		"errors", len(r.Errors()), "warnings", len(r.Warnings()))
	return r
}

// checkAttachments verifies that every attachment is symmetric and stays
// inside the workspace.
func checkAttachments(r *Report, ws *model.Workspace, blocks []*model.Block) {
	for _, b := range blocks {
		for _, c := range b.Connections(true) {
			t := c.Target()
			if t == nil {
				continue
			}
			if t.Target() != c {
				r.add(SeverityError, b.ID(), "%s connection points at %s, which does not point back", c.Kind(), t)
			}
			if t.Kind() != c.Kind().Opposite() {
				r.add(SeverityError, b.ID(), "%s connection attached to incompatible %s", c.Kind(), t.Kind())
			}
			owner := t.Owner()
			if owner.IsDisposed() || ws.BlockByID(owner.ID()) != owner {
				r.add(SeverityError, b.ID(), "attached to block %s, which is not on the workspace", owner.ID())
			}
		}
	}
}

func checkParents(r *Report, bg *graph.BlockGraph) {
	for _, node := range bg.Nodes() {
		if parents := bg.Parents(node.ID); len(parents) > 1 {
			r.add(SeverityError, node.ID, "has %d parents: %v", len(parents), parents)
		}
	}
}

func checkCycles(r *Report, bg *graph.BlockGraph) {
	r.Cycles = cycles.FindBlockCycles(bg)
	for _, c := range r.Cycles {
		r.add(SeverityError, c.Blocks[0], "attachment cycle through %v", c.Blocks)
	}
}

// checkShadows enforces that no real block sits below a shadow.
func checkShadows(r *Report, blocks []*model.Block) {
	for _, b := range blocks {
		p := b.Parent()
		switch {
		case p != nil && p.IsShadow() && !b.IsShadow():
			r.add(SeverityError, b.ID(), "real block under shadow %s", p.ID())
		case p == nil && b.IsShadow():
			r.add(SeverityWarning, b.ID(), "shadow block is not attached to anything")
		}
	}
}

// checkIndex compares the proximity index with what it should hold.
func checkIndex(r *Report, ws *model.Workspace, blocks []*model.Block) {
	tracked := 0
	for _, b := range blocks {
		for _, c := range b.Connections(true) {
			if c.IsTracked() != c.ShouldTrack() {
				r.add(SeverityError, b.ID(), "%s connection tracked=%v, should be %v", c.Kind(), c.IsTracked(), c.ShouldTrack())
			}
			if c.IsTracked() != c.InIndex() {
				r.add(SeverityError, b.ID(), "%s connection tracked=%v disagrees with the index", c.Kind(), c.IsTracked())
			}
			if c.IsTracked() {
				tracked++
			}
		}
	}
	indexed := 0
	for _, k := range []model.ConnectionKind{model.KindPrevious, model.KindNext, model.KindOutput, model.KindInput} {
		indexed += ws.ConnectionDB(k).Len()
	}
	if indexed != tracked {
		r.add(SeverityError, "", "index holds %d connections, %d are tracked", indexed, tracked)
	}
}

// checkVariables verifies variable references; unused variables are only
// worth a warning.
func checkVariables(r *Report, ws *model.Workspace, blocks []*model.Block) {
	for _, b := range blocks {
		for _, f := range b.Fields() {
			if f.Kind() == model.FieldVariable && f.Variable() == nil {
				r.add(SeverityError, b.ID(), "field %s refers to missing variable %q", f.Name(), f.Value())
			}
		}
	}
	for _, v := range ws.Variables().All() {
		if len(ws.Variables().Uses(v.ID())) == 0 {
			r.add(SeverityWarning, "", "variable %q is never used", v.Name())
		}
	}
}
