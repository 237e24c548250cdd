package graph

import (
	"sort"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ritzau/blockgraph/pkg/model"
)

// BlockNode represents a block in the attachment graph
type BlockNode struct {
	ID   string
	Type string
}

// Link is a parent to child attachment, labelled with the parent's
// connection ("next" or an input name).
type Link struct {
	Parent string
	Child  string
	Via    string
}

// BlockGraph mirrors block attachments as a directed graph, parent to child
type BlockGraph struct {
	graph     *simple.DirectedGraph
	nodes     map[string]*BlockNode
	ids       map[string]int64
	byID      map[int64]string
	links     []Link
	selfLinks []Link
	nextID    int64
}

// NewBlockGraph creates an empty block graph
func NewBlockGraph() *BlockGraph {
	return &BlockGraph{
		graph: simple.NewDirectedGraph(),
		nodes: make(map[string]*BlockNode),
		ids:   make(map[string]int64),
		byID:  make(map[int64]string),
	}
}

// AddBlock adds a block node. Adding a known id again is a no-op.
func (bg *BlockGraph) AddBlock(id, typ string) {
	if _, exists := bg.nodes[id]; exists {
		return
	}
	bg.nodes[id] = &BlockNode{ID: id, Type: typ}
	bg.ids[id] = bg.nextID
	bg.byID[bg.nextID] = id
	bg.graph.AddNode(simple.Node(bg.nextID))
	bg.nextID++
}

// AddLink records that child hangs off parent's via connection. Unknown
// ids are added as untyped nodes. A block linked to itself is kept aside,
// as the underlying graph cannot hold self edges.
func (bg *BlockGraph) AddLink(parent, child, via string) {
	bg.AddBlock(parent, "")
	bg.AddBlock(child, "")
	l := Link{Parent: parent, Child: child, Via: via}
	if parent == child {
		bg.selfLinks = append(bg.selfLinks, l)
		return
	}
	bg.links = append(bg.links, l)

	from, to := bg.ids[parent], bg.ids[child]
	if !bg.graph.HasEdgeFromTo(from, to) {
		bg.graph.SetEdge(bg.graph.NewEdge(bg.graph.Node(from), bg.graph.Node(to)))
	}
}

// GetNode returns a block node by id
func (bg *BlockGraph) GetNode(id string) (*BlockNode, bool) {
	node, exists := bg.nodes[id]
	return node, exists
}

// GetNodeByID returns a block node by its graph ID
func (bg *BlockGraph) GetNodeByID(id int64) *BlockNode {
	if blockID, ok := bg.byID[id]; ok {
		return bg.nodes[blockID]
	}
	return nil
}

// Graph returns the underlying directed graph
func (bg *BlockGraph) Graph() *simple.DirectedGraph {
	return bg.graph
}

// Nodes returns all block nodes sorted by id
func (bg *BlockGraph) Nodes() []*BlockNode {
	nodes := make([]*BlockNode, 0, len(bg.nodes))
	for _, node := range bg.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Links returns every recorded attachment in insertion order, including
// duplicates, which the graph itself collapses.
func (bg *BlockGraph) Links() []Link {
	return append(append([]Link(nil), bg.links...), bg.selfLinks...)
}

// SelfLinks returns the attachments of blocks to themselves.
func (bg *BlockGraph) SelfLinks() []Link {
	return bg.selfLinks
}

// Parents returns the ids of every block that id hangs off. A consistent
// workspace has at most one.
func (bg *BlockGraph) Parents(id string) []string {
	nid, exists := bg.ids[id]
	if !exists {
		return nil
	}
	var parents []string
	iter := bg.graph.To(nid)
	for iter.Next() {
		parents = append(parents, bg.byID[iter.Node().ID()])
	}
	sort.Strings(parents)
	return parents
}

// Children returns the ids of the blocks attached below id
func (bg *BlockGraph) Children(id string) []string {
	nid, exists := bg.ids[id]
	if !exists {
		return nil
	}
	var children []string
	iter := bg.graph.From(nid)
	for iter.Next() {
		children = append(children, bg.byID[iter.Node().ID()])
	}
	sort.Strings(children)
	return children
}

// Roots returns the ids of blocks without a parent, sorted
func (bg *BlockGraph) Roots() []string {
	var roots []string
	for id, nid := range bg.ids {
		if bg.graph.To(nid).Len() == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Descendants returns every block reachable below id, not including id
func (bg *BlockGraph) Descendants(id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	stack := bg.Children(id)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		stack = append(stack, bg.Children(next)...)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns block ids with every parent before its
// children. It fails when the attachments contain a cycle.
func (bg *BlockGraph) TopologicalOrder() ([]string, error) {
	sorted, err := topo.SortStabilized(bg.graph, func(nodes []gonumgraph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return bg.byID[nodes[i].ID()] < bg.byID[nodes[j].ID()] })
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, bg.byID[n.ID()])
	}
	return out, nil
}

// BuildBlockGraph mirrors the attachments of every block on ws. Links are
// read from the superior side of each connection, so a half-linked pair
// shows up as a missing edge rather than being papered over.
func BuildBlockGraph(ws *model.Workspace) *BlockGraph {
	bg := NewBlockGraph()
	for _, b := range ws.AllBlocks() {
		bg.AddBlock(b.ID(), b.Type())
	}
	for _, b := range ws.AllBlocks() {
		for _, in := range b.Inputs() {
			if c := in.Connection(); c != nil {
				if child := c.TargetBlock(); child != nil {
					bg.AddLink(b.ID(), child.ID(), in.Name())
				}
			}
		}
		if next := b.NextBlock(); next != nil {
			bg.AddLink(b.ID(), next.ID(), "next")
		}
	}
	return bg
}
