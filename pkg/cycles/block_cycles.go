package cycles

import (
	"sort"

	"github.com/ritzau/blockgraph/pkg/graph"
)

// BlockCycle is a set of blocks whose attachments loop back on themselves
type BlockCycle struct {
	Blocks []string // block ids, sorted
}

// FindBlockCycles finds every attachment loop in the block graph. A block
// attached to itself is reported as a cycle of one.
func FindBlockCycles(bg *graph.BlockGraph) []BlockCycle {
	tarjan := NewTarjanSCC(bg.Graph())
	sccs := tarjan.FindSCCs()

	cycles := make([]BlockCycle, 0, len(sccs))
	for _, scc := range sccs {
		blocks := make([]string, 0, len(scc))
		for _, nodeID := range scc {
			if node := bg.GetNodeByID(nodeID); node != nil {
				blocks = append(blocks, node.ID)
			}
		}
		sort.Strings(blocks)
		cycles = append(cycles, BlockCycle{Blocks: blocks})
	}

	seen := make(map[string]bool)
	for _, l := range bg.SelfLinks() {
		if !seen[l.Parent] {
			seen[l.Parent] = true
			cycles = append(cycles, BlockCycle{Blocks: []string{l.Parent}})
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Blocks[0] < cycles[j].Blocks[0] })
	return cycles
}
