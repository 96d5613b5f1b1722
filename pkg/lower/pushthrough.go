package lower

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/live"
	"github.com/oisee/perm-lower/pkg/reg"
	"github.com/oisee/perm-lower/pkg/stats"
)

// PushThroughPerm hoists movable instructions scheduled just before a
// Perm past it, shrinking the Perm's arity. Returns true iff a residual
// Perm remains in the graph.
func PushThroughPerm(lv *live.Liveness, perm *ir.Node) bool {
	g := perm.Graph()
	arity := perm.Arity()
	moved := bitset.New(uint(arity))
	nMoved := 0

	projs := ir.OutProjs(perm)
	if len(projs) == 0 {
		panic(fmt.Sprintf("Perm %v has no Projs", perm))
	}
	oneProj := projs[0]
	cls := registerOf(g, oneProj).Cls

	dbgPermMove.Debugw("perm move", "perm", perm.String(), "graph", g.Name)

	// Find the point in the schedule after which movable nodes must be
	// defined. The Perm is only pushed up to the first instruction which
	// lets an operand of itself die: moving it above that instruction
	// would keep the dead operand live at the Perm, raising register
	// pressure by one.
	var frontier *ir.Node
scan:
	for irn := perm.SchedPrev(); irn != nil; irn = irn.SchedPrev() {
		for i := irn.Arity() - 1; i >= 0; i-- {
			op := irn.In(i)
			if considerInRegAlloc(g, cls, op) && !lv.Interfere(op, oneProj) {
				frontier = irn
				break scan
			}
		}
	}
	dbgPermMove.Debugw("frontier", "node", frontier.String())

	node := perm.SchedPrev()
	for node != nil {
		// The candidate must be an input of the Perm.
		input := -1
		var proj *ir.Node
		for _, out := range ir.OutProjs(perm) {
			pn := out.ProjIndex()
			if perm.In(pn) == node {
				proj = out
				input = pn
				break
			}
		}
		if input < 0 {
			break
		}
		if frontier != nil && !ir.SchedComesAfter(frontier, node) {
			break
		}
		if node.HasFlag(ir.FlagModifiesFlags) {
			break
		}
		if g.RequirementOf(node).Kind != reg.Normal {
			break
		}
		sameClassOperand := false
		for i := node.Arity() - 1; i >= 0; i-- {
			if considerInRegAlloc(g, cls, node.In(i)) {
				sameClassOperand = true
				break
			}
		}
		if sameClassOperand {
			break
		}

		dbgPermMove.Debugw("moving node past perm",
			"node", node.String(), "perm", perm.String(), "killing", proj.String())

		ir.SchedRemove(node)
		ir.SchedAddAfter(perm, node)

		// The moved node takes over the Proj's register and users.
		g.SetRegister(node, registerOf(g, proj))
		ir.Exchange(proj, node)
		ir.Kill(proj)

		moved.Set(uint(input))
		nMoved++
		passStats.Inc(stats.NodesHoisted, 1)

		node = perm.SchedPrev()
	}

	// Nothing could be pushed through.
	if nMoved == 0 {
		return true
	}

	newSize := arity - nMoved
	if newSize == 0 {
		ir.SchedRemove(perm)
		ir.Kill(perm)
		passStats.Inc(stats.PermsPushedAway, 1)
		return false
	}

	keep := make([]int, 0, newSize)
	projMap := make([]int, arity)
	for i := range projMap {
		projMap[i] = -1
	}
	for i := 0; i < arity; i++ {
		if moved.Test(uint(i)) {
			continue
		}
		projMap[i] = len(keep)
		keep = append(keep, i)
	}
	if len(keep) != newSize {
		panic(fmt.Sprintf("surviving slot count mismatch at %v", perm))
	}
	for _, p := range ir.OutProjs(perm) {
		pn := projMap[p.ProjIndex()]
		if pn < 0 {
			panic(fmt.Sprintf("Proj %v of %v selects a moved slot", p, perm))
		}
		p.SetProjIndex(pn)
	}
	ir.PermReduce(perm, keep)
	return true
}
