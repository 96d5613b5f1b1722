package lower

import (
	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/live"
	"github.com/oisee/perm-lower/pkg/reg"
)

// LowerNodesAfterRA rewrites every Perm of the graph into copies and
// swaps. For each Perm a scratch register is searched first; then, in
// schedule order, push-through shrinks the Perm and lowering replaces
// whatever remains. Live sets are invalidated on exit.
func LowerNodesAfterRA(g *ir.Graph, lv *live.Liveness) {
	lv.Ensure()

	// Decide the scratch register of every Perm before any rewriting
	// disturbs the schedule.
	freeRegs := make(map[*ir.Node]*reg.Register)
	for _, block := range g.Blocks() {
		for n := block.SchedFirst(); n != nil; n = n.SchedNext() {
			if n.Op() != ir.OpPerm {
				continue
			}
			cls := registerOf(g, n.In(0)).Cls
			if r := findFreeRegister(g, lv, n, cls); r != nil {
				freeRegs[n] = r
			}
		}
	}

	for _, block := range g.Blocks() {
		n := block.SchedFirst()
		for n != nil {
			next := n.SchedNext()
			if n.Op() == ir.OpPerm {
				if PushThroughPerm(lv, n) {
					lowerPermNode(g, n, freeRegs[n])
				}
			}
			n = next
		}
	}

	// The free-register map dies with this invocation.
	lv.InvalidateSets()
}
