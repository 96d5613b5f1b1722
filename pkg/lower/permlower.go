package lower

import (
	"fmt"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/reg"
	"github.com/oisee/perm-lower/pkg/stats"
)

// splitChainIntoCopies realises a chain move as n-1 copies inserted after
// the Perm's schedule predecessor.
func splitChainIntoCopies(g *ir.Graph, perm *ir.Node, move permMove, pairs []regPair) {
	block := perm.Block()
	schedPoint := perm.SchedPrev()

	for i := len(move.elems) - 2; i >= 0; i-- {
		arg1 := nodeForInReg(pairs, move.elems[i])
		res2 := nodeForOutReg(pairs, move.elems[i+1])

		dbg.Debugw("creating chain copy",
			"perm", perm.String(), "from", arg1.String(), "fromReg", move.elems[i].Name,
			"to", res2.String(), "toReg", move.elems[i+1].Name)

		cpy := g.NewCopy(block, arg1)
		g.SetRegister(cpy, move.elems[i+1])

		ir.Exchange(res2, cpy)
		ir.Kill(res2)

		ir.SchedAddAfter(schedPoint, cpy)
		schedPoint = cpy
		passStats.Inc(stats.CopiesEmitted, 1)
	}
}

// splitCycleIntoSwaps realises a cycle move as n-1 binary Perms. Each
// intermediate Perm grows a fresh Proj that becomes the holder of its
// lower register for the following iteration.
func splitCycleIntoSwaps(g *ir.Graph, perm *ir.Node, move permMove, pairs []regPair) {
	cls := registerOf(g, perm.In(0)).Cls
	block := perm.Block()
	schedPoint := perm.SchedPrev()

	for i := len(move.elems) - 2; i >= 0; i-- {
		arg1 := nodeForInReg(pairs, move.elems[i])
		arg2 := nodeForInReg(pairs, move.elems[i+1])
		res1 := nodeForOutReg(pairs, move.elems[i])
		res2 := nodeForOutReg(pairs, move.elems[i+1])

		// An exchange node is a Perm with two inputs and two results:
		// out 0 receives the value of register i, out 1 the value of
		// register i+1.
		xchg := g.NewPerm(cls, block, arg1, arg2)

		dbg.Debugw("creating exchange node",
			"perm", perm.String(), "arg1", arg1.String(), "reg1", move.elems[i].Name,
			"arg2", arg2.String(), "reg2", move.elems[i+1].Name)

		if i > 0 {
			// The cycle is not done: the middle Perm needs an own Proj
			// feeding the next exchange.
			pidx := pairIdxForInReg(pairs, move.elems[i].Index)
			res1 = g.NewProj(xchg, res1.Mode(), 0)
			pairs[pidx].inNode = res1
		}

		res2.SetProjPred(xchg)
		res2.SetProjIndex(0)
		res1.SetProjPred(xchg)
		res1.SetProjIndex(1)

		g.SetRegister(res2, move.elems[i+1])
		g.SetRegister(res1, move.elems[i])

		ir.SchedAddAfter(schedPoint, xchg)
		schedPoint = xchg
		passStats.Inc(stats.SwapsEmitted, 1)
	}
}

// splitCycleIntoCopies realises a cycle move as n+1 copies through the
// scratch register: save the last element, shift the rest, restore into
// the first.
func splitCycleIntoCopies(g *ir.Graph, perm *ir.Node, move permMove, pairs []regPair, freeReg *reg.Register) {
	block := perm.Block()
	schedPoint := perm.SchedPrev()
	numElems := len(move.elems)

	// Save last register content.
	arg := nodeForInReg(pairs, move.elems[numElems-1])
	saveCpy := g.NewCopy(block, arg)
	g.SetRegister(saveCpy, freeReg)
	ir.SchedAddAfter(schedPoint, saveCpy)
	schedPoint = saveCpy
	passStats.Inc(stats.CopiesEmitted, 1)

	for i := numElems - 2; i >= 0; i-- {
		arg1 := nodeForInReg(pairs, move.elems[i])
		res2 := nodeForOutReg(pairs, move.elems[i+1])

		dbg.Debugw("creating cycle copy",
			"perm", perm.String(), "from", arg1.String(), "fromReg", move.elems[i].Name,
			"to", res2.String(), "toReg", move.elems[i+1].Name)

		cpy := g.NewCopy(block, arg1)
		g.SetRegister(cpy, move.elems[i+1])

		ir.Exchange(res2, cpy)
		ir.Kill(res2)

		ir.SchedAddAfter(schedPoint, cpy)
		schedPoint = cpy
		passStats.Inc(stats.CopiesEmitted, 1)
	}

	// Restore the saved content into the first register.
	restoreCpy := g.NewCopy(block, saveCpy)
	g.SetRegister(restoreCpy, move.elems[0])
	proj := nodeForOutReg(pairs, move.elems[0])

	ir.Exchange(proj, restoreCpy)
	ir.Kill(proj)
	ir.SchedAddAfter(schedPoint, restoreCpy)
	passStats.Inc(stats.CopiesEmitted, 1)
}

// reducePermSize replaces one move of the Perm by smaller operations:
// swap sequences for 2-cycles and for cycles without a scratch register,
// copy sequences otherwise.
func reducePermSize(g *ir.Graph, perm *ir.Node, move permMove, pairs []regPair, freeReg *reg.Register) {
	if move.kind == moveCycle {
		if freeReg == nil || len(move.elems) <= 2 {
			splitCycleIntoSwaps(g, perm, move, pairs)
		} else {
			dbg.Debugw("using scratch register for cycle",
				"perm", perm.String(), "reg", freeReg.Name)
			splitCycleIntoCopies(g, perm, move, pairs, freeReg)
		}
	} else {
		splitChainIntoCopies(g, perm, move, pairs)
	}
}

// lowerPermNode resolves the cycles and chains of one Perm into copy and
// swap operations. The caller must pass a Perm node.
func lowerPermNode(g *ir.Graph, perm *ir.Node, freeReg *reg.Register) {
	if perm.Op() != ir.OpPerm {
		panic(fmt.Sprintf("non-Perm node passed to lowerPermNode: %v", perm))
	}
	arity := perm.Arity()
	schedPoint := perm.SchedPrev()
	if schedPoint == nil {
		panic(fmt.Sprintf("Perm %v is not scheduled or has no predecessor", perm))
	}
	if arity != perm.NUserEdges() {
		panic(fmt.Sprintf("in and out numbers of %v differ", perm))
	}

	dbg.Debugw("lowering perm", "perm", perm.String(), "schedPoint", schedPoint.String())

	pairs := buildRegisterPairList(g, perm)
	dbg.Debugw("unresolved constraints", "perm", perm.String(), "n", len(pairs))

	keepPerm := false
	for nUncheckedPairs(pairs) > 0 {
		i := 0
		for pairs[i].checked {
			i++
		}

		move := decomposeMove(pairs, i)
		dbg.Debugw("decomposed move", "perm", perm.String(),
			"kind", move.kind.String(), "len", len(move.elems))

		if move.kind == moveCycle && arity == 2 {
			// A binary Perm already denotes an exchange; nothing to do.
			keepPerm = true
			passStats.Inc(stats.PermsKept, 1)
		} else {
			reducePermSize(g, perm, move, pairs, freeReg)
		}
	}

	if !keepPerm {
		ir.SchedRemove(perm)
		ir.Kill(perm)
		passStats.Inc(stats.PermsLowered, 1)
	}
}
