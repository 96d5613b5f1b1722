package lower

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/live"
	"github.com/oisee/perm-lower/pkg/reg"
)

// setRegInUse marks or clears the register of a value in the scan state.
// Non-data values, virtual registers and foreign classes are skipped.
func setRegInUse(g *ir.Graph, node *ir.Node, cls *reg.Class, inUse *bitset.BitSet, use bool) {
	if !node.Mode().IsData() {
		return
	}
	r := registerOf(g, node)
	if r.Virtual || r.Cls != cls {
		return
	}
	if use {
		inUse.Set(r.Index)
	} else {
		inUse.Clear(r.Index)
	}
}

// updateRegDefs applies setRegInUse to all values a node defines: its
// Projs for tuple nodes, the node itself otherwise.
func updateRegDefs(g *ir.Graph, node *ir.Node, cls *reg.Class, inUse *bitset.BitSet, use bool) {
	if node.Mode() == ir.ModeTuple {
		for _, proj := range ir.OutProjs(node) {
			setRegInUse(g, proj, cls, inUse, use)
		}
	} else {
		setRegInUse(g, node, cls, inUse, use)
	}
}

// updateRegUses marks the registers of all operands of a node in use.
func updateRegUses(g *ir.Graph, node *ir.Node, cls *reg.Class, inUse *bitset.BitSet) {
	for _, in := range node.Ins() {
		setRegInUse(g, in, cls, inUse, true)
	}
}

// findFreeRegister scans the schedule and liveness around a Perm for a
// register of its class that is free at its program point, nil if none.
//
// The scan walks the block backwards from its end: values live on block
// exit occupy their registers; defs free theirs, uses occupy theirs. At
// the Perm itself both its results and its operands count as occupied, so
// a register written by another move of the same Perm is never handed out
// as scratch.
func findFreeRegister(g *ir.Graph, lv *live.Liveness, perm *ir.Node, cls *reg.Class) *reg.Register {
	block := perm.Block()
	inUse := bitset.New(uint(cls.NRegs()))

	dbg.Debugw("looking for free register", "perm", perm.String())
	for _, n := range lv.EndSet(block) {
		setRegInUse(g, n, cls, inUse, true)
	}

	for node := block.SchedLast(); node != nil; node = node.SchedPrev() {
		if node.Op() == ir.OpPhi {
			break
		}

		updateRegDefs(g, node, cls, inUse, node == perm)
		updateRegUses(g, node, cls, inUse)

		if node == perm {
			break
		}
	}

	allocatable := g.AllocatableMask()
	for i := uint(0); i < cls.NRegs(); i++ {
		r := cls.Reg(i)
		if !inUse.Test(i) && allocatable.Test(r.GlobalIndex) {
			dbg.Debugw("free register found", "perm", perm.String(), "reg", r.Name)
			return r
		}
	}

	dbg.Debugw("no free register", "perm", perm.String())
	return nil
}
