package lower

import (
	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/reg"
)

// regPair is one non-identity slot of a Perm: the value inNode entering
// in inReg leaves through outNode in outReg.
type regPair struct {
	inReg   *reg.Register
	inNode  *ir.Node
	outReg  *reg.Register
	outNode *ir.Node
	checked bool
}

// buildRegisterPairList collects the register pairs of a Perm. Slots
// whose input and output register coincide are collapsed: their Proj's
// users are rerouted to the input and the slot is dropped.
func buildRegisterPairList(g *ir.Graph, perm *ir.Node) []regPair {
	var pairs []regPair
	for _, out := range ir.OutProjs(perm) {
		in := perm.In(out.ProjIndex())
		inReg := registerOf(g, in)
		outReg := registerOf(g, out)

		if inReg == outReg {
			dbg.Debugw("removing equal perm register pair",
				"perm", perm.String(), "in", in.String(), "out", out.String(), "reg", outReg.Name)
			ir.Exchange(out, in)
			ir.Kill(out)
			continue
		}

		pairs = append(pairs, regPair{
			inReg:   inReg,
			inNode:  in,
			outReg:  outReg,
			outNode: out,
		})
	}
	return pairs
}

// nUncheckedPairs returns the number of pairs not yet covered by a move.
func nUncheckedPairs(pairs []regPair) int {
	n := 0
	for i := range pairs {
		if !pairs[i].checked {
			n++
		}
	}
	return n
}

// nodeForInReg returns the node currently entering the permutation in r.
func nodeForInReg(pairs []regPair, r *reg.Register) *ir.Node {
	for i := range pairs {
		if pairs[i].inReg.Index == r.Index {
			return pairs[i].inNode
		}
	}
	return nil
}

// nodeForOutReg returns the node leaving the permutation in r.
func nodeForOutReg(pairs []regPair, r *reg.Register) *ir.Node {
	for i := range pairs {
		if pairs[i].outReg.Index == r.Index {
			return pairs[i].outNode
		}
	}
	return nil
}

// pairIdxForInReg returns the pair whose input register has the given
// class-local index, -1 if none.
func pairIdxForInReg(pairs []regPair, regIdx uint) int {
	for i := range pairs {
		if pairs[i].inReg.Index == regIdx {
			return i
		}
	}
	return -1
}

// pairIdxForOutReg returns the pair whose output register has the given
// class-local index, -1 if none.
func pairIdxForOutReg(pairs []regPair, regIdx uint) int {
	for i := range pairs {
		if pairs[i].outReg.Index == regIdx {
			return i
		}
	}
	return -1
}
