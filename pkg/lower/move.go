package lower

import "github.com/oisee/perm-lower/pkg/reg"

// moveKind distinguishes the two shapes a permutation component takes.
type moveKind uint8

const (
	moveCycle moveKind = iota
	moveChain
)

func (k moveKind) String() string {
	if k == moveChain {
		return "chain"
	}
	return "cycle"
}

// permMove is one decomposed component: the ordered registers the value
// movement runs through. For a chain, elems[0] is only read and the last
// element only written.
type permMove struct {
	elems []*reg.Register
	kind  moveKind
}

// decomposeMove identifies the cycle or chain containing the pair at
// start and marks every covered pair checked.
//
// Pair indices form a functional graph where register r's producer is the
// pair with outReg == r. The walk first runs backwards through producers
// to find the head: falling off the end means a chain, returning to the
// starting register closes a cycle. It then runs forward through inReg
// successors collecting the elements.
func decomposeMove(pairs []regPair, start int) permMove {
	head := pairs[start].inReg.Index
	cur := pairs[start].outReg.Index
	kind := moveCycle

	// We could be right in the middle of a chain, so find the start.
	for head != cur {
		idx := pairIdxForOutReg(pairs, head)
		if idx < 0 {
			kind = moveChain
			break
		}
		head = pairs[idx].inReg.Index
		start = idx
	}

	elems := []*reg.Register{pairs[start].inReg, pairs[start].outReg}
	cur = pairs[start].outReg.Index

	for cur != head {
		idx := pairIdxForInReg(pairs, cur)
		if idx < 0 {
			break
		}
		cur = pairs[idx].outReg.Index
		if cur != head {
			elems = append(elems, pairs[idx].outReg)
		} else {
			// back where we started
			kind = moveCycle
		}
	}

	for _, r := range elems {
		if i := pairIdxForInReg(pairs, r.Index); i >= 0 {
			pairs[i].checked = true
		}
		if i := pairIdxForOutReg(pairs, r.Index); i >= 0 {
			pairs[i].checked = true
		}
	}

	return permMove{elems: elems, kind: kind}
}
