// Package live computes value liveness over a scheduled procedure graph:
// block-end live sets and pairwise interference, as queried by the
// lowering passes.
package live

import (
	"fmt"
	"sort"

	"github.com/oisee/perm-lower/pkg/ir"
)

type nodeSet map[*ir.Node]struct{}

func (s nodeSet) add(n *ir.Node)      { s[n] = struct{}{} }
func (s nodeSet) remove(n *ir.Node)   { delete(s, n) }
func (s nodeSet) has(n *ir.Node) bool { _, ok := s[n]; return ok }

func (s nodeSet) equal(other nodeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.has(n) {
			return false
		}
	}
	return true
}

// Liveness holds the live sets of one graph. Sets are computed lazily and
// must be invalidated after the graph is rewritten.
type Liveness struct {
	g       *ir.Graph
	valid   bool
	liveOut map[*ir.Node]nodeSet
}

// New creates a liveness analysis for g. Sets are computed on first use.
func New(g *ir.Graph) *Liveness {
	return &Liveness{g: g}
}

// Ensure makes the live sets available.
func (lv *Liveness) Ensure() {
	if !lv.valid {
		lv.compute()
	}
}

// Valid reports whether the sets are current.
func (lv *Liveness) Valid() bool { return lv.valid }

// InvalidateSets drops the live sets; they are recomputed on next use.
func (lv *Liveness) InvalidateSets() {
	lv.valid = false
	lv.liveOut = nil
}

// EndSet returns the values live on exit of block, ordered by node id.
func (lv *Liveness) EndSet(block *ir.Node) []*ir.Node {
	lv.Ensure()
	set := lv.liveOut[block]
	out := make([]*ir.Node, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// defsOf returns the values a scheduled node defines: the node itself for
// data values, its Projs for tuple nodes.
func defsOf(n *ir.Node) []*ir.Node {
	if n.Mode() == ir.ModeTuple {
		return ir.OutProjs(n)
	}
	if n.Mode().IsDataB() {
		return []*ir.Node{n}
	}
	return nil
}

// definingPoint returns the scheduled node at which a value is defined.
func definingPoint(val *ir.Node) *ir.Node {
	n := ir.SkipProj(val)
	if !n.IsScheduled() {
		panic(fmt.Sprintf("value %v has no scheduled definition", val))
	}
	return n
}

func successors(g *ir.Graph) map[*ir.Node][]*ir.Node {
	succs := make(map[*ir.Node][]*ir.Node)
	for _, b := range g.Blocks() {
		for _, pred := range b.Ins() {
			succs[pred] = append(succs[pred], b)
		}
	}
	return succs
}

// compute runs the backward dataflow to a fixpoint.
func (lv *Liveness) compute() {
	blocks := lv.g.Blocks()
	succs := successors(lv.g)

	liveIn := make(map[*ir.Node]nodeSet, len(blocks))
	lv.liveOut = make(map[*ir.Node]nodeSet, len(blocks))
	for _, b := range blocks {
		liveIn[b] = nodeSet{}
		lv.liveOut[b] = nodeSet{}
	}

	for changed := true; changed; {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]

			out := nodeSet{}
			for _, s := range succs[b] {
				edge := predIndex(s, b)
				for v := range liveIn[s] {
					out.add(v)
				}
				for n := s.SchedFirst(); n != nil && n.Op() == ir.OpPhi; n = n.SchedNext() {
					out.remove(n)
					if in := n.In(edge); in.Mode().IsDataB() {
						out.add(in)
					}
				}
			}

			in := lv.transfer(b, out)

			if !out.equal(lv.liveOut[b]) || !in.equal(liveIn[b]) {
				lv.liveOut[b] = out
				liveIn[b] = in
				changed = true
			}
		}
	}
	lv.valid = true
}

// transfer walks the block schedule backwards, turning the live-out set
// into the live-in set.
func (lv *Liveness) transfer(b *ir.Node, out nodeSet) nodeSet {
	live := nodeSet{}
	for v := range out {
		live.add(v)
	}
	for n := b.SchedLast(); n != nil; n = n.SchedPrev() {
		for _, def := range defsOf(n) {
			live.remove(def)
		}
		if n.Op() == ir.OpPhi {
			continue
		}
		for _, in := range n.Ins() {
			if in.Mode().IsDataB() {
				live.add(in)
			}
		}
	}
	return live
}

func predIndex(block, pred *ir.Node) int {
	for i, p := range block.Ins() {
		if p == pred {
			return i
		}
	}
	panic(fmt.Sprintf("%v is not a predecessor of %v", pred, block))
}

// liveAt reports whether val is live at the program point of the
// scheduled node point. A use at point itself does not extend the range
// past it.
func (lv *Liveness) liveAt(val, point *ir.Node) bool {
	lv.Ensure()
	b := point.Block()
	def := definingPoint(val)
	if def.Block() == b && (def == point || ir.SchedComesAfter(point, def)) {
		return false
	}
	if lv.liveOut[b].has(val) {
		return true
	}
	for _, u := range val.Users() {
		if u.Op() == ir.OpPhi || u.Op() == ir.OpProj {
			continue
		}
		if u.IsScheduled() && u.Block() == b && ir.SchedComesAfter(point, u) {
			return true
		}
	}
	return false
}

// Interfere reports whether the live ranges of the two values overlap.
func (lv *Liveness) Interfere(a, b *ir.Node) bool {
	if a == b {
		return true
	}
	return lv.liveAt(a, definingPoint(b)) || lv.liveAt(b, definingPoint(a))
}
