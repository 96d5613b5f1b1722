// Package ssa provides dominance information and the SSA reconstruction
// service used after copy insertion: users of a value are re-linked to the
// nearest dominating definition.
package ssa

import (
	"fmt"

	"github.com/oisee/perm-lower/pkg/ir"
)

// DomTree holds immediate dominators for the blocks of one graph. The
// entry block is the first block of the graph.
type DomTree struct {
	idom map[*ir.Node]*ir.Node
}

// ComputeDom builds the dominator tree with the iterative algorithm over
// a reverse postorder of the blocks.
func ComputeDom(g *ir.Graph) *DomTree {
	blocks := g.Blocks()
	if len(blocks) == 0 {
		return &DomTree{idom: map[*ir.Node]*ir.Node{}}
	}
	entry := blocks[0]

	rpo := reversePostorder(entry, successorMap(g))
	index := make(map[*ir.Node]int, len(rpo))
	for i, b := range rpo {
		index[b] = i
	}

	idom := make(map[*ir.Node]*ir.Node, len(rpo))
	idom[entry] = entry

	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var newIdom *ir.Node
			for _, p := range b.Ins() {
				if idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom, idom, index)
				}
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	idom[entry] = nil
	return &DomTree{idom: idom}
}

func successorMap(g *ir.Graph) map[*ir.Node][]*ir.Node {
	succs := make(map[*ir.Node][]*ir.Node)
	for _, b := range g.Blocks() {
		for _, pred := range b.Ins() {
			succs[pred] = append(succs[pred], b)
		}
	}
	return succs
}

func reversePostorder(entry *ir.Node, succs map[*ir.Node][]*ir.Node) []*ir.Node {
	var order []*ir.Node
	seen := map[*ir.Node]bool{}
	var visit func(b *ir.Node)
	visit = func(b *ir.Node) {
		if seen[b] {
			return
		}
		seen[b] = true
		for _, s := range succs[b] {
			visit(s)
		}
		order = append(order, b)
	}
	visit(entry)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func intersect(a, b *ir.Node, idom map[*ir.Node]*ir.Node, index map[*ir.Node]int) *ir.Node {
	for a != b {
		for index[a] > index[b] {
			a = idom[a]
			if a == nil {
				return b
			}
		}
		for index[b] > index[a] {
			b = idom[b]
			if b == nil {
				return a
			}
		}
	}
	return a
}

// Dominates reports whether block a dominates block b. A block dominates
// itself.
func (dt *DomTree) Dominates(a, b *ir.Node) bool {
	for cur := b; cur != nil; cur = dt.idom[cur] {
		if cur == a {
			return true
		}
	}
	return false
}

// Idom returns the immediate dominator of b, nil for the entry.
func (dt *DomTree) Idom(b *ir.Node) *ir.Node {
	d, ok := dt.idom[b]
	if !ok {
		panic(fmt.Sprintf("block %v not covered by dominance info", b))
	}
	return d
}
