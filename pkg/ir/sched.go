package ir

import "fmt"

// The schedule is a doubly linked total order of the executed nodes of a
// block. Projs are not scheduled; they travel with their predecessor.
// Phis sit at the front of their block's order.

func (b *Node) blockAttr() *blockAttr {
	a, ok := b.attr.(*blockAttr)
	if !ok {
		panic(fmt.Sprintf("not a Block: %v", b))
	}
	return a
}

// SchedFirst returns the first scheduled node of the block, nil if empty.
func (b *Node) SchedFirst() *Node { return b.blockAttr().schedHead }

// SchedLast returns the last scheduled node of the block, nil if empty.
func (b *Node) SchedLast() *Node { return b.blockAttr().schedTail }

// SchedPrev returns the previous node in the schedule, nil at the front.
func (n *Node) SchedPrev() *Node { return n.schedPrev }

// SchedNext returns the next node in the schedule, nil at the end.
func (n *Node) SchedNext() *Node { return n.schedNext }

// IsScheduled reports whether n is part of a block schedule.
func (n *Node) IsScheduled() bool { return n.scheduled }

// SchedIsBegin reports whether n is the first node of its block.
func SchedIsBegin(n *Node) bool { return n == nil || n.schedPrev == nil }

// SchedAppend schedules n at the end of its block.
func SchedAppend(n *Node) {
	if n.scheduled {
		panic(fmt.Sprintf("%v already scheduled", n))
	}
	a := n.block.blockAttr()
	if a.schedTail == nil {
		a.schedHead = n
		a.schedTail = n
	} else {
		n.schedPrev = a.schedTail
		a.schedTail.schedNext = n
		a.schedTail = n
	}
	n.scheduled = true
}

// SchedAddAfter inserts n into the schedule right after point.
func SchedAddAfter(point, n *Node) {
	if n.scheduled {
		panic(fmt.Sprintf("%v already scheduled", n))
	}
	if !point.scheduled {
		panic(fmt.Sprintf("schedule point %v not scheduled", point))
	}
	a := point.block.blockAttr()
	n.schedPrev = point
	n.schedNext = point.schedNext
	if point.schedNext != nil {
		point.schedNext.schedPrev = n
	} else {
		a.schedTail = n
	}
	point.schedNext = n
	n.block = point.block
	n.scheduled = true
}

// SchedAddBefore inserts n into the schedule right before point.
func SchedAddBefore(point, n *Node) {
	if n.scheduled {
		panic(fmt.Sprintf("%v already scheduled", n))
	}
	if !point.scheduled {
		panic(fmt.Sprintf("schedule point %v not scheduled", point))
	}
	a := point.block.blockAttr()
	n.schedNext = point
	n.schedPrev = point.schedPrev
	if point.schedPrev != nil {
		point.schedPrev.schedNext = n
	} else {
		a.schedHead = n
	}
	point.schedPrev = n
	n.block = point.block
	n.scheduled = true
}

// SchedRemove takes n out of its block's schedule.
func SchedRemove(n *Node) {
	if !n.scheduled {
		panic(fmt.Sprintf("%v not scheduled", n))
	}
	a := n.block.blockAttr()
	if n.schedPrev != nil {
		n.schedPrev.schedNext = n.schedNext
	} else {
		a.schedHead = n.schedNext
	}
	if n.schedNext != nil {
		n.schedNext.schedPrev = n.schedPrev
	} else {
		a.schedTail = n.schedPrev
	}
	n.schedPrev = nil
	n.schedNext = nil
	n.scheduled = false
}

// SchedComesAfter reports whether later is scheduled strictly after
// earlier in the same block.
func SchedComesAfter(earlier, later *Node) bool {
	for n := earlier.schedNext; n != nil; n = n.schedNext {
		if n == later {
			return true
		}
	}
	return false
}

// SchedNodes returns the block's schedule front to back.
func SchedNodes(b *Node) []*Node {
	var out []*Node
	for n := b.SchedFirst(); n != nil; n = n.schedNext {
		out = append(out, n)
	}
	return out
}
