package ir

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/oisee/perm-lower/pkg/reg"
)

// Graph is one procedure: its blocks, nodes and the register side tables
// the allocator filled in.
type Graph struct {
	Name string

	nextID int
	blocks []*Node

	regs map[*Node]*reg.Register
	reqs map[*Node]*reg.Requirement

	allocatable *bitset.BitSet
}

// NewGraph creates an empty procedure graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:        name,
		regs:        make(map[*Node]*reg.Register),
		reqs:        make(map[*Node]*reg.Requirement),
		allocatable: bitset.New(64),
	}
}

func (g *Graph) newNode(op Opcode, block *Node, mode Mode, attr any, ins ...*Node) *Node {
	n := &Node{
		id:    g.nextID,
		op:    op,
		graph: g,
		block: block,
		mode:  mode,
		ins:   ins,
		attr:  attr,
	}
	g.nextID++
	for _, in := range ins {
		in.addUser(n)
	}
	return n
}

// NewBlock creates a block. Predecessor blocks are the control inputs.
func (g *Graph) NewBlock(name string, preds ...*Node) *Node {
	b := g.newNode(OpBlock, nil, ModeControl, &blockAttr{name: name}, preds...)
	b.block = b
	g.blocks = append(g.blocks, b)
	return b
}

// Blocks returns the graph's blocks in creation order.
func (g *Graph) Blocks() []*Node {
	out := make([]*Node, len(g.blocks))
	copy(out, g.blocks)
	return out
}

// NewInstr creates an opaque machine instruction.
func (g *Graph) NewInstr(block *Node, name string, mode Mode, ins ...*Node) *Node {
	return g.newNode(OpInstr, block, mode, &instrAttr{name: name}, ins...)
}

// NewPhi creates a Phi merging one value per block predecessor.
func (g *Graph) NewPhi(block *Node, mode Mode, ins ...*Node) *Node {
	return g.newNode(OpPhi, block, mode, nil, ins...)
}

// NewPerm creates a Perm permuting the given values within cls. Results
// are exposed through Projs.
func (g *Graph) NewPerm(cls *reg.Class, block *Node, ins ...*Node) *Node {
	return g.newNode(OpPerm, block, ModeTuple, &permAttr{cls: cls}, ins...)
}

// NewCopy creates a register-to-register copy of op.
func (g *Graph) NewCopy(block *Node, op *Node) *Node {
	return g.newNode(OpCopy, block, op.mode, nil, op)
}

// NewCopyKeep creates a copy of op that additionally keeps the given
// values alive. Input 0 is the copied operand.
func (g *Graph) NewCopyKeep(block *Node, op *Node, kept ...*Node) *Node {
	ins := append([]*Node{op}, kept...)
	return g.newNode(OpCopyKeep, block, op.mode, &copyKeepAttr{}, ins...)
}

// NewKeep creates a Keep artificially using the given values.
func (g *Graph) NewKeep(block *Node, ins ...*Node) *Node {
	return g.newNode(OpKeep, block, ModeAny, nil, ins...)
}

// NewProj projects result index idx out of the multi-result node pred.
func (g *Graph) NewProj(pred *Node, mode Mode, idx int) *Node {
	return g.newNode(OpProj, pred.block, mode, &projAttr{index: idx}, pred)
}

// Exchange replaces all uses of old with new. old keeps its inputs but
// loses every user; the schedule is not touched.
func Exchange(old, new *Node) {
	if old == new {
		panic(fmt.Sprintf("exchange of %v with itself", old))
	}
	for _, u := range old.Users() {
		for i, in := range u.ins {
			if in == old {
				u.ins[i] = new
				old.removeUser(u)
				new.addUser(u)
			}
		}
		for i, d := range u.deps {
			if d == old {
				u.deps[i] = new
				old.removeUser(u)
				new.addUser(u)
			}
		}
	}
}

// Kill removes the node from the graph: all in-edges are dropped. The
// node must have no users and must already be unscheduled.
func Kill(n *Node) {
	if n.HasUsers() {
		panic(fmt.Sprintf("killing %v which still has users", n))
	}
	if n.scheduled {
		panic(fmt.Sprintf("killing %v which is still scheduled", n))
	}
	for _, in := range n.ins {
		in.removeUser(n)
	}
	for _, d := range n.deps {
		d.removeUser(n)
	}
	n.ins = nil
	n.deps = nil
	n.dead = true
	delete(n.graph.regs, n)
	delete(n.graph.reqs, n)
}

// OutProjs returns the Projs of a multi-result node in user order.
func OutProjs(n *Node) []*Node {
	var projs []*Node
	for _, u := range n.users {
		if u.op == OpProj && u.In(0) == n {
			projs = append(projs, u)
		}
	}
	return projs
}

// PermReduce shrinks a Perm to the inputs selected by keep, given as old
// input positions in ascending order. Surviving Projs must have been
// renumbered by the caller.
func PermReduce(perm *Node, keep []int) {
	if perm.op != OpPerm {
		panic(fmt.Sprintf("not a Perm: %v", perm))
	}
	newIns := make([]*Node, 0, len(keep))
	for _, idx := range keep {
		newIns = append(newIns, perm.In(idx))
	}
	for _, in := range perm.ins {
		in.removeUser(perm)
	}
	perm.ins = newIns
	for _, in := range perm.ins {
		in.addUser(perm)
	}
}

// RegisterOf returns the register assigned to n, nil if unassigned.
func (g *Graph) RegisterOf(n *Node) *reg.Register { return g.regs[n] }

// SetRegister assigns a register to n.
func (g *Graph) SetRegister(n *Node, r *reg.Register) { g.regs[n] = r }

// RequirementOf returns n's register requirement. Nodes without an
// explicit entry have a plain normal requirement.
func (g *Graph) RequirementOf(n *Node) *reg.Requirement {
	if req := g.reqs[n]; req != nil {
		return req
	}
	return &normalReq
}

var normalReq = reg.Requirement{Kind: reg.Normal}

// SetRequirement attaches a register requirement to n.
func (g *Graph) SetRequirement(n *Node, req *reg.Requirement) { g.reqs[n] = req }

// AllocatableMask is the set of global register indices the procedure may
// allocate.
func (g *Graph) AllocatableMask() *bitset.BitSet { return g.allocatable }

// SetAllocatable marks a register as allocatable for the procedure.
func (g *Graph) SetAllocatable(r *reg.Register) { g.allocatable.Set(r.GlobalIndex) }
