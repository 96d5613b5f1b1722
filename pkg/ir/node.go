// Package ir implements the graph kernel the lowering passes operate on:
// nodes with ordered inputs and a users index, per-block schedules, and the
// register side tables filled in by the allocator.
package ir

import (
	"fmt"

	"github.com/oisee/perm-lower/pkg/reg"
)

// Opcode identifies the kind of a node. Ordinary machine instructions all
// share OpInstr and are distinguished by their mnemonic only; this pass
// treats them as opaque.
type Opcode uint8

const (
	OpBlock Opcode = iota
	OpPhi
	OpInstr
	OpPerm
	OpCopy
	OpCopyKeep
	OpKeep
	OpProj

	OpcodeCount
)

var opcodeNames = [OpcodeCount]string{
	OpBlock:    "Block",
	OpPhi:      "Phi",
	OpInstr:    "Instr",
	OpPerm:     "Perm",
	OpCopy:     "Copy",
	OpCopyKeep: "CopyKeep",
	OpKeep:     "Keep",
	OpProj:     "Proj",
}

func (op Opcode) String() string { return opcodeNames[op] }

// Mode is the data type of a node's value.
type Mode uint8

const (
	ModeData    Mode = iota // an ordinary register-sized value
	ModeFlags               // condition flags
	ModeTuple               // multi-result node, values exposed via Projs
	ModeControl             // control flow
	ModeMemory              // memory dependency
	ModeAny                 // pseudo values (Keep)
)

// IsData reports whether m is a plain register-allocated value.
func (m Mode) IsData() bool { return m == ModeData }

// IsDataB reports whether m is register-allocated including flag values.
func (m Mode) IsDataB() bool { return m == ModeData || m == ModeFlags }

// Flags are boolean node attributes relevant to this pass.
type Flags uint8

const (
	// FlagDontSpill marks a value the spiller must leave in a register.
	FlagDontSpill Flags = 1 << iota
	// FlagIgnore marks values outside register allocation.
	FlagIgnore
	// FlagModifiesFlags marks instructions that clobber the CPU flags.
	FlagModifiesFlags
)

// Per-kind attributes, one variant per opcode that needs extra state.
type blockAttr struct {
	name      string
	schedHead *Node
	schedTail *Node
}

type projAttr struct{ index int }

type permAttr struct{ cls *reg.Class }

type instrAttr struct{ name string }

type copyKeepAttr struct{ cls *reg.Class }

// Node is one IR graph vertex.
type Node struct {
	id    int
	op    Opcode
	graph *Graph
	block *Node
	mode  Mode
	flags Flags

	ins  []*Node
	deps []*Node // dependency-only edges, no value flow

	// users is the back-edge index: one entry per in-edge pointing here,
	// in insertion order.
	users []*Node

	schedPrev *Node
	schedNext *Node
	scheduled bool

	dead bool

	attr any
}

// ID returns the node's graph-unique id.
func (n *Node) ID() int { return n.id }

// Op returns the node's opcode.
func (n *Node) Op() Opcode { return n.op }

// Mode returns the node's mode.
func (n *Node) Mode() Mode { return n.mode }

// Block returns the block the node belongs to.
func (n *Node) Block() *Node { return n.block }

// Graph returns the owning graph.
func (n *Node) Graph() *Graph { return n.graph }

// Arity returns the number of value inputs.
func (n *Node) Arity() int { return len(n.ins) }

// In returns the i-th value input.
func (n *Node) In(i int) *Node {
	if i < 0 || i >= len(n.ins) {
		panic(fmt.Sprintf("input index %d out of range at %v", i, n))
	}
	return n.ins[i]
}

// Ins returns the inputs as a fresh slice.
func (n *Node) Ins() []*Node {
	out := make([]*Node, len(n.ins))
	copy(out, n.ins)
	return out
}

// SetIn redirects the i-th input to in, maintaining the users index.
func (n *Node) SetIn(i int, in *Node) {
	old := n.In(i)
	old.removeUser(n)
	n.ins[i] = in
	in.addUser(n)
}

// AddDep adds a dependency-only edge to dep.
func (n *Node) AddDep(dep *Node) {
	n.deps = append(n.deps, dep)
	dep.addUser(n)
}

// Users returns all nodes with an in-edge to n, one entry per edge, in
// insertion order.
func (n *Node) Users() []*Node {
	out := make([]*Node, len(n.users))
	copy(out, n.users)
	return out
}

// NUserEdges returns the number of in-edges pointing at n.
func (n *Node) NUserEdges() int { return len(n.users) }

// HasUsers reports whether any node reads n.
func (n *Node) HasUsers() bool { return len(n.users) > 0 }

// HasFlag reports whether all given flags are set.
func (n *Node) HasFlag(f Flags) bool { return n.flags&f == f }

// SetFlag sets the given flags.
func (n *Node) SetFlag(f Flags) { n.flags |= f }

// Dead reports whether the node has been killed.
func (n *Node) Dead() bool { return n.dead }

func (n *Node) addUser(u *Node) { n.users = append(n.users, u) }

func (n *Node) removeUser(u *Node) {
	for i, cand := range n.users {
		if cand == u {
			n.users = append(n.users[:i], n.users[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("no user edge from %v at %v", u, n))
}

// ProjIndex returns the result index a Proj selects.
func (n *Node) ProjIndex() int {
	a, ok := n.attr.(*projAttr)
	if !ok {
		panic(fmt.Sprintf("not a Proj: %v", n))
	}
	return a.index
}

// SetProjIndex renumbers a Proj.
func (n *Node) SetProjIndex(idx int) {
	a, ok := n.attr.(*projAttr)
	if !ok {
		panic(fmt.Sprintf("not a Proj: %v", n))
	}
	a.index = idx
}

// ProjPred returns the multi-result node a Proj projects from.
func (n *Node) ProjPred() *Node {
	if n.op != OpProj {
		panic(fmt.Sprintf("not a Proj: %v", n))
	}
	return n.In(0)
}

// SetProjPred rebinds a Proj to another multi-result node.
func (n *Node) SetProjPred(pred *Node) { n.SetIn(0, pred) }

// SkipProj returns the Proj's predecessor, or n itself for non-Projs.
func SkipProj(n *Node) *Node {
	if n.op == OpProj {
		return n.In(0)
	}
	return n
}

// PermClass returns the register class a Perm permutes within.
func (n *Node) PermClass() *reg.Class {
	a, ok := n.attr.(*permAttr)
	if !ok {
		panic(fmt.Sprintf("not a Perm: %v", n))
	}
	return a.cls
}

// InstrName returns the mnemonic of an opaque machine instruction.
func (n *Node) InstrName() string {
	a, ok := n.attr.(*instrAttr)
	if !ok {
		panic(fmt.Sprintf("not an Instr: %v", n))
	}
	return a.name
}

// KeepClass returns the pinned register class of a CopyKeep's kept inputs.
func (n *Node) KeepClass() *reg.Class {
	a, ok := n.attr.(*copyKeepAttr)
	if !ok {
		panic(fmt.Sprintf("not a CopyKeep: %v", n))
	}
	return a.cls
}

// SetKeepClass pins the register class for a CopyKeep's kept inputs.
func (n *Node) SetKeepClass(cls *reg.Class) {
	a, ok := n.attr.(*copyKeepAttr)
	if !ok {
		panic(fmt.Sprintf("not a CopyKeep: %v", n))
	}
	a.cls = cls
}

// BlockName returns the label of a block.
func (n *Node) BlockName() string {
	a, ok := n.attr.(*blockAttr)
	if !ok {
		panic(fmt.Sprintf("not a Block: %v", n))
	}
	return a.name
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.op {
	case OpInstr:
		return fmt.Sprintf("%s[%d]", n.attr.(*instrAttr).name, n.id)
	case OpBlock:
		return fmt.Sprintf("Block %s[%d]", n.attr.(*blockAttr).name, n.id)
	case OpProj:
		return fmt.Sprintf("Proj%d[%d]", n.attr.(*projAttr).index, n.id)
	default:
		return fmt.Sprintf("%s[%d]", n.op, n.id)
	}
}
