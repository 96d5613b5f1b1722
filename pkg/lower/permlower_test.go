package lower

import (
	"testing"

	"github.com/oisee/perm-lower/pkg/ir"
)

func TestPureSwapKeepsPerm(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	base := e.instr("base", "r0")
	a := e.instr("la", "r1", base)
	b := e.instr("lb", "r2", base)
	p, projs := e.perm([]*ir.Node{a, b}, "r2", "r1")
	sink := e.ctrl("ret", projs[0], projs[1])

	LowerNodesAfterRA(e.g, e.lv)

	if p.Dead() || !p.IsScheduled() {
		t.Fatal("binary swap Perm must stay in the schedule")
	}
	if p.Arity() != 2 {
		t.Fatalf("swap Perm arity changed to %d", p.Arity())
	}
	if sink.In(0) != projs[0] || sink.In(1) != projs[1] {
		t.Fatal("swap Projs must remain in place")
	}
}

func TestThreeCycleWithScratchRegister(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2", "r3")
	a := e.instr("la", "r1")
	b := e.instr("lb", "r2")
	c := e.instr("lc", "r3")
	e.ctrl("barrier")
	p, projs := e.perm([]*ir.Node{a, b, c}, "r2", "r3", "r1")
	sink := e.ctrl("ret", projs[0], projs[1], projs[2])

	LowerNodesAfterRA(e.g, e.lv)

	if !p.Dead() {
		t.Fatal("three-cycle Perm should be deleted")
	}

	var copies []*ir.Node
	for _, n := range scheduleOf(e.block) {
		if n.Op() == ir.OpCopy {
			copies = append(copies, n)
		}
	}
	if len(copies) != 4 {
		t.Fatalf("scratch lowering of a 3-cycle needs 4 copies, got %d", len(copies))
	}

	// The save copy lands in the scratch register r0.
	if e.g.RegisterOf(copies[0]).Name != "r0" {
		t.Fatalf("first copy should save into the scratch register, got %s",
			e.g.RegisterOf(copies[0]))
	}

	// Each result register must end up holding the permuted value.
	want := map[int]struct {
		reg string
		src *ir.Node
	}{
		0: {"r2", a},
		1: {"r3", b},
		2: {"r1", c},
	}
	for i, w := range want {
		got := sink.In(i)
		if got.Op() != ir.OpCopy {
			t.Fatalf("result %d should be produced by a Copy, got %v", i, got)
		}
		if e.g.RegisterOf(got).Name != w.reg {
			t.Fatalf("result %d in %s, want %s", i, e.g.RegisterOf(got), w.reg)
		}
		if valueSource(got) != w.src {
			t.Fatalf("result %d carries %v, want %v", i, valueSource(got), w.src)
		}
	}
}

func TestThreeCycleWithoutScratchRegister(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	a := e.instr("la", "r0")
	b := e.instr("lb", "r1")
	c := e.instr("lc", "r2")
	e.ctrl("barrier")
	p, projs := e.perm([]*ir.Node{a, b, c}, "r1", "r2", "r0")
	sink := e.ctrl("ret", projs[0], projs[1], projs[2])

	LowerNodesAfterRA(e.g, e.lv)

	if !p.Dead() {
		t.Fatal("three-cycle Perm should be deleted")
	}

	var swaps []*ir.Node
	for _, n := range scheduleOf(e.block) {
		if n.Op() == ir.OpPerm {
			swaps = append(swaps, n)
		}
	}
	if len(swaps) != 2 {
		t.Fatalf("a 3-cycle without scratch needs 2 swap Perms, got %d", len(swaps))
	}
	for _, s := range swaps {
		if s.Arity() != 2 {
			t.Fatalf("swap Perm %v should be binary, has arity %d", s, s.Arity())
		}
		if len(ir.OutProjs(s)) != 2 {
			t.Fatalf("swap Perm %v should have two Projs", s)
		}
	}

	// The chained swaps must realise the full 3-cycle.
	want := map[int]struct {
		reg string
		src *ir.Node
	}{
		0: {"r1", a},
		1: {"r2", b},
		2: {"r0", c},
	}
	for i, w := range want {
		got := sink.In(i)
		if e.g.RegisterOf(got).Name != w.reg {
			t.Fatalf("result %d in %s, want %s", i, e.g.RegisterOf(got), w.reg)
		}
		if src := swapSource(got); src != w.src {
			t.Fatalf("result %d carries %v, want %v", i, src, w.src)
		}
	}
}

// swapSource resolves which original value a Proj of a swap chain holds.
func swapSource(n *ir.Node) *ir.Node {
	for n.Op() == ir.OpProj {
		perm := n.ProjPred()
		// Out k of an exchange carries input k's value in the other
		// register.
		n = perm.In(n.ProjIndex())
	}
	return n
}

func TestChainLowersToCopies(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2", "r3")
	a := e.instr("la", "r1")
	b := e.instr("lb", "r2")
	e.ctrl("barrier")
	p, projs := e.perm([]*ir.Node{a, b}, "r2", "r3")
	sink := e.ctrl("ret", projs[0], projs[1])

	LowerNodesAfterRA(e.g, e.lv)

	if !p.Dead() {
		t.Fatal("chain Perm should be deleted")
	}

	var copies []*ir.Node
	for _, n := range scheduleOf(e.block) {
		if n.Op() == ir.OpCopy {
			copies = append(copies, n)
		}
	}
	if len(copies) != 2 {
		t.Fatalf("chain of 2 pairs needs 2 copies, got %d", len(copies))
	}

	// The chain is emitted back to front: first copy b into r3, which
	// frees r2, then overwrite r2 with a.
	if copies[0].In(0) != b || e.g.RegisterOf(copies[0]).Name != "r3" {
		t.Fatalf("first copy should move b to r3, got %v -> %s",
			copies[0].In(0), e.g.RegisterOf(copies[0]))
	}
	if copies[1].In(0) != a || e.g.RegisterOf(copies[1]).Name != "r2" {
		t.Fatalf("second copy should move a to r2, got %v -> %s",
			copies[1].In(0), e.g.RegisterOf(copies[1]))
	}
	if sink.In(0) != copies[1] || sink.In(1) != copies[0] {
		t.Fatal("chain Projs must be rerouted to their copies")
	}
}
