package lower

import (
	"testing"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/reg"
)

func TestPushThroughEliminatesPerm(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	n := e.instr("ldi", "r1")
	p, projs := e.perm([]*ir.Node{n}, "r2")
	sink := e.ctrl("ret", projs[0])

	if PushThroughPerm(e.lv, p) {
		t.Fatal("push-through should eliminate the arity-1 Perm")
	}
	if !p.Dead() {
		t.Fatal("eliminated Perm must be killed")
	}
	if e.g.RegisterOf(n).Name != "r2" {
		t.Fatalf("hoisted node should take the Proj's register, got %s", e.g.RegisterOf(n))
	}
	if sink.In(0) != n {
		t.Fatalf("Proj users should read the hoisted node, got %v", sink.In(0))
	}
	if !n.IsScheduled() {
		t.Fatal("hoisted node must stay scheduled")
	}
}

func TestPushThroughShrinksPerm(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2", "r3")
	base := e.instr("base", "r0")
	a := e.instr("la", "r1", base) // same-class operand: not movable
	b := e.instr("lb", "r2")       // movable
	p, projs := e.perm([]*ir.Node{a, b}, "r2", "r1")
	sink := e.ctrl("ret", projs[0], projs[1])

	if !PushThroughPerm(e.lv, p) {
		t.Fatal("a residual Perm should remain")
	}
	if p.Arity() != 1 {
		t.Fatalf("Perm should shrink to arity 1, got %d", p.Arity())
	}
	if p.In(0) != a {
		t.Fatalf("surviving slot should hold a, got %v", p.In(0))
	}
	if e.g.RegisterOf(b).Name != "r1" {
		t.Fatalf("hoisted b should take the Proj's register r1, got %s", e.g.RegisterOf(b))
	}
	if sink.In(1) != b {
		t.Fatalf("users of the killed Proj should read b, got %v", sink.In(1))
	}

	rest := ir.OutProjs(p)
	if len(rest) != 1 || rest[0].ProjIndex() != 0 {
		t.Fatal("surviving Proj must be renumbered compactly")
	}
	if sink.In(0) != rest[0] {
		t.Fatal("surviving Proj should still feed its users")
	}
}

func TestPushThroughStopsAtFlagModifier(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	n := e.instr("addf", "r1")
	n.SetFlag(ir.FlagModifiesFlags)
	p, projs := e.perm([]*ir.Node{n}, "r2")
	e.ctrl("ret", projs[0])

	if !PushThroughPerm(e.lv, p) {
		t.Fatal("flag-modifying producers must not be hoisted")
	}
	if p.Arity() != 1 {
		t.Fatalf("Perm arity should be unchanged, got %d", p.Arity())
	}
}

func TestPushThroughRespectsRequirementKind(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	n := e.instr("ldl", "r1")
	e.g.SetRequirement(n, &reg.Requirement{Kind: reg.Limited})
	p, _ := e.perm([]*ir.Node{n}, "r2")
	e.ctrl("ret", ir.OutProjs(p)[0])

	if !PushThroughPerm(e.lv, p) {
		t.Fatal("nodes with non-normal requirements must not be hoisted")
	}
	if p.Arity() != 1 {
		t.Fatalf("Perm arity should be unchanged, got %d", p.Arity())
	}
}

func TestPushThroughHoistsNodeAfterFrontier(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	base := e.instr("base", "r0")
	e.ctrl("use", base) // lets base die: the frontier
	n := e.instr("ldi", "r1")
	p, projs := e.perm([]*ir.Node{n}, "r2")
	sink := e.ctrl("ret", projs[0])

	// n is defined after the frontier and may still move.
	if PushThroughPerm(e.lv, p) {
		t.Fatal("n is past the frontier and should be hoisted, eliminating the Perm")
	}
	if sink.In(0) != n {
		t.Fatalf("Proj users should read n, got %v", sink.In(0))
	}
}
