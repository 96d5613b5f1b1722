package lower

import (
	"testing"

	"github.com/oisee/perm-lower/pkg/ir"
)

func TestFindFreeRegisterReportsScratch(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2", "r3")
	a := e.instr("la", "r1")
	b := e.instr("lb", "r2")
	c := e.instr("lc", "r3")
	p, projs := e.perm([]*ir.Node{a, b, c}, "r2", "r3", "r1")
	e.ctrl("ret", projs[0], projs[1], projs[2])

	r := findFreeRegister(e.g, e.lv, p, e.cls)
	if r == nil {
		t.Fatal("r0 should be reported free")
	}
	if r.Name != "r0" {
		t.Fatalf("expected scratch r0, got %s", r)
	}

	// Soundness: the scratch is neither an input-side nor a result
	// register of the Perm.
	for _, in := range p.Ins() {
		if e.g.RegisterOf(in) == r {
			t.Fatalf("scratch %s collides with Perm input", r)
		}
	}
	for _, proj := range ir.OutProjs(p) {
		if e.g.RegisterOf(proj) == r {
			t.Fatalf("scratch %s collides with Perm output", r)
		}
	}
}

func TestFindFreeRegisterNoneAvailable(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	a := e.instr("la", "r0")
	b := e.instr("lb", "r1")
	c := e.instr("lc", "r2")
	p, projs := e.perm([]*ir.Node{a, b, c}, "r1", "r2", "r0")
	e.ctrl("ret", projs[0], projs[1], projs[2])

	if r := findFreeRegister(e.g, e.lv, p, e.cls); r != nil {
		t.Fatalf("no register should be free, got %s", r)
	}
}

func TestFindFreeRegisterSkipsLiveOutValues(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2", "r3")
	exit := e.g.NewBlock("exit", e.block)

	held := e.instr("held", "r0")
	a := e.instr("la", "r1")
	b := e.instr("lb", "r2")
	p, projs := e.perm([]*ir.Node{a, b}, "r2", "r1")
	e.ctrl("jmp", projs[0], projs[1])

	// held lives into the exit block and pins r0 there.
	use := e.g.NewInstr(exit, "use", ir.ModeControl, held)
	ir.SchedAppend(use)

	r := findFreeRegister(e.g, e.lv, p, e.cls)
	if r == nil {
		t.Fatal("r3 should be reported free")
	}
	if r.Name != "r3" {
		t.Fatalf("expected r3, got %s: r0 is live across the block end", r)
	}
}

func TestFindFreeRegisterIgnoresLaterDefs(t *testing.T) {
	e := newTestEnv("r0", "r1", "r2")
	a := e.instr("la", "r1")
	b := e.instr("lb", "r2")
	p, projs := e.perm([]*ir.Node{a, b}, "r2", "r1")
	d := e.instr("late", "r0")
	e.ctrl("ret", projs[0], projs[1], d)

	// r0 is written only after the Perm, so it is free at its point.
	r := findFreeRegister(e.g, e.lv, p, e.cls)
	if r == nil || r.Name != "r0" {
		t.Fatalf("expected r0 free before its later def, got %v", r)
	}
}
