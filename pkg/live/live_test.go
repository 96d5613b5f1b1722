package live

import (
	"testing"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/reg"
)

func testSetup() (*ir.Graph, *reg.Class) {
	cls := reg.NewClass("gp", 0, "r0", "r1", "r2", "r3")
	return ir.NewGraph("test"), cls
}

func instr(g *ir.Graph, b *ir.Node, name string, r *reg.Register, ins ...*ir.Node) *ir.Node {
	n := g.NewInstr(b, name, ir.ModeData, ins...)
	if r != nil {
		g.SetRegister(n, r)
	}
	ir.SchedAppend(n)
	return n
}

func TestEndSetCrossBlock(t *testing.T) {
	g, cls := testSetup()
	entry := g.NewBlock("entry")
	exit := g.NewBlock("exit", entry)

	v := instr(g, entry, "v", cls.Reg(0))
	w := instr(g, entry, "w", cls.Reg(1))
	instr(g, entry, "usew", cls.Reg(2), w)

	use := g.NewInstr(exit, "use", ir.ModeControl, v)
	ir.SchedAppend(use)

	lv := New(g)
	end := lv.EndSet(entry)
	if len(end) != 1 || end[0] != v {
		t.Fatalf("only v lives across the block end, got %v", end)
	}
	if len(lv.EndSet(exit)) != 0 {
		t.Fatal("nothing lives out of the exit block")
	}
}

func TestPhiUsesLiveOnPredEdge(t *testing.T) {
	g, cls := testSetup()
	b1 := g.NewBlock("b1")
	b2 := g.NewBlock("b2")
	join := g.NewBlock("join", b1, b2)

	x := instr(g, b1, "x", cls.Reg(0))
	y := instr(g, b2, "y", cls.Reg(1))

	phi := g.NewPhi(join, ir.ModeData, x, y)
	g.SetRegister(phi, cls.Reg(2))
	ir.SchedAppend(phi)
	sink := g.NewInstr(join, "ret", ir.ModeControl, phi)
	ir.SchedAppend(sink)

	lv := New(g)
	end1 := lv.EndSet(b1)
	if len(end1) != 1 || end1[0] != x {
		t.Fatalf("x should be live out of b1 only, got %v", end1)
	}
	end2 := lv.EndSet(b2)
	if len(end2) != 1 || end2[0] != y {
		t.Fatalf("y should be live out of b2 only, got %v", end2)
	}
}

func TestInterfere(t *testing.T) {
	g, cls := testSetup()
	b := g.NewBlock("entry")

	x := instr(g, b, "x", cls.Reg(0))
	y := instr(g, b, "y", cls.Reg(1))
	instr(g, b, "z", cls.Reg(2), x, y)
	w := instr(g, b, "w", cls.Reg(3))
	sink := g.NewInstr(b, "ret", ir.ModeControl, w)
	ir.SchedAppend(sink)

	lv := New(g)
	if !lv.Interfere(x, y) {
		t.Fatal("x is live across y's definition")
	}
	if lv.Interfere(x, w) {
		t.Fatal("x dies at z, before w is defined")
	}
}

func TestInvalidate(t *testing.T) {
	g, cls := testSetup()
	b := g.NewBlock("entry")
	instr(g, b, "v", cls.Reg(0))

	lv := New(g)
	lv.Ensure()
	if !lv.Valid() {
		t.Fatal("sets should be valid after Ensure")
	}
	lv.InvalidateSets()
	if lv.Valid() {
		t.Fatal("sets should be invalid after InvalidateSets")
	}
}
