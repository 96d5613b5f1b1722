package ssa

import (
	"testing"

	"github.com/oisee/perm-lower/pkg/ir"
)

func TestFixUsersRewritesToNearestCopy(t *testing.T) {
	g := ir.NewGraph("test")
	b := g.NewBlock("entry")

	orig := g.NewInstr(b, "orig", ir.ModeData)
	ir.SchedAppend(orig)
	early := g.NewInstr(b, "early", ir.ModeData, orig)
	ir.SchedAppend(early)
	cpy := g.NewCopy(b, orig)
	ir.SchedAppend(cpy)
	late := g.NewInstr(b, "late", ir.ModeData, orig)
	ir.SchedAppend(late)

	var env ConstructionEnv
	env.Init(g)
	env.AddCopy(orig)
	env.AddCopies([]*ir.Node{cpy})
	env.FixUsers(orig)
	env.Destroy()

	if early.In(0) != orig {
		t.Fatalf("use before the copy keeps the original, got %v", early.In(0))
	}
	if late.In(0) != cpy {
		t.Fatalf("use after the copy reads the copy, got %v", late.In(0))
	}
	if cpy.In(0) != orig {
		t.Fatal("the copy itself keeps reading the original")
	}
}

func TestFixUsersAcrossDominatedBlock(t *testing.T) {
	g := ir.NewGraph("test")
	entry := g.NewBlock("entry")
	next := g.NewBlock("next", entry)

	orig := g.NewInstr(entry, "orig", ir.ModeData)
	ir.SchedAppend(orig)
	cpy := g.NewCopy(entry, orig)
	ir.SchedAppend(cpy)

	use := g.NewInstr(next, "use", ir.ModeData, orig)
	ir.SchedAppend(use)

	var env ConstructionEnv
	env.Init(g)
	env.AddCopy(orig)
	env.AddCopies([]*ir.Node{cpy})
	env.FixUsers(orig)
	env.Destroy()

	if use.In(0) != cpy {
		t.Fatalf("use in a dominated block reads the copy, got %v", use.In(0))
	}
}

func TestDominators(t *testing.T) {
	g := ir.NewGraph("test")
	entry := g.NewBlock("entry")
	left := g.NewBlock("left", entry)
	right := g.NewBlock("right", entry)
	join := g.NewBlock("join", left, right)

	dt := ComputeDom(g)

	if !dt.Dominates(entry, join) {
		t.Fatal("the entry dominates everything")
	}
	if dt.Dominates(left, join) || dt.Dominates(right, join) {
		t.Fatal("neither branch dominates the join")
	}
	if dt.Idom(join) != entry {
		t.Fatalf("join's idom should be the entry, got %v", dt.Idom(join))
	}
	if dt.Idom(entry) != nil {
		t.Fatal("the entry has no idom")
	}
}
