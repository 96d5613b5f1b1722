package lower

import (
	"fmt"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/live"
	"github.com/oisee/perm-lower/pkg/reg"
	"github.com/oisee/perm-lower/pkg/ssa"
	"github.com/oisee/perm-lower/pkg/stats"
)

// opCopyAssoc records the non-spillable copies (and CopyKeeps) made for
// one isolated value.
type opCopyAssoc struct {
	copies []*ir.Node
	cls    *reg.Class
}

func (a *opCopyAssoc) add(n *ir.Node) {
	for _, c := range a.copies {
		if c == n {
			return
		}
	}
	a.copies = append(a.copies, n)
}

func (a *opCopyAssoc) remove(n *ir.Node) {
	for i, c := range a.copies {
		if c == n {
			a.copies = append(a.copies[:i], a.copies[i+1:]...)
			return
		}
	}
}

// constraintEnv is the environment of one AssureConstraints run.
type constraintEnv struct {
	g      *ir.Graph
	assocs map[*ir.Node]*opCopyAssoc
	keys   []*ir.Node // deterministic iteration order over assocs
}

// findCopy scans the schedule backwards from irn for an existing
// non-spillable copy of op. The scan stops at the first non-Copy node.
func findCopy(irn, op *ir.Node) *ir.Node {
	for cur := irn.SchedPrev(); cur != nil; cur = cur.SchedPrev() {
		if cur.Op() != ir.OpCopy {
			return nil
		}
		if cur.In(0) == op && cur.HasFlag(ir.FlagDontSpill) {
			return cur
		}
	}
	return nil
}

// genAssureDifferentPattern isolates otherDifferent from irn's result by
// a non-spillable copy whose liveness is extended across irn by a
// CopyKeep (or a plain Keep when the value has no users).
func genAssureDifferentPattern(irn, otherDifferent *ir.Node, env *constraintEnv) {
	if otherDifferent.HasFlag(ir.FlagIgnore) || !otherDifferent.Mode().IsDataB() {
		dbgConstr.Debugw("ignoring constraint",
			"node", irn.String(), "other", otherDifferent.String())
		return
	}

	g := env.g
	block := irn.Block()
	cls := registerOf(g, otherDifferent).Cls

	// A non-spillable copy is needed because the isolated value may live
	// in a block far away. Later melting merges CopyKeeps only; the copy
	// itself stays.
	cpy := findCopy(ir.SkipProj(irn), otherDifferent)
	if cpy == nil {
		cpy = g.NewCopy(block, otherDifferent)
		cpy.SetFlag(ir.FlagDontSpill)
		dbgConstr.Debugw("created non-spillable copy",
			"copy", cpy.String(), "value", otherDifferent.String())
	} else {
		dbgConstr.Debugw("reusing copy",
			"copy", cpy.String(), "value", otherDifferent.String())
	}

	// The isolation copy itself does not count as a user of the value.
	hasUsers := false
	for _, u := range otherDifferent.Users() {
		if u != cpy {
			hasUsers = true
			break
		}
	}

	var keep *ir.Node
	if hasUsers {
		keep = g.NewCopyKeep(block, cpy, irn)
		keep.SetKeepClass(cls)
	} else {
		keep = g.NewKeep(block, irn, cpy)
	}
	passStats.Inc(stats.KeepsEmitted, 1)

	dbgConstr.Debugw("created keep",
		"keep", keep.String(), "node", irn.String(), "copy", cpy.String())

	anchor := ir.SkipProj(irn)
	if !anchor.IsScheduled() {
		panic(fmt.Sprintf("need schedule to assure constraints at %v", irn))
	}
	if !cpy.IsScheduled() {
		ir.SchedAddBefore(anchor, cpy)
	}
	ir.SchedAddAfter(anchor, keep)

	entry := env.assocs[otherDifferent]
	if entry == nil {
		entry = &opCopyAssoc{cls: cls}
		env.assocs[otherDifferent] = entry
		env.keys = append(env.keys, otherDifferent)
	}
	entry.add(cpy)
	if keep.Op() == ir.OpCopyKeep {
		entry.add(keep)
	}
}

// assureDifferentConstraints inspects irn's must-be-different output
// constraint and materialises the isolation pattern for every selected
// operand of the skipped predecessor.
func assureDifferentConstraints(irn, skipped *ir.Node, env *constraintEnv) {
	req := env.g.RequirementOf(irn)
	if !req.Kind.Is(reg.MustBeDifferent) {
		return
	}
	other := req.OtherDifferent

	if req.Kind.Is(reg.ShouldBeSame) {
		same := req.OtherSame
		// A should-be-same x with must-be-different y is trivially
		// satisfied iff both masks select the same single input.
		if reg.IsPo2(other) && reg.IsPo2(same) &&
			skipped.In(reg.Ntz(other)) == skipped.In(reg.Ntz(same)) {
			return
		}
	}

	for i := 0; uint(1)<<uint(i) <= other; i++ {
		if other&(uint(1)<<uint(i)) != 0 {
			genAssureDifferentPattern(irn, skipped.In(i), env)
		}
	}
}

// assureConstraintsWalker visits a block's scheduled values in reverse,
// including the data Projs of tuple nodes.
func assureConstraintsWalker(block *ir.Node, env *constraintEnv) {
	for irn := block.SchedLast(); irn != nil; irn = irn.SchedPrev() {
		if irn.Mode() == ir.ModeTuple {
			for _, proj := range ir.OutProjs(irn) {
				if proj.Mode().IsDataB() {
					assureDifferentConstraints(proj, irn, env)
				}
			}
		} else if irn.Mode().IsDataB() {
			assureDifferentConstraints(irn, irn, env)
		}
	}
}

// meltCopyKeeps merges CopyKeeps of the same entry whose kept inputs
// resolve to the same tuple parent into a single CopyKeep.
func meltCopyKeeps(env *constraintEnv) {
	g := env.g
	for _, key := range env.keys {
		entry := env.assocs[key]

		var cks []*ir.Node
		for _, cp := range entry.copies {
			if cp.Op() == ir.OpCopyKeep {
				cks = append(cks, cp)
			}
		}

		for idx := 0; idx < len(cks); idx++ {
			ref := cks[idx]
			if ref == nil {
				continue
			}
			refParent := ir.SkipProj(ref.In(1))
			melt := []*ir.Node{ref}

			dbgConstr.Debugw("trying to melt", "copykeep", ref.String())

			for j := idx + 1; j < len(cks); j++ {
				cur := cks[j]
				if cur == nil || ir.SkipProj(cur.In(1)) != refParent {
					continue
				}
				melt = append(melt, cur)
				cks[j] = nil
			}
			cks[idx] = nil

			if len(melt) == 1 {
				continue
			}

			keptIns := make([]*ir.Node, 0, len(melt))
			for _, m := range melt {
				keptIns = append(keptIns, m.In(1))
			}

			for _, m := range melt {
				entry.remove(m)
				ir.SchedRemove(m)
			}

			newCk := g.NewCopyKeep(refParent.Block(), ref.In(0), keptIns...)
			newCk.SetKeepClass(entry.cls)
			entry.add(newCk)
			passStats.Inc(stats.CopyKeepsMelted, len(melt))

			for _, m := range melt {
				ir.Kill(m)
			}

			// Schedule after the tuple parent, past any keeps already
			// sitting there.
			schedPt := refParent.SchedNext()
			for schedPt != nil && (schedPt.Op() == ir.OpKeep || schedPt.Op() == ir.OpCopyKeep) {
				schedPt = schedPt.SchedNext()
			}
			if schedPt != nil {
				ir.SchedAddBefore(schedPt, newCk)
			} else {
				ir.SchedAddAfter(refParent.Block().SchedLast(), newCk)
			}
			dbgConstr.Debugw("melted copykeeps",
				"new", newCk.String(), "count", len(melt))
		}
	}
}

// AssureConstraints enforces must-be-different output constraints by
// inserting non-spillable copies and keep-alive nodes, then repairing
// SSA form so downstream uses read the dominating copy.
func AssureConstraints(g *ir.Graph, lv *live.Liveness) {
	env := &constraintEnv{
		g:      g,
		assocs: make(map[*ir.Node]*opCopyAssoc),
	}

	for _, block := range g.Blocks() {
		assureConstraintsWalker(block, env)
	}

	// Melt CopyKeeps pointing to Projs of the same tuple node and
	// keeping the same operand.
	meltCopyKeeps(env)

	for _, key := range env.keys {
		entry := env.assocs[key]

		dbgConstr.Debugw("introducing copies",
			"value", key.String(), "n", len(entry.copies))

		var senv ssa.ConstructionEnv
		senv.Init(g)
		senv.AddCopy(key)
		senv.AddCopies(entry.copies)
		senv.FixUsers(key)
		senv.Destroy()

		// Not every CopyKeep is really needed; transform the unused
		// ones into plain Keeps.
		for _, cp := range entry.copies {
			if cp.Op() != ir.OpCopyKeep || cp.Dead() || cp.HasUsers() {
				continue
			}
			keep := g.NewKeep(cp.Block(), cp.Ins()...)
			ir.SchedAddBefore(cp, keep)
			ir.SchedRemove(cp)
			ir.Kill(cp)
		}
	}

	lv.InvalidateSets()
}
