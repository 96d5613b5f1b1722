package ssa

import (
	"fmt"

	"github.com/oisee/perm-lower/pkg/ir"
)

// ConstructionEnv rewires uses after new definitions of a value were
// inserted. Register one definition per insertion point, then FixUsers
// re-links every use of the original value to the nearest definition that
// strictly dominates it.
type ConstructionEnv struct {
	g    *ir.Graph
	dt   *DomTree
	defs []*ir.Node
}

// Init prepares a construction environment for g.
func (env *ConstructionEnv) Init(g *ir.Graph) {
	env.g = g
	env.dt = ComputeDom(g)
	env.defs = nil
}

// AddCopy registers one additional definition of the value under repair.
func (env *ConstructionEnv) AddCopy(n *ir.Node) {
	env.defs = append(env.defs, n)
}

// AddCopies registers several additional definitions.
func (env *ConstructionEnv) AddCopies(ns []*ir.Node) {
	env.defs = append(env.defs, ns...)
}

// Destroy releases the environment.
func (env *ConstructionEnv) Destroy() {
	env.g = nil
	env.dt = nil
	env.defs = nil
}

// isDef reports whether n is one of the registered definitions.
func (env *ConstructionEnv) isDef(n *ir.Node) bool {
	for _, d := range env.defs {
		if d == n {
			return true
		}
	}
	return false
}

// FixUsers rewrites every use of original to the nearest strictly
// dominating definition among original and the registered copies.
// Definitions inserted by the constraint pass are scheduled before the
// uses they must capture, so no new Phis are required here.
func (env *ConstructionEnv) FixUsers(original *ir.Node) {
	for _, u := range original.Users() {
		if env.isDef(u) && u.In(0) == original {
			continue // the copy itself keeps reading the original
		}
		for i, in := range u.Ins() {
			if in != original {
				continue
			}
			ub, anchor := env.usePoint(u, i)
			best := original
			for _, d := range env.defs {
				if d == u {
					continue
				}
				if !env.defReaches(d, ub, anchor) {
					continue
				}
				if env.nearer(d, best) {
					best = d
				}
			}
			if best != original {
				u.SetIn(i, best)
			}
		}
	}
}

// usePoint returns the block and schedule anchor of the i-th use of u.
// Phi uses take effect at the end of the matching predecessor block.
func (env *ConstructionEnv) usePoint(u *ir.Node, i int) (block, anchor *ir.Node) {
	if u.Op() == ir.OpPhi {
		pred := u.Block().In(i)
		return pred, nil
	}
	anchor = ir.SkipProj(u)
	if !anchor.IsScheduled() {
		panic(fmt.Sprintf("use %v is not anchored in a schedule", u))
	}
	return anchor.Block(), anchor
}

// defReaches reports whether definition d strictly dominates the use
// point (block, anchor). A nil anchor means the end of block.
func (env *ConstructionEnv) defReaches(d *ir.Node, block, anchor *ir.Node) bool {
	db := ir.SkipProj(d).Block()
	if db == block {
		if anchor == nil {
			return true
		}
		dp := ir.SkipProj(d)
		return dp != anchor && ir.SchedComesAfter(dp, anchor)
	}
	return env.dt.Dominates(db, block)
}

// nearer reports whether definition a is closer to the use than b, i.e.
// b's position dominates a's.
func (env *ConstructionEnv) nearer(a, b *ir.Node) bool {
	ab := ir.SkipProj(a).Block()
	bb := ir.SkipProj(b).Block()
	if ab == bb {
		return ir.SchedComesAfter(ir.SkipProj(b), ir.SkipProj(a))
	}
	return env.dt.Dominates(bb, ab)
}
