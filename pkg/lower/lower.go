// Package lower rewrites the Perm nodes a register allocator leaves in a
// scheduled procedure graph into concrete register copies and swaps, and
// inserts the copies and keep-alive nodes needed to satisfy output
// register constraints.
//
// Entry points: AssureConstraints runs before allocation commits,
// LowerNodesAfterRA runs once registers are assigned, PushThroughPerm is
// the standalone code-motion helper the driver applies before lowering.
package lower

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/reg"
	"github.com/oisee/perm-lower/pkg/stats"
)

var (
	dbg         = zap.NewNop().Sugar()
	dbgConstr   = zap.NewNop().Sugar()
	dbgPermMove = zap.NewNop().Sugar()
)

// SetLogger installs the root logger for the pass's three debug channels.
func SetLogger(l *zap.Logger) {
	dbg = l.Named("lower").Sugar()
	dbgConstr = l.Named("lower.constr").Sugar()
	dbgPermMove = l.Named("lower.permmove").Sugar()
}

var passStats *stats.Table

// SetStats installs a statistics table the passes report into. Pass nil
// to disable collection.
func SetStats(t *stats.Table) { passStats = t }

// registerOf returns the register assigned to n and halts on unassigned
// nodes, which are invalid in any sub-pass here.
func registerOf(g *ir.Graph, n *ir.Node) *reg.Register {
	r := g.RegisterOf(n)
	if r == nil {
		panic(fmt.Sprintf("no register assigned at %v", n))
	}
	return r
}

// considerInRegAlloc reports whether op is a register-allocated value of
// the given class.
func considerInRegAlloc(g *ir.Graph, cls *reg.Class, op *ir.Node) bool {
	if !op.Mode().IsDataB() || op.HasFlag(ir.FlagIgnore) {
		return false
	}
	r := g.RegisterOf(op)
	return r != nil && r.Cls == cls
}
