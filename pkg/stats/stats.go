// Package stats collects counters describing what the lowering passes did
// to a procedure.
package stats

import (
	"fmt"
	"sort"
	"sync"
)

// Counter names used by the passes.
const (
	PermsLowered    = "perms_lowered"
	PermsKept       = "perms_kept"
	PermsPushedAway = "perms_pushed_away"
	CopiesEmitted   = "copies_emitted"
	SwapsEmitted    = "swaps_emitted"
	KeepsEmitted    = "keeps_emitted"
	CopyKeepsMelted = "copykeeps_melted"
	NodesHoisted    = "nodes_hoisted"
)

// Table accumulates named counters for one run.
type Table struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{counts: make(map[string]int)}
}

// Inc adds delta to the named counter.
func (t *Table) Inc(name string, delta int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[name] += delta
}

// Get returns the value of the named counter.
func (t *Table) Get(name string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name]
}

// Lines returns "name: value" lines sorted by counter name.
func (t *Table) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.counts))
	for n := range t.counts {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("%s: %d", n, t.counts[n]))
	}
	return lines
}
