package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oisee/perm-lower/pkg/ir"
	"github.com/oisee/perm-lower/pkg/live"
	"github.com/oisee/perm-lower/pkg/lower"
	"github.com/oisee/perm-lower/pkg/reg"
	"github.com/oisee/perm-lower/pkg/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "permlower",
		Short: "Perm lowering — rewrite register permutations into copies and swaps",
	}

	var verbose bool
	var showStats bool

	lowerCmd := &cobra.Command{
		Use:   "lower [graph.json]",
		Short: "Run constraint assurance and post-RA lowering, print the schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			setupLogging(verbose)

			table := stats.NewTable()
			lower.SetStats(table)

			lv := live.New(g)
			lower.AssureConstraints(g, lv)
			lower.LowerNodesAfterRA(g, lv)

			printSchedule(g)
			if showStats {
				fmt.Println()
				for _, line := range table.Lines() {
					fmt.Println(line)
				}
			}
			return nil
		},
	}
	lowerCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose pass logging")
	lowerCmd.Flags().BoolVar(&showStats, "stats", false, "Print pass statistics")

	constraintsCmd := &cobra.Command{
		Use:   "constraints [graph.json]",
		Short: "Run only the constraint-assurance pass, print the schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			setupLogging(verbose)

			lv := live.New(g)
			lower.AssureConstraints(g, lv)

			printSchedule(g)
			return nil
		},
	}
	constraintsCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose pass logging")

	dumpCmd := &cobra.Command{
		Use:   "dump [graph.json]",
		Short: "Parse a graph fixture and print its schedule unchanged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			printSchedule(g)
			return nil
		},
	}

	rootCmd.AddCommand(lowerCmd, constraintsCmd, dumpCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	if !verbose {
		return
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot set up logging: %v\n", err)
		return
	}
	lower.SetLogger(logger)
}

// JSON fixture format. Nodes reference earlier nodes by name; a Perm
// lists its outputs with per-Proj registers.
type graphJSON struct {
	Name        string      `json:"name"`
	Class       classJSON   `json:"class"`
	Allocatable []string    `json:"allocatable"`
	Blocks      []blockJSON `json:"blocks"`
}

type classJSON struct {
	Name string   `json:"name"`
	Regs []string `json:"regs"`
}

type blockJSON struct {
	Name  string     `json:"name"`
	Preds []string   `json:"preds"`
	Nodes []nodeJSON `json:"nodes"`
}

type nodeJSON struct {
	Name     string    `json:"name"`
	Op       string    `json:"op"`
	Mnemonic string    `json:"mnemonic"`
	Mode     string    `json:"mode"`
	Ins      []string  `json:"ins"`
	Reg      string    `json:"reg"`
	Outs     []outJSON `json:"outs"`
	Flags    []string  `json:"flags"`
	Req      *reqJSON  `json:"req"`
}

type outJSON struct {
	Name string `json:"name"`
	Reg  string `json:"reg"`
}

type reqJSON struct {
	Kind           []string `json:"kind"`
	OtherDifferent uint     `json:"other_different"`
	OtherSame      uint     `json:"other_same"`
}

func loadGraph(path string) (*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var gj graphJSON
	if err := json.Unmarshal(data, &gj); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return buildGraph(&gj)
}

func buildGraph(gj *graphJSON) (*ir.Graph, error) {
	if len(gj.Class.Regs) == 0 {
		return nil, fmt.Errorf("graph needs a register class with registers")
	}
	cls := reg.NewClass(gj.Class.Name, 0, gj.Class.Regs...)

	g := ir.NewGraph(gj.Name)
	for _, name := range gj.Allocatable {
		r := cls.ByName(name)
		if r == nil {
			return nil, fmt.Errorf("unknown allocatable register %q", name)
		}
		g.SetAllocatable(r)
	}

	blocks := make(map[string]*ir.Node)
	nodes := make(map[string]*ir.Node)

	// Blocks first so predecessors can be wired.
	for _, bj := range gj.Blocks {
		var preds []*ir.Node
		for _, p := range bj.Preds {
			pb, ok := blocks[p]
			if !ok {
				return nil, fmt.Errorf("block %q: unknown predecessor %q", bj.Name, p)
			}
			preds = append(preds, pb)
		}
		blocks[bj.Name] = g.NewBlock(bj.Name, preds...)
	}

	for _, bj := range gj.Blocks {
		block := blocks[bj.Name]
		for _, nj := range bj.Nodes {
			n, err := buildNode(g, cls, block, nodes, &nj)
			if err != nil {
				return nil, fmt.Errorf("block %q: %w", bj.Name, err)
			}
			if n != nil {
				ir.SchedAppend(n)
			}
		}
	}
	return g, nil
}

func buildNode(g *ir.Graph, cls *reg.Class, block *ir.Node, nodes map[string]*ir.Node, nj *nodeJSON) (*ir.Node, error) {
	ins := make([]*ir.Node, 0, len(nj.Ins))
	for _, name := range nj.Ins {
		in, ok := nodes[name]
		if !ok {
			return nil, fmt.Errorf("node %q: unknown input %q", nj.Name, name)
		}
		ins = append(ins, in)
	}

	mode, err := parseMode(nj.Mode)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", nj.Name, err)
	}

	var n *ir.Node
	switch strings.ToLower(nj.Op) {
	case "instr", "":
		n = g.NewInstr(block, nj.Mnemonic, mode, ins...)
	case "copy":
		if len(ins) != 1 {
			return nil, fmt.Errorf("node %q: copy needs exactly one input", nj.Name)
		}
		n = g.NewCopy(block, ins[0])
	case "phi":
		n = g.NewPhi(block, mode, ins...)
	case "keep":
		n = g.NewKeep(block, ins...)
	case "perm":
		n = g.NewPerm(cls, block, ins...)
		for i, oj := range nj.Outs {
			r := cls.ByName(oj.Reg)
			if r == nil {
				return nil, fmt.Errorf("node %q: unknown register %q", nj.Name, oj.Reg)
			}
			proj := g.NewProj(n, ir.ModeData, i)
			g.SetRegister(proj, r)
			nodes[oj.Name] = proj
		}
	default:
		return nil, fmt.Errorf("node %q: unknown op %q", nj.Name, nj.Op)
	}

	if nj.Reg != "" {
		r := cls.ByName(nj.Reg)
		if r == nil {
			return nil, fmt.Errorf("node %q: unknown register %q", nj.Name, nj.Reg)
		}
		g.SetRegister(n, r)
	}

	for _, f := range nj.Flags {
		switch f {
		case "modifies_flags":
			n.SetFlag(ir.FlagModifiesFlags)
		case "dont_spill":
			n.SetFlag(ir.FlagDontSpill)
		case "ignore":
			n.SetFlag(ir.FlagIgnore)
		default:
			return nil, fmt.Errorf("node %q: unknown flag %q", nj.Name, f)
		}
	}

	if nj.Req != nil {
		req := &reg.Requirement{
			OtherDifferent: nj.Req.OtherDifferent,
			OtherSame:      nj.Req.OtherSame,
		}
		for _, k := range nj.Req.Kind {
			switch k {
			case "must_be_different":
				req.Kind |= reg.MustBeDifferent
			case "should_be_same":
				req.Kind |= reg.ShouldBeSame
			case "limited":
				req.Kind |= reg.Limited
			default:
				return nil, fmt.Errorf("node %q: unknown requirement kind %q", nj.Name, k)
			}
		}
		g.SetRequirement(n, req)
	}

	nodes[nj.Name] = n
	return n, nil
}

func parseMode(s string) (ir.Mode, error) {
	switch strings.ToLower(s) {
	case "", "data":
		return ir.ModeData, nil
	case "flags":
		return ir.ModeFlags, nil
	case "control":
		return ir.ModeControl, nil
	case "memory":
		return ir.ModeMemory, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func printSchedule(g *ir.Graph) {
	for _, block := range g.Blocks() {
		fmt.Printf("block %s:\n", block.BlockName())
		for n := block.SchedFirst(); n != nil; n = n.SchedNext() {
			fmt.Printf("  %s\n", formatNode(g, n))
		}
	}
}

func formatNode(g *ir.Graph, n *ir.Node) string {
	var sb strings.Builder
	sb.WriteString(n.String())
	if r := g.RegisterOf(n); r != nil {
		fmt.Fprintf(&sb, " -> %s", r.Name)
	}
	if n.Mode() == ir.ModeTuple {
		for _, proj := range ir.OutProjs(n) {
			r := g.RegisterOf(proj)
			fmt.Fprintf(&sb, " [%d -> %s]", proj.ProjIndex(), r)
		}
	}
	if n.Arity() > 0 {
		parts := make([]string, 0, n.Arity())
		for _, in := range n.Ins() {
			parts = append(parts, in.String())
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, ", "))
	}
	return sb.String()
}
