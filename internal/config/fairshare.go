package config

import (
	"bufio"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// FairshareNode is one entity in the parsed tree (spec §6.2: "text file, one
// line per entity <name> <parent> <shares>"). The planner itself only needs
// the query interface (spec §1 lists the tree parser's on-disk format as
// external/opaque); this package owns the parse, internal/cycle and
// internal/preempt only ever call Percentage/Factor.
type FairshareNode struct {
	Name     string
	Parent   string
	Shares   int
	Usage    float64 // decayed usage, left at 0 until a usage file is wired in
	children []*FairshareNode
}

// FairshareTree is the parsed tree plus derived percentages (spec §3.4
// "Fairshare: handle to a group node in the tree"; §9 formula symbol
// fairshare_perc/fairshare_factor consume this tree's output).
type FairshareTree struct {
	nodes map[string]*FairshareNode
	root  string
	perc  map[string]float64
}

// rootName is the conventional top-of-tree entity, matching the original's
// reserved "root" node with no parent line of its own.
const rootName = "root"

// ParseFairshare reads the `<name> <parent> <shares>` tree definition (spec
// §6.2). A line's parent may be "root" without root itself appearing; shares
// of 0 are legal (an entity present for bookkeeping only, earning no
// percentage).
func ParseFairshare(fsys fs.FS, path string) (*FairshareTree, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open fairshare tree %q: %w", path, err)
	}
	defer f.Close()

	t := &FairshareTree{
		nodes: map[string]*FairshareNode{rootName: {Name: rootName}},
		root:  rootName,
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("config: fairshare tree %q:%d: expected '<name> <parent> <shares>', got %q", path, lineNo, line)
		}
		shares, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("config: fairshare tree %q:%d: bad shares %q: %w", path, lineNo, fields[2], err)
		}
		t.nodes[fields[0]] = &FairshareNode{Name: fields[0], Parent: fields[1], Shares: shares}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading fairshare tree %q: %w", path, err)
	}

	if err := t.link(); err != nil {
		return nil, err
	}
	t.perc = t.computePercentages()
	return t, nil
}

// link wires each node to its parent's children slice, rejecting a parent
// reference to an entity that was never defined (except the implicit root).
func (t *FairshareTree) link() error {
	for name, n := range t.nodes {
		if name == t.root || n.Parent == "" {
			continue
		}
		parent, ok := t.nodes[n.Parent]
		if !ok {
			return fmt.Errorf("config: fairshare entity %q references undefined parent %q", n.Name, n.Parent)
		}
		parent.children = append(parent.children, n)
	}
	return nil
}

// computePercentages walks the tree assigning each node an absolute
// percentage of the whole: a node's share of the tree is its parent's share
// times (its own shares / the sum of its siblings' shares), exactly the
// recursive "decayed usage tree" split the original scheduler's fairshare
// algorithm uses to turn sibling share counts into a single comparable
// number (spec §9 formula symbol fairshare_perc).
func (t *FairshareTree) computePercentages() map[string]float64 {
	perc := map[string]float64{t.root: 100.0}
	var walk func(n *FairshareNode, parentPerc float64)
	walk = func(n *FairshareNode, parentPerc float64) {
		total := 0
		for _, c := range n.children {
			total += c.Shares
		}
		for _, c := range n.children {
			share := parentPerc
			if total > 0 {
				share = parentPerc * float64(c.Shares) / float64(total)
			} else {
				share = 0
			}
			perc[c.Name] = share
			walk(c, share)
		}
	}
	walk(t.nodes[t.root], 100.0)
	return perc
}

// Percentage returns the entity's configured tree share as a percentage of
// the whole, or 0 if the entity isn't in the tree (an unconfigured user
// falls back to the "unknown" group's share under the original's rules,
// which this package leaves to the caller to resolve before calling here).
func (t *FairshareTree) Percentage(entity string) float64 {
	return t.perc[entity]
}

// Factor returns the usage-decayed scalar the tree assigns this entity
// (spec §9 fairshare_factor). Until a usage file reader is wired in, usage
// stays at its zero value and every entity's factor is its raw percentage;
// this is a deliberate scope cut (spec §1: "on-disk usage file format" is
// out of scope, only the query interface matters) rather than a bug.
func (t *FairshareTree) Factor(entity string) float64 {
	n, ok := t.nodes[entity]
	if !ok {
		return 0
	}
	if n.Usage == 0 {
		return t.perc[entity]
	}
	return t.perc[entity] / n.Usage
}
