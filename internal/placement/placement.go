// Package placement implements the placement-set engine (spec §3.9, §4.E):
// grouping nodes by a resource key into named sets, aggregating their
// capacity, and picking the smallest fitting set.
package placement

import (
	"sort"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/resource"
)

// Set is one placement set: all nodes sharing GroupKey's value, plus cached
// aggregate resources and free-node count.
type Set struct {
	GroupKey   string
	GroupValue string
	Nodes      []*entity.Node
	Agg        map[string]entity.AvailAssigned
	FreeNodes  int
}

// Scope distinguishes the three placement-set scopes (spec §3.9).
type Scope int

const (
	ScopeHost Scope = iota
	ScopeQueue
	ScopeServer
)

// BuildSets partitions nodes into Sets keyed by the value of groupKey
// (spec §4.E). Nodes without a value for groupKey are placed in a single
// set keyed by the empty string (callers for ScopeHost should pass "host"
// and rely on every node always carrying one).
func BuildSets(nodes []*entity.Node, groupKey string, consumable, nonConsumable []string) []*Set {
	byValue := map[string]*Set{}
	var order []string

	for _, n := range nodes {
		val := groupValue(n, groupKey)
		s, ok := byValue[val]
		if !ok {
			s = &Set{GroupKey: groupKey, GroupValue: val, Agg: map[string]entity.AvailAssigned{}}
			byValue[val] = s
			order = append(order, val)
		}
		s.Nodes = append(s.Nodes, n)
		if n.State.Free {
			s.FreeNodes++
		}
		for _, name := range consumable {
			pair := n.ResPair(name)
			cur := s.Agg[name]
			if pair.Avail.IsSet() {
				av, _ := resource.Add(cur.Avail, pair.Avail)
				cur.Avail = av
			}
			as, _ := resource.Add(cur.Assigned, pair.Assigned)
			cur.Assigned = as
			s.Agg[name] = cur
		}
		for _, name := range nonConsumable {
			pair := n.ResPair(name)
			cur := s.Agg[name]
			u, _ := resource.Add(cur.Avail, pair.Avail) // string-array union via Add; scalars: last-wins
			cur.Avail = u
			s.Agg[name] = cur
		}
	}

	out := make([]*Set, 0, len(order))
	for _, v := range order {
		out = append(out, byValue[v])
	}
	return out
}

func groupValue(n *entity.Node, groupKey string) string {
	switch groupKey {
	case "host":
		return n.Host
	default:
		pair := n.ResPair(groupKey)
		if pair.Avail.IsSet() {
			return pair.Avail.Str()
		}
		return ""
	}
}

// Residual returns a Set's spare capacity for resName: avail-assigned, or
// +Inf if unset.
func (s *Set) Residual(resName string) float64 {
	pair := s.Agg[resName]
	if !pair.Avail.IsSet() {
		return 1e18
	}
	return pair.Avail.Num() - pair.Assigned.Num()
}

// Fits reports whether req (summed across n copies) fits within s's
// aggregate residual for every RASSN resource in req.
func (s *Set) Fits(req *resource.Bag, n int) bool {
	for _, name := range req.Names() {
		v, _ := req.Get(name)
		if !v.IsSet() {
			continue
		}
		if s.Residual(name) < v.Num()*float64(n) {
			return false
		}
	}
	return true
}

// SortSmallestFitsFirst sorts sets ascending by the given metric function
// (free cpus, free nodes, residual after fit — spec §4.E: "sort sets
// ascending by a policy-configured metric so the smallest-fitting set is
// tried first").
func SortSmallestFitsFirst(sets []*Set, metric func(*Set) float64) {
	sort.SliceStable(sets, func(i, j int) bool { return metric(sets[i]) < metric(sets[j]) })
}

// RestrictToGroup filters sets down to those matching groupValue, for a
// job's explicit `place=group=K` directive (spec §4.E placement rule).
func RestrictToGroup(sets []*Set, groupValue string) []*Set {
	for _, s := range sets {
		if s.GroupValue == groupValue {
			return []*Set{s}
		}
	}
	return nil
}

// SmallestThatCouldHold returns the smallest set (by free-node count) whose
// aggregate capacity could hold req*n, used when spanning placement sets is
// forbidden (spec §4.E do_not_span_psets, §4.H check 6).
func SmallestThatCouldHold(sets []*Set, req *resource.Bag, n int) (*Set, bool) {
	var best *Set
	for _, s := range sets {
		if !s.Fits(req, n) {
			continue
		}
		if best == nil || s.FreeNodes < best.FreeNodes {
			best = s
		}
	}
	return best, best != nil
}
