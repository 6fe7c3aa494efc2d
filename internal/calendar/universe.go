package calendar

import (
	"fmt"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/resource"
)

// Universe bundles a Server snapshot with its event calendar — the pair
// spec §4.B/§5 calls "the universe" that gets duplicated wholesale for
// backfill/preemption simulation. It lives in this package (rather than on
// entity.Server directly) so internal/calendar's pure event-list type never
// has to import internal/entity for its own sake, while callers that do
// need both together get a single Dup.
type Universe struct {
	Server   *entity.Server
	Calendar *List
}

// Dup deep-copies both the server snapshot and the calendar, remapping
// calendar Subject ranks are unnecessary since ranks are stable identifiers
// reused verbatim across Dup (spec §9: cross-references are rank integers,
// dup is a reindex not a pointer rewrite).
func (u *Universe) Dup() (*Universe, error) {
	srv, err := u.Server.Dup()
	if err != nil {
		return nil, fmt.Errorf("calendar: dup server: %w", err)
	}
	cal := NewList()
	for _, e := range u.Calendar.Snapshot() {
		cal.AddEvent(&Event{Time: e.Time, Kind: e.Kind, Subject: e.Subject, Rank: e.Rank})
	}
	return &Universe{Server: srv, Calendar: cal}, nil
}

// RankIndex resolves a calendar Subject rank back to its ResResv in u, or
// nil if it no longer exists (it may have been removed by a prior
// DeleteAndContinue during the same simulation pass).
func (u *Universe) RankIndex() map[int]*entity.ResResv {
	m := make(map[int]*entity.ResResv, len(u.Server.Jobs)+len(u.Server.Resvs))
	for _, j := range u.Server.Jobs {
		m[j.Rank] = j
	}
	for _, r := range u.Server.Resvs {
		m[r.Rank] = r
	}
	return m
}

// ApplyEnd releases rr's allocated resources from every node it occupies
// (spec §3.3 update_node_on_end) and marks it no longer running. If
// restrictRelease is non-empty, only those named resources are released
// (spec §4.J step 5: "if restrict-release-on-suspend is set, only release
// the named resources").
func (u *Universe) ApplyEnd(rr *entity.ResResv, restrictRelease []string) error {
	for _, ns := range rr.NSpecAlloc {
		node := findNode(u.Server.Nodes, ns.NodeRank)
		if node == nil {
			continue
		}
		taken := ns.Taken
		if len(restrictRelease) > 0 {
			taken = filterBag(taken, restrictRelease)
		}
		if err := node.UpdateOnEnd(taken); err != nil {
			return err
		}
		if len(restrictRelease) == 0 {
			node.JobRanks = removeRank(node.JobRanks, rr.Rank)
			if len(node.JobRanks) == 0 {
				node.State.JobBusy = false
				node.State.JobExclusive = false
				node.State.Free = true
			}
		}
	}
	return nil
}

// ApplyRun allocates rr onto the nodes its NSpecAlloc already names (spec
// §3.3 update_node_on_run): callers (fit/backfill) populate NSpecAlloc
// before calling ApplyRun.
func (u *Universe) ApplyRun(rr *entity.ResResv) error {
	for _, ns := range rr.NSpecAlloc {
		node := findNode(u.Server.Nodes, ns.NodeRank)
		if node == nil {
			return fmt.Errorf("calendar: nspec references unknown node rank %d", ns.NodeRank)
		}
		if err := node.UpdateOnRun(ns.Taken); err != nil {
			return err
		}
		node.JobRanks = append(node.JobRanks, rr.Rank)
		node.State.Free = false
		if ns.Exclusive {
			node.State.JobExclusive = true
		} else {
			node.State.JobBusy = true
		}
	}
	return nil
}

func findNode(nodes []*entity.Node, rank int) *entity.Node {
	for _, n := range nodes {
		if n.Rank == rank {
			return n
		}
	}
	return nil
}

func removeRank(ranks []int, r int) []int {
	out := ranks[:0]
	for _, x := range ranks {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}

func filterBag(b *resource.Bag, keep []string) *resource.Bag {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	out := resource.NewBag()
	for _, name := range b.Names() {
		if keepSet[name] {
			v, _ := b.Get(name)
			out.Set(name, v)
		}
	}
	return out
}
