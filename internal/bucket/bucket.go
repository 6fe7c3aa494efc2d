// Package bucket implements the node-bucket index (spec §3.10, §4.F): an
// equivalence class of nodes sharing an identical non-consumable resource
// signature, queue association and job-exclusivity state, used to
// accelerate chunk fit for "simple" chunks.
package bucket

import (
	"sort"

	"github.com/hashicorp/go-set/v3"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/resource"
)

// Bucket groups nodes that share a signature built from the non-consumable
// resource names passed to Build (host-level non-consumables: vntype, arch,
// features, ...). Callers pass the set relevant to their registry.
type Bucket struct {
	Signature   string
	Repr        *entity.Node // representative node
	QueueAssoc  string
	Exclusive   bool

	All  *set.Set[int] // node ranks, invariant I-B1: All == Free ∪ Busy, Free ∩ Busy == ∅
	Free *set.Set[int]
	Busy *set.Set[int]

	// Pool is the aggregated consumable-resource capacity across all nodes
	// in the bucket (sum of avail, sum of assigned), refreshed whenever
	// membership changes.
	Pool map[string]entity.AvailAssigned
}

// Index is the full node-bucket index for one cycle (spec §4.F): built at
// cycle start and after any mutation that could change node signatures or
// exclusivity, then sorted by priority order.
type Index struct {
	Buckets []*Bucket
	byRank  map[int]*Bucket
}

// Build slots every node in nodes into a bucket keyed by (signature, queue,
// excl), aggregates consumable pools, and returns the index unsorted (call
// Sort with a priority comparator afterward).
func Build(nodes []*entity.Node, nonConsumable []string, consumable []string) *Index {
	byKey := map[string]*Bucket{}
	idx := &Index{byRank: map[int]*Bucket{}}

	for _, n := range nodes {
		bag := resource.NewBag()
		for _, name := range nonConsumable {
			pair := n.ResPair(name)
			bag.Set(name, pair.Avail)
		}
		excl := n.State.JobExclusive || n.ExclDefault
		sig := resource.Signature(bag)
		key := sig + "|" + n.Queue + "|" + boolStr(excl)

		b, ok := byKey[key]
		if !ok {
			b = &Bucket{
				Signature:  sig,
				Repr:       n,
				QueueAssoc: n.Queue,
				Exclusive:  excl,
				All:        set.New[int](0),
				Free:       set.New[int](0),
				Busy:       set.New[int](0),
				Pool:       map[string]entity.AvailAssigned{},
			}
			byKey[key] = b
			idx.Buckets = append(idx.Buckets, b)
		}
		b.All.Insert(n.Rank)
		if n.State.Free {
			b.Free.Insert(n.Rank)
		} else {
			b.Busy.Insert(n.Rank)
		}
		for _, name := range consumable {
			pair := n.ResPair(name)
			cur := b.Pool[name]
			if pair.Avail.IsSet() {
				av, _ := resource.Add(cur.Avail, pair.Avail)
				cur.Avail = av
			}
			as, _ := resource.Add(cur.Assigned, pair.Assigned)
			cur.Assigned = as
			b.Pool[name] = cur
		}
		idx.byRank[n.Rank] = b
	}
	return idx
}

func boolStr(b bool) string {
	if b {
		return "excl"
	}
	return "shared"
}

// Sort orders buckets so the evaluator consumes them in the same order
// policy would consume nodes (spec §4.F: "buckets are then themselves
// sorted by a priority ordering"). less compares two buckets' representative
// nodes.
func (idx *Index) Sort(less func(a, b *Bucket) bool) {
	sort.SliceStable(idx.Buckets, func(i, j int) bool { return less(idx.Buckets[i], idx.Buckets[j]) })
}

// BucketOf returns the bucket containing node rank r, if any.
func (idx *Index) BucketOf(rank int) (*Bucket, bool) {
	b, ok := idx.byRank[rank]
	return b, ok
}

// CheckInvariant verifies I-B1 for every bucket (used by tests and, at low
// cost, defensively after any reservation/free operation).
func (idx *Index) CheckInvariant() bool {
	for _, b := range idx.Buckets {
		if !b.Free.Union(b.Busy).Equal(b.All) {
			return false
		}
		if b.Free.Intersect(b.Busy).Size() != 0 {
			return false
		}
	}
	return true
}

// Reserve flips n node ranks from Free to Busy in b, for the bucket-fit fast
// path (spec §4.F: "atomically reserve N nodes by flipping bits from free
// to busy"). Returns the chosen ranks, or false if fewer than n are free.
func (b *Bucket) Reserve(n int) ([]int, bool) {
	if b.Free.Size() < n {
		return nil, false
	}
	chosen := make([]int, 0, n)
	for _, r := range b.Free.Slice() {
		if len(chosen) == n {
			break
		}
		chosen = append(chosen, r)
	}
	for _, r := range chosen {
		b.Free.Remove(r)
		b.Busy.Insert(r)
	}
	return chosen, true
}

// Release flips ranks back from Busy to Free (the inverse of Reserve, used
// when a simulated job ends, spec §4.I).
func (b *Bucket) Release(ranks []int) {
	for _, r := range ranks {
		b.Busy.Remove(r)
		b.Free.Insert(r)
	}
}

// AdmitsN reports whether the bucket's aggregated consumable pool can
// provide n copies of req (spec §4.F "pick the first bucket whose
// consumable pool admits N copies of the chunk").
func (b *Bucket) AdmitsN(req *resource.Bag, n int) bool {
	for _, name := range req.Names() {
		reqVal, _ := req.Get(name)
		if !reqVal.IsSet() {
			continue
		}
		pool := b.Pool[name]
		if !pool.Avail.IsSet() {
			continue // unset avail == infinite
		}
		residual := pool.Avail.Num() - pool.Assigned.Num()
		if residual < reqVal.Num()*float64(n) {
			return false
		}
	}
	return b.Free.Size() >= n
}
