// Package fit implements the resource-fit evaluator (spec §4.H): given a
// job's select/place request and the current state of nodes, decide
// whether it can run and, if so, produce a concrete nspec allocation.
package fit

import (
	"sort"

	"github.com/pbssched/core/internal/bucket"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/limit"
	"github.com/pbssched/core/internal/placement"
	"github.com/pbssched/core/internal/request"
	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/schederr"
)

// Flags mirror spec §4.H's evaluator flags.
type Flags struct {
	ReturnAllErr  bool // enumerate every failure reason instead of stopping at first
	NoAllPart     bool // skip global pool intersection
	HasRunjobHook bool // spec §3.2 supplement: carried for callers; IsOkToRun does not consult it
}

// Policy carries the site-configured decisions the evaluator consults:
// whether jobs may cross a prime/dedicated boundary, the node-sort
// comparator used for tie-breaks (spec §4.H.3), and the grouping key
// default.
type Policy struct {
	AllowCrossPrimeBoundary bool
	AllowCrossDedicated     bool
	ServerGroupKey          string // "" if none
	NodeSortLess            func(a, b *entity.Node) bool
	Registry                *resource.Registry

	// ConsumableNames / NonConsumableNames list the resources the bucket
	// and placement-set engines aggregate; set by whoever builds the Policy
	// (the command sets them once at startup) and passed down.
	ConsumableNames    []string
	NonConsumableNames []string

	// Now is the cycle's current time, used for prime/dedicated-time
	// admissibility checks.
	Now float64

	IsDedicatedTime   func(t float64) bool
	IsPrimetime       func(t float64) bool
}

// Result is a successful fit: the allocation plus whether the job ended up
// multinode.
type Result struct {
	NSpec       []entity.NSpec
	Multinode   bool
}

// IsOkToRun implements spec §4.H's ordered checks. queue may be nil for a
// reservation (spec: "queue (nullable for reservations)").
func IsOkToRun(pol *Policy, srv *entity.Server, queue *entity.Queue, rr *entity.ResResv, nodes []*entity.Node, flags Flags) (*Result, *schederr.Chain) {
	chain := schederr.NewChain()

	if rr.IsJob() {
		if se := checkAdmissibility(pol, queue, rr); se != nil {
			chain.Add(se)
			if !flags.ReturnAllErr {
				return nil, chain
			}
		}
		if se := checkBoundaryCrossing(pol, rr); se != nil {
			chain.Add(se)
			if !flags.ReturnAllErr {
				return nil, chain
			}
		}
		if se := checkHardLimits(srv, queue, rr); se != nil {
			chain.Add(se)
			if !flags.ReturnAllErr {
				return nil, chain
			}
		}
	}

	if se := checkPoolCapacity(srv, queue, rr, flags); se != nil {
		chain.Add(se)
		if !flags.ReturnAllErr {
			return nil, chain
		}
	}

	candidateNodes := nodes
	if rr.IsJob() {
		candidateNodes = filterReservationProtected(nodes, srv)
	}

	sets, setErr := computeCandidateSet(pol, candidateNodes, rr)
	if setErr != nil {
		chain.Add(setErr)
		if !flags.ReturnAllErr {
			return nil, chain
		}
	}

	var chosenNodes []*entity.Node
	for _, s := range sets {
		chosenNodes = append(chosenNodes, s.Nodes...)
	}
	if sets == nil {
		chosenNodes = candidateNodes
	}

	alloc, allocErr := satisfy(pol, chosenNodes, rr)
	if allocErr != nil {
		chain.Add(allocErr)
		return nil, chain
	}

	if rr.IsResv() {
		for _, ns := range alloc {
			node := nodeByRank(nodes, ns.NodeRank)
			if node != nil && !node.AcceptsReservations {
				chain.Add(schederr.New(schederr.KindNodeNotResvEligible, node.Name))
				if !flags.ReturnAllErr {
					return nil, chain
				}
			}
		}
	}

	return &Result{NSpec: alloc, Multinode: request.Multinode(rr.Select, rr.Place)}, chain
}

func nodeByRank(nodes []*entity.Node, rank int) *entity.Node {
	for _, n := range nodes {
		if n.Rank == rank {
			return n
		}
	}
	return nil
}

// checkAdmissibility implements spec §4.H check 1.
func checkAdmissibility(pol *Policy, queue *entity.Queue, rr *entity.ResResv) *schederr.SchedError {
	if rr.Job.State != entity.JobQueued {
		return schederr.New(schederr.KindNotQueued, rr.Name)
	}
	if queue == nil {
		return schederr.New(schederr.KindInvalidResresv, rr.Name)
	}
	if !queue.Started {
		return schederr.New(schederr.KindQueueNotStarted, queue.Name)
	}
	if !queue.IsExec {
		return schederr.New(schederr.KindQueueNotExec, queue.Name)
	}
	if pol.IsDedicatedTime != nil && pol.IsDedicatedTime(pol.Now) && !queue.DedicatedTime {
		return schederr.New(schederr.KindDedicatedTime, queue.Name)
	}
	if pol.IsPrimetime != nil {
		prime := pol.IsPrimetime(pol.Now)
		if queue.Primetime && !prime {
			return schederr.New(schederr.KindPrimeOnly, queue.Name)
		}
		if queue.NonPrimetime && prime {
			return schederr.New(schederr.KindNonprimeOnly, queue.Name)
		}
	}
	return nil
}

// checkBoundaryCrossing implements spec §4.H check 2.
func checkBoundaryCrossing(pol *Policy, rr *entity.ResResv) *schederr.SchedError {
	if pol.AllowCrossPrimeBoundary && pol.AllowCrossDedicated {
		return nil
	}
	end := pol.Now + rr.Duration
	if !pol.AllowCrossDedicated && pol.IsDedicatedTime != nil {
		if pol.IsDedicatedTime(pol.Now) != pol.IsDedicatedTime(end) {
			return schederr.New(schederr.KindCrossDedicated, rr.Name)
		}
	}
	if !pol.AllowCrossPrimeBoundary && pol.IsPrimetime != nil {
		if pol.IsPrimetime(pol.Now) != pol.IsPrimetime(end) {
			return schederr.New(schederr.KindCrossPrimeBoundary, rr.Name)
		}
	}
	return nil
}

// checkHardLimits implements spec §4.H check 3: evaluate D against server
// then queue.
func checkHardLimits(srv *entity.Server, queue *entity.Queue, rr *entity.ResResv) *schederr.SchedError {
	in := limit.EvalInput{
		User: rr.Job.User, Group: rr.Job.Group, Project: rr.Job.Project, QueueName: rr.QueueName,
		ResourceAmounts: bagToMap(rr.ResReq),
	}
	if v, _ := limit.Eval(srv.Limits, srv.Counters, limit.ScopeServer, in); v != nil {
		return schederr.New(schederr.KindLimit, v.Rule.Entity.String(), v.Rule.EntityName).WithRDef(v.Rule.ResName)
	}
	if queue != nil && queue.Limits != nil {
		if v, _ := limit.Eval(queue.Limits, srv.Counters, limit.ScopeQueue, in); v != nil {
			return schederr.New(schederr.KindLimit, v.Rule.Entity.String(), v.Rule.EntityName).WithRDef(v.Rule.ResName)
		}
	}
	return nil
}

func bagToMap(b *resource.Bag) map[string]float64 {
	out := map[string]float64{}
	if b == nil {
		return out
	}
	for _, n := range b.Names() {
		v, _ := b.Get(n)
		if v.IsSet() {
			out[n] = v.Num()
		}
	}
	return out
}

// checkPoolCapacity implements spec §4.H check 4: each requested amount is
// compared with the queue's resources_available, when the queue has one. No
// server-level pool is checked, and amounts already assigned in the queue
// are not subtracted.
func checkPoolCapacity(srv *entity.Server, queue *entity.Queue, rr *entity.ResResv, flags Flags) *schederr.SchedError {
	if flags.NoAllPart {
		return nil
	}
	for _, name := range rr.ResReq.Names() {
		v, _ := rr.ResReq.Get(name)
		if !v.IsSet() {
			continue
		}
		if queue != nil && queue.ResourcesAvailable != nil {
			if avail, ok := queue.ResourcesAvailable[name]; ok && avail < v.Num() {
				return schederr.New(schederr.KindInsufficientQueueResource, name)
			}
		}
	}
	_ = srv
	return nil
}

// filterReservationProtected implements spec §4.H check 5: for
// non-reservation work, filter out nodes exclusively held by an active or
// imminent confirmed reservation.
func filterReservationProtected(nodes []*entity.Node, srv *entity.Server) []*entity.Node {
	protected := map[int]bool{}
	for _, r := range srv.Resvs {
		if r.Resv == nil || (r.Resv.State != entity.ResvConfirmed && r.Resv.State != entity.ResvRunning) {
			continue
		}
		for _, ns := range r.NSpecAlloc {
			if ns.Exclusive {
				protected[ns.NodeRank] = true
			}
		}
	}
	var out []*entity.Node
	for _, n := range nodes {
		if !protected[n.Rank] {
			out = append(out, n)
		}
	}
	return out
}

// computeCandidateSet implements spec §4.H check 6: placement.
func computeCandidateSet(pol *Policy, nodes []*entity.Node, rr *entity.ResResv) ([]*placement.Set, *schederr.SchedError) {
	groupKey := rr.Place.GroupBy
	if groupKey == "" {
		groupKey = pol.ServerGroupKey
	}
	if groupKey == "" {
		return nil, nil // no grouping requested: candidate set is all nodes
	}
	sets := placement.BuildSets(nodes, groupKey, pol.ConsumableNames, pol.NonConsumableNames)
	if rr.Place.GroupBy != "" {
		restricted := placement.RestrictToGroup(sets, groupValueHint(rr))
		if restricted == nil {
			return nil, schederr.New(schederr.KindCannotSpanPlacementSet, groupKey)
		}
		if !restricted[0].Fits(rr.ResReq, rr.Select.TotalChunks()) {
			return nil, schederr.New(schederr.KindCannotSpanPlacementSet, groupKey)
		}
		return restricted, nil
	}
	best, ok := placement.SmallestThatCouldHold(sets, rr.ResReq, rr.Select.TotalChunks())
	if !ok {
		return nil, schederr.New(schederr.KindSetTooSmall, groupKey)
	}
	return []*placement.Set{best}, nil
}

// groupValueHint extracts the requested group value from the job's select
// chunks if present as an explicit host/resource pin; falls back to "" (the
// caller's RestrictToGroup then fails closed, matching "cannot determine
// group -> cannot span" semantics).
func groupValueHint(rr *entity.ResResv) string {
	for _, c := range rr.Select.Chunks {
		for _, r := range c.Requests {
			if r.Name == rr.Place.GroupBy {
				return r.Val
			}
		}
	}
	return ""
}

// satisfy implements spec §4.H check 7: bucket fit if simple, else
// per-node chunk-by-chunk search (§4.H.2).
func satisfy(pol *Policy, nodes []*entity.Node, rr *entity.ResResv) ([]entity.NSpec, *schederr.SchedError) {
	if isSimple(rr, pol) {
		idx := bucket.Build(nodes, pol.NonConsumableNames, pol.ConsumableNames)
		if pol.NodeSortLess != nil {
			idx.Sort(func(a, b *bucket.Bucket) bool { return pol.NodeSortLess(a.Repr, b.Repr) })
		}
		if alloc, ok := bucketSatisfy(idx, rr); ok {
			return alloc, nil
		}
	}
	return chunkByChunkSatisfy(pol, nodes, rr)
}

// isSimple reports whether every chunk's request is tracked entirely by
// bucket aggregation and has no host/vnode pin (spec §4.F).
func isSimple(rr *entity.ResResv, pol *Policy) bool {
	for _, c := range rr.Select.Chunks {
		for _, r := range c.Requests {
			if r.Name == "host" || r.Name == "vnode" {
				return false
			}
			if pol.Registry != nil {
				if _, ok := pol.Registry.Lookup(r.Name); !ok {
					return false
				}
			}
		}
	}
	return true
}

func bucketSatisfy(idx *bucket.Index, rr *entity.ResResv) ([]entity.NSpec, bool) {
	var out []entity.NSpec
	for _, c := range rr.Select.Chunks {
		req := chunkBag(c)
		placed := false
		for _, b := range idx.Buckets {
			if !b.AdmitsN(req, c.N) {
				continue
			}
			ranks, ok := b.Reserve(c.N)
			if !ok {
				continue
			}
			for _, r := range ranks {
				out = append(out, entity.NSpec{NodeRank: r, Chunks: 1, Taken: req})
			}
			placed = true
			break
		}
		if !placed {
			return nil, false
		}
	}
	return out, true
}

func chunkBag(c request.Chunk) *resource.Bag {
	b := resource.NewBag()
	for _, r := range c.Requests {
		def := &resource.Definition{Name: r.Name, Kind: resource.KindLong, Flags: resource.Flags{Consumable: true, RASSN: true}}
		n, err := resource.ParseNum(r.Val)
		if err == nil {
			b.Set(r.Name, resource.NewNumeric(def, n))
		}
	}
	return b
}

// chunkByChunkSatisfy implements spec §4.H.2 for "complex" chunks (host/
// vnode pins, or resources buckets don't track): per-node search, allowing
// split across nodes when the chunk is non-RASSN and placement isn't pack.
func chunkByChunkSatisfy(pol *Policy, nodes []*entity.Node, rr *entity.ResResv) ([]entity.NSpec, *schederr.SchedError) {
	allowSplit := rr.Place.Arrangement != request.ArrangePack

	// Each placed chunk copy is charged to a working copy of its node, so
	// later copies see the reduced residual; the caller's nodes are untouched.
	work := make([]*entity.Node, len(nodes))
	for i, n := range nodes {
		work[i] = n.Dup()
	}

	var out []entity.NSpec
	for _, c := range rr.Select.Chunks {
		for copyIdx := 0; copyIdx < c.N; copyIdx++ {
			placed := false
			for _, n := range sortedCandidates(work, pol) {
				if !n.State.Runnable() {
					continue
				}
				if rr.Place.Sharing == request.ShareExcl && !n.State.Free {
					continue
				}
				taken, ok := tryTake(n, c, allowSplit)
				if !ok {
					continue
				}
				_ = n.UpdateOnRun(taken)
				out = append(out, entity.NSpec{NodeRank: n.Rank, Chunks: 1, Taken: taken, Exclusive: rr.Place.Sharing == request.ShareExcl})
				placed = true
				break
			}
			if !placed {
				return nil, schederr.New(schederr.KindInsufficientResourceOnNode, rr.Name)
			}
		}
	}
	if request.Multinode(rr.Select, rr.Place) && len(out) < rr.Select.TotalChunks() {
		return nil, schederr.New(schederr.KindNotEnoughNodes, rr.Name)
	}
	return out, nil
}

func sortedCandidates(nodes []*entity.Node, pol *Policy) []*entity.Node {
	out := append([]*entity.Node(nil), nodes...)
	if pol.NodeSortLess != nil {
		sort.SliceStable(out, func(i, j int) bool { return pol.NodeSortLess(out[i], out[j]) })
	}
	return out
}

func tryTake(n *entity.Node, c request.Chunk, allowSplit bool) (*resource.Bag, bool) {
	taken := resource.NewBag()
	for _, r := range c.Requests {
		if r.Name == "host" || r.Name == "vnode" {
			continue // pins: placement only, no consumption
		}
		def := n.Res[r.Name]
		var avail resource.Value
		if def != nil {
			avail, _ = def.Get("avail")
		}
		reqNum, err := resource.ParseNum(r.Val)
		if err != nil {
			continue
		}
		residual := n.Residual(r.Name)
		amount := reqNum
		if residual < reqNum {
			if !allowSplit {
				return nil, false
			}
			amount = residual
			if amount <= 0 {
				return nil, false
			}
		}
		defKind := resource.KindLong
		if avail.Def != nil {
			defKind = avail.Def.Kind
		}
		d := &resource.Definition{Name: r.Name, Kind: defKind, Flags: resource.Flags{Consumable: true, RASSN: true}}
		taken.Set(r.Name, resource.NewNumeric(d, amount))
	}
	return taken, true
}
