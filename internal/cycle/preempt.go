package cycle

import (
	"context"

	"github.com/pbssched/core/internal/calendar"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/fit"
	"github.com/pbssched/core/internal/preempt"
	"github.com/pbssched/core/internal/schederr"
)

// universeSimulator backs internal/preempt.Simulator with a duplicated
// calendar.Universe: Release tentatively ends a candidate (returning its
// resources), Restore re-applies its run. Neither touches the live
// universe — internal/preempt never imports internal/calendar itself (see
// preempt.Simulator's doc comment), this is the glue only the orchestrator
// can provide.
type universeSimulator struct {
	u *calendar.Universe
}

func (s *universeSimulator) Release(c *preempt.Candidate) {
	_ = s.u.ApplyEnd(c.RR, s.u.Server.RestrictReleaseOnSuspend)
}

func (s *universeSimulator) Restore(c *preempt.Candidate) {
	_ = s.u.ApplyRun(c.RR)
}

// tryPreempt implements spec §4.J end-to-end: build the candidate pool
// against a duplicated universe, find+verify a minimal preemption set,
// commit it through the server, then — only once the server confirms —
// replay the outcome onto the live universe (spec §5: "the preemption
// planner ... operates on a duplicated universe and never on the live one;
// changes are only reflected to live state after a commit succeeds").
func (o *Orchestrator) tryPreempt(ctx context.Context, live *calendar.Universe, target *entity.ResResv, failChain *schederr.Chain) (map[string]preempt.Method, bool) {
	dup, err := live.Dup()
	if err != nil {
		return nil, false
	}
	ranks := dup.RankIndex()
	targetDup, ok := ranks[target.Rank]
	if !ok {
		return nil, false
	}

	var kinds []schederr.Kind
	for _, e := range failChain.Errors() {
		kinds = append(kinds, e.Kind)
	}
	cands := preempt.FindCandidates(dup.Server, targetDup, o.Config.PrioTable, dup.Server.Now, kinds)
	if len(cands) == 0 {
		return nil, false
	}
	preempt.SortCandidates(cands, preempt.OrderByStartTime)

	sim := &universeSimulator{u: dup}
	fits := func() bool {
		pol := *o.Config.FitPolicy
		pol.Now = dup.Server.Now
		queue := findQueue(dup.Server, targetDup.QueueName)
		res, chain := fit.IsOkToRun(&pol, dup.Server, queue, targetDup, dup.Server.Nodes, o.Config.Flags)
		if !chain.Empty() {
			return false
		}
		targetDup.NSpecAlloc = res.NSpec
		return true
	}

	victims, ok := preempt.MinimalSet(sim, cands, fits)
	if !ok {
		return nil, false
	}

	methods, err := preempt.Commit(ctx, o.API, o.Config.OrderTable, victims)
	if err != nil {
		return nil, false
	}

	for name, m := range methods {
		if rr, ok := live.Server.JobByName(name); ok {
			applyPreemptMethod(live, rr, m)
		}
	}

	target.NSpecAlloc = targetDup.NSpecAlloc
	if err := live.ApplyRun(target); err != nil {
		return nil, false
	}
	target.Job.State = entity.JobRunning
	target.Start = live.Server.Now
	if err := o.API.RunJob(ctx, target.Name, execVnodeString(target.NSpecAlloc, live.Server.Nodes), false); err != nil {
		return nil, false
	}
	live.Calendar.AddEvent(&calendar.Event{Time: live.Server.Now + target.Duration, Kind: calendar.KindEnd, Subject: target.Rank, Rank: target.Rank})
	incrLimitCounters(live.Server, target, 1)
	return methods, true
}

// applyPreemptMethod reflects the server's reported per-job preempt method
// onto the live universe: release the node resources it held and update
// its state (spec §4.J step 7).
func applyPreemptMethod(u *calendar.Universe, rr *entity.ResResv, m preempt.Method) {
	switch m {
	case preempt.MethodSuspend:
		_ = u.ApplyEnd(rr, u.Server.RestrictReleaseOnSuspend)
		rr.Job.State = entity.JobSuspendedBySched
	case preempt.MethodCheckpoint:
		_ = u.ApplyEnd(rr, nil)
		rr.Job.State = entity.JobCheckpointed
	case preempt.MethodRequeue:
		_ = u.ApplyEnd(rr, nil)
		rr.Job.State = entity.JobQueued
	case preempt.MethodDelete:
		_ = u.ApplyEnd(rr, nil)
		removeJob(u.Server, rr.Rank)
	default:
		return // '0' failed: server kept the job running, nothing to reflect
	}
	incrLimitCounters(u.Server, rr, -1)
}

func removeJob(srv *entity.Server, rank int) {
	out := srv.Jobs[:0]
	for _, j := range srv.Jobs {
		if j.Rank != rank {
			out = append(out, j)
		}
	}
	srv.Jobs = out
}
