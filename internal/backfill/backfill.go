// Package backfill implements the top-job / backfill planner (spec §4.K):
// a head-of-line job that cannot run now is promised its next feasible
// start by reserving run/end events on the calendar; lower-priority jobs
// may then fill the gap ahead of that start as long as they do not push any
// committed top job's start later.
package backfill

import (
	"fmt"

	"github.com/pbssched/core/internal/calendar"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/schederr"
)

// epsilon absorbs floating-point noise when comparing a re-simulated start
// time against the originally committed one.
const epsilon = 1e-6

// FitsFn reports whether rr fits in u's state at u.Server.Now, the same
// signature calendar.CalcRunTime already expects from internal/fit —
// internal/cycle supplies the same adapter to both packages.
type FitsFn func(u *calendar.Universe, rr *entity.ResResv) bool

// Policy carries the site settings that gate top-job promotion (spec §4.K).
type Policy struct {
	// StrictOrdering forbids backfill entirely: no job may start out of
	// priority order, so no candidate is ever reserved as a top job and no
	// later job is ever allowed to run ahead of one.
	StrictOrdering bool

	// FormulaThreshold excludes jobs whose cached formula value is below it
	// from becoming top jobs. Zero means no threshold.
	FormulaThreshold float64

	// QueueDepth caps concurrent top jobs per queue name; a queue absent
	// from this map falls back to ServerDepth.
	QueueDepth map[string]int
	// ServerDepth is the server-wide backfill_depth default.
	ServerDepth int
}

func (p Policy) depthFor(queue string) int {
	if d, ok := p.QueueDepth[queue]; ok {
		return d
	}
	return p.ServerDepth
}

// TopJob is one committed future start (spec §4.K).
type TopJob struct {
	Name  string
	Rank  int
	Queue string
	Start float64

	runEvent *calendar.Event
	endEvent *calendar.Event
}

// Planner tracks the top jobs committed so far this cycle, per queue.
type Planner struct {
	Policy Policy
	top    map[string][]*TopJob
}

func NewPlanner(pol Policy) *Planner {
	return &Planner{Policy: pol, top: map[string][]*TopJob{}}
}

// Count returns the number of top jobs currently committed for queue.
func (pl *Planner) Count(queue string) int { return len(pl.top[queue]) }

func (pl *Planner) allTopJobs() []*TopJob {
	var out []*TopJob
	for _, list := range pl.top {
		out = append(out, list...)
	}
	return out
}

// Reserve promises job the next feasible start (spec §4.K): it calls
// calc_run_time via calendar.CalcRunTime on a duplicate of u to find that
// start, then inserts a matching run/end event pair into u's calendar. u is
// the live universe; only that event pair is added to it —
// unlike preemption's candidate search, a committed top job is a real
// change to the shared calendar, not a simulation (spec §5: "the sinfo tree
// is exclusively owned by the cycle").
func (pl *Planner) Reserve(u *calendar.Universe, job *entity.ResResv, horizon float64, fits FitsFn) (*TopJob, *schederr.SchedError) {
	if pl.Policy.StrictOrdering {
		return nil, schederr.New(schederr.KindBackfillConflict, job.Name)
	}
	if job.Job != nil && pl.Policy.FormulaThreshold != 0 && job.Job.Formula < pl.Policy.FormulaThreshold {
		return nil, schederr.New(schederr.KindUnderFormulaThreshold, job.Name)
	}
	if depth := pl.Policy.depthFor(job.QueueName); depth > 0 && pl.Count(job.QueueName) >= depth {
		return nil, schederr.New(schederr.KindBackfillConflict, job.QueueName)
	}

	sim, err := u.Dup()
	if err != nil {
		return nil, schederr.New(schederr.KindSchedError, err.Error())
	}
	when, ok, err := calendar.CalcRunTime(sim, job.Name, horizon, fits)
	if err != nil {
		return nil, schederr.New(schederr.KindSchedError, err.Error())
	}
	if !ok {
		return nil, schederr.New(schederr.KindBackfillConflict, job.Name)
	}

	runEvt := &calendar.Event{Time: when, Kind: calendar.KindRun, Subject: job.Rank, Rank: job.Rank}
	endEvt := &calendar.Event{Time: when + job.Duration, Kind: calendar.KindEnd, Subject: job.Rank, Rank: job.Rank}
	u.Calendar.AddEvent(runEvt)
	u.Calendar.AddEvent(endEvt)

	tj := &TopJob{Name: job.Name, Rank: job.Rank, Queue: job.QueueName, Start: when, runEvent: runEvt, endEvent: endEvt}
	pl.top[job.QueueName] = append(pl.top[job.QueueName], tj)
	job.Start = when
	return tj, nil
}

// Release cancels a previously reserved top job, e.g. once it has actually
// started running (its calendar events are superseded by the real ones the
// orchestrator commits) or the reservation is no longer needed.
func (pl *Planner) Release(u *calendar.Universe, tj *TopJob) {
	u.Calendar.DeleteEvent(tj.runEvent)
	u.Calendar.DeleteEvent(tj.endEvent)
	list := pl.top[tj.Queue]
	for i, x := range list {
		if x == tj {
			pl.top[tj.Queue] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// CanBackfill decides whether candidate — already proven fit by
// internal/fit, with NSpecAlloc populated — may actually start now without
// pushing any committed top job's start later (spec §4.K: "subsequent
// lower-priority jobs may run iff they fit without moving any top job's
// committed start later, verified by simulating with those events in
// place"). It duplicates u (adding a copy of candidate if u does not hold
// it), provisionally applies candidate's allocation, and re-runs
// calc_run_time for every outstanding top job; any top job whose
// recomputed start moves later fails the check.
func (pl *Planner) CanBackfill(u *calendar.Universe, candidate *entity.ResResv, horizon float64, fits FitsFn) (bool, error) {
	if pl.Policy.StrictOrdering {
		return false, nil
	}
	all := pl.allTopJobs()
	if len(all) == 0 {
		return true, nil // nothing committed yet to protect
	}

	dup, err := u.Dup()
	if err != nil {
		return false, fmt.Errorf("backfill: dup universe: %w", err)
	}
	ranks := dup.RankIndex()
	cand, ok := ranks[candidate.Rank]
	if !ok {
		cand = candidate.Dup()
		dup.Server.Jobs = append(dup.Server.Jobs, cand)
	}
	if len(cand.NSpecAlloc) == 0 {
		return false, fmt.Errorf("backfill: candidate %q has no allocation to simulate", candidate.Name)
	}
	if err := dup.ApplyRun(cand); err != nil {
		return false, fmt.Errorf("backfill: apply candidate run: %w", err)
	}
	dup.Calendar.AddEvent(&calendar.Event{
		Time: dup.Server.Now + cand.Duration, Kind: calendar.KindEnd,
		Subject: cand.Rank, Rank: cand.Rank,
	})

	for _, tj := range all {
		when, ok, err := calendar.CalcRunTime(dup, tj.Name, horizon, fits)
		if err != nil {
			return false, fmt.Errorf("backfill: recompute %q: %w", tj.Name, err)
		}
		if !ok || when > tj.Start+epsilon {
			return false, nil
		}
	}
	return true, nil
}
