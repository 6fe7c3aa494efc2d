package preempt

import (
	"context"
	"fmt"
	"sort"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/schederr"
	"github.com/pbssched/core/internal/serverapi"
)

// Candidate pairs a running job with its computed priority for one
// planning pass.
type Candidate struct {
	RR       *entity.ResResv
	View     *JobView
	Priority int
}

// BuildJobView projects rr (which must be a running job) into the
// entity-agnostic JobView the priority/order tables consume.
func BuildJobView(rr *entity.ResResv, now float64) *JobView {
	elapsed := now - rr.Start
	if elapsed < 0 {
		elapsed = 0
	}
	return &JobView{
		Name: rr.Name, Rank: rr.Rank, Start: rr.Start, Elapsed: elapsed,
		IsExpressQueue: rr.Job.IsExpressQueue, IsStarving: rr.Job.IsStarving,
		FairshareOver: rr.Job.FairshareOver, SoftLimitHits: rr.Job.SoftLimitHits,
		CapableOfSuspend: rr.Job.CapableOfSuspend, CapableOfCheckpoint: rr.Job.CapableOfCheckpoint,
		CapableOfRequeue: rr.Job.CapableOfRequeue, WalltimeRequested: rr.Duration,
	}
}

// similarResourceKinds maps a fit failure Kind to the limit axis a
// candidate must share with the failing job to be considered "similar"
// (spec §4.J step 3: "for a server-user-limit failure, only that user's
// jobs are candidates"). Kinds absent from this map impose no similarity
// filter (any lower-priority running job anywhere in scope is a candidate).
var similarResourceKinds = map[schederr.Kind]func(failing, candidate *entity.ResResv) bool{
	schederr.KindLimit: func(failing, candidate *entity.ResResv) bool {
		return failing.Job.User == candidate.Job.User
	},
}

// FindCandidates builds the preemption candidate pool (spec §4.J step 3):
// running jobs strictly below target's preempt level, filtered by scope
// (same server, or same queue when failureKinds demand it) and by
// similarity to the recorded failure reasons.
func FindCandidates(srv *entity.Server, target *entity.ResResv, prio PrioTable, now float64, failureKinds []schederr.Kind) []*Candidate {
	targetView := BuildJobView(target, now)
	targetPriority := prio.Priority(Status(targetView, false))

	var filters []func(failing, candidate *entity.ResResv) bool
	for _, k := range failureKinds {
		if f, ok := similarResourceKinds[k]; ok {
			filters = append(filters, f)
		}
	}

	var out []*Candidate
	for _, j := range srv.Jobs {
		if j.Job == nil {
			continue
		}
		if j.Job.State != entity.JobRunning && j.Job.State != entity.JobSuspendedBySched {
			continue
		}
		pass := true
		for _, f := range filters {
			if !f(target, j) {
				pass = false
				break
			}
		}
		if !pass {
			continue
		}
		view := BuildJobView(j, now)
		p := prio.Priority(Status(view, false))
		if p >= targetPriority {
			continue // P5: never select a candidate at or above the target's level
		}
		out = append(out, &Candidate{RR: j, View: view, Priority: p})
	}
	return out
}

// OrderBy selects the tie-break used after sorting candidates ascending by
// Priority (spec §4.J step 4: "by site-configured order: ascending start
// time, or ascending preempt priority").
type OrderBy int

const (
	OrderByStartTime OrderBy = iota
	OrderByPriority
)

// SortCandidates orders candidates for the removal pass (spec §4.J step 4):
// ascending preempt-level first (lowest-priority work goes first), then the
// configured tie-break.
func SortCandidates(cands []*Candidate, tie OrderBy) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		switch tie {
		case OrderByPriority:
			return a.Priority < b.Priority
		default:
			return a.View.Start < b.View.Start
		}
	})
}

// FitsFn reports whether target would now fit, given the hypothetical
// removal of the candidates already passed to Remove/Add by the caller;
// internal/cycle supplies this by calling internal/fit.IsOkToRun against a
// duplicated internal/calendar.Universe with the candidate's nspec_alloc
// released (spec §4.J step 1: "operate on a duplicated universe").
type FitsFn func() bool

// Simulator abstracts the duplicated-universe mutation the minimal-set pass
// needs: releasing a candidate's resources, and restoring them, without
// internal/preempt importing internal/calendar; the caller supplies the
// implementation over its duplicated universe.
type Simulator interface {
	Release(c *Candidate)
	Restore(c *Candidate)
}

// MinimalSet implements spec §4.J steps 5-6: remove candidates in order
// until target fits, then reverse-walk the removed list adding jobs back
// whenever target still fits without them (preemption minimization, P4).
// Grounded on the kueue "minimalPreemptions" remove-forward/add-back-reverse
// heuristic.
func MinimalSet(sim Simulator, candidates []*Candidate, fits FitsFn) ([]*Candidate, bool) {
	var targets []*Candidate
	found := false
	for _, c := range candidates {
		sim.Release(c)
		targets = append(targets, c)
		if fits() {
			found = true
			break
		}
	}
	if !found {
		for _, c := range targets {
			sim.Restore(c)
		}
		return nil, false
	}
	for i := len(targets) - 2; i >= 0; i-- {
		sim.Restore(targets[i])
		if fits() {
			targets[i] = targets[len(targets)-1]
			targets = targets[:len(targets)-1]
		} else {
			sim.Release(targets[i])
		}
	}
	return targets, true
}

// CheckMinimal verifies P4 directly against a fits function: no candidate
// in targets can be dropped while target still fits. Used by tests and,
// optionally, as a post-pass sanity check.
func CheckMinimal(sim Simulator, targets []*Candidate, fits FitsFn) bool {
	for _, c := range targets {
		sim.Restore(c)
		ok := fits()
		sim.Release(c)
		if ok {
			return false
		}
	}
	return true
}

// Commit sends the preempt request for targets (spec §4.J step 7) and maps
// the per-job method reply to a name -> Method map; a job the server reports
// as failed (method '0') is kept in the map as MethodFailed.
func Commit(ctx context.Context, api serverapi.Server, order OrderTable, targets []*Candidate) (map[string]Method, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	names := make([]string, len(targets))
	for i, c := range targets {
		names[i] = c.RR.Name
	}
	reply, err := api.PreemptJobs(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("preempt: commit: %w", err)
	}
	out := make(map[string]Method, len(reply))
	for name, b := range reply {
		out[name] = methodFromByte(b)
	}
	return out, nil
}

func methodFromByte(b byte) Method {
	switch b {
	case 'S':
		return MethodSuspend
	case 'C':
		return MethodCheckpoint
	case 'Q':
		return MethodRequeue
	case 'D':
		return MethodDelete
	default:
		return MethodFailed
	}
}
