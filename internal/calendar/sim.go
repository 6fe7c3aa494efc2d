package calendar

import (
	"fmt"

	"github.com/pbssched/core/internal/entity"
)

// SimKind selects which calendar Kinds a simulation pass processes.
type SimKind int

const (
	SimAllEvents SimKind = iota
	SimEndsOnly
)

func maskFor(k SimKind) map[Kind]bool {
	switch k {
	case SimEndsOnly:
		return map[Kind]bool{KindEnd: true}
	default:
		return nil // nil mask == every kind
	}
}

// SimulateEvents fast-forwards u's state through every calendar event up to
// endTime (spec §4.I simulate_events). When mutate is false, it only
// advances the conceptual clock for callers that want to know "would this
// event have fired by endTime" without actually touching node/queue
// counters — used by read-only horizon checks.
func SimulateEvents(u *Universe, kind SimKind, endTime float64, mutate bool) error {
	mask := maskFor(kind)
	ranks := u.RankIndex()
	var firstErr error
	GenericSim(u.Calendar, mask, endTime, func(e *Event) SimOutcome {
		if !mutate {
			return SimContinue
		}
		rr, ok := ranks[e.Subject]
		if !ok {
			return SimContinue
		}
		switch e.Kind {
		case KindRun:
			if err := u.ApplyRun(rr); err != nil && firstErr == nil {
				firstErr = err
			}
		case KindEnd:
			if err := u.ApplyEnd(rr, nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return SimContinue
	})
	return firstErr
}

// CalcRunTime determines the earliest future time jobName can run by
// replaying the calendar, tentatively ending jobs as their end events fire
// and returning their resources, then testing fit at each step (spec §4.I
// calc_run_time). fitFn is supplied by the caller (internal/cycle wraps
// internal/fit's evaluator), so this package does not import internal/fit.
//
// fitFn must return true iff rr fits in u's state at the instant it is
// called; CalcRunTime calls it once per candidate time (every End/
// ProvisioningComplete/PolicyChange boundary up to horizon, plus the
// starting instant).
func CalcRunTime(u *Universe, jobName string, horizon float64, fitFn func(u *Universe, rr *entity.ResResv) bool) (float64, bool, error) {
	var target *entity.ResResv
	for _, j := range u.Server.Jobs {
		if j.Name == jobName {
			target = j
			break
		}
	}
	if target == nil {
		return 0, false, fmt.Errorf("calendar: calc_run_time: job %q not found", jobName)
	}

	if fitFn(u, target) {
		return u.Server.Now, true, nil
	}

	ranks := u.RankIndex()
	found := false
	var when float64
	GenericSim(u.Calendar, map[Kind]bool{KindEnd: true, KindProvisioningComplete: true, KindPolicyChange: true}, horizon, func(e *Event) SimOutcome {
		if e.Kind == KindEnd {
			if rr, ok := ranks[e.Subject]; ok {
				_ = u.ApplyEnd(rr, nil)
			}
		}
		u.Server.Now = e.Time
		if fitFn(u, target) {
			found = true
			when = e.Time
			return SimStop
		}
		return SimContinue
	})
	if !found {
		return 0, false, nil
	}
	return when, true, nil
}
