// Package schederr defines the error-kind table used by the resource-fit
// evaluator and preemption planner (spec §7): a closed set of named failure
// reasons, each with a status classification and up to three string args,
// plus a chain type for RETURN_ALL_ERR accumulation.
package schederr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Status classifies how the orchestrator should react to a SchedError.
type Status int

const (
	StatusRun Status = iota
	StatusNeverRun
	StatusSchedulingError
)

// Kind is a closed enumeration of failure reasons (spec §7).
type Kind string

const (
	// Admissibility
	KindNotQueued           Kind = "not-queued"
	KindQueueNotStarted     Kind = "queue-not-started"
	KindQueueNotExec        Kind = "queue-not-exec"
	KindDedicatedTime       Kind = "dedicated-time"
	KindCrossDedicated      Kind = "cross-dedicated"
	KindPrimeOnly           Kind = "prime-only"
	KindNonprimeOnly        Kind = "nonprime-only"
	KindCrossPrimeBoundary  Kind = "cross-prime-boundary"

	// Capacity
	KindInsufficientServerResource Kind = "insufficient-server-resource"
	KindInsufficientQueueResource  Kind = "insufficient-queue-resource"
	KindInsufficientResourceOnNode Kind = "insufficient-resource-on-node"
	KindNoFreeNodes                Kind = "no-free-nodes"
	KindNotEnoughNodes              Kind = "not-enough-nodes"
	KindCannotSpanPlacementSet      Kind = "cannot-span-placement-set"
	KindSetTooSmall                 Kind = "set-too-small"

	// Limits (12 variants: {server,queue} x {user,group,project,all} x {count,resource})
	KindLimit Kind = "limit"

	// Placement
	KindInvalidNodeState      Kind = "invalid-node-state"
	KindInvalidNodeType       Kind = "invalid-node-type"
	KindNodeNotExclusive      Kind = "node-not-exclusive"
	KindNodeMultiJobNotAllowed Kind = "node-multi-job-not-allowed"
	KindReservationConflict   Kind = "reservation-conflict"
	KindReservationInterference Kind = "reservation-interference"
	KindNodeNotResvEligible   Kind = "node-not-resv-eligible"

	// Preemption
	KindCannotPreemptEnoughWork Kind = "cannot-preempt-enough-work"
	KindNoPreemptMethodApplies Kind = "no-preempt-method-applies"
	KindProvConflict           Kind = "prov-conflict"

	// Provisioning
	KindProvDisabledServer  Kind = "prov-disabled-server"
	KindProvDisabledNode    Kind = "prov-disabled-node"
	KindAOEUnavailable      Kind = "aoe-unavailable"
	KindEOEUnavailable      Kind = "eoe-unavailable"
	KindProvMultiVnodeHost  Kind = "prov-multi-vnode-host"
	KindProvBackfillConflict Kind = "prov-backfill-conflict"

	// Other
	KindNoFairshare        Kind = "no-fairshare"
	KindUnderFormulaThreshold Kind = "under-formula-threshold"
	KindMaxRunSubjobs      Kind = "max-run-subjobs"
	KindInvalidResresv     Kind = "invalid-resresv"
	KindBackfillConflict   Kind = "backfill-conflict"
	KindSchedError         Kind = "schd-error"
)

// defaultStatus is the status a Kind carries absent an explicit override at
// construction (most capacity/admissibility/limit reasons are never-run for
// the remainder of the cycle; scheduling-errors are reserved for internal
// faults raised via New with StatusSchedulingError explicitly).
var defaultStatus = map[Kind]Status{
	KindInvalidResresv: StatusSchedulingError,
}

// unrecoverable lists kinds the preemption planner must treat as
// unrecoverable-by-preemption (spec §4.J step 2): no amount of preempting
// running work changes these outcomes.
var unrecoverable = map[Kind]bool{
	KindDedicatedTime:          true,
	KindCrossDedicated:         true,
	KindPrimeOnly:              true,
	KindNonprimeOnly:           true,
	KindCrossPrimeBoundary:     true,
	KindProvDisabledServer:     true,
	KindProvDisabledNode:       true,
	KindCannotSpanPlacementSet: true,
	KindNotQueued:              true,
	KindQueueNotStarted:        true,
	KindQueueNotExec:           true,
	KindNoFairshare:            true,
	KindUnderFormulaThreshold:  true,
	KindMaxRunSubjobs:          true,
}

// IsUnrecoverableByPreemption reports whether k can ever be fixed by
// preempting other work.
func IsUnrecoverableByPreemption(k Kind) bool { return unrecoverable[k] }

// SchedError is one failure instance: a kind, its status, up to three args
// (resource/entity names), and an optional resource definition name.
type SchedError struct {
	Kind     Kind
	Status   Status
	Args     [3]string
	RDefName string
}

func New(k Kind, args ...string) *SchedError {
	st, ok := defaultStatus[k]
	if !ok {
		st = StatusNeverRun
	}
	e := &SchedError{Kind: k, Status: st}
	for i := 0; i < len(args) && i < 3; i++ {
		e.Args[i] = args[i]
	}
	return e
}

func (e *SchedError) WithRDef(name string) *SchedError {
	e.RDefName = name
	return e
}

func (e *SchedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(trimEmpty(e.Args[:]), ", "))
}

func trimEmpty(args []string) []string {
	var out []string
	for _, a := range args {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Chain accumulates SchedErrors for RETURN_ALL_ERR mode (spec §4.H, §7):
// "checks accumulate into a chain when RETURN_ALL_ERR is requested;
// otherwise the first failure is returned."
type Chain struct {
	merr *multierror.Error
}

func NewChain() *Chain { return &Chain{} }

func (c *Chain) Add(e *SchedError) {
	c.merr = multierror.Append(c.merr, e)
}

func (c *Chain) Empty() bool {
	return c.merr == nil || len(c.merr.Errors) == 0
}

// Errors returns the accumulated SchedErrors in the order they were added.
func (c *Chain) Errors() []*SchedError {
	if c.merr == nil {
		return nil
	}
	out := make([]*SchedError, 0, len(c.merr.Errors))
	for _, e := range c.merr.Errors {
		if se, ok := e.(*SchedError); ok {
			out = append(out, se)
		}
	}
	return out
}

func (c *Chain) Error() string {
	if c.merr == nil {
		return ""
	}
	return c.merr.Error()
}

// HasUnrecoverable reports whether any accumulated error is unrecoverable by
// preemption (spec §4.J step 2).
func (c *Chain) HasUnrecoverable() bool {
	for _, e := range c.Errors() {
		if IsUnrecoverableByPreemption(e.Kind) {
			return true
		}
	}
	return false
}
