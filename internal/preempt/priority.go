// Package preempt implements the preemption planner (spec §4.J): given a
// high-priority job H that cannot run, choose a minimal set of lower-level
// running jobs to suspend/checkpoint/requeue/delete so H fits, without
// creating priority inversion.
package preempt

// Bit is one axis of a job's preempt-status bitmask (spec §3.4
// preempt_status, §9 supplemented bit layout: "qrun target, express queue,
// starving, fairshare-over, then the eight soft-limit bits, then normal").
// Order fixes bit position, which in turn fixes how a PrioTable's masks are
// authored; changing this order would silently reshuffle every site's
// preempt_prio table, so it is never reordered after being set here.
type Bit uint32

const (
	BitQrunTarget Bit = 1 << iota
	BitExpressQueue
	BitStarving
	BitFairshareOver
	BitSoftLimitServerUser
	BitSoftLimitQueueUser
	BitSoftLimitServerGroup
	BitSoftLimitQueueGroup
	BitSoftLimitServerProject
	BitSoftLimitQueueProject
	BitSoftLimitServerAll
	BitSoftLimitQueueAll
	// BitNormal is set when none of the above apply: every running job
	// matches at least this bit, guaranteeing PrioTable always has a match.
	BitNormal
)

// Status computes a job's preempt_status bitmask from its current flags
// (spec §4.J). qrunTarget marks the job as the target of an explicit qrun
// (operator-forced run), which always outranks every other category.
func Status(job *JobView, qrunTarget bool) uint32 {
	var s uint32
	if qrunTarget {
		s |= uint32(BitQrunTarget)
	}
	if job.IsExpressQueue {
		s |= uint32(BitExpressQueue)
	}
	if job.IsStarving {
		s |= uint32(BitStarving)
	}
	if job.FairshareOver {
		s |= uint32(BitFairshareOver)
	}
	s |= job.SoftLimitHits << 4 // soft-limit bits occupy positions 4..11
	if s == 0 {
		s |= uint32(BitNormal)
	}
	return s
}

// JobView is the scalar projection of an entity.ResResv the priority/order
// tables need, kept decoupled from internal/entity so this package can be
// unit-tested without building a full snapshot.
type JobView struct {
	Name    string
	Rank    int
	Start   float64
	Elapsed float64 // now - start, for preempt_order percent-elapsed lookups

	IsExpressQueue bool
	IsStarving     bool
	FairshareOver  bool
	SoftLimitHits  uint32

	CapableOfSuspend    bool
	CapableOfCheckpoint bool
	CapableOfRequeue    bool

	WalltimeRequested float64
}

// PrioRow is one row of a site's preempt_prio table: a bitmask and the
// priority assigned when a job's status has every bit in Mask set (spec
// §4.J: "a site-provided preempt_prio table maps bitmasks to numeric
// priorities; the highest-priority matching row wins").
type PrioRow struct {
	Mask     uint32
	Priority int
}

// PrioTable is an ordered list of PrioRows.
type PrioTable []PrioRow

// DefaultPrioTable gives every named category a distinct priority band,
// highest first, with a catch-all "normal" row at the bottom so every
// status always matches something.
func DefaultPrioTable() PrioTable {
	return PrioTable{
		{Mask: uint32(BitQrunTarget), Priority: 900},
		{Mask: uint32(BitExpressQueue), Priority: 800},
		{Mask: uint32(BitStarving), Priority: 50}, // starving jobs are protected, not preempted: low priority means "hard to preempt"
		{Mask: uint32(BitFairshareOver), Priority: 400},
		{Mask: uint32(BitSoftLimitServerUser), Priority: 410},
		{Mask: uint32(BitSoftLimitQueueUser), Priority: 410},
		{Mask: uint32(BitSoftLimitServerGroup), Priority: 420},
		{Mask: uint32(BitSoftLimitQueueGroup), Priority: 420},
		{Mask: uint32(BitSoftLimitServerProject), Priority: 420},
		{Mask: uint32(BitSoftLimitQueueProject), Priority: 420},
		{Mask: uint32(BitSoftLimitServerAll), Priority: 430},
		{Mask: uint32(BitSoftLimitQueueAll), Priority: 430},
		{Mask: uint32(BitNormal), Priority: 100},
	}
}

// Priority returns the highest Priority among rows whose Mask is fully
// contained in status. Every express-queue job matches the same
// BitExpressQueue row; the express queue's own priority is not folded into
// the result, so all express queues rank alike.
func (t PrioTable) Priority(status uint32) int {
	best := -1
	for _, row := range t {
		if status&row.Mask == row.Mask {
			if row.Priority > best {
				best = row.Priority
			}
		}
	}
	return best
}

// Method is one preemption action (spec §4.J).
type Method string

const (
	MethodSuspend    Method = "S"
	MethodCheckpoint Method = "C"
	MethodRequeue    Method = "Q"
	MethodDelete     Method = "D"
	MethodFailed     Method = "0"
)

// OrderRow is one row of a site's preempt_order table, keyed by the upper
// bound of elapsed-walltime percentage it applies to.
type OrderRow struct {
	MaxPercentElapsed float64 // row applies when elapsed% <= this
	Methods           []Method
}

// OrderTable is an ascending-by-MaxPercentElapsed list of OrderRow.
type OrderTable []OrderRow

// DefaultOrderTable tries suspend, checkpoint, requeue, then delete for a
// job up to 50% through its walltime, and checkpoint, suspend, requeue,
// then delete beyond that; delete is the last resort in both rows.
func DefaultOrderTable() OrderTable {
	return OrderTable{
		{MaxPercentElapsed: 50, Methods: []Method{MethodSuspend, MethodCheckpoint, MethodRequeue, MethodDelete}},
		{MaxPercentElapsed: 100, Methods: []Method{MethodCheckpoint, MethodSuspend, MethodRequeue, MethodDelete}},
	}
}

// MethodsFor returns the ordered methods applicable to job, filtered to
// what it can tolerate (spec §4.J: "only methods the job can tolerate ...
// are kept").
func (t OrderTable) MethodsFor(job *JobView) []Method {
	percent := 0.0
	if job.WalltimeRequested > 0 {
		percent = (job.Elapsed / job.WalltimeRequested) * 100
	}
	var row OrderRow
	found := false
	for _, r := range t {
		if percent <= r.MaxPercentElapsed {
			row = r
			found = true
			break
		}
	}
	if !found && len(t) > 0 {
		row = t[len(t)-1]
	}
	var out []Method
	for _, m := range row.Methods {
		switch m {
		case MethodSuspend:
			if job.CapableOfSuspend {
				out = append(out, m)
			}
		case MethodCheckpoint:
			if job.CapableOfCheckpoint {
				out = append(out, m)
			}
		case MethodRequeue:
			if job.CapableOfRequeue {
				out = append(out, m)
			}
		case MethodDelete:
			out = append(out, m) // always tolerated, last resort
		}
	}
	return out
}
