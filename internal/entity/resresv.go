package entity

import (
	"github.com/pbssched/core/internal/request"
	"github.com/pbssched/core/internal/resource"
)

// Kind discriminates a ResResv's variant (spec §9 design note: "express as
// a discriminated record rather than inheritance").
type Kind int

const (
	KindJob Kind = iota
	KindResv
)

// NSpec is one entry of a resolved node allocation: how many chunks of a
// job/reservation landed on a given node, and which resources were taken
// from it.
type NSpec struct {
	NodeRank int
	Chunks   int
	Taken    *resource.Bag // per-resource amount taken from this node
	Exclusive bool
}

// Shared is the capability set common to jobs and reservations (spec §9:
// "{select, place, resreq, duration, nspec_alloc} — abstract behind a small
// read-only view").
type Shared struct {
	Name     string
	Rank     int
	QueueName string

	Select   request.Select
	Place    request.Place
	ResReq   *resource.Bag // summed request list

	Duration     float64
	HardDuration float64
	MinDuration  float64 // shrink-to-fit floor

	Start float64
	End   float64

	NSpecAlloc []NSpec

	Partition string
}

// JobState enumerates the job-side state flags (spec §3.4).
type JobState int

const (
	JobQueued JobState = iota
	JobRunning
	JobSuspendedBySched
	JobHeld
	JobExiting
	JobExpired
	JobProvisioning
	JobPreempted
	JobStarving
	JobArrayParent
	JobSubjob
	JobCheckpointed
)

// JobData holds job-only fields (spec §3.4).
type JobData struct {
	State JobState

	QTime        float64
	ETime        float64
	STime        float64
	EligibleTime float64

	ExecSelect request.Select // allocation the job is currently running on

	PreemptStatus uint32 // bitset, see internal/preempt
	PreemptPrio   int    // derived scalar priority
	PreemptedAt   float64

	User    string
	Group   string
	Project string

	FairshareEntity string // handle to a fairshare-tree group node
	FairsharePerc   float64 // configured tree share, as a percentage
	FairshareFactor float64 // usage-decayed scalar the tree assigns this entity

	AccrueType AccrueType

	ArrayParentRank int // 0 if not a subjob
	Array           *ArrayState

	RunOneDeps []int // ranks of dependent jobs ("runone")

	Priority int
	Formula  float64 // cached job_sort_formula value, if configured

	// Preemption-method capability: which methods the preemption planner
	// may try on this job (spec §4.J "only methods the job can tolerate").
	// Interactive jobs cannot be checkpointed or requeued.
	CapableOfSuspend   bool
	CapableOfCheckpoint bool
	CapableOfRequeue   bool

	IsExpressQueue bool // queue-level flag copied onto the job for priority computation
	IsStarving     bool
	FairshareOver  bool // current usage exceeds the fairshare entity's share
	SoftLimitHits  uint32 // bitmask of which of the 8 soft-limit axes this job is over, see internal/preempt
}

// AccrueType mirrors the original scheduler's job_info.c accrue_type states
// (ACCRUE_MAKE_ELIGIBLE/ACCRUE_MAKE_INELIGIBLE, plus the running/exempt
// cases update_resresv_on_run and eligible_time_enable=false produce);
// exposed to the job-sort formula as the `accrue_type` symbol.
type AccrueType int

const (
	AccrueIneligible AccrueType = iota
	AccrueEligible
	AccrueRunning
	AccrueExempt
)

// ArrayState tracks a job array's subjob materialization counters. Per
// spec §9's Open Question resolution, running_subjobs is mutated only by
// OnChildStart/OnChildEnd, never by a parent-level attribute alter.
type ArrayState struct {
	IndicesRemaining []int
	RunningSubjobs   int
	MaxRunSubjobs    int
}

func (a *ArrayState) OnChildStart() { a.RunningSubjobs++ }
func (a *ArrayState) OnChildEnd() {
	if a.RunningSubjobs > 0 {
		a.RunningSubjobs--
	}
}

// ResvState enumerates reservation states (spec §3.5).
type ResvState int

const (
	ResvUnconfirmed ResvState = iota
	ResvConfirmed
	ResvRunning
	ResvBeingDeleted
)

// ResvData holds reservation-only fields.
type ResvData struct {
	State     ResvState
	Standing  bool
	ExecVnode string
}

// ResResv is the discriminated job/reservation record (resource_resv in
// spec terms).
type ResResv struct {
	Kind Kind
	Shared

	Job  *JobData
	Resv *ResvData
}

func (r *ResResv) IsJob() bool  { return r.Kind == KindJob }
func (r *ResResv) IsResv() bool { return r.Kind == KindResv }

// Dup deep-copies r for simulation.
func (r *ResResv) Dup() *ResResv {
	cp := *r
	cp.NSpecAlloc = make([]NSpec, len(r.NSpecAlloc))
	for i, ns := range r.NSpecAlloc {
		nb := resource.NewBag()
		if ns.Taken != nil {
			for _, n := range ns.Taken.Names() {
				v, _ := ns.Taken.Get(n)
				nb.Set(n, v)
			}
		}
		cp.NSpecAlloc[i] = NSpec{NodeRank: ns.NodeRank, Chunks: ns.Chunks, Taken: nb, Exclusive: ns.Exclusive}
	}
	if r.Job != nil {
		jd := *r.Job
		if r.Job.Array != nil {
			arr := *r.Job.Array
			arr.IndicesRemaining = append([]int(nil), r.Job.Array.IndicesRemaining...)
			jd.Array = &arr
		}
		jd.RunOneDeps = append([]int(nil), r.Job.RunOneDeps...)
		cp.Job = &jd
	}
	if r.Resv != nil {
		rd := *r.Resv
		cp.Resv = &rd
	}
	return &cp
}

// TotalDemand returns the per-chunk demand, scaled across all nspecs, for
// the named resource, used by limit/fit accounting.
func (r *ResResv) TotalDemand(resName string) float64 {
	v, ok := r.ResReq.Get(resName)
	if !ok {
		return 0
	}
	return v.Num()
}
