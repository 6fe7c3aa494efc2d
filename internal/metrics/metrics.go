// Package metrics centralizes the dotted metric-name keys internal/cycle
// emits through hashicorp/go-metrics (spec domain-stack: "one
// metrics.IncrCounter/SetGauge call per cycle phase"), the way nomad keeps
// its metric key slices as named vars instead of inlining string literals
// at every call site, so a key never drifts between two call sites that
// mean the same thing.
package metrics

// Keys, one per cycle phase (spec §4.L). All share the "pbsched.cycle."
// prefix go-metrics joins with a dot when flushing to a sink.
var (
	KeyCycleStart           = []string{"pbsched", "cycle", "start"}
	KeyCycleDuration        = []string{"pbsched", "cycle", "duration"}
	KeyCandidatesConsidered = []string{"pbsched", "cycle", "candidates_considered"}
	KeyJobsRun              = []string{"pbsched", "cycle", "jobs_run"}
	KeyJobsPreempted        = []string{"pbsched", "cycle", "jobs_preempted"}
	KeyTopJobs              = []string{"pbsched", "cycle", "top_jobs"}
	KeyBackfillDepthUsed    = []string{"pbsched", "cycle", "backfill_depth_used"}
)
