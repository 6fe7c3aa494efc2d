package entity

import "github.com/pbssched/core/internal/limit"

// Queue is qinfo (spec §3.6).
type Queue struct {
	Name      string
	Priority  int
	IsExec    bool // execution vs route
	Started   bool
	Partition string

	Limits *limit.Set

	NodeNames []string // optional: queue-owned nodes

	DedicatedTime bool // name-prefix convention
	Primetime     bool
	NonPrimetime  bool
	IsReservationQueue bool

	ResvName string // back-pointer: if this queue belongs to a reservation

	// ResourcesAvailable mirrors the queue's own resources_available
	// attribute, consulted by H check 4 alongside the server pool.
	ResourcesAvailable map[string]float64

	DoNotSpanPSets    bool
	OnlyExplicitPSets bool

	// Totals (sc in spec parlance): running/queued counts, kept current by
	// the cycle orchestrator as jobs run/end.
	RunningCount int
	QueuedCount  int
}

func (q *Queue) IsExecutionAndStarted() bool { return q.IsExec && q.Started }
