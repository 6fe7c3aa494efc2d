// Package cycle implements the orchestrator (spec §4.L): the per-cycle main
// loop that fetches a snapshot, builds the supporting indexes, and drives
// internal/fit, internal/backfill and internal/preempt over the candidate
// job list in policy order, committing decisions back through
// internal/serverapi. Grounded on jorgemarey-nomad's service_sched.go
// Process/handleJobRegister shape (fetch state, plan, submit, react to
// conflict) generalized from one job-register event to a full-queue scan.
package cycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/pbssched/core/internal/backfill"
	"github.com/pbssched/core/internal/calendar"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/equivclass"
	"github.com/pbssched/core/internal/fit"
	"github.com/pbssched/core/internal/formula"
	"github.com/pbssched/core/internal/limit"
	mkeys "github.com/pbssched/core/internal/metrics"
	"github.com/pbssched/core/internal/preempt"
	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/schederr"
	"github.com/pbssched/core/internal/serverapi"
)

// SortPolicy selects the candidate-ordering strategy (spec §4.L step 3).
type SortPolicy int

const (
	SortByQueue SortPolicy = iota
	SortRoundRobin
	SortGlobal
)

// Config is the site policy the orchestrator threads through every cycle.
type Config struct {
	Policy       SortPolicy
	Flags        fit.Flags
	FitPolicy    *fit.Policy
	Backfill     backfill.Policy
	PrioTable    preempt.PrioTable
	OrderTable   preempt.OrderTable
	EnablePreempt bool
	Horizon      float64
	CycleBudget  time.Duration

	// Formula is the parsed job_sort_formula (spec §6.2/§9), or nil to sort
	// by the plain multi-key order. Parsed once when the command builds the
	// cycle configuration and re-evaluated against every candidate each cycle.
	Formula *formula.Expr
}

// Orchestrator runs scheduling cycles against one external server (spec
// §6.1) and resource registry.
type Orchestrator struct {
	API      serverapi.Server
	Registry *resource.Registry
	Config   Config
	Logger   hclog.Logger
}

func New(api serverapi.Server, registry *resource.Registry, cfg Config, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{API: api, Registry: registry, Config: cfg, Logger: logger}
}

// Report summarizes one cycle's decisions (spec §4.L step 6 flush target).
type Report struct {
	Ran       []string
	TopJobs   []backfill.TopJob
	Preempted map[string]preempt.Method
	Errors    map[string]*schederr.Chain
	Elapsed   time.Duration
}

// RunCycle implements spec §4.L steps 1-6. It honors ctx cancellation
// between candidates only, never mid-commit (spec §5: "external abort is
// honored between candidates, never mid-commit").
func (o *Orchestrator) RunCycle(ctx context.Context) (*Report, error) {
	start := time.Now()
	metrics.IncrCounter(mkeys.KeyCycleStart, 1)
	defer metrics.MeasureSince(mkeys.KeyCycleDuration, start)

	srv, err := entity.Load(ctx, o.API, o.Registry)
	if err != nil {
		return nil, fmt.Errorf("cycle: load snapshot: %w", err)
	}
	universe := &calendar.Universe{Server: srv, Calendar: calendar.NewList()}
	seedCalendar(universe)

	bfPlanner := backfill.NewPlanner(o.Config.Backfill)
	qc := &queueClassifier{srv: srv}
	eqIdx, err := equivclass.NewIndex()
	if err != nil {
		return nil, fmt.Errorf("cycle: build equivclass index: %w", err)
	}

	candidates := collectCandidates(srv)
	metrics.SetGauge(mkeys.KeyCandidatesConsidered, float32(len(candidates)))
	for _, rr := range candidates {
		eqIdx.Add(rr, equivclass.KeyFor(rr, resourceAmountsSig(rr), qc))
	}
	if o.Config.Formula != nil {
		for _, rr := range candidates {
			rr.Job.Formula = o.Config.Formula.Eval(formulaSymbols(srv, rr))
		}
	}
	ordered := sortCandidates(candidates, o.Config.Policy, srv)

	report := &Report{Errors: map[string]*schederr.Chain{}, Preempted: map[string]preempt.Method{}}

	for _, rr := range ordered {
		if ctx.Err() != nil {
			o.Logger.Debug("cycle: aborted by context between candidates")
			break
		}
		if o.Config.CycleBudget > 0 && time.Since(start) > o.Config.CycleBudget {
			o.Logger.Debug("cycle: time budget exceeded, stopping new scheduling")
			break
		}

		key := equivclass.KeyFor(rr, resourceAmountsSig(rr), qc)
		if serr, ok := eqIdx.ShortCircuit(key); ok {
			c := schederr.NewChain()
			c.Add(serr)
			report.Errors[rr.Name] = c
			continue
		}

		queue := findQueue(srv, rr.QueueName)
		res, chain := fit.IsOkToRun(o.Config.FitPolicy, srv, queue, rr, srv.Nodes, o.Config.Flags)
		if chain.Empty() {
			if err := o.commitRun(ctx, universe, rr, res); err != nil {
				o.Logger.Warn("cycle: commit run failed", "job", rr.Name, "error", err)
				continue
			}
			report.Ran = append(report.Ran, rr.Name)
			_ = eqIdx.RecordOutcome(key, nil)
			metrics.IncrCounter(mkeys.KeyJobsRun, 1)
			continue
		}

		first := chain.Errors()[0]
		_ = eqIdx.RecordOutcome(key, first)
		report.Errors[rr.Name] = chain
		if schederr.IsUnrecoverableByPreemption(first.Kind) {
			continue
		}

		if o.Config.EnablePreempt {
			if method, ok := o.tryPreempt(ctx, universe, rr, chain); ok {
				report.Ran = append(report.Ran, rr.Name)
				for name, m := range method {
					report.Preempted[name] = m
				}
				metrics.IncrCounter(mkeys.KeyJobsPreempted, float32(len(method)))
				continue
			}
		}

		if tj, serr := bfPlanner.Reserve(universe, rr, o.Config.Horizon, o.fitsFn()); serr == nil {
			report.TopJobs = append(report.TopJobs, *tj)
			metrics.IncrCounter(mkeys.KeyTopJobs, 1)
		}
	}

	o.flushAsyncUpdates(ctx, report)
	report.Elapsed = time.Since(start)
	metrics.SetGauge(mkeys.KeyBackfillDepthUsed, float32(len(report.TopJobs)))
	return report, nil
}

func collectCandidates(srv *entity.Server) []*entity.ResResv {
	var out []*entity.ResResv
	for _, j := range srv.Jobs {
		if j.Job != nil && j.Job.State == entity.JobQueued {
			out = append(out, j)
		}
	}
	return out
}

func findQueue(srv *entity.Server, name string) *entity.Queue {
	for _, q := range srv.Queues {
		if q.Name == name {
			return q
		}
	}
	return nil
}

func resourceAmountsSig(rr *entity.ResResv) string {
	names := append([]string(nil), rr.ResReq.Names()...)
	sort.Strings(names)
	var sig string
	for _, name := range names {
		v, _ := rr.ResReq.Get(name)
		if v.IsSet() {
			sig += fmt.Sprintf("%s=%v,%s;", name, v.Num(), v.Str())
		}
	}
	return sig
}

// seedCalendar populates the event list with end events for every job and
// reservation already running at snapshot time, so calc_run_time and the
// backfill planner see real future capacity changes from the first call.
func seedCalendar(u *calendar.Universe) {
	for _, j := range u.Server.Jobs {
		if j.Job == nil || j.Duration <= 0 {
			continue
		}
		if j.Job.State == entity.JobRunning || j.Job.State == entity.JobSuspendedBySched {
			u.Calendar.AddEvent(&calendar.Event{Time: j.Start + j.Duration, Kind: calendar.KindEnd, Subject: j.Rank, Rank: j.Rank})
		}
	}
	for _, r := range u.Server.Resvs {
		if r.End > 0 {
			u.Calendar.AddEvent(&calendar.Event{Time: r.End, Kind: calendar.KindEnd, Subject: r.Rank, Rank: r.Rank})
		}
	}
}

// fitsFn adapts internal/fit to the FitsFn signature internal/calendar and
// internal/backfill both expect, the same injected-closure pattern
// internal/preempt's planner documents.
func (o *Orchestrator) fitsFn() backfill.FitsFn {
	return func(u *calendar.Universe, rr *entity.ResResv) bool {
		pol := *o.Config.FitPolicy
		pol.Now = u.Server.Now
		queue := findQueue(u.Server, rr.QueueName)
		res, chain := fit.IsOkToRun(&pol, u.Server, queue, rr, u.Server.Nodes, o.Config.Flags)
		if !chain.Empty() {
			return false
		}
		rr.NSpecAlloc = res.NSpec
		return true
	}
}

// commitRun applies a successful fit to the live universe and server (spec
// §4.L step 4: "commit run, update sinfo/queue/nodes/limit counters, add
// end event to calendar").
func (o *Orchestrator) commitRun(ctx context.Context, u *calendar.Universe, rr *entity.ResResv, res *fit.Result) error {
	rr.NSpecAlloc = res.NSpec
	if err := u.ApplyRun(rr); err != nil {
		return err
	}
	rr.Job.State = entity.JobRunning
	rr.Start = u.Server.Now
	if err := o.API.RunJob(ctx, rr.Name, execVnodeString(res.NSpec, u.Server.Nodes), false); err != nil {
		return fmt.Errorf("run_job: %w", err)
	}
	u.Calendar.AddEvent(&calendar.Event{Time: u.Server.Now + rr.Duration, Kind: calendar.KindEnd, Subject: rr.Rank, Rank: rr.Rank})
	incrLimitCounters(u.Server, rr, 1)
	return nil
}

func execVnodeString(nspec []entity.NSpec, nodes []*entity.Node) string {
	byRank := make(map[int]string, len(nodes))
	for _, n := range nodes {
		byRank[n.Rank] = n.Name
	}
	out := ""
	for i, ns := range nspec {
		if i > 0 {
			out += "+"
		}
		out += fmt.Sprintf("(%s:ncpus=%d)", byRank[ns.NodeRank], ns.Chunks)
	}
	return out
}

// incrLimitCounters updates the server and queue running-count/resource
// counters for every entity axis a run touches (spec §4.D decision tree:
// user/group/project/all at server and queue scope), mirroring the axes
// internal/fit's checkHardLimits evaluates against.
func incrLimitCounters(srv *entity.Server, rr *entity.ResResv, sign float64) {
	if rr.Job == nil {
		return
	}
	axes := []struct {
		kind limit.EntityKind
		name string
	}{
		{limit.EntityUser, rr.Job.User},
		{limit.EntityGroup, rr.Job.Group},
		{limit.EntityProject, rr.Job.Project},
		{limit.EntityAll, ""},
	}
	amounts := map[string]float64{}
	for _, name := range rr.ResReq.Names() {
		v, _ := rr.ResReq.Get(name)
		amounts[name] = v.Num()
	}
	for _, scope := range []limit.Scope{limit.ScopeServer, limit.ScopeQueue} {
		qn := ""
		if scope == limit.ScopeQueue {
			qn = rr.QueueName
		}
		for _, ax := range axes {
			srv.Counters.IncrRunning(limit.RuleKindRunCount, ax.kind, ax.name, scope, qn, "", sign)
			for res, amt := range amounts {
				srv.Counters.IncrRunning(limit.RuleKindResource, ax.kind, ax.name, scope, qn, res, sign*amt)
			}
		}
	}
}

// queueClassifier adapts a live Server to equivclass.QueueClassifier.
type queueClassifier struct {
	srv *entity.Server
}

func (q *queueClassifier) QueueIsSpecial(name string) bool {
	queue := findQueue(q.srv, name)
	return queue != nil && (queue.IsReservationQueue || queue.DedicatedTime)
}
func (q *queueClassifier) HasUserLimits() bool {
	return q.srv.Limits.HasEntityLimits(limit.EntityUser)
}
func (q *queueClassifier) HasGroupLimits() bool {
	return q.srv.Limits.HasEntityLimits(limit.EntityGroup)
}
func (q *queueClassifier) HasProjectLimits() bool {
	return q.srv.Limits.HasEntityLimits(limit.EntityProject)
}

// sortCandidates implements spec §4.L step 2-3's three ordering policies.
func sortCandidates(cands []*entity.ResResv, policy SortPolicy, srv *entity.Server) []*entity.ResResv {
	switch policy {
	case SortByQueue:
		prio := queuePriority(srv)
		out := append([]*entity.ResResv(nil), cands...)
		sort.SliceStable(out, func(i, j int) bool {
			pi, pj := prio[out[i].QueueName], prio[out[j].QueueName]
			if pi != pj {
				return pi > pj
			}
			return multiKeyLess(out[i], out[j])
		})
		return out
	case SortRoundRobin:
		return roundRobin(cands)
	default:
		out := append([]*entity.ResResv(nil), cands...)
		sort.SliceStable(out, func(i, j int) bool { return multiKeyLess(out[i], out[j]) })
		return out
	}
}

func queuePriority(srv *entity.Server) map[string]int {
	m := make(map[string]int, len(srv.Queues))
	for _, q := range srv.Queues {
		m[q.Name] = q.Priority
	}
	return m
}

// multiKeyLess is the default multi-key sort: formula descending, then
// priority descending, then eligible/entered time ascending (spec §4.L
// step 3). Fairshare is not a key of this order.
func multiKeyLess(a, b *entity.ResResv) bool {
	af, bf := jobFormula(a), jobFormula(b)
	if af != bf {
		return af > bf
	}
	ap, bp := jobPriority(a), jobPriority(b)
	if ap != bp {
		return ap > bp
	}
	return jobETime(a) < jobETime(b)
}

// formulaSymbols projects a candidate and its queue into the symbol set
// internal/formula evaluates against (spec §9).
func formulaSymbols(srv *entity.Server, rr *entity.ResResv) formula.Symbols {
	sym := formula.Symbols{
		EligibleTime:    rr.Job.EligibleTime,
		JobPriority:     float64(rr.Job.Priority),
		FairsharePerc:   rr.Job.FairsharePerc,
		FairshareFactor: rr.Job.FairshareFactor,
		AccrueType:      float64(rr.Job.AccrueType),
		Resources:       map[string]float64{},
	}
	if q := findQueue(srv, rr.QueueName); q != nil {
		sym.QueuePriority = float64(q.Priority)
	}
	for _, name := range rr.ResReq.Names() {
		v, _ := rr.ResReq.Get(name)
		sym.Resources[name] = v.Num()
	}
	return sym
}

func jobFormula(rr *entity.ResResv) float64 {
	if rr.Job == nil {
		return 0
	}
	return rr.Job.Formula
}
func jobPriority(rr *entity.ResResv) int {
	if rr.Job == nil {
		return 0
	}
	return rr.Job.Priority
}
func jobETime(rr *entity.ResResv) float64 {
	if rr.Job == nil {
		return 0
	}
	return rr.Job.ETime
}

// roundRobin interleaves candidates across queues, each queue's own list
// kept in multi-key order (spec §4.L step 3 "round-robin across queues").
func roundRobin(cands []*entity.ResResv) []*entity.ResResv {
	byQueue := map[string][]*entity.ResResv{}
	var order []string
	for _, c := range cands {
		if _, ok := byQueue[c.QueueName]; !ok {
			order = append(order, c.QueueName)
		}
		byQueue[c.QueueName] = append(byQueue[c.QueueName], c)
	}
	for _, q := range order {
		list := byQueue[q]
		sort.SliceStable(list, func(i, j int) bool { return multiKeyLess(list[i], list[j]) })
	}
	var out []*entity.ResResv
	for {
		progressed := false
		for _, q := range order {
			if len(byQueue[q]) > 0 {
				out = append(out, byQueue[q][0])
				byQueue[q] = byQueue[q][1:]
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// flushAsyncUpdates implements spec §4.L step 6: push job-attribute updates
// that don't gate scheduling decisions (estimated start time for top jobs).
func (o *Orchestrator) flushAsyncUpdates(ctx context.Context, report *Report) {
	for _, tj := range report.TopJobs {
		attrs := []serverapi.Attrib{{Name: "estimated.start_time", Value: fmt.Sprintf("%.0f", tj.Start)}}
		if err := o.API.AsyncAlterJob(ctx, tj.Name, attrs); err != nil {
			o.Logger.Warn("cycle: async alter failed", "job", tj.Name, "error", err)
		}
	}
}
