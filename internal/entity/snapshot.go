package entity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pbssched/core/internal/limit"
	"github.com/pbssched/core/internal/request"
	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/serverapi"
)

// Load queries src for a consistent snapshot (spec §1/§4.B "query") and
// builds a fully indexed Server. Resource definitions not already known to
// registry are defined on the fly as consumable resources whose kind is
// guessed from the value text (size for a "kb".."pb" suffix, string if not
// numeric, long otherwise);
// callers that need precise typing should pre-populate registry from
// sched_config's "resources:" directive before calling Load.
func Load(ctx context.Context, src serverapi.Server, registry *resource.Registry) (*Server, error) {
	s, err := NewServer()
	if err != nil {
		return nil, err
	}

	srvItem, err := src.StatServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity: stat_server: %w", err)
	}
	if v, ok := srvItem.Get("node_group_enable"); ok {
		s.NodeGroupingEnabled, _ = strconv.ParseBool(v)
	}
	if v, ok := srvItem.Get("eligible_time_enable"); ok {
		s.EligibleTimeEnabled, _ = strconv.ParseBool(v)
	}
	if v, ok := srvItem.Get("backfill_depth"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.BackfillDepth = n
		}
	}
	if v, ok := srvItem.Get("restrict_res_to_release_on_suspend"); ok && v != "" {
		s.RestrictReleaseOnSuspend = strings.Split(v, ",")
	}

	queueItems, err := src.StatQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity: stat_queue: %w", err)
	}
	for _, qi := range queueItems {
		q := &Queue{Name: qi.Name, Limits: limit.NewSet()}
		if v, ok := qi.Get("priority"); ok {
			q.Priority, _ = strconv.Atoi(v)
		}
		if v, ok := qi.Get("queue_type"); ok {
			q.IsExec = v == "execution"
		}
		if v, ok := qi.Get("started"); ok {
			q.Started, _ = strconv.ParseBool(v)
		}
		if v, ok := qi.Get("partition"); ok {
			q.Partition = v
		}
		if v, ok := qi.Get("do_not_span_psets"); ok {
			q.DoNotSpanPSets, _ = strconv.ParseBool(v)
		}
		if strings.HasPrefix(q.Name, "ded_") {
			q.DedicatedTime = true
		}
		s.Queues = append(s.Queues, q)
	}

	nodeItems, err := src.StatNode(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity: stat_node: %w", err)
	}
	for rank, ni := range nodeItems {
		n := &Node{Rank: rank, Name: ni.Name, BucketIndex: -1, Res: map[string]*resource.Bag{}}
		if v, ok := ni.Get("queue"); ok {
			n.Queue = v
		}
		if v, ok := ni.Get("partition"); ok {
			n.Partition = v
		}
		if v, ok := ni.Get("state"); ok {
			n.State = parseNodeState(v)
		}
		if v, ok := ni.Get("resv_enable"); ok {
			n.AcceptsReservations, _ = strconv.ParseBool(v)
		}
		for _, a := range ni.Attrib {
			if a.Name != "resources_available" {
				continue
			}
			def, err := defineFromText(registry, a.Resource, a.Value)
			if err != nil {
				return nil, err
			}
			val, err := resource.Parse(def, a.Value)
			if err != nil {
				return nil, fmt.Errorf("entity: node %s resource %s: %w", ni.Name, a.Resource, err)
			}
			pair := n.ResPair(a.Resource)
			pair.Avail = val
			n.SetResPair(a.Resource, pair)
		}
		s.Nodes = append(s.Nodes, n)
	}

	jobItems, err := src.SelStatJobs(ctx, serverapi.JobSelection{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("entity: selstat_jobs: %w", err)
	}
	for rank, ji := range jobItems {
		j, err := buildJob(ji, rank, registry)
		if err != nil {
			return nil, err
		}
		s.Jobs = append(s.Jobs, j)
	}

	resvItems, err := src.StatResv(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity: stat_resv: %w", err)
	}
	for rank, ri := range resvItems {
		r, err := buildResv(ri, rank, registry)
		if err != nil {
			return nil, err
		}
		s.Resvs = append(s.Resvs, r)
	}

	if err := s.Index(); err != nil {
		return nil, err
	}
	return s, nil
}

func defineFromText(registry *resource.Registry, name, text string) (*resource.Definition, error) {
	if def, ok := registry.Lookup(name); ok {
		return def, nil
	}
	kind := resource.KindLong
	switch {
	case strings.ContainsAny(text, "kmgtp") && strings.HasSuffix(strings.ToLower(text), "b"):
		kind = resource.KindSize
	case !isNumericText(text):
		kind = resource.KindString
	}
	return registry.Define(name, kind, resource.Flags{Consumable: true, RASSN: true})
}

func isNumericText(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func parseNodeState(v string) NodeState {
	var st NodeState
	for _, tok := range strings.Split(v, ",") {
		switch strings.TrimSpace(tok) {
		case "free":
			st.Free = true
		case "job-busy":
			st.JobBusy = true
		case "job-exclusive":
			st.JobExclusive = true
		case "stale":
			st.Stale = true
		case "down":
			st.Down = true
		case "offline":
			st.Offline = true
		case "provisioning":
			st.Provisioning = true
		case "sleep":
			st.Sleep = true
		case "unknown":
			st.Unknown = true
		}
	}
	return st
}

func buildJob(ji serverapi.BatchStatusItem, rank int, registry *resource.Registry) (*ResResv, error) {
	rr := &ResResv{Kind: KindJob, Job: &JobData{
		CapableOfSuspend:    true,
		CapableOfCheckpoint: true,
		CapableOfRequeue:    true,
	}}
	if v, ok := ji.Get("interactive"); ok {
		if interactive, _ := strconv.ParseBool(v); interactive {
			rr.Job.CapableOfCheckpoint = false
			rr.Job.CapableOfRequeue = false
		}
	}
	rr.Name = ji.Name
	rr.Rank = rank
	if v, ok := ji.Get("queue"); ok {
		rr.QueueName = v
	}
	if v, ok := ji.Get("select"); ok {
		sel, err := request.ParseSelect(v)
		if err != nil {
			return nil, fmt.Errorf("entity: job %s select: %w", ji.Name, err)
		}
		rr.Select = sel
	}
	if v, ok := ji.Get("place"); ok {
		pl, err := request.ParsePlace(v)
		if err != nil {
			return nil, fmt.Errorf("entity: job %s place: %w", ji.Name, err)
		}
		rr.Place = pl
	}
	rr.ResReq = resource.NewBag()
	for _, a := range ji.Attrib {
		if a.Name != "Resource_List" {
			continue
		}
		def, err := defineFromText(registry, a.Resource, a.Value)
		if err != nil {
			return nil, err
		}
		val, err := resource.Parse(def, a.Value)
		if err != nil {
			return nil, fmt.Errorf("entity: job %s resource %s: %w", ji.Name, a.Resource, err)
		}
		rr.ResReq.Set(a.Resource, val)
	}
	if v, ok := ji.Get("qtime"); ok {
		rr.Job.QTime, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := ji.Get("etime"); ok {
		rr.Job.ETime, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := ji.Get("eligible_time"); ok {
		n, _ := resource.ParseDuration(v)
		rr.Job.EligibleTime = n
	}
	if v, ok := ji.Get("state"); ok {
		rr.Job.State = parseJobState(v)
	}
	if v, ok := ji.Get("user"); ok {
		rr.Job.User = v
	}
	if v, ok := ji.Get("group"); ok {
		rr.Job.Group = v
	}
	if v, ok := ji.Get("project"); ok {
		rr.Job.Project = v
	}
	if v, ok := ji.GetResource("Resource_List", "walltime"); ok {
		rr.Duration, _ = resource.ParseDuration(v)
		rr.HardDuration = rr.Duration
	}
	if v, ok := ji.Get("sched_preempted"); ok && v != "" {
		n, _ := strconv.ParseFloat(v, 64)
		rr.Job.PreemptedAt = n
		rr.Job.State = JobPreempted
	}
	return rr, nil
}

func parseJobState(v string) JobState {
	switch v {
	case "Q":
		return JobQueued
	case "R":
		return JobRunning
	case "S":
		return JobSuspendedBySched
	case "H":
		return JobHeld
	case "E":
		return JobExiting
	case "X":
		return JobExpired
	default:
		return JobQueued
	}
}

func buildResv(ri serverapi.BatchStatusItem, rank int, registry *resource.Registry) (*ResResv, error) {
	rr := &ResResv{Kind: KindResv, Resv: &ResvData{}}
	rr.Name = ri.Name
	rr.Rank = rank
	if v, ok := ri.Get("reserve_start"); ok {
		rr.Start, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := ri.Get("reserve_end"); ok {
		rr.End, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := ri.Get("select"); ok {
		sel, err := request.ParseSelect(v)
		if err != nil {
			return nil, fmt.Errorf("entity: resv %s select: %w", ri.Name, err)
		}
		rr.Select = sel
	}
	if v, ok := ri.Get("reserve_state"); ok {
		switch v {
		case "confirmed":
			rr.Resv.State = ResvConfirmed
		case "running":
			rr.Resv.State = ResvRunning
		case "being_deleted":
			rr.Resv.State = ResvBeingDeleted
		default:
			rr.Resv.State = ResvUnconfirmed
		}
	}
	rr.ResReq = resource.NewBag()
	for _, a := range ri.Attrib {
		if a.Name != "Resource_List" {
			continue
		}
		def, err := defineFromText(registry, a.Resource, a.Value)
		if err != nil {
			return nil, err
		}
		val, err := resource.Parse(def, a.Value)
		if err != nil {
			return nil, err
		}
		rr.ResReq.Set(a.Resource, val)
	}
	return rr, nil
}
