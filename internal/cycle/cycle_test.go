package cycle

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pbssched/core/internal/fit"
	"github.com/pbssched/core/internal/formula"
	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/serverapi"
	"github.com/stretchr/testify/require"
)

func testRegistry() *resource.Registry {
	reg := resource.NewRegistry()
	reg.Define("ncpus", resource.KindLong, resource.Flags{Consumable: true, RASSN: true})
	return reg
}

func testConfig() Config {
	return Config{
		Policy:    SortGlobal,
		FitPolicy: &fit.Policy{ConsumableNames: []string{"ncpus"}, Registry: testRegistry()},
		Horizon:   1000,
	}
}

func nodeItem(name string, cpus int) serverapi.BatchStatusItem {
	return serverapi.BatchStatusItem{
		Name: name,
		Attrib: []serverapi.Attrib{
			{Name: "state", Value: "free"},
			{Name: "resources_available", Resource: "ncpus", Value: itoa(cpus)},
		},
	}
}

func jobItem(name, queue, user, selectStr, place string, walltime int, state string) serverapi.BatchStatusItem {
	return serverapi.BatchStatusItem{
		Name: name,
		Attrib: []serverapi.Attrib{
			{Name: "queue", Value: queue},
			{Name: "user", Value: user},
			{Name: "select", Value: selectStr},
			{Name: "place", Value: place},
			{Name: "state", Value: state},
			{Name: "Resource_List", Resource: "walltime", Value: itoa(walltime)},
		},
	}
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%10]}, b...)
		n /= 10
	}
	return string(b)
}

func newFakeServer() *serverapi.Fake {
	f := serverapi.NewFake()
	f.Server = serverapi.BatchStatusItem{Name: "server"}
	f.Queues["workq"] = serverapi.BatchStatusItem{Name: "workq", Attrib: []serverapi.Attrib{
		{Name: "queue_type", Value: "execution"},
		{Name: "started", Value: "true"},
	}}
	return f
}

func TestRunCycleRunsAFittingJob(t *testing.T) {
	f := newFakeServer()
	f.Nodes["node1"] = nodeItem("node1", 4)
	f.Jobs["job1.server"] = jobItem("job1.server", "workq", "alice", "1:ncpus=2", "free", 100, "Q")

	o := New(f, testRegistry(), testConfig(), hclog.NewNullLogger())
	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"job1.server"}, report.Ran)
	require.Empty(t, report.TopJobs)
	require.Contains(t, f.Calls[0], "run_job(job1.server,")

	item := f.Jobs["job1.server"]
	state, _ := item.Get("state")
	require.Equal(t, "R", state)
}

// TestRunCycleReservesATopJobWhenNothingFits exercises the case where the
// first candidate's own commit consumes the node fully, so the second
// (equal-priority, alphabetically-later) candidate can't run this cycle and
// falls through to a calendar reservation instead.
func TestRunCycleReservesATopJobWhenNothingFits(t *testing.T) {
	f := newFakeServer()
	f.Nodes["node1"] = nodeItem("node1", 4)
	f.Jobs["job1.server"] = jobItem("job1.server", "workq", "alice", "1:ncpus=4", "free", 100, "Q")
	f.Jobs["job2.server"] = jobItem("job2.server", "workq", "bob", "1:ncpus=2", "free", 30, "Q")

	cfg := testConfig()
	cfg.Backfill.ServerDepth = 5
	o := New(f, testRegistry(), cfg, hclog.NewNullLogger())
	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"job1.server"}, report.Ran)
	require.Len(t, report.TopJobs, 1)
	require.Equal(t, "job2.server", report.TopJobs[0].Name)
	require.Equal(t, 100.0, report.TopJobs[0].Start)

	require.Contains(t, f.Calls, "alter_job(job2.server)")
	item := f.Jobs["job2.server"]
	v, ok := item.Get("estimated.start_time")
	require.True(t, ok)
	require.NotEmpty(t, v)
}

func TestRunCycleSkipsAlreadyRunningJobs(t *testing.T) {
	f := newFakeServer()
	f.Nodes["node1"] = nodeItem("node1", 4)
	f.Jobs["running.server"] = jobItem("running.server", "workq", "alice", "1:ncpus=4", "free", 100, "R")

	o := New(f, testRegistry(), testConfig(), hclog.NewNullLogger())
	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Ran)
	require.Empty(t, report.Errors)
}

// TestRunCycleFormulaReordersCandidates gives job2 (requesting fewer cpus,
// alphabetically later) a higher formula value than job1, and checks the
// node-exhausting job actually committed is the one the formula favors.
func TestRunCycleFormulaReordersCandidates(t *testing.T) {
	f := newFakeServer()
	f.Nodes["node1"] = nodeItem("node1", 4)
	job1 := jobItem("job1.server", "workq", "alice", "1:ncpus=4", "pack", 100, "Q")
	job1.Attrib = append(job1.Attrib, serverapi.Attrib{Name: "Resource_List", Resource: "ncpus", Value: "4"})
	job2 := jobItem("job2.server", "workq", "bob", "1:ncpus=3", "pack", 100, "Q")
	job2.Attrib = append(job2.Attrib, serverapi.Attrib{Name: "Resource_List", Resource: "ncpus", Value: "3"})
	f.Jobs["job1.server"] = job1
	f.Jobs["job2.server"] = job2

	expr, err := formula.Parse("10 - ncpus")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Formula = expr
	o := New(f, testRegistry(), cfg, hclog.NewNullLogger())

	// "10 - ncpus" scores job1 at 6 and job2 at 7, so job2 sorts first even
	// though job1 comes first by name; once job2 holds 3 of the node's 4
	// cpus, job1's packed 4-cpu chunk no longer fits.
	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Ran, 1)
	require.Equal(t, "job2.server", report.Ran[0])
}

func TestRunCycleHonorsContextCancellationBetweenCandidates(t *testing.T) {
	f := newFakeServer()
	f.Nodes["node1"] = nodeItem("node1", 4)
	f.Jobs["job1.server"] = jobItem("job1.server", "workq", "alice", "1:ncpus=2", "free", 100, "Q")
	f.Jobs["job2.server"] = jobItem("job2.server", "workq", "alice", "1:ncpus=2", "free", 100, "Q")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(f, testRegistry(), testConfig(), hclog.NewNullLogger())
	report, err := o.RunCycle(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Ran)
}
