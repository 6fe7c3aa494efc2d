package config

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSchedParsesKnownKeys(t *testing.T) {
	fsys := fstest.MapFS{
		"sched_config": {Data: []byte(`
# comment
round_robin: true
by_queue: false
backfill: true
backfill_depth: 10
job_sort_formula: ncpus + 2
job_sort_formula_threshold: 0.5
job_sort_key: ncpus HIGH
job_sort_key: mem LOW
smp_cluster_dist: pack
dedicated_time: dedicated_time
preempt_order: SCR
preempt_prio: express_queue, starving
preempt_queue_prio: 150
resources: ncpus, mem, ngpus
site_custom_key: whatever
`)},
	}

	s, err := ParseSched(fsys, "sched_config")
	require.NoError(t, err)
	require.True(t, s.RoundRobin)
	require.False(t, s.ByQueue)
	require.True(t, s.Backfill)
	require.Equal(t, 10, s.BackfillDepth)
	require.Equal(t, "ncpus + 2", s.JobSortFormula)
	require.Equal(t, 0.5, s.FormulaThreshold)
	require.Equal(t, []SortKey{{Resource: "ncpus", Ascending: false}, {Resource: "mem", Ascending: true}}, s.SortKeys)
	require.Equal(t, "pack", s.SmpClusterDist)
	require.Equal(t, "dedicated_time", s.DedicatedTimeFile)
	require.Equal(t, "SCR", s.PreemptOrder)
	require.Equal(t, []string{"express_queue", "starving"}, s.PreemptPrio)
	require.Equal(t, 150, s.PreemptQueuePrio)
	require.Equal(t, []string{"ncpus", "mem", "ngpus"}, s.ResourcesToCheck)
	require.Equal(t, "whatever", s.Raw["site_custom_key"])
}

func TestParseSchedFollowsIncludes(t *testing.T) {
	fsys := fstest.MapFS{
		"sched_config": {Data: []byte("#include \"extra\"\nround_robin: true\n")},
		"extra":        {Data: []byte("backfill: true\n")},
	}
	s, err := ParseSched(fsys, "sched_config")
	require.NoError(t, err)
	require.True(t, s.RoundRobin)
	require.True(t, s.Backfill)
}

func TestParseSchedRejectsIncludeCycle(t *testing.T) {
	fsys := fstest.MapFS{
		"a": {Data: []byte("#include \"b\"\n")},
		"b": {Data: []byte("#include \"a\"\n")},
	}
	_, err := ParseSched(fsys, "a")
	require.Error(t, err)
}

func TestParseSchedAccumulatesMalformedLinesButKeepsParsing(t *testing.T) {
	fsys := fstest.MapFS{
		"sched_config": {Data: []byte("not_a_kv_line\nround_robin: true\nbackfill_depth: notanumber\n")},
	}
	s, err := ParseSched(fsys, "sched_config")
	require.Error(t, err)
	require.NotNil(t, s)
	require.True(t, s.RoundRobin)
}

func TestParseHolidaysWeeklyTemplate(t *testing.T) {
	fsys := fstest.MapFS{
		"holidays": {Data: []byte(`
# weekly template
SUNDAY    all
MONDAY    0600 1730
SATURDAY  all
`)},
	}
	h, err := ParseHolidays(fsys, "holidays")
	require.NoError(t, err)

	monday := time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC) // a Monday, inside 0600-1730
	require.True(t, monday.Weekday() == time.Monday)
	require.True(t, h.IsPrimetime(monday))

	mondayNight := time.Date(2026, 8, 3, 22, 0, 0, 0, time.UTC)
	require.False(t, h.IsPrimetime(mondayNight))

	sunday := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	require.False(t, h.IsPrimetime(sunday))
}

func TestParseHolidaysDatedOverrideWins(t *testing.T) {
	fsys := fstest.MapFS{
		"holidays": {Data: []byte(`
MONDAY    0600 1730
20260803  all
`)},
	}
	h, err := ParseHolidays(fsys, "holidays")
	require.NoError(t, err)

	overridden := time.Date(2026, 8, 3, 7, 0, 0, 0, time.UTC)
	require.False(t, h.IsPrimetime(overridden))

	nextMonday := time.Date(2026, 8, 10, 7, 0, 0, 0, time.UTC)
	require.True(t, h.IsPrimetime(nextMonday))
}

func TestParseHolidaysNextBoundaryFindsWeeklyTransition(t *testing.T) {
	fsys := fstest.MapFS{
		"holidays": {Data: []byte("MONDAY 0600 1730\n")},
	}
	h, err := ParseHolidays(fsys, "holidays")
	require.NoError(t, err)

	from := time.Date(2026, 8, 3, 5, 0, 0, 0, time.UTC)
	next := h.NextBoundary(from)
	require.False(t, next.IsZero())
	require.True(t, next.After(from))
	require.Equal(t, 6, next.Hour())
}

func TestParseFairshareComputesPercentages(t *testing.T) {
	fsys := fstest.MapFS{
		"fairshare_tree": {Data: []byte(`
# site fairshare tree
groupA root 10
groupB root 30
alice groupA 1
bob groupA 1
`)},
	}
	tree, err := ParseFairshare(fsys, "fairshare_tree")
	require.NoError(t, err)

	require.InDelta(t, 25.0, tree.Percentage("groupA"), 0.001)
	require.InDelta(t, 75.0, tree.Percentage("groupB"), 0.001)
	require.InDelta(t, 12.5, tree.Percentage("alice"), 0.001)
	require.InDelta(t, 12.5, tree.Percentage("bob"), 0.001)
	require.Equal(t, 0.0, tree.Percentage("nobody"))
}

func TestParseFairshareRejectsUndefinedParent(t *testing.T) {
	fsys := fstest.MapFS{
		"fairshare_tree": {Data: []byte("alice ghost 1\n")},
	}
	_, err := ParseFairshare(fsys, "fairshare_tree")
	require.Error(t, err)
}

func TestFairshareFactorFallsBackToPercentageWithoutUsage(t *testing.T) {
	fsys := fstest.MapFS{
		"fairshare_tree": {Data: []byte("groupA root 10\n")},
	}
	tree, err := ParseFairshare(fsys, "fairshare_tree")
	require.NoError(t, err)
	require.Equal(t, tree.Percentage("groupA"), tree.Factor("groupA"))
}

func TestManagerLoadsAndReloads(t *testing.T) {
	fsys := fstest.MapFS{
		"sched_config":   {Data: []byte("round_robin: true\n")},
		"holidays":       {Data: []byte("MONDAY 0600 1730\n")},
		"fairshare_tree": {Data: []byte("groupA root 10\n")},
	}
	m, err := NewManager(fsys, Paths{SchedConfig: "sched_config", Holidays: "holidays", Fairshare: "fairshare_tree"}, nil)
	require.NoError(t, err)
	require.True(t, m.Current().Sched.RoundRobin)

	require.NoError(t, m.Reload())
	require.True(t, m.Current().Sched.RoundRobin)
}

func TestManagerReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"sched_config": {Data: []byte("round_robin: true\n")},
		"holidays":     {Data: []byte("MONDAY 0600 1730\n")},
	}
	m, err := NewManager(fsys, Paths{SchedConfig: "sched_config", Holidays: "holidays"}, nil)
	require.NoError(t, err)

	bad := fstest.MapFS{}
	m.fsys = bad
	err = m.Reload()
	require.Error(t, err)
	require.True(t, m.Current().Sched.RoundRobin)
}
