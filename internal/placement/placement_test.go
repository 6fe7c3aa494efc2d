package placement

import (
	"testing"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/resource"
	"github.com/stretchr/testify/require"
)

var ncpusDef = &resource.Definition{Name: "ncpus", Kind: resource.KindLong, Flags: resource.Flags{Consumable: true}}

func testNode(host string, free bool, cpus, assigned int) *entity.Node {
	n := &entity.Node{Host: host, State: entity.NodeState{Free: free}}
	n.SetResPair("ncpus", entity.AvailAssigned{
		Avail:    resource.NewNumeric(ncpusDef, float64(cpus)),
		Assigned: resource.NewNumeric(ncpusDef, float64(assigned)),
	})
	return n
}

func TestBuildSetsGroupsByHost(t *testing.T) {
	nodes := []*entity.Node{
		testNode("rackA", true, 4, 0),
		testNode("rackA", true, 4, 0),
		testNode("rackB", true, 8, 0),
	}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)
	require.Len(t, sets, 2)

	var a, b *Set
	for _, s := range sets {
		switch s.GroupValue {
		case "rackA":
			a = s
		case "rackB":
			b = s
		}
	}
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.Len(t, a.Nodes, 2)
	require.Len(t, b.Nodes, 1)
	require.Equal(t, 2, a.FreeNodes)
}

func TestBuildSetsPreservesFirstSeenOrder(t *testing.T) {
	nodes := []*entity.Node{
		testNode("rackB", true, 8, 0),
		testNode("rackA", true, 4, 0),
	}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)
	require.Len(t, sets, 2)
	require.Equal(t, "rackB", sets[0].GroupValue)
	require.Equal(t, "rackA", sets[1].GroupValue)
}

func TestResidualAggregatesAcrossSetNodes(t *testing.T) {
	nodes := []*entity.Node{
		testNode("rackA", true, 4, 1),
		testNode("rackA", true, 4, 2),
	}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)
	require.Equal(t, 5.0, sets[0].Residual("ncpus"))
}

func TestResidualIsInfiniteWhenAvailUnset(t *testing.T) {
	s := &Set{Agg: map[string]entity.AvailAssigned{}}
	require.Equal(t, 1e18, s.Residual("ncpus"))
}

func TestFitsChecksResidualAgainstNCopies(t *testing.T) {
	nodes := []*entity.Node{testNode("rackA", true, 8, 0)}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)

	req := resource.NewBag()
	req.Set("ncpus", resource.NewNumeric(ncpusDef, 4))

	require.True(t, sets[0].Fits(req, 2))
	require.False(t, sets[0].Fits(req, 3))
}

func TestSortSmallestFitsFirstOrdersAscending(t *testing.T) {
	sets := []*Set{
		{GroupValue: "big", Agg: map[string]entity.AvailAssigned{"ncpus": {Avail: resource.NewNumeric(ncpusDef, 16)}}},
		{GroupValue: "small", Agg: map[string]entity.AvailAssigned{"ncpus": {Avail: resource.NewNumeric(ncpusDef, 4)}}},
	}
	SortSmallestFitsFirst(sets, func(s *Set) float64 { return s.Residual("ncpus") })
	require.Equal(t, "small", sets[0].GroupValue)
	require.Equal(t, "big", sets[1].GroupValue)
}

func TestRestrictToGroupFindsExactMatch(t *testing.T) {
	nodes := []*entity.Node{
		testNode("rackA", true, 4, 0),
		testNode("rackB", true, 4, 0),
	}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)

	restricted := RestrictToGroup(sets, "rackB")
	require.Len(t, restricted, 1)
	require.Equal(t, "rackB", restricted[0].GroupValue)
}

func TestRestrictToGroupReturnsNilWhenNoMatch(t *testing.T) {
	nodes := []*entity.Node{testNode("rackA", true, 4, 0)}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)
	require.Nil(t, RestrictToGroup(sets, "rackZ"))
}

func TestSmallestThatCouldHoldPrefersFewerFreeNodes(t *testing.T) {
	nodes := []*entity.Node{
		testNode("rackA", true, 4, 0),
		testNode("rackA", true, 4, 0),
		testNode("rackA", true, 4, 0),
		testNode("rackB", true, 16, 0),
	}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)

	req := resource.NewBag()
	req.Set("ncpus", resource.NewNumeric(ncpusDef, 8))

	best, ok := SmallestThatCouldHold(sets, req, 1)
	require.True(t, ok)
	require.Equal(t, "rackB", best.GroupValue, "both racks' totals (12 and 16 cpus) can hold an 8-cpu request; rackB has fewer free nodes (1 against 3)")
}

func TestSmallestThatCouldHoldReturnsFalseWhenNothingFits(t *testing.T) {
	nodes := []*entity.Node{testNode("rackA", true, 4, 0)}
	sets := BuildSets(nodes, "host", []string{"ncpus"}, nil)

	req := resource.NewBag()
	req.Set("ncpus", resource.NewNumeric(ncpusDef, 100))

	_, ok := SmallestThatCouldHold(sets, req, 1)
	require.False(t, ok)
}
