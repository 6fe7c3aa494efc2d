package fit

import (
	"fmt"
	"testing"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/limit"
	"github.com/pbssched/core/internal/request"
	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/schederr"
	"github.com/stretchr/testify/require"
)

func ncpusDef() *resource.Definition {
	return &resource.Definition{Name: "ncpus", Kind: resource.KindLong, Flags: resource.Flags{Consumable: true, RASSN: true}}
}

func freeNode(rank int, name string, cpus float64) *entity.Node {
	n := &entity.Node{Rank: rank, Name: name, Host: name, State: entity.NodeState{Free: true}}
	n.SetResPair("ncpus", entity.AvailAssigned{Avail: resource.NewNumeric(ncpusDef(), cpus)})
	return n
}

func basicJob(name, queue string, ncpus float64) *entity.ResResv {
	return jobWithPlace(name, queue, ncpus, "free")
}

// jobWithPlace builds a single-chunk job requesting ncpus, with an explicit
// place string — tests that need to forbid a chunk from being satisfied by
// partial (split) capacity use "pack", since only a non-pack arrangement
// allows a chunk to take less than it asked for from one node.
func jobWithPlace(name, queue string, ncpus float64, place string) *entity.ResResv {
	sel, _ := request.ParseSelect(fmt.Sprintf("1:ncpus=%d", int(ncpus)))
	pl, _ := request.ParsePlace(place)
	reqBag := resource.NewBag()
	reqBag.Set("ncpus", resource.NewNumeric(ncpusDef(), ncpus))
	return &entity.ResResv{
		Kind: entity.KindJob,
		Shared: entity.Shared{
			Name: name, Rank: 1, QueueName: queue,
			Select: sel, Place: pl, ResReq: reqBag, Duration: 100,
		},
		Job: &entity.JobData{State: entity.JobQueued, User: "alice", Group: "g1", Project: "p1"},
	}
}

func startedQueue(name string) *entity.Queue {
	return &entity.Queue{Name: name, IsExec: true, Started: true}
}

func basePolicy() *Policy {
	return &Policy{ConsumableNames: []string{"ncpus"}, Registry: func() *resource.Registry {
		r := resource.NewRegistry()
		r.Define("ncpus", resource.KindLong, resource.Flags{Consumable: true, RASSN: true})
		return r
	}()}
}

func TestIsOkToRunSucceedsOnFreeCapacity(t *testing.T) {
	srv, _ := entity.NewServer()
	queue := startedQueue("workq")
	job := basicJob("1.server", "workq", 2)
	nodes := []*entity.Node{freeNode(1, "node1", 4)}

	res, chain := IsOkToRun(basePolicy(), srv, queue, job, nodes, Flags{})
	require.True(t, chain.Empty())
	require.NotNil(t, res)
	require.Len(t, res.NSpec, 1)
	require.Equal(t, 1, res.NSpec[0].NodeRank)
}

func TestIsOkToRunFailsWhenQueueNotStarted(t *testing.T) {
	srv, _ := entity.NewServer()
	queue := startedQueue("workq")
	queue.Started = false
	job := basicJob("1.server", "workq", 2)
	nodes := []*entity.Node{freeNode(1, "node1", 4)}

	res, chain := IsOkToRun(basePolicy(), srv, queue, job, nodes, Flags{})
	require.Nil(t, res)
	require.False(t, chain.Empty())
	require.Equal(t, schederr.KindQueueNotStarted, chain.Errors()[0].Kind)
}

func TestIsOkToRunFailsWhenNoCapacity(t *testing.T) {
	srv, _ := entity.NewServer()
	queue := startedQueue("workq")
	job := jobWithPlace("1.server", "workq", 8, "pack")
	nodes := []*entity.Node{freeNode(1, "node1", 4)}

	res, chain := IsOkToRun(basePolicy(), srv, queue, job, nodes, Flags{})
	require.Nil(t, res)
	require.False(t, chain.Empty())
}

func TestIsOkToRunFailsOnHardServerLimit(t *testing.T) {
	srv, _ := entity.NewServer()
	srv.Limits.Add(limit.Rule{
		Kind: limit.RuleKindRunCount, Entity: limit.EntityUser, EntityName: "alice",
		Scope: limit.ScopeServer, Hard: true, Threshold: 0,
	})
	queue := startedQueue("workq")
	job := basicJob("1.server", "workq", 2)
	nodes := []*entity.Node{freeNode(1, "node1", 4)}

	res, chain := IsOkToRun(basePolicy(), srv, queue, job, nodes, Flags{})
	require.Nil(t, res)
	require.False(t, chain.Empty())
	require.Equal(t, "limit", string(chain.Errors()[0].Kind))
}

func TestIsOkToRunReturnAllErrAccumulates(t *testing.T) {
	srv, _ := entity.NewServer()
	queue := startedQueue("workq")
	queue.Started = false
	job := jobWithPlace("1.server", "workq", 8, "pack")
	nodes := []*entity.Node{freeNode(1, "node1", 4)}

	_, chain := IsOkToRun(basePolicy(), srv, queue, job, nodes, Flags{ReturnAllErr: true})
	require.GreaterOrEqual(t, len(chain.Errors()), 2)
}
