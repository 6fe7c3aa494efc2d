package entity

import (
	"context"
	"testing"

	"github.com/pbssched/core/internal/resource"
	"github.com/pbssched/core/internal/serverapi"
	"github.com/stretchr/testify/require"
)

func fakeOneNodeOneJob() *serverapi.Fake {
	f := serverapi.NewFake()
	f.Server = serverapi.BatchStatusItem{Name: "server"}
	f.Nodes["node1"] = serverapi.BatchStatusItem{
		Name: "node1",
		Attrib: []serverapi.Attrib{
			{Name: "state", Value: "free"},
			{Name: "resources_available", Resource: "ncpus", Value: "4"},
			{Name: "resources_available", Resource: "mem", Value: "8gb"},
		},
	}
	f.Jobs["1.server"] = serverapi.BatchStatusItem{
		Name: "1.server",
		Attrib: []serverapi.Attrib{
			{Name: "queue", Value: "workq"},
			{Name: "state", Value: "Q"},
			{Name: "select", Value: "1:ncpus=2:mem=2gb"},
			{Name: "place", Value: "free"},
			{Name: "Resource_List", Resource: "ncpus", Value: "2"},
			{Name: "Resource_List", Resource: "mem", Value: "2gb"},
			{Name: "user", Value: "alice"},
		},
	}
	f.Queues["workq"] = serverapi.BatchStatusItem{
		Name: "workq",
		Attrib: []serverapi.Attrib{
			{Name: "queue_type", Value: "execution"},
			{Name: "started", Value: "True"},
		},
	}
	return f
}

func TestLoadSnapshot(t *testing.T) {
	f := fakeOneNodeOneJob()
	reg := resource.NewRegistry()
	s, err := Load(context.Background(), f, reg)
	require.NoError(t, err)
	require.Len(t, s.Nodes, 1)
	require.Len(t, s.Jobs, 1)

	node, ok := s.NodeByName("node1")
	require.True(t, ok)
	require.Equal(t, 4.0, node.ResPair("ncpus").Avail.Num())

	job, ok := s.JobByName("1.server")
	require.True(t, ok)
	require.Equal(t, "alice", job.Job.User)
	v, ok := job.ResReq.Get("ncpus")
	require.True(t, ok)
	require.Equal(t, 2.0, v.Num())
}

func TestDupIsIndependent(t *testing.T) {
	f := fakeOneNodeOneJob()
	reg := resource.NewRegistry()
	s, err := Load(context.Background(), f, reg)
	require.NoError(t, err)

	dup, err := s.Dup()
	require.NoError(t, err)

	node, _ := dup.NodeByName("node1")
	req := resource.NewBag()
	ncpus, _ := node.Res["ncpus"].Get("avail")
	req.Set("ncpus", resource.NewNumeric(ncpus.Def, 2))
	require.NoError(t, node.UpdateOnRun(req))

	origNode, _ := s.NodeByName("node1")
	require.Equal(t, 0.0, origNode.ResPair("ncpus").Assigned.Num())
	require.Equal(t, 2.0, node.ResPair("ncpus").Assigned.Num())
}

func TestRunThenEndRestoresCounters(t *testing.T) {
	f := fakeOneNodeOneJob()
	reg := resource.NewRegistry()
	s, err := Load(context.Background(), f, reg)
	require.NoError(t, err)

	node, _ := s.NodeByName("node1")
	before := node.ResPair("ncpus").Assigned.Num()

	def, _ := reg.Lookup("ncpus")
	req := resource.NewBag()
	req.Set("ncpus", resource.NewNumeric(def, 2))

	require.NoError(t, node.UpdateOnRun(req))
	require.NoError(t, node.UpdateOnEnd(req))

	after := node.ResPair("ncpus").Assigned.Num()
	require.Equal(t, before, after)
}
