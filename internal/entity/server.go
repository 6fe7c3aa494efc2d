package entity

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/pbssched/core/internal/limit"
)

// Server is sinfo (spec §3.7): the root of one cycle's snapshot. It owns
// its queues, nodes, reservations, jobs, and (via memdb) the indices used
// to query them; queues reference jobs/nodes by name/rank but do not own
// them.
type Server struct {
	Now float64

	Queues  []*Queue
	Nodes   []*Node
	Resvs   []*ResResv // Kind == KindResv
	Jobs    []*ResResv // Kind == KindJob

	Limits    *limit.Set
	Counters  *limit.Counters

	NodeGroupingEnabled bool
	EligibleTimeEnabled bool
	ProvisioningEnabled bool
	BackfillDepth       int
	RestrictReleaseOnSuspend []string

	FormulaText string

	db *memdb.MemDB
}

var serverSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"job": {
			Name: "job",
			Indexes: map[string]*memdb.IndexSchema{
				"id":    {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "Rank"}},
				"name":  {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
				"queue": {Name: "queue", Indexer: &memdb.StringFieldIndex{Field: "QueueName"}},
				"user":  {Name: "user", Indexer: &memdb.StringFieldIndex{Field: "User"}},
			},
		},
		"resv": {
			Name: "resv",
			Indexes: map[string]*memdb.IndexSchema{
				"id":   {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "Rank"}},
				"name": {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
			},
		},
		"node": {
			Name: "node",
			Indexes: map[string]*memdb.IndexSchema{
				"id":    {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "Rank"}},
				"name":  {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
				"queue": {Name: "queue", Indexer: &memdb.StringFieldIndex{Field: "Queue"}},
			},
		},
		"queue": {
			Name: "queue",
			Indexes: map[string]*memdb.IndexSchema{
				"name": {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
			},
		},
	},
}

// jobIndexRow adapts ResResv for the memdb "job" table, which wants a flat
// Rank/Name/QueueName/User surface; memdb's field indexer reflects on the
// stored struct directly so the stored value is a thin row wrapping the
// pointer rather than ResResv itself (ResResv's QueueName/User live nested
// under Shared/Job).
type jobIndexRow struct {
	Rank      int
	Name      string
	QueueName string
	User      string
	RR        *ResResv
}

type nodeIndexRow struct {
	Rank  int
	Name  string
	Queue string
	N     *Node
}

type resvIndexRow struct {
	Rank int
	Name string
	RR   *ResResv
}

type queueIndexRow struct {
	Name string
	Q    *Queue
}

// NewServer builds an empty Server with a fresh memdb index.
func NewServer() (*Server, error) {
	db, err := memdb.NewMemDB(serverSchema)
	if err != nil {
		return nil, fmt.Errorf("entity: building memdb schema: %w", err)
	}
	return &Server{
		db:       db,
		Limits:   limit.NewSet(),
		Counters: limit.NewCounters(),
	}, nil
}

// Index (re)builds the memdb tables from s.Jobs/Resvs/Nodes/Queues. Callers
// invoke this once after loading a snapshot and again after Dup.
func (s *Server) Index() error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, tbl := range []string{"job", "resv", "node"} {
		if _, err := txn.DeleteAll(tbl, "id"); err != nil {
			return err
		}
	}
	if _, err := txn.DeleteAll("queue", "name"); err != nil {
		return err
	}

	for _, j := range s.Jobs {
		row := &jobIndexRow{Rank: j.Rank, Name: j.Name, QueueName: j.QueueName, RR: j}
		if j.Job != nil {
			row.User = j.Job.User
		}
		if err := txn.Insert("job", row); err != nil {
			return err
		}
	}
	for _, r := range s.Resvs {
		if err := txn.Insert("resv", &resvIndexRow{Rank: r.Rank, Name: r.Name, RR: r}); err != nil {
			return err
		}
	}
	for _, n := range s.Nodes {
		if err := txn.Insert("node", &nodeIndexRow{Rank: n.Rank, Name: n.Name, Queue: n.Queue, N: n}); err != nil {
			return err
		}
	}
	for _, q := range s.Queues {
		if err := txn.Insert("queue", &queueIndexRow{Name: q.Name, Q: q}); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// JobByName looks up a job by name via the memdb index.
func (s *Server) JobByName(name string) (*ResResv, bool) {
	txn := s.db.Txn(false)
	raw, err := txn.First("job", "name", name)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*jobIndexRow).RR, true
}

// JobsByQueue returns all jobs associated with queueName via the memdb
// secondary index (spec §4.L "candidate job list ... across queues").
func (s *Server) JobsByQueue(queueName string) []*ResResv {
	txn := s.db.Txn(false)
	it, err := txn.Get("job", "queue", queueName)
	if err != nil {
		return nil
	}
	var out []*ResResv
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*jobIndexRow).RR)
	}
	return out
}

// JobsByUser returns all jobs for user via the memdb secondary index.
func (s *Server) JobsByUser(user string) []*ResResv {
	txn := s.db.Txn(false)
	it, err := txn.Get("job", "user", user)
	if err != nil {
		return nil
	}
	var out []*ResResv
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*jobIndexRow).RR)
	}
	return out
}

// NodeByName looks up a node by name.
func (s *Server) NodeByName(name string) (*Node, bool) {
	txn := s.db.Txn(false)
	raw, err := txn.First("node", "name", name)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*nodeIndexRow).N, true
}

// NodesByQueue returns nodes associated with queueName.
func (s *Server) NodesByQueue(queueName string) []*Node {
	txn := s.db.Txn(false)
	it, err := txn.Get("node", "queue", queueName)
	if err != nil {
		return nil
	}
	var out []*Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*nodeIndexRow).N)
	}
	return out
}

// QueueByName looks up a queue by name.
func (s *Server) QueueByName(name string) (*Queue, bool) {
	txn := s.db.Txn(false)
	raw, err := txn.First("queue", "name", name)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*queueIndexRow).Q, true
}

// Dup produces an independent universe for simulation (spec §4.B, §5): a
// deep copy of every entity, reindexed into a fresh memdb. This is the
// "duplicate-as-reindex" pattern from spec §9: cross-references are
// (array_tag, index)/rank pairs, so re-indexing a deep copy is sufficient —
// there is no pointer graph to rewrite.
func (s *Server) Dup() (*Server, error) {
	cp, err := NewServer()
	if err != nil {
		return nil, err
	}
	cp.Now = s.Now
	cp.NodeGroupingEnabled = s.NodeGroupingEnabled
	cp.EligibleTimeEnabled = s.EligibleTimeEnabled
	cp.ProvisioningEnabled = s.ProvisioningEnabled
	cp.BackfillDepth = s.BackfillDepth
	cp.RestrictReleaseOnSuspend = append([]string(nil), s.RestrictReleaseOnSuspend...)
	cp.FormulaText = s.FormulaText

	for _, n := range s.Nodes {
		cp.Nodes = append(cp.Nodes, n.Dup())
	}
	for _, j := range s.Jobs {
		cp.Jobs = append(cp.Jobs, j.Dup())
	}
	for _, r := range s.Resvs {
		cp.Resvs = append(cp.Resvs, r.Dup())
	}
	for _, q := range s.Queues {
		nq := *q
		cp.Queues = append(cp.Queues, &nq)
	}
	if err := cp.Index(); err != nil {
		return nil, err
	}
	return cp, nil
}
