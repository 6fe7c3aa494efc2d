// Package equivclass implements resresv-set equivalence classes (spec
// §3.11, §4.G): jobs whose runnability-affecting inputs are identical share
// a class, and a member-independent "never run" verdict on the
// representative short-circuits the rest of the class.
package equivclass

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/schederr"
)

// Key is the tuple spec §3.11 defines: (queue-if-special, user-if-limited,
// group-if-limited, project-if-limited, partition, select-signature,
// place-signature, filtered-resreq-signature).
type Key struct {
	Queue, User, Group, Project string
	Partition                    string
	SelectSig, PlaceSig, ReqSig   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s", k.Queue, k.User, k.Group, k.Project, k.Partition, k.SelectSig, k.PlaceSig, k.ReqSig)
}

// QueueClassifier reports whether queueName has limits or is otherwise
// "special" (reservation queue, dedicated-time queue) such that the class
// key must include it; HasUserLimits/HasGroupLimits/HasProjectLimits report
// whether any limit of that entity kind exists at all, letting classes collapse
// across jobs from different users when no limit depends on user identity.
type QueueClassifier interface {
	QueueIsSpecial(queueName string) bool
	HasUserLimits() bool
	HasGroupLimits() bool
	HasProjectLimits() bool
}

// KeyFor computes the equivalence-class key for rr (spec §3.11).
func KeyFor(rr *entity.ResResv, reqSig string, qc QueueClassifier) Key {
	var k Key
	if qc.QueueIsSpecial(rr.QueueName) {
		k.Queue = rr.QueueName
	}
	if rr.Job != nil {
		if qc.HasUserLimits() {
			k.User = rr.Job.User
		}
		if qc.HasGroupLimits() {
			k.Group = rr.Job.Group
		}
		if qc.HasProjectLimits() {
			k.Project = rr.Job.Project
		}
	}
	k.Partition = rr.Partition
	k.SelectSig = rr.Select.Signature()
	k.PlaceSig = rr.Place.Signature()
	k.ReqSig = reqSig
	return k
}

// outcomeRow is the memdb-stored cache entry for one class.
type outcomeRow struct {
	Key        string
	MemberIndependent bool
	Err        *schederr.SchedError // nil if the representative's last verdict was "can run" or member-specific
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"class": {
			Name: "class",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
			},
		},
	},
}

// memberIndependentKinds lists the failure reasons spec §4.G calls out as
// "member-independent" (insufficient global resource, dedicated-time
// conflict, ...): safe to short-circuit every member of the class without
// re-evaluation. Member-specific reasons (fairshare, starving, user-specific
// limits) must not be cached this way (spec §4.G).
var memberIndependentKinds = map[schederr.Kind]bool{
	schederr.KindInsufficientServerResource: true,
	schederr.KindInsufficientQueueResource:  true,
	schederr.KindDedicatedTime:              true,
	schederr.KindCrossDedicated:             true,
	schederr.KindPrimeOnly:                  true,
	schederr.KindNonprimeOnly:               true,
	schederr.KindQueueNotStarted:            true,
	schederr.KindQueueNotExec:               true,
	schederr.KindCannotSpanPlacementSet:     true,
	schederr.KindNoFreeNodes:                true,
	schederr.KindProvDisabledServer:         true,
}

// IsMemberIndependent reports whether k is safe to cache as a class-wide
// short-circuit verdict.
func IsMemberIndependent(k schederr.Kind) bool { return memberIndependentKinds[k] }

// Index groups jobs into equivalence classes and caches representative
// outcomes, backed by memdb for the class-key -> outcome lookup (spec §4.G).
type Index struct {
	db      *memdb.MemDB
	members map[string][]*entity.ResResv
	order   []string
}

func NewIndex() (*Index, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, members: map[string][]*entity.ResResv{}}, nil
}

// Add places rr into the class named by key (the caller computes key once
// per job, e.g. with KeyFor).
func (idx *Index) Add(rr *entity.ResResv, key Key) {
	k := key.String()
	if _, ok := idx.members[k]; !ok {
		idx.order = append(idx.order, k)
	}
	idx.members[k] = append(idx.members[k], rr)
}

// Members returns every job in the class keyed by key.
func (idx *Index) Members(key Key) []*entity.ResResv {
	return idx.members[key.String()]
}

// Classes returns all class keys in insertion order (deterministic
// iteration for the cycle orchestrator).
func (idx *Index) Classes() []string { return idx.order }

// RecordOutcome stores the representative's verdict for key. If e is nil,
// the class has no cached short-circuit (the representative ran or failed
// for a member-specific reason).
func (idx *Index) RecordOutcome(key Key, e *schederr.SchedError) error {
	row := &outcomeRow{Key: key.String()}
	if e != nil && IsMemberIndependent(e.Kind) {
		row.MemberIndependent = true
		row.Err = e
	}
	txn := idx.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("class", row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ShortCircuit returns the cached member-independent failure for key, if
// any (spec P8: two jobs in the same class with a member-independent
// never-run reason get the same verdict).
func (idx *Index) ShortCircuit(key Key) (*schederr.SchedError, bool) {
	txn := idx.db.Txn(false)
	raw, err := txn.First("class", "id", key.String())
	if err != nil || raw == nil {
		return nil, false
	}
	row := raw.(*outcomeRow)
	if !row.MemberIndependent {
		return nil, false
	}
	return row.Err, true
}
