package preempt

import (
	"testing"

	"github.com/pbssched/core/internal/entity"
	"github.com/pbssched/core/internal/schederr"
	"github.com/stretchr/testify/require"
)

func TestStatusBitmaskOrdering(t *testing.T) {
	v := &JobView{IsExpressQueue: true, IsStarving: true}
	s := Status(v, false)
	require.NotZero(t, s&uint32(BitExpressQueue))
	require.NotZero(t, s&uint32(BitStarving))
	require.Zero(t, s&uint32(BitFairshareOver))
}

func TestStatusDefaultsToNormal(t *testing.T) {
	s := Status(&JobView{}, false)
	require.Equal(t, uint32(BitNormal), s)
}

func TestPrioTableHighestMatchWins(t *testing.T) {
	table := DefaultPrioTable()
	status := uint32(BitExpressQueue) | uint32(BitFairshareOver)
	p := table.Priority(status)
	require.Equal(t, 800, p) // express-queue row (800) outranks fairshare-over (400)
}

func TestOrderTableFiltersByCapability(t *testing.T) {
	job := &JobView{WalltimeRequested: 100, Elapsed: 10, CapableOfSuspend: true}
	methods := DefaultOrderTable().MethodsFor(job)
	require.Contains(t, methods, MethodSuspend)
	require.NotContains(t, methods, MethodCheckpoint)
	require.NotContains(t, methods, MethodRequeue)
	require.Contains(t, methods, MethodDelete)
}

func TestSortCandidatesAscendingPriorityThenStartTime(t *testing.T) {
	cands := []*Candidate{
		{Priority: 100, View: &JobView{Name: "b", Start: 5}},
		{Priority: 100, View: &JobView{Name: "a", Start: 1}},
		{Priority: 50, View: &JobView{Name: "c", Start: 100}},
	}
	SortCandidates(cands, OrderByStartTime)
	require.Equal(t, []string{"c", "a", "b"}, []string{cands[0].View.Name, cands[1].View.Name, cands[2].View.Name})
}

func TestFindCandidatesFiltersByUserSimilarityOnLimitFailure(t *testing.T) {
	srv, _ := entity.NewServer()
	target := &entity.ResResv{Kind: entity.KindJob, Shared: entity.Shared{Name: "hi", Rank: 1}, Job: &entity.JobData{User: "alice", IsExpressQueue: true}}
	srv.Jobs = []*entity.ResResv{
		{Kind: entity.KindJob, Shared: entity.Shared{Name: "lo-alice", Rank: 2, Start: 10}, Job: &entity.JobData{State: entity.JobRunning, User: "alice"}},
		{Kind: entity.KindJob, Shared: entity.Shared{Name: "lo-bob", Rank: 3, Start: 20}, Job: &entity.JobData{State: entity.JobRunning, User: "bob"}},
	}

	cands := FindCandidates(srv, target, DefaultPrioTable(), 100, []schederr.Kind{schederr.KindLimit})
	require.Len(t, cands, 1)
	require.Equal(t, "lo-alice", cands[0].RR.Name)
}

func TestFindCandidatesExcludesAtOrAboveTargetPriority(t *testing.T) {
	srv, _ := entity.NewServer()
	target := &entity.ResResv{Kind: entity.KindJob, Shared: entity.Shared{Name: "hi", Rank: 1}, Job: &entity.JobData{}}
	srv.Jobs = []*entity.ResResv{
		{Kind: entity.KindJob, Shared: entity.Shared{Name: "peer-express", Rank: 2}, Job: &entity.JobData{State: entity.JobRunning, IsExpressQueue: true}},
	}
	cands := FindCandidates(srv, target, DefaultPrioTable(), 100, nil)
	require.Empty(t, cands) // P5: express-queue peer outranks a normal target, never a candidate
}

// fakePool is a minimal Simulator for testing MinimalSet/CheckMinimal (P4):
// each candidate "holds" an amount of capacity; Release frees it, Restore
// reclaims it; fits() checks whether need <= available.
type fakePool struct {
	available float64
	held      map[int]float64
}

func (p *fakePool) Release(c *Candidate) {
	p.available += p.held[c.RR.Rank]
}
func (p *fakePool) Restore(c *Candidate) {
	p.available -= p.held[c.RR.Rank]
}

func TestMinimalSetDropsOnlyWhatsNeeded(t *testing.T) {
	pool := &fakePool{available: 0, held: map[int]float64{1: 2, 2: 3, 3: 5}}
	cands := []*Candidate{
		{RR: &entity.ResResv{Shared: entity.Shared{Rank: 1}}},
		{RR: &entity.ResResv{Shared: entity.Shared{Rank: 2}}},
		{RR: &entity.ResResv{Shared: entity.Shared{Rank: 3}}},
	}
	need := 4.0
	fits := func() bool { return pool.available >= need }

	targets, ok := MinimalSet(pool, cands, fits)
	require.True(t, ok)
	// releasing rank 1 (2) then rank 2 (3) reaches 5 >= 4, satisfying fit;
	// the reverse pass then tries to add rank 1 back: without it pool has 3
	// (rank 2 alone) which is < 4, so rank 1 must stay in the final set.
	require.Len(t, targets, 2)
	require.True(t, CheckMinimal(pool, targets, fits))
}

func TestMinimalSetReturnsFalseWhenNoCombinationFits(t *testing.T) {
	pool := &fakePool{available: 0, held: map[int]float64{1: 1}}
	cands := []*Candidate{{RR: &entity.ResResv{Shared: entity.Shared{Rank: 1}}}}
	fits := func() bool { return pool.available >= 100 }

	targets, ok := MinimalSet(pool, cands, fits)
	require.False(t, ok)
	require.Nil(t, targets)
	require.Equal(t, 0.0, pool.available) // restored on failure
}
