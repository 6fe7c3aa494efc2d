package calendar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventOrderingP2(t *testing.T) {
	l := NewList()
	l.AddEvent(&Event{Time: 100, Kind: KindRun, Rank: 1})
	l.AddEvent(&Event{Time: 100, Kind: KindEnd, Rank: 2})
	l.AddEvent(&Event{Time: 50, Kind: KindRun, Rank: 3})
	l.AddEvent(&Event{Time: 100, Kind: KindPolicyChange, Rank: 4})

	events := l.Snapshot()
	require.True(t, l.CheckOrder())
	require.Equal(t, 50.0, events[0].Time)
	// at time 100, end < policy-change < run
	require.Equal(t, KindEnd, events[1].Kind)
	require.Equal(t, KindPolicyChange, events[2].Kind)
	require.Equal(t, KindRun, events[3].Kind)
}

func TestDeleteEventSweeps(t *testing.T) {
	l := NewList()
	e1 := &Event{Time: 10, Kind: KindEnd, Rank: 1}
	e2 := &Event{Time: 20, Kind: KindEnd, Rank: 2}
	l.AddEvent(e1)
	l.AddEvent(e2)
	require.Equal(t, 2, l.Len())

	l.DeleteEvent(e1)
	require.Equal(t, 1, l.Len())
	require.True(t, e1.Disabled)
	require.Len(t, l.Snapshot(), 1)
}

func TestExistsRunEvent(t *testing.T) {
	l := NewList()
	l.AddEvent(&Event{Time: 50, Kind: KindRun, Rank: 1})
	require.True(t, l.ExistsRunEvent(0, 100))
	require.False(t, l.ExistsRunEvent(60, 100))
}

func TestGenericSimDeleteAndContinue(t *testing.T) {
	l := NewList()
	l.AddEvent(&Event{Time: 10, Kind: KindEnd, Rank: 1})
	l.AddEvent(&Event{Time: 20, Kind: KindEnd, Rank: 2})
	l.AddEvent(&Event{Time: 30, Kind: KindEnd, Rank: 3})

	var seen []int
	GenericSim(l, map[Kind]bool{KindEnd: true}, 100, func(e *Event) SimOutcome {
		seen = append(seen, e.Rank)
		if e.Rank == 2 {
			return SimDeleteAndContinue
		}
		return SimContinue
	})
	require.Equal(t, []int{1, 2, 3}, seen)
	require.Equal(t, 2, l.Len())
}
