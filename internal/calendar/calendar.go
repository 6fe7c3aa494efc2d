// Package calendar implements the time-ordered event list and the
// forward-apply simulator (spec §3.8, §4.I).
package calendar

import "sort"

// Kind enumerates calendar event kinds (spec §3.8). Kind ordering below
// also fixes the canonical same-instant processing order (spec §4.I:
// "end < provisioning-complete < policy-change < run").
type Kind int

const (
	KindEnd Kind = iota
	KindProvisioningComplete
	KindPolicyChange
	KindRun
)

// Event is one calendar entry: (time, kind, subject rank, disabled?).
// Subject is an opaque rank the caller resolves back to a job/reservation/
// node; this package never imports internal/entity to stay reusable by both
// the live universe and any duplicated one without a cyclic dependency.
type Event struct {
	Time     float64
	Kind     Kind
	Subject  int // rank of the resource_resv, or node rank for prov-complete
	Rank     int // tie-break rank (spec §3.8: "ordered by kind then rank")
	Disabled bool

	next *Event
}

// List is the singly-linked, strictly time-ordered event list (spec §4.I).
type List struct {
	head *Event
	n    int
}

func NewList() *List { return &List{} }

// Len returns the number of (including disabled) events.
func (l *List) Len() int { return l.n }

// AddEvent inserts e in order, O(n) (spec §4.I).
func (l *List) AddEvent(e *Event) {
	l.n++
	if l.head == nil || less(e, l.head) {
		e.next = l.head
		l.head = e
		return
	}
	cur := l.head
	for cur.next != nil && !less(e, cur.next) {
		cur = cur.next
	}
	e.next = cur.next
	cur.next = e
}

func less(a, b *Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Rank < b.Rank
}

// DeleteEvent marks e disabled and detaches it from the list (spec §4.I:
// "mark disabled and detach; queued references to te elsewhere are swept").
func (l *List) DeleteEvent(e *Event) {
	e.Disabled = true
	if l.head == e {
		l.head = e.next
		e.next = nil
		l.n--
		return
	}
	cur := l.head
	for cur != nil && cur.next != e {
		cur = cur.next
	}
	if cur != nil {
		cur.next = e.next
		e.next = nil
		l.n--
	}
}

// NextEvent returns the earliest non-disabled event, optionally advancing
// past it (spec §4.I next_event).
func (l *List) NextEvent(advance bool) *Event {
	cur := l.head
	for cur != nil && cur.Disabled {
		cur = cur.next
	}
	if cur == nil {
		return nil
	}
	if advance {
		l.DeleteEvent(cur)
	}
	return cur
}

// ExistsRunEvent scans for an enabled run event whose Time lies in
// [start, end) (spec §4.I exists_run_event interval scan).
func (l *List) ExistsRunEvent(start, end float64) bool {
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.Disabled || cur.Kind != KindRun {
			continue
		}
		if start <= cur.Time && cur.Time < end {
			return true
		}
	}
	return false
}

// Snapshot returns all non-disabled events in order, without consuming the
// list (for tests / invariant checks, spec P2).
func (l *List) Snapshot() []*Event {
	var out []*Event
	for cur := l.head; cur != nil; cur = cur.next {
		if !cur.Disabled {
			out = append(out, cur)
		}
	}
	return out
}

// CheckOrder verifies P2: strictly non-decreasing times; equal times
// ordered end < provisioning-complete < policy-change < run.
func (l *List) CheckOrder() bool {
	events := l.Snapshot()
	return sort.SliceIsSorted(events, func(i, j int) bool { return less(events[i], events[j]) })
}

// SimOutcome is what a simulate callback returns to the driver loop.
type SimOutcome int

const (
	SimContinue SimOutcome = iota
	SimStop
	SimDeleteAndContinue
)

// Callback is invoked once per matching event during a forward simulation.
type Callback func(e *Event) SimOutcome

// GenericSim forward-iterates l from its current head up to endTime,
// invoking cb for every non-disabled event whose Kind is in mask (spec
// §4.I generic_sim). It does not advance l's own cursor — callers that want
// consuming iteration should call NextEvent themselves; GenericSim is for
// read-mostly simulation passes over a duplicated list.
func GenericSim(l *List, mask map[Kind]bool, endTime float64, cb Callback) {
	var prev *Event
	cur := l.head
	for cur != nil && cur.Time <= endTime {
		nxt := cur.next
		if !cur.Disabled && (mask == nil || mask[cur.Kind]) {
			switch cb(cur) {
			case SimStop:
				return
			case SimDeleteAndContinue:
				cur.Disabled = true
				if prev == nil {
					l.head = nxt
				} else {
					prev.next = nxt
				}
				l.n--
				cur = nxt
				continue
			}
		}
		prev = cur
		cur = nxt
	}
}
