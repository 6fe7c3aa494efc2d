// Package limit implements the hard/soft run- and resource-limit engine
// (spec §4.D). It is intentionally entity-agnostic: rules and counters are
// keyed by plain strings (entity name, resource name, queue name) so this
// package never imports internal/entity; callers (internal/fit,
// internal/cycle) translate a Job/Queue into the EvalInput this package
// consumes. This also keeps the engine trivially unit-testable without a
// full snapshot.
package limit

import "fmt"

// EntityKind is the limit's entity axis (spec §4.D).
type EntityKind int

const (
	EntityUser EntityKind = iota
	EntityGroup
	EntityProject
	EntityAll
)

func (e EntityKind) String() string {
	switch e {
	case EntityUser:
		return "user"
	case EntityGroup:
		return "group"
	case EntityProject:
		return "project"
	case EntityAll:
		return "all"
	default:
		return "unknown"
	}
}

// Scope is the limit's scope axis.
type Scope int

const (
	ScopeServer Scope = iota
	ScopeQueue
)

// RuleKind is the limit's kind axis.
type RuleKind int

const (
	RuleKindRunCount RuleKind = iota
	RuleKindResource
)

// Rule is one limit, parsed from either the legacy max_* attributes or the
// newer `[u:name=N,g:name=N,p:name=N,o:PBS_ALL=N]` grammar (spec §4.D,
// grounded on OpenPBS limits_if.h).
type Rule struct {
	Kind       RuleKind
	Entity     EntityKind
	EntityName string // "" for EntityAll (PBS_ALL and PBS_GENERIC both parse to it), else user/group/project name
	Scope      Scope
	QueueName  string // only meaningful when Scope == ScopeQueue
	Hard       bool   // false == soft
	ResName    string // only meaningful when Kind == RuleKindResource
	Threshold  float64
}

// key identifies a Rule's (entity-name, resource-name, scope, queue) slot
// for the decision tree (spec: "engine builds a decision tree keyed by
// (entity-name, resource-name)").
type key struct {
	kind      RuleKind
	entity    EntityKind
	entityName string
	scope     Scope
	queueName string
	resName   string
}

// Set is a queue's or the server's limit configuration: a decision tree
// (map) from key to the matching Rule(s), hard and soft kept separately so
// a soft violation can be reported without forbidding the run.
type Set struct {
	hard map[key][]Rule
	soft map[key][]Rule
}

func NewSet() *Set {
	return &Set{hard: make(map[key][]Rule), soft: make(map[key][]Rule)}
}

func (s *Set) Add(r Rule) {
	k := key{kind: r.Kind, entity: r.Entity, entityName: r.EntityName, scope: r.Scope, queueName: r.QueueName, resName: r.ResName}
	if r.Hard {
		s.hard[k] = append(s.hard[k], r)
	} else {
		s.soft[k] = append(s.soft[k], r)
	}
}

// HasEntityLimits reports whether s carries any rule (hard or soft, any
// scope) keyed to the given entity axis. internal/equivclass uses this to
// decide whether a job's user/group/project identity is part of its
// equivalence-class key (spec §3.11: "user-if-user-limits" etc — a class
// key only needs to distinguish identities that limits actually key on).
func (s *Set) HasEntityLimits(kind EntityKind) bool {
	for k := range s.hard {
		if k.entity == kind {
			return true
		}
	}
	for k := range s.soft {
		if k.entity == kind {
			return true
		}
	}
	return false
}

// Counters tracks the two running totals the engine maintains per key
// (spec §4.D): "running now" and "total including queued by that entity".
type Counters struct {
	running map[key]float64
	total   map[key]float64
}

func NewCounters() *Counters {
	return &Counters{running: make(map[key]float64), total: make(map[key]float64)}
}

func countKey(kind RuleKind, entity EntityKind, entityName string, scope Scope, queueName, resName string) key {
	return key{kind: kind, entity: entity, entityName: entityName, scope: scope, queueName: queueName, resName: resName}
}

// IncrRunning updates the running-now counter; called on every simulated
// run/end inside planner loops (spec §4.D).
func (c *Counters) IncrRunning(kind RuleKind, entity EntityKind, entityName string, scope Scope, queueName, resName string, delta float64) {
	c.running[countKey(kind, entity, entityName, scope, queueName, resName)] += delta
}

func (c *Counters) Running(kind RuleKind, entity EntityKind, entityName string, scope Scope, queueName, resName string) float64 {
	return c.running[countKey(kind, entity, entityName, scope, queueName, resName)]
}

// IncrTotal updates the total-including-queued counter, used only by
// has_*_limit short-circuits.
func (c *Counters) IncrTotal(kind RuleKind, entity EntityKind, entityName string, scope Scope, queueName, resName string, delta float64) {
	c.total[countKey(kind, entity, entityName, scope, queueName, resName)] += delta
}

func (c *Counters) Total(kind RuleKind, entity EntityKind, entityName string, scope Scope, queueName, resName string) float64 {
	return c.total[countKey(kind, entity, entityName, scope, queueName, resName)]
}

// EvalInput is the scalar projection of a job/queue the engine needs to
// evaluate whether running would violate a limit.
type EvalInput struct {
	User, Group, Project, QueueName string
	// ResourceAmounts is the per-resource amount this run would add (for
	// RuleKindResource checks); RuleKindRunCount checks use amount 1
	// implicitly per matching entity axis.
	ResourceAmounts map[string]float64
}

// Violation describes one exceeded limit.
type Violation struct {
	Rule    Rule
	Soft    bool
	Current float64
}

func (v Violation) String() string {
	hardness := "hard"
	if v.Soft {
		hardness = "soft"
	}
	return fmt.Sprintf("%s %s limit for %s=%s exceeded (current=%v, threshold=%v)",
		hardness, v.Rule.Kind, v.Rule.Entity, v.Rule.EntityName, v.Current, v.Rule.Threshold)
}

// Eval checks in against s and the current counters, for the given scope
// (server or queue check is driven by which Set the caller passes — fit
// calls Eval twice, once with the server's Set/Counters and once with the
// queue's, per spec §4.H check 3 "evaluate D against server then queue").
//
// Returns the first hard violation (for short-circuit callers) and the full
// list of soft violations (soft violations never forbid running; they only
// raise preemption susceptibility, spec §4.D).
func Eval(s *Set, counters *Counters, scope Scope, in EvalInput) (hard *Violation, soft []Violation) {
	axes := []struct {
		kind EntityKind
		name string
	}{
		{EntityUser, in.User},
		{EntityGroup, in.Group},
		{EntityProject, in.Project},
		{EntityAll, ""},
	}
	for _, axis := range axes {
		for _, rules := range s.hard {
			for _, r := range rules {
				if r.Entity != axis.kind || r.EntityName != axis.name || r.Scope != scope {
					continue
				}
				if r.Scope == ScopeQueue && r.QueueName != in.QueueName {
					continue
				}
				if v := checkRule(r, counters, in, false); v != nil {
					return v, soft
				}
			}
		}
	}
	for _, axis := range axes {
		for _, rules := range s.soft {
			for _, r := range rules {
				if r.Entity != axis.kind || r.EntityName != axis.name || r.Scope != scope {
					continue
				}
				if r.Scope == ScopeQueue && r.QueueName != in.QueueName {
					continue
				}
				if v := checkRule(r, counters, in, true); v != nil {
					soft = append(soft, *v)
				}
			}
		}
	}
	return nil, soft
}

func checkRule(r Rule, counters *Counters, in EvalInput, soft bool) *Violation {
	switch r.Kind {
	case RuleKindRunCount:
		cur := counters.Running(r.Kind, r.Entity, r.EntityName, r.Scope, r.QueueName, "")
		if cur+1 > r.Threshold {
			return &Violation{Rule: r, Soft: soft, Current: cur}
		}
	case RuleKindResource:
		amount := in.ResourceAmounts[r.ResName]
		cur := counters.Running(r.Kind, r.Entity, r.EntityName, r.Scope, r.QueueName, r.ResName)
		if cur+amount > r.Threshold {
			return &Violation{Rule: r, Soft: soft, Current: cur}
		}
	}
	return nil
}
