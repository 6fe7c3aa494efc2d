package entity

import "github.com/pbssched/core/internal/resource"

// NodeState is the set of booleans OpenPBS tracks per node (spec §3.3).
type NodeState struct {
	Free         bool
	JobBusy      bool
	JobExclusive bool
	Stale        bool
	Down         bool
	Offline      bool
	Provisioning bool
	Sleep        bool
	Unknown      bool
}

// Runnable reports whether a node in this state can host new work at all.
func (s NodeState) Runnable() bool {
	return !s.Down && !s.Offline && !s.Stale && !s.Unknown && !s.Provisioning
}

// NodeEvent is one entry in a node's future-view linked list (spec §3.3
// node_events): a pointer to the calendar event that will touch this node.
type NodeEvent struct {
	Time float64
	Kind string
	Next *NodeEvent
}

// Node is ninfo (spec §3.3): one vnode.
type Node struct {
	Rank        int
	Name        string
	Host        string
	Queue       string // optional queue association, "" if none
	Partition   string
	MultiVnode  bool // true iff the host has >1 vnode

	State NodeState

	AcceptsReservations bool
	ProvisioningEnabled bool
	SharedDefault       bool
	ExclDefault         bool

	Res map[string]*resource.Bag // per-resource avail/assigned pair, keyed by resource name; value types defined below

	JobRanks  []int // ranks of jobs currently allocated here
	ResvRanks []int // ranks of reservations currently allocated here

	NodeEvents *NodeEvent // future-view linked list (spec §3.3)

	BucketIndex int // membership in internal/bucket's index, -1 if unassigned
}

// AvailAssigned is the avail/assigned pair carried per resource on a
// container entity (node, queue, server) per spec §3.1.
type AvailAssigned struct {
	Avail    resource.Value
	Assigned resource.Value
}

// ResPair returns the avail/assigned pair for resName, or a fully-unset pair
// if the node carries no definition for it.
func (n *Node) ResPair(resName string) AvailAssigned {
	bag, ok := n.Res[resName]
	if !ok {
		return AvailAssigned{}
	}
	avail, _ := bag.Get("avail")
	assigned, _ := bag.Get("assigned")
	return AvailAssigned{Avail: avail, Assigned: assigned}
}

// SetResPair stores avail/assigned for resName.
func (n *Node) SetResPair(resName string, pair AvailAssigned) {
	if n.Res == nil {
		n.Res = make(map[string]*resource.Bag)
	}
	bag := resource.NewBag()
	bag.Set("avail", pair.Avail)
	bag.Set("assigned", pair.Assigned)
	n.Res[resName] = bag
}

// Dup deep-copies n for simulation (spec §4.B).
func (n *Node) Dup() *Node {
	cp := *n
	cp.Res = make(map[string]*resource.Bag)
	for k, v := range n.Res {
		nb := resource.NewBag()
		for _, name := range v.Names() {
			val, _ := v.Get(name)
			nb.Set(name, val)
		}
		cp.Res[k] = nb
	}
	cp.JobRanks = append([]int(nil), n.JobRanks...)
	cp.ResvRanks = append([]int(nil), n.ResvRanks...)
	// NodeEvents is not copied: the duplicate starts with an empty list and
	// nothing refills it; the simulator walks the duplicated calendar
	// (spec §4.I) instead.
	cp.NodeEvents = nil
	return &cp
}

// UpdateOnRun applies a job's consumed resources to the node (spec §3.3
// update_node_on_run): for each RASSN resource in req, Assigned += req.
func (n *Node) UpdateOnRun(req *resource.Bag) error {
	for _, name := range req.Names() {
		reqVal, _ := req.Get(name)
		pair := n.ResPair(name)
		newAssigned, err := resource.Add(pair.Assigned, reqVal)
		if err != nil {
			return err
		}
		pair.Assigned = newAssigned
		n.SetResPair(name, pair)
	}
	return nil
}

// UpdateOnEnd reverses UpdateOnRun (spec P6 idempotence).
func (n *Node) UpdateOnEnd(req *resource.Bag) error {
	for _, name := range req.Names() {
		reqVal, _ := req.Get(name)
		pair := n.ResPair(name)
		newAssigned, err := resource.Sub(pair.Assigned, reqVal)
		if err != nil {
			return err
		}
		pair.Assigned = newAssigned
		n.SetResPair(name, pair)
	}
	return nil
}

// Residual returns avail-assigned for resName as a numeric value, or +Inf if
// avail is unset (spec: unset avail is "infinite").
func (n *Node) Residual(resName string) float64 {
	pair := n.ResPair(resName)
	if !pair.Avail.IsSet() {
		return posInf
	}
	return pair.Avail.Num() - pair.Assigned.Num()
}

const posInf = 1e18
