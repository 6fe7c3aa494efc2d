package serverapi

import (
	"context"
	"fmt"
	"sort"
)

// Fake is an in-memory Server used by tests and by the cycle package's own
// unit tests; it never touches a wire. Mutations made via Run/Alter/Preempt
// are reflected on the next Stat* call, mirroring the "fresh snapshot every
// cycle" contract (spec §1 Non-goals).
type Fake struct {
	Server   BatchStatusItem
	Sched    BatchStatusItem
	Queues   map[string]BatchStatusItem
	Nodes    map[string]BatchStatusItem
	Resvs    map[string]BatchStatusItem
	Jobs     map[string]BatchStatusItem

	PreemptReplies map[string]byte // name -> method, consulted by PreemptJobs

	Calls []string // recorded commit calls, for test assertions
}

func NewFake() *Fake {
	return &Fake{
		Queues: map[string]BatchStatusItem{},
		Nodes:  map[string]BatchStatusItem{},
		Resvs:  map[string]BatchStatusItem{},
		Jobs:   map[string]BatchStatusItem{},
		PreemptReplies: map[string]byte{},
	}
}

func sortedValues(m map[string]BatchStatusItem) []BatchStatusItem {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]BatchStatusItem, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}

func (f *Fake) StatServer(ctx context.Context) (BatchStatusItem, error) { return f.Server, nil }
func (f *Fake) StatSched(ctx context.Context) (BatchStatusItem, error)  { return f.Sched, nil }
func (f *Fake) StatQueue(ctx context.Context) ([]BatchStatusItem, error) {
	return sortedValues(f.Queues), nil
}
func (f *Fake) StatNode(ctx context.Context) ([]BatchStatusItem, error) {
	return sortedValues(f.Nodes), nil
}
func (f *Fake) StatResv(ctx context.Context) ([]BatchStatusItem, error) {
	return sortedValues(f.Resvs), nil
}
func (f *Fake) SelStatJobs(ctx context.Context, sel JobSelection, attrs []string, extend string) ([]BatchStatusItem, error) {
	out := sortedValues(f.Jobs)
	if sel.Queue == "" && sel.User == "" && sel.State == "" {
		return out, nil
	}
	var filtered []BatchStatusItem
	for _, j := range out {
		if sel.Queue != "" {
			if v, _ := j.Get("queue"); v != sel.Queue {
				continue
			}
		}
		if sel.User != "" {
			if v, _ := j.Get("user"); v != sel.User {
				continue
			}
		}
		if sel.State != "" {
			if v, _ := j.Get("state"); v != sel.State {
				continue
			}
		}
		filtered = append(filtered, j)
	}
	return filtered, nil
}

func (f *Fake) RunJob(ctx context.Context, name, execVnode string, async bool) error {
	f.Calls = append(f.Calls, fmt.Sprintf("run_job(%s,%s)", name, execVnode))
	item, ok := f.Jobs[name]
	if !ok {
		return fmt.Errorf("serverapi: no such job %q", name)
	}
	item = setAttr(item, "state", "R")
	item = setAttr(item, "exec_vnode", execVnode)
	f.Jobs[name] = item
	return nil
}

func (f *Fake) AlterJob(ctx context.Context, name string, attrs []Attrib) error {
	f.Calls = append(f.Calls, fmt.Sprintf("alter_job(%s)", name))
	item := f.Jobs[name]
	for _, a := range attrs {
		item = setAttr(item, a.Name, a.Value)
	}
	f.Jobs[name] = item
	return nil
}

func (f *Fake) AsyncAlterJob(ctx context.Context, name string, attrs []Attrib) error {
	return f.AlterJob(ctx, name, attrs)
}

func (f *Fake) PreemptJobs(ctx context.Context, names []string) (map[string]byte, error) {
	f.Calls = append(f.Calls, fmt.Sprintf("preempt_jobs(%v)", names))
	out := make(map[string]byte, len(names))
	for _, n := range names {
		method, ok := f.PreemptReplies[n]
		if !ok {
			method = 'S'
		}
		out[n] = method
		if method != '0' {
			item := f.Jobs[n]
			switch method {
			case 'S':
				item = setAttr(item, "state", "S")
			case 'Q':
				item = setAttr(item, "state", "Q")
			case 'D':
				delete(f.Jobs, n)
				continue
			case 'C':
				item = setAttr(item, "state", "Q")
				item = setAttr(item, "checkpointed", "1")
			}
			f.Jobs[n] = item
		}
	}
	return out, nil
}

func (f *Fake) ConfirmResv(ctx context.Context, name, execVnode string, start float64) error {
	f.Calls = append(f.Calls, fmt.Sprintf("confirm_resv(%s)", name))
	item := f.Resvs[name]
	item = setAttr(item, "state", "confirmed")
	item = setAttr(item, "exec_vnode", execVnode)
	f.Resvs[name] = item
	return nil
}

func (f *Fake) DeleteResv(ctx context.Context, name string) error {
	f.Calls = append(f.Calls, fmt.Sprintf("delete_resv(%s)", name))
	delete(f.Resvs, name)
	return nil
}

func setAttr(item BatchStatusItem, name, value string) BatchStatusItem {
	for i, a := range item.Attrib {
		if a.Name == name && a.Resource == "" {
			item.Attrib[i].Value = value
			return item
		}
	}
	item.Attrib = append(item.Attrib, Attrib{Name: name, Value: value})
	return item
}
