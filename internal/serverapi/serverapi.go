// Package serverapi defines the opaque transport contract to the external
// server (spec §6.1): a typed query interface returning batch_status-style
// attribute lists, and commit operations (run/alter/preempt/confirm/delete).
// The real wire codec (RPC framing, auth) is out of scope per spec §1; this
// package ships the interface plus an in-memory Fake implementing it, used
// by internal/cycle's tests and by any integration harness.
package serverapi

import "context"

// Attrib is one (name, resource?, value, op) tuple as documented in spec
// §6.1. Resource is "" when the attribute is not itself a resource list
// member (e.g. "state" vs "Resource_List.ncpus").
type Attrib struct {
	Name     string
	Resource string
	Value    string
	Op       string // "=", "+=", "-=" etc; "" defaults to "="
}

// BatchStatusItem is one (name, attribs) entry, the shape every stat_*
// query returns.
type BatchStatusItem struct {
	Name   string
	Attrib []Attrib
}

// Get returns the value of the first Attrib named name, whatever its
// Resource; use GetResource to match a resource as well.
func (b BatchStatusItem) Get(name string) (string, bool) {
	for _, a := range b.Attrib {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// GetResource returns the value of Resource_List.<resName>-shaped attribs.
func (b BatchStatusItem) GetResource(name, resName string) (string, bool) {
	for _, a := range b.Attrib {
		if a.Name == name && a.Resource == resName {
			return a.Value, true
		}
	}
	return "", false
}

// JobSelection narrows selstat_jobs (spec §6.1); nil/empty fields mean "no
// filter on this axis".
type JobSelection struct {
	Queue string
	User  string
	State string
}

// Server is the typed query + commit surface the core consumes each cycle.
// Implementations must be safe to call from the single cycle goroutine only
// (spec §5: no concurrency between decisions); ingestion-time parallelism,
// if any, lives below this interface.
type Server interface {
	StatServer(ctx context.Context) (BatchStatusItem, error)
	StatSched(ctx context.Context) (BatchStatusItem, error)
	StatQueue(ctx context.Context) ([]BatchStatusItem, error)
	StatNode(ctx context.Context) ([]BatchStatusItem, error)
	StatResv(ctx context.Context) ([]BatchStatusItem, error)
	SelStatJobs(ctx context.Context, sel JobSelection, attrs []string, extend string) ([]BatchStatusItem, error)

	RunJob(ctx context.Context, name, execVnode string, async bool) error
	AlterJob(ctx context.Context, name string, attrs []Attrib) error
	AsyncAlterJob(ctx context.Context, name string, attrs []Attrib) error
	// PreemptJobs returns, per requested job name, the method applied:
	// 'S' suspend, 'C' checkpoint, 'Q' requeue, 'D' delete, '0' failed.
	PreemptJobs(ctx context.Context, names []string) (map[string]byte, error)

	ConfirmResv(ctx context.Context, name, execVnode string, start float64) error
	DeleteResv(ctx context.Context, name string) error
}
