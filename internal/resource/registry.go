package resource

import "fmt"

// Registry holds the server-wide resource Definition table. A resource's
// type is set exactly once at first definition (invariant I-R2): a later
// attempt to redefine with a different Kind is an error.
type Registry struct {
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Define registers name with kind/flags if not already present, or
// validates the existing definition matches (I-R2).
func (r *Registry) Define(name string, kind Kind, flags Flags) (*Definition, error) {
	if existing, ok := r.defs[name]; ok {
		if existing.Kind != kind {
			return nil, fmt.Errorf("resource: %q already defined as %v, cannot redefine as %v", name, existing.Kind, kind)
		}
		return existing, nil
	}
	def := &Definition{Name: name, Kind: kind, Flags: flags}
	r.defs[name] = def
	return def, nil
}

// Lookup returns the Definition for name, if any.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// MustLookup is a convenience for call sites that have already validated
// the resource is known (e.g. post-parse).
func (r *Registry) MustLookup(name string) *Definition {
	d, ok := r.defs[name]
	if !ok {
		return &Definition{Name: name, Kind: KindString}
	}
	return d
}

// Names returns every defined resource name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	return out
}
