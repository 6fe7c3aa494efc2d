package resource

import "fmt"

// MaxIndirectHops bounds indirect-resource chasing (spec §3.1): a chain
// longer than this is treated as a cycle even if it is not literally one.
const MaxIndirectHops = 10

// IndirectSource is the minimal view of the node universe the resolver
// needs: the raw textual value of a resource on a named node, and whether
// that value is itself an indirect reference ("@othernode").
type IndirectSource interface {
	RawValue(node, resName string) (text string, isIndirect bool, target string, ok bool)
}

// ErrIndirectCycle is returned when a chain of indirect references exceeds
// MaxIndirectHops without resolving to a concrete value.
type ErrIndirectCycle struct {
	Node, Resource string
	Chain          []string
}

func (e *ErrIndirectCycle) Error() string {
	return fmt.Sprintf("resource: indirect cycle resolving %s.%s: %v", e.Node, e.Resource, e.Chain)
}

// ResolveIndirect follows "@othernode" references for (node, resName)
// starting from src, returning the final concrete node name whose value
// should be used, or an error if the chain exceeds MaxIndirectHops.
//
// Per spec §3.1, resolution runs once per cycle after nodes are loaded;
// callers cache the result rather than re-resolving per query.
func ResolveIndirect(src IndirectSource, node, resName string) (resolvedNode string, err error) {
	seen := map[string]bool{node: true}
	chain := []string{node}
	cur := node
	for hop := 0; hop < MaxIndirectHops; hop++ {
		_, isIndirect, target, ok := src.RawValue(cur, resName)
		if !ok {
			return cur, nil // resource absent on this node: resolves to itself (caller treats as unset)
		}
		if !isIndirect {
			return cur, nil
		}
		if seen[target] {
			chain = append(chain, target)
			return "", &ErrIndirectCycle{Node: node, Resource: resName, Chain: chain}
		}
		seen[target] = true
		chain = append(chain, target)
		cur = target
	}
	return "", &ErrIndirectCycle{Node: node, Resource: resName, Chain: chain}
}
