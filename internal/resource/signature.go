package resource

import (
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// sigCache memoizes Signature renders: node-bucket and equivalence-class
// construction call Signature once per node/job per cycle, and homogeneous
// HPC racks mean the same (defs, values) shape recurs thousands of times.
var sigCache *lru.Cache[string, string]

func init() {
	c, err := lru.New[string, string](4096)
	if err != nil {
		panic(err)
	}
	sigCache = c
}

// Bag is an ordered, named collection of resource values, e.g. a node's
// non-consumable signature or a chunk's reduced request.
type Bag struct {
	names  []string
	values map[string]Value
}

func NewBag() *Bag {
	return &Bag{values: make(map[string]Value)}
}

func (b *Bag) Set(name string, v Value) {
	if _, exists := b.values[name]; !exists {
		b.names = append(b.names, name)
	}
	b.values[name] = v
}

func (b *Bag) Get(name string) (Value, bool) {
	v, ok := b.values[name]
	return v, ok
}

func (b *Bag) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Signature renders a canonical string for bag, suitable as an equivalence
// or node-bucket key (spec §3.10, §4.A). Deterministic: names are sorted
// before rendering regardless of insertion order.
func Signature(b *Bag) string {
	names := b.Names()
	sort.Strings(names)

	var key strings.Builder
	for _, n := range names {
		v, _ := b.Get(n)
		key.WriteString(n)
		key.WriteByte('=')
		key.WriteString(renderKey(v))
		key.WriteByte(';')
	}
	cacheKey := key.String()

	if cached, ok := sigCache.Get(cacheKey); ok {
		return cached
	}
	sigCache.Add(cacheKey, cacheKey)
	return cacheKey
}

func renderKey(v Value) string {
	if !v.isSet {
		return "<unset>"
	}
	if v.Def == nil {
		return "<nodef>"
	}
	switch v.Def.Kind {
	case KindLong, KindSize, KindDuration, KindFloat:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return v.str
	case KindStringArray:
		items := v.Strs().Slice()
		sort.Strings(items)
		return strings.Join(items, ",")
	case KindBoolean:
		switch v.b {
		case TriTrue:
			return "true"
		case TriFalse:
			return "false"
		default:
			return "unknown"
		}
	default:
		return ""
	}
}
