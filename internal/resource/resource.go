// Package resource implements the typed resource algebra (spec §3.1, §4.A):
// resource definitions, avail/assigned container values, job/reservation
// request values, parsing, arithmetic, comparison and signature rendering.
package resource

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// Kind is the wire type of a resource definition.
type Kind int

const (
	KindLong Kind = iota
	KindSize
	KindDuration
	KindFloat
	KindString
	KindStringArray
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindLong:
		return "long"
	case KindSize:
		return "size"
	case KindDuration:
		return "time-duration"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindStringArray:
		return "string-array"
	case KindBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Flags carried by a Definition (spec §3.1).
type Flags struct {
	Consumable       bool
	HostLevel        bool
	RASSN            bool // sum-across-chunks (e.g. ncpus, mem)
	ConvertFromSelect bool
	ReadOnly         bool
}

// Definition is the resource's type-level metadata. Set exactly once at
// first definition (invariant I-R2).
type Definition struct {
	Name  string
	Kind  Kind
	Flags Flags
}

func (d *Definition) numeric() bool {
	switch d.Kind {
	case KindLong, KindSize, KindDuration, KindFloat:
		return true
	default:
		return false
	}
}

// Value is a three-state typed resource value: unset, or a concrete value of
// the definition's kind. Unset is distinguished from zero so that
// "unset + X = X" (spec §4.A contract), not "0 + X = X" which would be
// indistinguishable from an explicit zero.
type Value struct {
	Def *Definition

	isSet bool
	num   float64          // long/size/duration/float
	str   string           // string
	strs  *set.Set[string] // string-array
	b     Tri              // boolean
}

// Tri is a three-valued boolean: explicit true, explicit false, or unknown
// (unset and the caller did not ask for unset-as-false).
type Tri int

const (
	TriUnknown Tri = iota
	TriTrue
	TriFalse
)

// Unset returns the zero Value for def: no avail/assigned/request recorded.
func Unset(def *Definition) Value {
	return Value{Def: def}
}

// IsSet reports whether v carries a concrete value.
func (v Value) IsSet() bool { return v.isSet }

// Num returns the numeric value of v, or 0 if unset or non-numeric.
func (v Value) Num() float64 {
	if !v.isSet {
		return 0
	}
	return v.num
}

// Str returns the string value of v.
func (v Value) Str() string { return v.str }

// Strs returns the string-array value of v, or an empty set.
func (v Value) Strs() *set.Set[string] {
	if v.strs == nil {
		return set.New[string](0)
	}
	return v.strs
}

// Bool returns the tri-valued boolean.
func (v Value) Bool() Tri { return v.b }

// NewNumeric builds a numeric Value of def's kind (long, size, duration or
// float).
func NewNumeric(def *Definition, n float64) Value {
	return Value{Def: def, isSet: true, num: n}
}

// NewString builds a string Value.
func NewString(def *Definition, s string) Value {
	return Value{Def: def, isSet: true, str: s}
}

// NewStringArray builds a string-array Value.
func NewStringArray(def *Definition, items ...string) Value {
	return Value{Def: def, isSet: true, strs: set.From(items)}
}

// NewBool builds a boolean Value.
func NewBool(def *Definition, b bool) Value {
	t := TriFalse
	if b {
		t = TriTrue
	}
	return Value{Def: def, isSet: true, b: t}
}

// Add implements resource addition (spec §4.A): clamped by type, string sets
// deduplicated (via go-set's Union), booleans accumulate to a three-valued
// result. An unset left-hand side behaves as the additive identity: the sum
// equals the right-hand value exactly, not "0 + rhs".
func Add(a, b Value) (Value, error) {
	if a.Def != b.Def && a.Def != nil && b.Def != nil && a.Def.Name != b.Def.Name {
		return Value{}, fmt.Errorf("resource: cannot add mismatched definitions %q and %q", a.Def.Name, b.Def.Name)
	}
	def := a.Def
	if def == nil {
		def = b.Def
	}
	if !a.isSet {
		return b, nil
	}
	if !b.isSet {
		return a, nil
	}
	switch def.Kind {
	case KindLong, KindSize, KindDuration, KindFloat:
		return NewNumeric(def, a.num+b.num), nil
	case KindString:
		// last writer wins for scalar strings, consistent with the wire
		// protocol treating repeated string attrs as overwrite not append.
		return b, nil
	case KindStringArray:
		u := a.Strs().Union(b.Strs())
		v := Value{Def: def, isSet: true, strs: u}
		return v, nil
	case KindBoolean:
		if a.b == b.b {
			return Value{Def: def, isSet: true, b: a.b}, nil
		}
		return Value{Def: def, isSet: true, b: TriUnknown}, nil
	default:
		return Value{}, fmt.Errorf("resource: unknown kind %v", def.Kind)
	}
}

// Sub implements subtraction for consumables (used to release resources on
// job/reservation end, spec P6).
func Sub(a, b Value) (Value, error) {
	if !a.isSet {
		a = NewNumeric(a.Def, 0)
	}
	if !b.isSet {
		return a, nil
	}
	if !a.Def.numeric() {
		return Value{}, fmt.Errorf("resource: Sub only defined for numeric kinds, got %v", a.Def.Kind)
	}
	return NewNumeric(a.Def, a.num-b.num), nil
}

// Fits reports whether requested `req` can be satisfied by available
// capacity `avail` (spec §4.A "does requested fit in available").
//
// Contracts:
//   - unset non-consumable avail compares as infinite availability and
//     matches any request.
//   - for booleans, unsetAsFalse controls whether an unset avail is treated
//     as false (caller-flagged) or as "unknown", in which case it is
//     treated as matching (skipped).
func Fits(avail, req Value, unsetAsFalse bool) bool {
	def := req.Def
	if def == nil {
		def = avail.Def
	}
	if !req.isSet {
		return true
	}
	switch def.Kind {
	case KindLong, KindSize, KindDuration, KindFloat:
		if !def.Flags.Consumable {
			return true // non-consumables are match-only elsewhere; numeric non-consumables rare but treat unset avail as infinite
		}
		if !avail.isSet {
			return true // unset avail = infinite capacity
		}
		return avail.num >= req.num
	case KindString:
		if !avail.isSet {
			return true
		}
		return avail.str == req.str
	case KindStringArray:
		if !avail.isSet || avail.strs == nil || avail.strs.Empty() {
			return true
		}
		for _, want := range req.Strs().Slice() {
			if !avail.strs.Contains(want) {
				return false
			}
		}
		return true
	case KindBoolean:
		if !avail.isSet {
			if unsetAsFalse {
				return req.b == TriFalse
			}
			return true // unknown: skipped
		}
		return avail.b == req.b
	default:
		return false
	}
}

// Parse converts a textual attribute value into a typed Value for def,
// using the suffix tables documented in SPEC_FULL.md (grounded on OpenPBS
// resource.h): binary prefixes k,m,g,t,p with a b/w (byte/word, word=8B)
// unit for size kinds, and [[h:]m:]s clock forms for duration kinds.
func Parse(def *Definition, text string) (Value, error) {
	switch def.Kind {
	case KindLong, KindFloat:
		n, err := ParseNum(text)
		if err != nil {
			return Value{}, err
		}
		return NewNumeric(def, n), nil
	case KindSize:
		n, err := ParseSize(text)
		if err != nil {
			return Value{}, err
		}
		return NewNumeric(def, n), nil
	case KindDuration:
		n, err := ParseDuration(text)
		if err != nil {
			return Value{}, err
		}
		return NewNumeric(def, n), nil
	case KindString:
		return NewString(def, text), nil
	case KindStringArray:
		return NewStringArray(def, splitPlus(text)...), nil
	case KindBoolean:
		b, err := ParseBool(text)
		if err != nil {
			return Value{}, err
		}
		return NewBool(def, b), nil
	default:
		return Value{}, fmt.Errorf("resource: unknown kind %v", def.Kind)
	}
}

func splitPlus(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '+' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
