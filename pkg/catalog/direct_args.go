package catalog

import (
	"encoding/json"
	"fmt"
)

// DirectArgsKind tags the DirectArgs variant.
type DirectArgsKind uint8

const (
	// NotOrderedSet marks a plain (transition-based) aggregate.
	NotOrderedSet DirectArgsKind = iota
	// FixedDirect is an ordered-set aggregate with an exact direct-argument count.
	FixedDirect
	// VariableDirect is an ordered-set aggregate whose direct arguments are
	// variadic "any" and whose ordered arguments are WITHIN GROUP (*).
	VariableDirect
	// HypotheticalSet is an ordered-set aggregate whose direct arguments
	// mirror the ordered arguments one to one.
	HypotheticalSet
)

// Sentinel values of the on-disk encoding.
const (
	SentinelVariableDirect  int32 = -1
	SentinelHypotheticalSet int32 = -2
)

// DirectArgs describes how an aggregate's arguments split into direct and
// ordered arguments. The zero value is NotOrderedSet.
type DirectArgs struct {
	kind DirectArgsKind
	n    int32
}

// Fixed returns FixedDirect(n).
func Fixed(n int) DirectArgs {
	return DirectArgs{kind: FixedDirect, n: int32(n)}
}

// Variable returns VariableDirect.
func Variable() DirectArgs {
	return DirectArgs{kind: VariableDirect}
}

// Hypothetical returns HypotheticalSet.
func Hypothetical() DirectArgs {
	return DirectArgs{kind: HypotheticalSet}
}

// Kind returns the variant tag.
func (d DirectArgs) Kind() DirectArgsKind { return d.kind }

// IsOrderedSet reports whether d describes an ordered-set aggregate.
func (d DirectArgs) IsOrderedSet() bool { return d.kind != NotOrderedSet }

// Count returns the exact direct-argument count of a FixedDirect value.
func (d DirectArgs) Count() (int, bool) {
	if d.kind != FixedDirect {
		return 0, false
	}
	return int(d.n), true
}

// Sentinel returns the int32 catalog encoding: n for FixedDirect, -1 for
// VariableDirect, -2 for HypotheticalSet. Plain aggregates encode 0.
func (d DirectArgs) Sentinel() int32 {
	switch d.kind {
	case FixedDirect:
		return d.n
	case VariableDirect:
		return SentinelVariableDirect
	case HypotheticalSet:
		return SentinelHypotheticalSet
	}
	return 0
}

// DirectArgsFromSentinel decodes the catalog encoding of an ordered-set row.
func DirectArgsFromSentinel(isOrderedSet bool, v int32) (DirectArgs, error) {
	if !isOrderedSet {
		return DirectArgs{}, nil
	}
	switch {
	case v == SentinelVariableDirect:
		return Variable(), nil
	case v == SentinelHypotheticalSet:
		return Hypothetical(), nil
	case v >= 0:
		return Fixed(int(v)), nil
	}
	return DirectArgs{}, fmt.Errorf("invalid direct argument sentinel %d", v)
}

func (d DirectArgs) String() string {
	switch d.kind {
	case FixedDirect:
		return fmt.Sprintf("FixedDirect(%d)", d.n)
	case VariableDirect:
		return "VariableDirect"
	case HypotheticalSet:
		return "HypotheticalSet"
	}
	return "NotOrderedSet"
}

// MarshalJSON encodes d as its sentinel.
func (d DirectArgs) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Sentinel())
}

// UnmarshalJSON decodes a sentinel. The ordered-set flag lives in a sibling
// field, so a non-negative value is provisionally FixedDirect; AggregateRow
// fixes it up after decoding.
func (d *DirectArgs) UnmarshalJSON(data []byte) error {
	var v int32
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	decoded, err := DirectArgsFromSentinel(true, v)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}
