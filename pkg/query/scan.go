package query

import "github.com/bobboyms/multidex/pkg/types"

// PredicateKind selects which shape of range a Condition describes. The
// executor's WHERE clause only ever compiles down to an equality lookup or
// a closed range, so those are the only two kinds an index scan needs.
type PredicateKind int

const (
	KindEqual PredicateKind = iota
	KindBetween
)

// Condition drives an index range scan: it says where to start walking the
// leaves and when a leaf key is a match or the scan can stop.
type Condition struct {
	Kind PredicateKind
	Lo   types.Comparable
	Hi   types.Comparable // only meaningful for KindBetween
}

// Equal builds a condition matching exactly one key.
func Equal(value types.Comparable) *Condition {
	return &Condition{Kind: KindEqual, Lo: value}
}

// Between builds a condition matching every key in [lo, hi].
func Between(lo, hi types.Comparable) *Condition {
	return &Condition{Kind: KindBetween, Lo: lo, Hi: hi}
}

// Matches reports whether key satisfies the condition.
func (c *Condition) Matches(key types.Comparable) bool {
	switch c.Kind {
	case KindEqual:
		return key.Compare(c.Lo) == 0
	case KindBetween:
		return key.Compare(c.Lo) >= 0 && key.Compare(c.Hi) <= 0
	default:
		return false
	}
}

// GetStartKey returns the leaf key a range scan should seek to first.
func (c *Condition) GetStartKey() types.Comparable {
	return c.Lo
}

// ShouldContinue reports whether the scan should keep walking past key,
// given the leaves are visited in ascending key order.
func (c *Condition) ShouldContinue(key types.Comparable) bool {
	switch c.Kind {
	case KindEqual:
		return key.Compare(c.Lo) <= 0
	case KindBetween:
		return key.Compare(c.Hi) <= 0
	default:
		return false
	}
}
