package policy

import (
	"strings"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
)

// ConditionKind tags the variant of a Condition. Equality is the only one.
type ConditionKind string

// ConditionEquals compares the value at Path with a literal.
const ConditionEquals ConditionKind = "equals"

// Condition is a parsed rule condition.
type Condition struct {
	Kind  ConditionKind
	Path  []string
	Value string
}

// Match is the tri-state result of evaluating a condition.
type Match int

const (
	// NotMatched means the path resolved but the value differs.
	NotMatched Match = iota
	// Matched means the path resolved to an equal scalar.
	Matched
	// PathMissing means a segment of the path was absent.
	PathMissing
)

// String returns a label for logs.
func (m Match) String() string {
	switch m {
	case Matched:
		return "matched"
	case PathMissing:
		return "path_missing"
	default:
		return "not_matched"
	}
}

// ParseCondition parses "path=value", splitting on the first "=".
// It returns false when raw has no "=", in which case the rule can never match.
func ParseCondition(raw string) (Condition, bool) {
	key, val, ok := strings.Cut(raw, "=")
	if !ok {
		return Condition{}, false
	}
	return Condition{
		Kind:  ConditionEquals,
		Path:  strings.Split(key, "."),
		Value: val,
	}, true
}

// Evaluate tests c against root. It never panics: malformed input
// degrades to NotMatched or PathMissing.
func (c Condition) Evaluate(root value.Value) Match {
	if c.Kind != ConditionEquals {
		return NotMatched
	}
	resolved, ok := root.Lookup(c.Path)
	if !ok {
		return PathMissing
	}
	s, ok := resolved.Scalar()
	if !ok || s != c.Value {
		return NotMatched
	}
	return Matched
}

// String renders the condition back to its source form.
func (c Condition) String() string {
	return value.Join(c.Path) + "=" + c.Value
}
