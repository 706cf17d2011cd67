package orm

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/squirrel"
	jsoniter "github.com/json-iterator/go"
)

// Glue combines the per-column comparisons of one key tuple
type Glue string

const (
	GlueAnd Glue = "and"
	GlueOr  Glue = "or"

	// DefaultGlue is used when a relation does not name one
	DefaultGlue = GlueOr
)

// ParseGlue accepts "and" or "or" in any case
func ParseGlue(s string) (Glue, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(GlueAnd):
		return GlueAnd, nil
	case string(GlueOr):
		return GlueOr, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidGlue, s)
	}
}

var keyCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeKey renders a tuple of key values as the dictionary key used for matching
func encodeKey(values []interface{}) (string, error) {
	normalized := make([]interface{}, len(values))
	for i, v := range values {
		normalized[i] = normalizeValue(v)
	}
	return keyCodec.MarshalToString(normalized)
}

// encodeMapping renders a column -> value pairing, in column order, for deduplication
func encodeMapping(columns []string, values []interface{}) (string, error) {
	pairs := make([][2]interface{}, len(columns))
	for i, column := range columns {
		pairs[i] = [2]interface{}{column, normalizeValue(values[i])}
	}
	return keyCodec.MarshalToString(pairs)
}

// tupleConstraint compares each column to its value and joins them with the glue
func tupleConstraint(columns []string, values []interface{}, glue Glue) squirrel.Sqlizer {
	if glue == GlueAnd {
		and := make(squirrel.And, len(columns))
		for i, column := range columns {
			and[i] = squirrel.Eq{column: normalizeValue(values[i])}
		}
		return and
	}

	or := make(squirrel.Or, len(columns))
	for i, column := range columns {
		or[i] = squirrel.Eq{column: normalizeValue(values[i])}
	}
	return or
}

// eagerConstraint ORs together one tuple constraint per distinct value tuple.
// Duplicate tuples are emitted once, in first-seen order.
func eagerConstraint(columns []string, tuples [][]interface{}, glue Glue) (squirrel.Sqlizer, error) {
	seen := make(map[string]struct{}, len(tuples))
	or := make(squirrel.Or, 0, len(tuples))

	for _, values := range tuples {
		key, err := encodeMapping(columns, values)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		or = append(or, tupleConstraint(columns, values, glue))
	}

	return or, nil
}

// columnsEqual renders "(a1 = b1 AND a2 = b2)"
func columnsEqual(left, right []string) string {
	parts := make([]string, len(left))
	for i := range left {
		parts[i] = fmt.Sprintf("%s = %s", left[i], right[i])
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

var selfJoinCount atomic.Int64

// RelationCountHash returns the alias used when a table is joined to itself
func RelationCountHash(increment bool) string {
	var n int64
	if increment {
		n = selfJoinCount.Add(1) - 1
	} else {
		n = selfJoinCount.Load()
	}
	return fmt.Sprintf("storm_reserved_%d", n)
}
