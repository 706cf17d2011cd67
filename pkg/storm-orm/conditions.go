package orm

import (
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Condition wraps squirrel conditions for type safety
type Condition struct {
	condition squirrel.Sqlizer
}

func (c Condition) And(other Condition) Condition {
	return Condition{squirrel.And{c.condition, other.condition}}
}

func (c Condition) Or(other Condition) Condition {
	return Condition{squirrel.Or{c.condition, other.condition}}
}

func (c Condition) Not() Condition {
	return Not(c)
}

func (c Condition) ToSqlizer() squirrel.Sqlizer {
	return c.condition
}

func (c Condition) ToSql() (string, []interface{}, error) {
	if c.condition == nil {
		return "", nil, fmt.Errorf("empty condition")
	}
	return c.condition.ToSql()
}

func And(conditions ...Condition) Condition {
	sqlizers := make([]squirrel.Sqlizer, len(conditions))
	for i, c := range conditions {
		sqlizers[i] = c.condition
	}
	return Condition{squirrel.And(sqlizers)}
}

func Or(conditions ...Condition) Condition {
	sqlizers := make([]squirrel.Sqlizer, len(conditions))
	for i, c := range conditions {
		sqlizers[i] = c.condition
	}
	return Condition{squirrel.Or(sqlizers)}
}

func Not(condition Condition) Condition {
	return Condition{squirrel.Expr("NOT (?)", condition.ToSqlizer())}
}

// Raw wraps a literal SQL fragment with ? placeholders
func Raw(sql string, args ...interface{}) Condition {
	return Condition{squirrel.Expr(sql, args...)}
}

func Eq(column string, value interface{}) Condition {
	return Condition{squirrel.Eq{column: normalizeValue(value)}}
}

func NotEq(column string, value interface{}) Condition {
	return Condition{squirrel.NotEq{column: normalizeValue(value)}}
}

func In(column string, values ...interface{}) Condition {
	return Condition{squirrel.Eq{column: values}}
}

func IsNull(column string) Condition {
	return Condition{squirrel.Eq{column: nil}}
}

func IsNotNull(column string) Condition {
	return Condition{squirrel.NotEq{column: nil}}
}

func Gt(column string, value interface{}) Condition {
	return Condition{squirrel.Gt{column: value}}
}

func Gte(column string, value interface{}) Condition {
	return Condition{squirrel.GtOrEq{column: value}}
}

func Lt(column string, value interface{}) Condition {
	return Condition{squirrel.Lt{column: value}}
}

func Lte(column string, value interface{}) Condition {
	return Condition{squirrel.LtOrEq{column: value}}
}

func Like(column, pattern string) Condition {
	return Condition{squirrel.Like{column: pattern}}
}

// ColumnEq compares two columns, "a = b"
func ColumnEq(left, right string) Condition {
	return Condition{squirrel.Expr(fmt.Sprintf("%s = %s", left, right))}
}

// Match turns attributes into equality checks, qualified with table when given.
// Columns render in sorted order.
func Match(table string, attributes Attributes) Condition {
	eq := make(squirrel.Eq, len(attributes))
	for column, value := range attributes {
		eq[qualifyColumn(table, column)] = normalizeValue(value)
	}
	return Condition{eq}
}
