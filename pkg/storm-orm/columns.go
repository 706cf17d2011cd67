package orm

import (
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Column is a typed reference to one column, optionally qualified with its table
type Column[T any] struct {
	Name  string
	Table string
}

func (c Column[T]) String() string {
	return qualifyColumn(c.Table, c.Name)
}

func (c Column[T]) Eq(value T) Condition {
	return Eq(c.String(), value)
}

func (c Column[T]) NotEq(value T) Condition {
	return NotEq(c.String(), value)
}

func (c Column[T]) In(values ...T) Condition {
	interfaces := make([]interface{}, len(values))
	for i, v := range values {
		interfaces[i] = v
	}
	return In(c.String(), interfaces...)
}

func (c Column[T]) IsNull() Condition {
	return IsNull(c.String())
}

func (c Column[T]) IsNotNull() Condition {
	return IsNotNull(c.String())
}

func (c Column[T]) Asc() string {
	return c.String() + " ASC"
}

func (c Column[T]) Desc() string {
	return c.String() + " DESC"
}

// KeyColumns references the columns of a composite key, in key order
type KeyColumns struct {
	Table   string
	Columns []string
}

// Keys returns the key columns of a model, qualified with its table
func Keys(metadata *ModelMetadata) KeyColumns {
	return KeyColumns{Table: metadata.TableName, Columns: metadata.PrimaryKeys}
}

func (k KeyColumns) qualified() []string {
	return qualifyColumns(k.Table, k.Columns)
}

// Eq matches one key tuple, every column equal
func (k KeyColumns) Eq(values ...interface{}) Condition {
	if len(values) != len(k.Columns) {
		return Condition{squirrel.Expr("1=0")}
	}
	return Condition{tupleConstraint(k.qualified(), values, GlueAnd)}
}

// AnyOf matches any of the key tuples, combining each tuple's columns with glue
func (k KeyColumns) AnyOf(glue Glue, tuples ...[]interface{}) (Condition, error) {
	for _, tuple := range tuples {
		if len(tuple) != len(k.Columns) {
			return Condition{}, fmt.Errorf("%w: expected %d key values, got %d", ErrKeyCountMismatch, len(k.Columns), len(tuple))
		}
	}
	pred, err := eagerConstraint(k.qualified(), tuples, glue)
	if err != nil {
		return Condition{}, err
	}
	return Condition{pred}, nil
}

// IsNull matches rows where any key column is null
func (k KeyColumns) IsNull() Condition {
	or := make(squirrel.Or, len(k.Columns))
	for i, column := range k.qualified() {
		or[i] = squirrel.Eq{column: nil}
	}
	return Condition{or}
}

// Asc orders by every key column ascending
func (k KeyColumns) Asc() []string {
	order := make([]string, len(k.Columns))
	for i, column := range k.qualified() {
		order[i] = column + " ASC"
	}
	return order
}
