package orm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Query provides a fluent interface for building database queries with all features integrated
type Query[T any] struct {
	repo *Repository[T]
	err  error
	ctx  context.Context

	// Source table and the name used to qualify its columns
	from string
	ref  string

	// Query options
	columns     []string
	limit       *uint64
	offset      *uint64
	orderBy     []string
	wheres      []squirrel.Sqlizer
	withTrashed bool

	// Transaction support
	tx *sqlx.Tx

	// Join support
	joins    []join
	includes []include

	// Set when the query loads a relation for a batch of parents
	relation string
}

// include is one eager-load request; dotted names become nested includes
type include struct {
	name       string
	conditions []Condition
	nested     []include
}

func (r *Repository[T]) Query(ctx context.Context) *Query[T] {
	return &Query[T]{
		repo:     r,
		ctx:      ctx,
		from:     r.metadata.TableName,
		ref:      r.metadata.TableName,
		columns:  qualifyColumns(r.metadata.TableName, r.fields.columns),
		joins:    make([]join, 0),
		includes: make([]include, 0),
	}
}

func (q *Query[T]) WithTx(tx *sqlx.Tx) *Query[T] {
	q.tx = tx
	return q
}

func (q *Query[T]) forRelation(name string) *Query[T] {
	q.relation = name
	return q
}

// WithContext swaps the context the query executes with
func (q *Query[T]) WithContext(ctx context.Context) *Query[T] {
	q.ctx = ctx
	return q
}

// As aliases the source table; selected columns follow the alias
func (q *Query[T]) As(alias string) *Query[T] {
	if q.err != nil || alias == "" || alias == q.repo.metadata.TableName {
		return q
	}
	q.from = q.repo.metadata.TableName + " AS " + alias
	q.ref = alias
	q.columns = qualifyColumns(alias, q.repo.fields.columns)
	return q
}

// Ref returns the table name or alias the query's own columns are qualified with
func (q *Query[T]) Ref() string {
	return q.ref
}

func (q *Query[T]) Select(columns ...string) *Query[T] {
	if q.err != nil {
		return q
	}
	q.columns = columns
	return q
}

func (q *Query[T]) Where(condition Condition) *Query[T] {
	if q.err != nil {
		return q
	}
	if condition.condition == nil {
		return q
	}
	q.wheres = append(q.wheres, condition.ToSqlizer())
	return q
}

// WhereColumn compares two columns
func (q *Query[T]) WhereColumn(left, right string) *Query[T] {
	return q.Where(ColumnEq(left, right))
}

// WhereAttributes adds equality checks for every attribute, qualified with the query's table
func (q *Query[T]) WhereAttributes(attributes Attributes) *Query[T] {
	if len(attributes) == 0 {
		return q
	}
	return q.Where(Match(q.ref, attributes))
}

func (q *Query[T]) whereSqlizer(pred squirrel.Sqlizer) *Query[T] {
	if q.err != nil {
		return q
	}
	q.wheres = append(q.wheres, pred)
	return q
}

// WithTrashed drops the soft-delete scope of the queried model
func (q *Query[T]) WithTrashed() *Query[T] {
	q.withTrashed = true
	return q
}

func (q *Query[T]) OrderBy(expressions ...string) *Query[T] {
	if q.err != nil {
		return q
	}
	q.orderBy = append(q.orderBy, expressions...)
	return q
}

func (q *Query[T]) Limit(limit uint64) *Query[T] {
	if q.err != nil {
		return q
	}
	q.limit = &limit
	return q
}

func (q *Query[T]) Offset(offset uint64) *Query[T] {
	if q.err != nil {
		return q
	}
	q.offset = &offset
	return q
}

func (q *Query[T]) Include(relationships ...string) *Query[T] {
	if q.err != nil {
		return q
	}
	for _, rel := range relationships {
		q.includes = append(q.includes, include{
			name:       rel,
			conditions: make([]Condition, 0),
		})
	}
	return q
}

func (q *Query[T]) IncludeWhere(relationship string, conditions ...Condition) *Query[T] {
	if q.err != nil {
		return q
	}
	q.includes = append(q.includes, include{
		name:       relationship,
		conditions: conditions,
	})
	return q
}

// buildIncludeTree groups "a.b" and "a.c" under a single "a" include.
// Conditions stay on the last segment they were declared for.
func buildIncludeTree(flat []include) []include {
	var roots []include
	index := make(map[string]int)

	for _, inc := range flat {
		head, rest, _ := strings.Cut(inc.name, ".")
		i, ok := index[head]
		if !ok {
			roots = append(roots, include{name: head})
			i = len(roots) - 1
			index[head] = i
		}
		if rest == "" {
			roots[i].conditions = append(roots[i].conditions, inc.conditions...)
			continue
		}
		roots[i].nested = append(roots[i].nested, include{name: rest, conditions: inc.conditions})
	}

	for i := range roots {
		roots[i].nested = buildIncludeTree(roots[i].nested)
	}
	return roots
}

func (q *Query[T]) scopes() []squirrel.Sqlizer {
	wheres := q.wheres
	if column := q.repo.metadata.SoftDeleteColumn; column != "" && !q.withTrashed {
		wheres = append(append([]squirrel.Sqlizer(nil), wheres...), squirrel.Eq{qualifyColumn(q.ref, column): nil})
	}
	return wheres
}

func (q *Query[T]) selectBuilder(columns ...string) squirrel.SelectBuilder {
	builder := squirrel.Select(columns...).
		From(q.from).
		PlaceholderFormat(q.repo.placeholder)

	for _, j := range q.joins {
		builder = builder.JoinClause(j.clause(), j.Args...)
	}

	for _, where := range q.scopes() {
		builder = builder.Where(where)
	}

	return builder
}

func (q *Query[T]) buildQuery() (squirrel.SelectBuilder, error) {
	if q.err != nil {
		return squirrel.SelectBuilder{}, q.err
	}

	builder := q.selectBuilder(q.columns...)

	for _, orderBy := range q.orderBy {
		builder = builder.OrderBy(orderBy)
	}

	if q.limit != nil {
		builder = builder.Limit(*q.limit)
	}

	if q.offset != nil {
		builder = builder.Offset(*q.offset)
	}

	return builder, nil
}

// ToSQL renders the select statement without executing it
func (q *Query[T]) ToSQL() (string, []interface{}, error) {
	builder, err := q.buildQuery()
	if err != nil {
		return "", nil, err
	}
	return builder.ToSql()
}

// Find executes the query and eager loads any included relations
func (q *Query[T]) Find() ([]T, error) {
	finalBuilder, err := q.buildQuery()
	if err != nil {
		return nil, &Error{
			Op:    "find",
			Table: q.repo.metadata.TableName,
			Err:   err,
		}
	}

	op := OpQuery
	if q.relation != "" {
		op = OpEagerLoad
	}
	middlewareCtx := q.repo.newMiddlewareContext(op, q.ctx, nil, finalBuilder)
	middlewareCtx.Relation = q.relation

	var records []T
	err = q.repo.runMiddleware(middlewareCtx, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.SelectBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "find",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to build query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		if err := q.repo.executor(q.tx).SelectContext(q.ctx, &records, sqlQuery, args...); err != nil {
			return &Error{
				Op:    "find",
				Table: q.repo.metadata.TableName,
				Query: sqlQuery,
				Args:  args,
				Err:   fmt.Errorf("failed to execute query: %w", err),
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(q.includes) > 0 && len(records) > 0 {
		if err := q.repo.loadIncludes(q.ctx, q.tx, pointersTo(records), buildIncludeTree(q.includes)); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// FindPointers executes the query and returns pointers into the result slice
func (q *Query[T]) FindPointers() ([]*T, error) {
	records, err := q.Find()
	if err != nil {
		return nil, err
	}
	return pointersTo(records), nil
}

func pointersTo[T any](records []T) []*T {
	ptrs := make([]*T, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	return ptrs
}

func (q *Query[T]) First() (*T, error) {
	q.Limit(1)
	records, err := q.Find()
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, &Error{
			Op:    "first",
			Table: q.repo.metadata.TableName,
			Err:   ErrNotFound,
		}
	}

	return &records[0], nil
}

func (q *Query[T]) Count() (int64, error) {
	if q.err != nil {
		return 0, &Error{Op: "count", Table: q.repo.metadata.TableName, Err: q.err}
	}

	countBuilder := q.selectBuilder("COUNT(*)")

	var count int64
	err := q.repo.executeQueryMiddleware(OpQuery, q.ctx, nil, countBuilder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.SelectBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "count",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to build count query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		if err := q.repo.executor(q.tx).GetContext(q.ctx, &count, sqlQuery, args...); err != nil {
			return &Error{
				Op:    "count",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to execute count query: %w", err),
			}
		}

		return nil
	})

	return count, err
}

func (q *Query[T]) Exists() (bool, error) {
	count, err := q.Count()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// mutationWheres returns the where clauses for UPDATE and DELETE, which
// cannot carry joins.
func (q *Query[T]) mutationWheres() ([]squirrel.Sqlizer, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.joins) > 0 {
		return nil, fmt.Errorf("joins are not supported on update or delete")
	}
	return q.scopes(), nil
}

// Delete removes the matching rows. A soft-deleting model has its soft-delete
// column stamped instead; use ForceDelete to remove those rows.
func (q *Query[T]) Delete() (int64, error) {
	if column := q.repo.metadata.SoftDeleteColumn; column != "" {
		return q.Update(map[string]interface{}{column: q.repo.clock.Now()})
	}
	return q.ForceDelete()
}

// ForceDelete removes the matching rows, soft-deleting or not
func (q *Query[T]) ForceDelete() (int64, error) {
	wheres, err := q.mutationWheres()
	if err != nil {
		return 0, &Error{Op: "delete", Table: q.repo.metadata.TableName, Err: err}
	}

	deleteBuilder := squirrel.Delete(q.repo.metadata.TableName).
		PlaceholderFormat(q.repo.placeholder)

	for _, where := range wheres {
		deleteBuilder = deleteBuilder.Where(where)
	}

	var rowsAffected int64
	err = q.repo.executeQueryMiddleware(OpDelete, q.ctx, nil, deleteBuilder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.DeleteBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "delete",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to build delete query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		var result sql.Result
		result, err = q.repo.executor(q.tx).ExecContext(q.ctx, sqlQuery, args...)
		if err != nil {
			return ParseDatabaseError(q.repo.db.DriverName(), err, "delete", q.repo.metadata.TableName)
		}

		rowsAffected, err = result.RowsAffected()
		if err != nil {
			return &Error{
				Op:    "delete",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to get rows affected: %w", err),
			}
		}

		return nil
	})

	return rowsAffected, err
}

func (q *Query[T]) Update(updates map[string]interface{}) (int64, error) {
	if len(updates) == 0 {
		return 0, &Error{
			Op:    "update",
			Table: q.repo.metadata.TableName,
			Err:   fmt.Errorf("no updates provided"),
		}
	}

	wheres, err := q.mutationWheres()
	if err != nil {
		return 0, &Error{Op: "update", Table: q.repo.metadata.TableName, Err: err}
	}

	updateBuilder := squirrel.Update(q.repo.metadata.TableName).
		SetMap(updates).
		PlaceholderFormat(q.repo.placeholder)

	for _, where := range wheres {
		updateBuilder = updateBuilder.Where(where)
	}

	var rowsAffected int64
	err = q.repo.executeQueryMiddleware(OpUpdate, q.ctx, updates, updateBuilder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.UpdateBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "update",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to build update query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		var result sql.Result
		result, err = q.repo.executor(q.tx).ExecContext(q.ctx, sqlQuery, args...)
		if err != nil {
			return ParseDatabaseError(q.repo.db.DriverName(), err, "update", q.repo.metadata.TableName)
		}

		rowsAffected, err = result.RowsAffected()
		if err != nil {
			return &Error{
				Op:    "update",
				Table: q.repo.metadata.TableName,
				Err:   fmt.Errorf("failed to get rows affected: %w", err),
			}
		}

		return nil
	})

	return rowsAffected, err
}
