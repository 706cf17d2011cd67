package orm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
)

// JoinType represents different types of SQL joins
type JoinType string

const (
	InnerJoin JoinType = "INNER JOIN"
	LeftJoin  JoinType = "LEFT JOIN"
	RightJoin JoinType = "RIGHT JOIN"
	FullJoin  JoinType = "FULL OUTER JOIN"
	CrossJoin JoinType = "CROSS JOIN"
)

// join represents a SQL join clause (internal use only)
type join struct {
	Type      JoinType
	Table     string
	Alias     string
	Condition string
	Args      []interface{}
}

func (j join) clause() string {
	if j.Type == "" {
		return j.Condition
	}
	table := j.Table
	if j.Alias != "" {
		table += " AS " + j.Alias
	}
	return fmt.Sprintf("%s %s ON %s", j.Type, table, j.Condition)
}

func (q *Query[T]) Join(joinType JoinType, table, condition string, args ...interface{}) *Query[T] {
	if q.err != nil {
		return q
	}
	q.joins = append(q.joins, join{
		Type:      joinType,
		Table:     table,
		Condition: condition,
		Args:      args,
	})
	return q
}

func (q *Query[T]) InnerJoin(table, condition string, args ...interface{}) *Query[T] {
	return q.Join(InnerJoin, table, condition, args...)
}

func (q *Query[T]) LeftJoin(table, condition string, args ...interface{}) *Query[T] {
	return q.Join(LeftJoin, table, condition, args...)
}

func (q *Query[T]) RightJoin(table, condition string, args ...interface{}) *Query[T] {
	return q.Join(RightJoin, table, condition, args...)
}

func (q *Query[T]) RawJoin(joinClause string, args ...interface{}) *Query[T] {
	if q.err != nil {
		return q
	}
	q.joins = append(q.joins, join{
		Condition: joinClause,
		Args:      args,
	})
	return q
}

// RelationJoin lets a JoinRelation callback add constraints to the ON clause
type RelationJoin struct {
	// Table is the joined table; Ref is its alias when one is used
	Table string
	Ref   string
	// ParentRef is the table or alias the relation joins from
	ParentRef string

	relatedSoftDelete string
	withTrashed       bool
	wheres            []squirrel.Sqlizer
}

// Where appends a condition to the join's ON clause
func (j *RelationJoin) Where(condition Condition) *RelationJoin {
	j.wheres = append(j.wheres, condition.ToSqlizer())
	return j
}

// On appends a column comparison to the join's ON clause
func (j *RelationJoin) On(left, right string) *RelationJoin {
	return j.Where(ColumnEq(left, right))
}

// WithTrashed drops the soft-delete constraint of the joined model
func (j *RelationJoin) WithTrashed() *RelationJoin {
	j.withTrashed = true
	return j
}

func (j *RelationJoin) build(joinType JoinType, base string) (join, error) {
	parts := []string{base}
	var args []interface{}

	extra := j.wheres
	if j.relatedSoftDelete != "" && !j.withTrashed {
		scope := squirrel.Eq{qualifyColumn(j.Ref, j.relatedSoftDelete): nil}
		extra = append([]squirrel.Sqlizer{scope}, extra...)
	}

	for _, where := range extra {
		sqlPart, whereArgs, err := where.ToSql()
		if err != nil {
			return join{}, err
		}
		parts = append(parts, sqlPart)
		args = append(args, whereArgs...)
	}

	alias := ""
	if j.Ref != j.Table {
		alias = j.Ref
	}

	return join{
		Type:      joinType,
		Table:     j.Table,
		Alias:     alias,
		Condition: strings.Join(parts, " AND "),
		Args:      args,
	}, nil
}

var relationAliasPattern = regexp.MustCompile(`(?i)^\s*(\S+)\s+as\s+(\S+)\s*$`)

// parseRelationSegment splits "comments as feedback" into name and alias
func parseRelationSegment(segment string) (string, string) {
	if m := relationAliasPattern.FindStringSubmatch(segment); m != nil {
		return m[1], m[2]
	}
	return strings.TrimSpace(segment), ""
}

// JoinRelation joins a registered relation. The path may be dotted to walk
// through several relations ("posts as articles.comments as reviews"); every
// hop is joined and the callbacks apply to the last one.
func (q *Query[T]) JoinRelation(path string, joinType JoinType, callbacks ...func(*RelationJoin)) *Query[T] {
	return q.joinRelationPath(path, joinType, false, callbacks)
}

// JoinThroughRelation walks a dotted path whose leading hops are already
// joined and only joins the last one.
func (q *Query[T]) JoinThroughRelation(path string, joinType JoinType, callbacks ...func(*RelationJoin)) *Query[T] {
	return q.joinRelationPath(path, joinType, true, callbacks)
}

func (q *Query[T]) joinRelationPath(path string, joinType JoinType, lastOnly bool, callbacks []func(*RelationJoin)) *Query[T] {
	if q.err != nil {
		return q
	}
	if joinType == "" {
		joinType = InnerJoin
	}

	var source relationSource = q.repo
	parentRef := q.ref
	segments := strings.Split(path, ".")

	for i, segment := range segments {
		name, alias := parseRelationSegment(segment)
		def, related, err := source.lookupRelation(name)
		if err != nil {
			q.err = err
			return q
		}

		relatedMeta := related.Metadata()
		relatedTable := relatedMeta.TableName
		if alias == "" && relatedTable == source.Metadata().TableName {
			alias = RelationCountHash(true)
		}

		relatedRef := relatedTable
		if alias != "" && alias != relatedTable {
			relatedRef = alias
		}

		last := i == len(segments)-1
		if last || !lastOnly {
			rj := &RelationJoin{
				Table:             relatedTable,
				Ref:               relatedRef,
				ParentRef:         parentRef,
				relatedSoftDelete: relatedMeta.SoftDeleteColumn,
			}
			if last {
				for _, cb := range callbacks {
					cb(rj)
				}
			}

			built, err := rj.build(joinType, def.JoinOn(parentRef, relatedRef))
			if err != nil {
				q.err = fmt.Errorf("failed to build join for %s: %w", name, err)
				return q
			}
			q.joins = append(q.joins, built)
		}

		source = related
		parentRef = relatedRef
	}

	return q
}

// existenceSubquery renders the correlated sub-query for a registered relation,
// with the related model's soft-delete scope and any extra conditions.
func (q *Query[T]) existenceSubquery(name string, columns []string, conditions []Condition) (squirrel.SelectBuilder, error) {
	def, related, err := q.repo.lookupRelation(name)
	if err != nil {
		return squirrel.SelectBuilder{}, err
	}

	sub, relatedRef := def.existenceQuery(q.ref, columns...)
	if column := related.Metadata().SoftDeleteColumn; column != "" {
		sub = sub.Where(squirrel.Eq{qualifyColumn(relatedRef, column): nil})
	}
	for _, c := range conditions {
		sub = sub.Where(c.ToSqlizer())
	}
	return sub, nil
}

// WhereHas keeps rows that have at least one related row matching the conditions
func (q *Query[T]) WhereHas(relation string, conditions ...Condition) *Query[T] {
	if q.err != nil {
		return q
	}
	sub, err := q.existenceSubquery(relation, nil, conditions)
	if err != nil {
		q.err = err
		return q
	}
	return q.whereSqlizer(squirrel.Expr("EXISTS (?)", sub))
}

// WhereDoesntHave keeps rows without any related row matching the conditions
func (q *Query[T]) WhereDoesntHave(relation string, conditions ...Condition) *Query[T] {
	if q.err != nil {
		return q
	}
	sub, err := q.existenceSubquery(relation, nil, conditions)
	if err != nil {
		q.err = err
		return q
	}
	return q.whereSqlizer(squirrel.Expr("NOT EXISTS (?)", sub))
}

var hasOperators = map[string]bool{"=": true, "!=": true, "<>": true, ">": true, ">=": true, "<": true, "<=": true}

// Has compares the number of related rows against count
func (q *Query[T]) Has(relation, operator string, count int) *Query[T] {
	if q.err != nil {
		return q
	}
	if !hasOperators[operator] {
		q.err = fmt.Errorf("unsupported comparison operator %q", operator)
		return q
	}
	sub, err := q.existenceSubquery(relation, []string{"COUNT(*)"}, nil)
	if err != nil {
		q.err = err
		return q
	}
	return q.whereSqlizer(squirrel.Expr("(?) "+operator+" ?", sub, count))
}
