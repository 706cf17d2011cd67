package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/eleven-am/storm-composite/internal/logger"
)

// BelongsTo relates a child holding foreign key columns to the owner record
// whose owner key columns they reference.
type BelongsTo[C, R any] struct {
	def      *RelationDefinition
	child    *Repository[C]
	related  *Repository[R]
	defaults defaultModel[C, R]

	// record is the child instance the relation is bound to, nil on a declaration
	record *C
}

// For binds the relation to a child record
func (b *BelongsTo[C, R]) For(record *C) *BelongsTo[C, R] {
	bound := *b
	bound.record = record
	return &bound
}

// WithDefault yields an empty owner record when none exists. On a declaration
// it changes the registered relation, so eager loads see it too; call it during
// setup. A bound relation returns a configured copy instead.
func (b *BelongsTo[C, R]) WithDefault() *BelongsTo[C, R] {
	target := b.configurable()
	target.defaults.enabled = true
	return target
}

// WithDefaultAttributes is WithDefault with the given attributes filled in
func (b *BelongsTo[C, R]) WithDefaultAttributes(attributes Attributes) *BelongsTo[C, R] {
	target := b.configurable()
	target.defaults.enabled = true
	target.defaults.attributes = attributes
	return target
}

// WithDefaultFunc is WithDefault with fn shaping the record
func (b *BelongsTo[C, R]) WithDefaultFunc(fn func(related *R, child *C) error) *BelongsTo[C, R] {
	target := b.configurable()
	target.defaults.enabled = true
	target.defaults.callback = fn
	return target
}

func (b *BelongsTo[C, R]) configurable() *BelongsTo[C, R] {
	if b.record == nil {
		return b
	}
	bound := *b
	return &bound
}

func (b *BelongsTo[C, R]) Definition() *RelationDefinition {
	return b.def
}

// Child returns the record the relation is bound to
func (b *BelongsTo[C, R]) Child() *C {
	return b.record
}

func (b *BelongsTo[C, R]) Related() *Repository[R] {
	return b.related
}

// RelationName is the name the owner is stored under on the child
func (b *BelongsTo[C, R]) RelationName() string {
	return b.def.Name
}

func (b *BelongsTo[C, R]) Glue() Glue {
	return b.def.glue()
}

func (b *BelongsTo[C, R]) ForeignKeyNames() []string {
	return b.def.ForeignKeyNames()
}

// QualifiedForeignKeyNames qualifies the foreign keys with the child table
func (b *BelongsTo[C, R]) QualifiedForeignKeyNames() []string {
	return b.def.QualifiedForeignKeyNames()
}

func (b *BelongsTo[C, R]) OwnerKeyNames() []string {
	return b.def.OwnerKeys
}

// QualifiedOwnerKeyNames qualifies the owner keys with the related table
func (b *BelongsTo[C, R]) QualifiedOwnerKeyNames() []string {
	return qualifyColumns(b.related.metadata.TableName, b.def.OwnerKeys)
}

func (b *BelongsTo[C, R]) foreignValues() ([]interface{}, error) {
	if b.record == nil {
		return nil, &Error{Op: "foreign_keys", Table: b.child.metadata.TableName, Err: ErrMissingParent}
	}
	return b.child.GetAttributes(b.record, b.ForeignKeyNames())
}

func (b *BelongsTo[C, R]) defaultFor(child *C) (*R, error) {
	return b.defaults.make(b.related, child, nil)
}

// Query starts a query on the owner table, scoped to the bound child
func (b *BelongsTo[C, R]) Query(ctx context.Context) *Query[R] {
	return b.AddConstraints(b.related.Query(ctx))
}

// AddConstraints scopes q to the owner whose keys equal the child's foreign keys
func (b *BelongsTo[C, R]) AddConstraints(q *Query[R]) *Query[R] {
	if b.record == nil {
		return q
	}

	values, err := b.foreignValues()
	if err != nil {
		q.err = err
		return q
	}

	constraints := make(squirrel.And, len(values))
	for i, column := range b.QualifiedOwnerKeyNames() {
		constraints[i] = squirrel.Eq{column: normalizeValue(values[i])}
	}
	return q.whereSqlizer(constraints)
}

// AddEagerConstraints scopes q to the owners of every child in the batch
func (b *BelongsTo[C, R]) AddEagerConstraints(q *Query[R], children []*C) (*Query[R], error) {
	foreign := b.ForeignKeyNames()
	tuples := make([][]interface{}, 0, len(children))
	for _, child := range children {
		values, err := b.child.GetAttributes(child, foreign)
		if err != nil {
			return q, err
		}
		tuples = append(tuples, values)
	}

	pred, err := b.def.EagerConstraint(tuples)
	if err != nil {
		return q, err
	}
	return q.whereSqlizer(pred), nil
}

// GetResults loads the owner of the bound child. A child with any missing
// foreign key gets the default without a query.
func (b *BelongsTo[C, R]) GetResults(ctx context.Context) (*R, error) {
	values, err := b.foreignValues()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		if normalizeValue(value) == nil {
			return b.defaultFor(b.record)
		}
	}

	record, err := b.Query(ctx).First()
	if errors.Is(err, ErrNotFound) {
		return b.defaultFor(b.record)
	}
	return record, err
}

// InitRelation sets every child's relation to the default, or nil
func (b *BelongsTo[C, R]) InitRelation(children []*C, name string) error {
	for _, child := range children {
		record, err := b.defaultFor(child)
		if err != nil {
			return err
		}
		if err := b.child.setRelation(child, name, record); err != nil {
			return err
		}
	}
	return nil
}

// Match assigns each child the owner whose keys equal its foreign keys. When
// several results share keys the last one wins.
func (b *BelongsTo[C, R]) Match(children []*C, results []*R, name string) error {
	dictionary := make(map[string]*R, len(results))
	for _, result := range results {
		values, err := b.related.GetAttributes(result, b.def.OwnerKeys)
		if err != nil {
			return err
		}
		key, err := encodeKey(values)
		if err != nil {
			return err
		}
		dictionary[key] = result
	}

	foreign := b.ForeignKeyNames()
	for _, child := range children {
		values, err := b.child.GetAttributes(child, foreign)
		if err != nil {
			return err
		}
		key, err := encodeKey(values)
		if err != nil {
			return err
		}
		if owner, ok := dictionary[key]; ok {
			if err := b.child.setRelation(child, name, owner); err != nil {
				return err
			}
		}
	}
	return nil
}

// EagerLoad loads the owners of a batch of children with one query
func (b *BelongsTo[C, R]) EagerLoad(ctx context.Context, children []*C, conditions ...Condition) error {
	return b.eagerLoad(ctx, nil, children, include{name: b.def.Name, conditions: conditions})
}

func (b *BelongsTo[C, R]) eagerLoad(ctx context.Context, tx *sqlx.Tx, children []*C, inc include) error {
	if err := b.InitRelation(children, b.def.Name); err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	q, err := b.AddEagerConstraints(b.related.Query(ctx).WithTx(tx).forRelation(b.def.Name), children)
	if err != nil {
		return err
	}
	for _, condition := range inc.conditions {
		q = q.Where(condition)
	}

	results, err := q.FindPointers()
	if err != nil {
		return err
	}
	if len(inc.nested) > 0 && len(results) > 0 {
		if err := b.related.loadIncludes(ctx, tx, results, inc.nested); err != nil {
			return err
		}
	}

	logger.Relations().Debug("eager loaded relation",
		"relation", b.def.Name,
		"table", b.child.metadata.TableName,
		"children", len(children),
		"results", len(results),
	)
	return b.Match(children, results, b.def.Name)
}

// Update fills attributes into the stored owner and saves it. It reports
// false when the child has no stored owner.
func (b *BelongsTo[C, R]) Update(ctx context.Context, attributes Attributes) (bool, error) {
	owner, err := b.Query(ctx).First()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := b.related.Fill(owner, attributes); err != nil {
		return false, err
	}
	if err := b.related.Save(ctx, owner); err != nil {
		return false, err
	}
	return true, nil
}

// Associate points the child's foreign keys at owner and caches owner on the child
func (b *BelongsTo[C, R]) Associate(owner *R) (*C, error) {
	if b.record == nil {
		return nil, &Error{Op: "associate", Table: b.child.metadata.TableName, Err: ErrMissingParent}
	}

	values, err := b.related.GetAttributes(owner, b.def.OwnerKeys)
	if err != nil {
		return nil, err
	}
	if err := b.setForeignKeys(values); err != nil {
		return nil, err
	}
	if err := b.child.setRelation(b.record, b.def.Name, owner); err != nil {
		return nil, err
	}
	return b.record, nil
}

// AssociateKeys points the child's foreign keys at raw owner key values,
// given in owner key order, and clears any cached owner
func (b *BelongsTo[C, R]) AssociateKeys(values ...interface{}) (*C, error) {
	if b.record == nil {
		return nil, &Error{Op: "associate", Table: b.child.metadata.TableName, Err: ErrMissingParent}
	}
	if len(values) != len(b.def.OwnerKeys) {
		return nil, &Error{
			Op:    "associate",
			Table: b.child.metadata.TableName,
			Err:   fmt.Errorf("%w: expected %d owner key values, got %d", ErrKeyCountMismatch, len(b.def.OwnerKeys), len(values)),
		}
	}

	if err := b.setForeignKeys(values); err != nil {
		return nil, err
	}
	if err := b.child.setRelation(b.record, b.def.Name, nil); err != nil {
		return nil, err
	}
	return b.record, nil
}

// Dissociate clears the child's foreign keys and its cached owner. Non-pointer
// key fields fall back to their zero value.
func (b *BelongsTo[C, R]) Dissociate() (*C, error) {
	if b.record == nil {
		return nil, &Error{Op: "dissociate", Table: b.child.metadata.TableName, Err: ErrMissingParent}
	}

	if err := b.setForeignKeys(make([]interface{}, len(b.def.ForeignKeys))); err != nil {
		return nil, err
	}
	if err := b.child.setRelation(b.record, b.def.Name, nil); err != nil {
		return nil, err
	}
	return b.record, nil
}

func (b *BelongsTo[C, R]) setForeignKeys(values []interface{}) error {
	for i, column := range b.ForeignKeyNames() {
		if err := b.child.SetAttribute(b.record, column, values[i]); err != nil {
			return err
		}
	}
	return nil
}
