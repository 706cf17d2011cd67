package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/eleven-am/storm-composite/internal/logger"
)

// hasOneOrMany holds what HasOne and HasMany share: the parent's local key
// columns pointing at foreign key columns on the related table.
type hasOneOrMany[P, R any] struct {
	def     *RelationDefinition
	parent  *Repository[P]
	related *Repository[R]

	// record is the parent instance the relation is bound to, nil on a declaration
	record *P
}

func (h *hasOneOrMany[P, R]) bind(record *P) *hasOneOrMany[P, R] {
	bound := *h
	bound.record = record
	return &bound
}

// Definition returns the table-level description of the relation
func (h *hasOneOrMany[P, R]) Definition() *RelationDefinition {
	return h.def
}

// Parent returns the record the relation is bound to
func (h *hasOneOrMany[P, R]) Parent() *P {
	return h.record
}

func (h *hasOneOrMany[P, R]) Related() *Repository[R] {
	return h.related
}

func (h *hasOneOrMany[P, R]) Glue() Glue {
	return h.def.glue()
}

func (h *hasOneOrMany[P, R]) ForeignKeyNames() []string {
	return h.def.ForeignKeyNames()
}

func (h *hasOneOrMany[P, R]) QualifiedForeignKeyNames() []string {
	return h.def.QualifiedForeignKeyNames()
}

func (h *hasOneOrMany[P, R]) LocalKeyNames() []string {
	return h.def.LocalKeys
}

// QualifiedParentKeyNames qualifies the local keys with the parent table
func (h *hasOneOrMany[P, R]) QualifiedParentKeyNames() []string {
	return qualifyColumns(h.parent.metadata.TableName, h.def.LocalKeys)
}

// ParentKeys returns the local key values of the bound parent
func (h *hasOneOrMany[P, R]) ParentKeys() ([]interface{}, error) {
	if h.record == nil {
		return nil, &Error{Op: "parent_keys", Table: h.parent.metadata.TableName, Err: ErrMissingParent}
	}
	return h.parent.GetAttributes(h.record, h.def.LocalKeys)
}

// Query starts a query on the related table, scoped to the bound parent
func (h *hasOneOrMany[P, R]) Query(ctx context.Context) *Query[R] {
	return h.AddConstraints(h.related.Query(ctx))
}

// AddConstraints scopes q to rows whose foreign keys equal the parent's local
// keys. Every foreign key must also be present.
func (h *hasOneOrMany[P, R]) AddConstraints(q *Query[R]) *Query[R] {
	if h.record == nil {
		return q
	}

	keys, err := h.ParentKeys()
	if err != nil {
		q.err = err
		return q
	}

	constraints := make(squirrel.And, 0, len(keys)*2)
	for i, column := range h.QualifiedForeignKeyNames() {
		constraints = append(constraints,
			squirrel.Eq{column: normalizeValue(keys[i])},
			squirrel.NotEq{column: nil},
		)
	}
	return q.whereSqlizer(constraints)
}

// AddEagerConstraints scopes q to the related rows of every parent in the batch
func (h *hasOneOrMany[P, R]) AddEagerConstraints(q *Query[R], parents []*P) (*Query[R], error) {
	tuples := make([][]interface{}, 0, len(parents))
	for _, parent := range parents {
		values, err := h.parent.GetAttributes(parent, h.def.LocalKeys)
		if err != nil {
			return q, err
		}
		tuples = append(tuples, values)
	}

	pred, err := h.def.EagerConstraint(tuples)
	if err != nil {
		return q, err
	}
	return q.whereSqlizer(pred), nil
}

// buildDictionary groups results by their encoded foreign key tuple, keeping result order
func (h *hasOneOrMany[P, R]) buildDictionary(results []*R) (map[string][]*R, error) {
	foreign := h.ForeignKeyNames()
	dictionary := make(map[string][]*R, len(results))

	for _, result := range results {
		values, err := h.related.GetAttributes(result, foreign)
		if err != nil {
			return nil, err
		}
		key, err := encodeKey(values)
		if err != nil {
			return nil, err
		}
		dictionary[key] = append(dictionary[key], result)
	}
	return dictionary, nil
}

// matchOneOrMany assigns each parent its matching results under name. Parents
// without a match keep whatever InitRelation gave them.
func (h *hasOneOrMany[P, R]) matchOneOrMany(parents []*P, results []*R, name string, one bool) error {
	dictionary, err := h.buildDictionary(results)
	if err != nil {
		return err
	}

	for _, parent := range parents {
		values, err := h.parent.GetAttributes(parent, h.def.LocalKeys)
		if err != nil {
			return err
		}
		key, err := encodeKey(values)
		if err != nil {
			return err
		}

		group, ok := dictionary[key]
		if !ok {
			continue
		}

		if one {
			err = h.parent.setRelation(parent, name, group[0])
		} else {
			err = h.parent.setRelation(parent, name, group)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// eagerResults runs the batched query for a set of parents, with the include's
// conditions and nested includes applied.
func (h *hasOneOrMany[P, R]) eagerResults(ctx context.Context, tx *sqlx.Tx, parents []*P, inc include) ([]*R, error) {
	q, err := h.AddEagerConstraints(h.related.Query(ctx).WithTx(tx).forRelation(h.def.Name), parents)
	if err != nil {
		return nil, err
	}
	for _, condition := range inc.conditions {
		q = q.Where(condition)
	}

	results, err := q.FindPointers()
	if err != nil {
		return nil, err
	}

	if len(inc.nested) > 0 && len(results) > 0 {
		if err := h.related.loadIncludes(ctx, tx, results, inc.nested); err != nil {
			return nil, err
		}
	}

	logger.Relations().Debug("eager loaded relation",
		"relation", h.def.Name,
		"table", h.parent.metadata.TableName,
		"parents", len(parents),
		"results", len(results),
	)
	return results, nil
}

// setForeignAttributesForCreate copies the parent's local keys into the
// record's foreign key columns
func (h *hasOneOrMany[P, R]) setForeignAttributesForCreate(record *R) error {
	keys, err := h.ParentKeys()
	if err != nil {
		return err
	}
	for i, column := range h.ForeignKeyNames() {
		if err := h.related.SetAttribute(record, column, keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Make builds a related record pointing at the parent without saving it
func (h *hasOneOrMany[P, R]) Make(attributes Attributes) (*R, error) {
	record, err := h.related.New(attributes)
	if err != nil {
		return nil, err
	}
	if err := h.setForeignAttributesForCreate(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Create inserts a related record pointing at the parent
func (h *hasOneOrMany[P, R]) Create(ctx context.Context, attributes Attributes) (*R, error) {
	record, err := h.Make(attributes)
	if err != nil {
		return nil, err
	}
	if err := h.related.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CreateMany inserts one related record per attribute set, stopping at the first failure
func (h *hasOneOrMany[P, R]) CreateMany(ctx context.Context, records []Attributes) ([]*R, error) {
	created := make([]*R, 0, len(records))
	for _, attributes := range records {
		record, err := h.Create(ctx, attributes)
		if err != nil {
			return created, err
		}
		created = append(created, record)
	}
	return created, nil
}

// Save points record at the parent and persists it
func (h *hasOneOrMany[P, R]) Save(ctx context.Context, record *R) (*R, error) {
	if err := h.setForeignAttributesForCreate(record); err != nil {
		return nil, err
	}
	if err := h.related.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// SaveMany saves each record, stopping at the first failure
func (h *hasOneOrMany[P, R]) SaveMany(ctx context.Context, records []*R) ([]*R, error) {
	for _, record := range records {
		if _, err := h.Save(ctx, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// FindOrNew looks up a related record by primary key within the relation, or
// makes a new one pointing at the parent
func (h *hasOneOrMany[P, R]) FindOrNew(ctx context.Context, keys ...interface{}) (*R, error) {
	pks := h.related.metadata.QualifiedKeyNames()
	if len(keys) != len(pks) {
		return nil, &Error{
			Op:    "find_or_new",
			Table: h.related.metadata.TableName,
			Err:   fmt.Errorf("%w: expected %d key values, got %d", ErrKeyCountMismatch, len(pks), len(keys)),
		}
	}

	q := h.Query(ctx)
	for i, column := range pks {
		q = q.Where(Eq(column, keys[i]))
	}

	record, err := q.First()
	if errors.Is(err, ErrNotFound) {
		return h.Make(nil)
	}
	return record, err
}

// FirstOrNew returns the first related record matching attributes, or makes
// one from attributes merged with values
func (h *hasOneOrMany[P, R]) FirstOrNew(ctx context.Context, attributes, values Attributes) (*R, error) {
	record, err := h.Query(ctx).WhereAttributes(attributes).First()
	if errors.Is(err, ErrNotFound) {
		return h.Make(attributes.merge(values))
	}
	return record, err
}

// FirstOrCreate returns the first related record matching attributes, or
// creates one from attributes merged with values
func (h *hasOneOrMany[P, R]) FirstOrCreate(ctx context.Context, attributes, values Attributes) (*R, error) {
	record, err := h.Query(ctx).WhereAttributes(attributes).First()
	if errors.Is(err, ErrNotFound) {
		return h.Create(ctx, attributes.merge(values))
	}
	return record, err
}

// UpdateOrCreate fills values into the first record matching attributes, or a
// new one, and saves it
func (h *hasOneOrMany[P, R]) UpdateOrCreate(ctx context.Context, attributes, values Attributes) (*R, error) {
	record, err := h.FirstOrNew(ctx, attributes, nil)
	if err != nil {
		return nil, err
	}
	if err := h.related.Fill(record, values); err != nil {
		return nil, err
	}
	if err := h.related.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
