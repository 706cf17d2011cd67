package orm

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

// defaultModel is the record a single-result relation yields when nothing
// matches. O is the record type the relation hangs off.
type defaultModel[O, R any] struct {
	enabled    bool
	attributes Attributes
	callback   func(related *R, owner *O) error
}

func (d defaultModel[O, R]) make(repo *Repository[R], owner *O, prepare func(*R) error) (*R, error) {
	if !d.enabled {
		return nil, nil
	}

	record := new(R)
	if prepare != nil {
		if err := prepare(record); err != nil {
			return nil, err
		}
	}
	if err := repo.Fill(record, d.attributes); err != nil {
		return nil, err
	}
	if d.callback != nil {
		if err := d.callback(record, owner); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// HasOne relates a parent to at most one related record through a composite key
type HasOne[P, R any] struct {
	*hasOneOrMany[P, R]
	defaults defaultModel[P, R]
}

// For binds the relation to a parent record
func (h *HasOne[P, R]) For(record *P) *HasOne[P, R] {
	return &HasOne[P, R]{hasOneOrMany: h.hasOneOrMany.bind(record), defaults: h.defaults}
}

// WithDefault yields an empty related record, keyed to the parent, when none
// exists. On a declaration it changes the registered relation, so eager loads
// see it too; call it during setup. A bound relation returns a configured copy.
func (h *HasOne[P, R]) WithDefault() *HasOne[P, R] {
	target := h.configurable()
	target.defaults.enabled = true
	return target
}

// WithDefaultAttributes is WithDefault with the given attributes filled in
func (h *HasOne[P, R]) WithDefaultAttributes(attributes Attributes) *HasOne[P, R] {
	target := h.configurable()
	target.defaults.enabled = true
	target.defaults.attributes = attributes
	return target
}

// WithDefaultFunc is WithDefault with fn shaping the record
func (h *HasOne[P, R]) WithDefaultFunc(fn func(related *R, parent *P) error) *HasOne[P, R] {
	target := h.configurable()
	target.defaults.enabled = true
	target.defaults.callback = fn
	return target
}

func (h *HasOne[P, R]) configurable() *HasOne[P, R] {
	if h.record == nil {
		return h
	}
	return &HasOne[P, R]{hasOneOrMany: h.hasOneOrMany, defaults: h.defaults}
}

// newRelatedInstanceFor builds the default record for a parent, foreign keys filled
func (h *HasOne[P, R]) newRelatedInstanceFor(parent *P) (*R, error) {
	return h.defaults.make(h.related, parent, func(record *R) error {
		keys, err := h.parent.GetAttributes(parent, h.def.LocalKeys)
		if err != nil {
			return err
		}
		for i, column := range h.ForeignKeyNames() {
			if err := h.related.SetAttribute(record, column, keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetResults loads the related record of the bound parent. A parent with any
// missing local key gets the default without a query.
func (h *HasOne[P, R]) GetResults(ctx context.Context) (*R, error) {
	keys, err := h.ParentKeys()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if normalizeValue(key) == nil {
			return h.newRelatedInstanceFor(h.record)
		}
	}

	record, err := h.Query(ctx).First()
	if errors.Is(err, ErrNotFound) {
		return h.newRelatedInstanceFor(h.record)
	}
	return record, err
}

// InitRelation sets every parent's relation to the default, or nil
func (h *HasOne[P, R]) InitRelation(parents []*P, name string) error {
	for _, parent := range parents {
		record, err := h.newRelatedInstanceFor(parent)
		if err != nil {
			return err
		}
		if err := h.parent.setRelation(parent, name, record); err != nil {
			return err
		}
	}
	return nil
}

// Match assigns each parent the first result whose foreign keys equal its local keys
func (h *HasOne[P, R]) Match(parents []*P, results []*R, name string) error {
	return h.matchOneOrMany(parents, results, name, true)
}

// EagerLoad loads the relation for a batch of parents with one query
func (h *HasOne[P, R]) EagerLoad(ctx context.Context, parents []*P, conditions ...Condition) error {
	return h.eagerLoad(ctx, nil, parents, include{name: h.def.Name, conditions: conditions})
}

func (h *HasOne[P, R]) eagerLoad(ctx context.Context, tx *sqlx.Tx, parents []*P, inc include) error {
	if err := h.InitRelation(parents, h.def.Name); err != nil {
		return err
	}
	if len(parents) == 0 {
		return nil
	}
	results, err := h.eagerResults(ctx, tx, parents, inc)
	if err != nil {
		return err
	}
	return h.Match(parents, results, h.def.Name)
}
