package orm

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// HasMany relates a parent to any number of related records through a composite key
type HasMany[P, R any] struct {
	*hasOneOrMany[P, R]
}

// For binds the relation to a parent record
func (h *HasMany[P, R]) For(record *P) *HasMany[P, R] {
	return &HasMany[P, R]{hasOneOrMany: h.hasOneOrMany.bind(record)}
}

// GetResults loads the related records of the bound parent. When every local
// key is blank nothing is queried.
func (h *HasMany[P, R]) GetResults(ctx context.Context) ([]*R, error) {
	keys, err := h.ParentKeys()
	if err != nil {
		return nil, err
	}

	blank := true
	for _, key := range keys {
		if !isBlank(key) {
			blank = false
			break
		}
	}
	if blank {
		return []*R{}, nil
	}

	return h.Query(ctx).FindPointers()
}

// InitRelation gives every parent an empty collection
func (h *HasMany[P, R]) InitRelation(parents []*P, name string) error {
	for _, parent := range parents {
		if err := h.parent.setRelation(parent, name, []*R{}); err != nil {
			return err
		}
	}
	return nil
}

// Match assigns each parent every result whose foreign keys equal its local keys
func (h *HasMany[P, R]) Match(parents []*P, results []*R, name string) error {
	return h.matchOneOrMany(parents, results, name, false)
}

// EagerLoad loads the relation for a batch of parents with one query
func (h *HasMany[P, R]) EagerLoad(ctx context.Context, parents []*P, conditions ...Condition) error {
	return h.eagerLoad(ctx, nil, parents, include{name: h.def.Name, conditions: conditions})
}

func (h *HasMany[P, R]) eagerLoad(ctx context.Context, tx *sqlx.Tx, parents []*P, inc include) error {
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
