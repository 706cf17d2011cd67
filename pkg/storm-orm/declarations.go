package orm

import (
	"context"
	"fmt"

	"github.com/go-openapi/inflect"
	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"

	"github.com/eleven-am/storm-composite/internal/logger"
)

type relationConfig struct {
	foreignKeys []string
	localKeys   []string
	ownerKeys   []string
	glue        string
}

// RelationOption overrides the conventional keys or glue of a declaration
type RelationOption func(*relationConfig)

// WithForeignKeys names the foreign key columns, in pairing order
func WithForeignKeys(keys ...string) RelationOption {
	return func(c *relationConfig) {
		c.foreignKeys = keys
	}
}

// WithLocalKeys names the parent columns a has-one or has-many relation pairs with
func WithLocalKeys(keys ...string) RelationOption {
	return func(c *relationConfig) {
		c.localKeys = keys
	}
}

// WithOwnerKeys names the owner columns a belongs-to relation pairs with
func WithOwnerKeys(keys ...string) RelationOption {
	return func(c *relationConfig) {
		c.ownerKeys = keys
	}
}

// WithGlue picks how the columns of one key tuple combine, "and" or "or"
func WithGlue(glue string) RelationOption {
	return func(c *relationConfig) {
		c.glue = glue
	}
}

// WithDefinition takes the keys and glue of a stored definition, such as one
// read from a discovered relations file
func WithDefinition(def RelationDefinition) RelationOption {
	return func(c *relationConfig) {
		c.foreignKeys = def.ForeignKeyNames()
		if def.Kind == KindBelongsTo {
			c.ownerKeys = def.OwnerKeys
		} else {
			c.localKeys = def.LocalKeys
		}
		c.glue = string(def.Glue)
	}
}

func newRelationConfig(fields *modelFields, name string, kind RelationKind, opts []RelationOption) (*relationConfig, error) {
	cfg := &relationConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if tag, ok := fields.relationTags[name]; ok {
		if err := tag.applyTo(cfg, kind); err != nil {
			return nil, fmt.Errorf("relation %s: %w", name, err)
		}
	}
	return cfg, nil
}

func (c *relationConfig) parsedGlue() (Glue, error) {
	if c.glue == "" {
		return DefaultGlue, nil
	}
	return ParseGlue(c.glue)
}

func hasOneOrManyDefinition(kind RelationKind, parent, related *ModelMetadata, name string, cfg *relationConfig) (*RelationDefinition, error) {
	glue, err := cfg.parsedGlue()
	if err != nil {
		return nil, err
	}

	foreign := cfg.foreignKeys
	if len(foreign) == 0 {
		foreign = parent.ForeignKeys()
	}
	local := cfg.localKeys
	if len(local) == 0 {
		local = parent.KeyNames()
	}

	def := &RelationDefinition{
		Name:         name,
		Kind:         kind,
		Table:        parent.TableName,
		RelatedTable: related.TableName,
		ForeignKeys:  qualifyColumns(related.TableName, foreign),
		LocalKeys:    append([]string(nil), local...),
		Glue:         glue,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func belongsToDefinition(child, related *ModelMetadata, name string, cfg *relationConfig) (*RelationDefinition, error) {
	glue, err := cfg.parsedGlue()
	if err != nil {
		return nil, err
	}

	owner := cfg.ownerKeys
	if len(owner) == 0 {
		owner = related.KeyNames()
	}
	foreign := cfg.foreignKeys
	if len(foreign) == 0 {
		prefix := strcase.ToSnake(name)
		foreign = make([]string, len(owner))
		for i, key := range owner {
			foreign[i] = prefix + "_" + key
		}
	}

	def := &RelationDefinition{
		Name:         name,
		Kind:         KindBelongsTo,
		Table:        child.TableName,
		RelatedTable: related.TableName,
		ForeignKeys:  append([]string(nil), foreign...),
		OwnerKeys:    append([]string(nil), owner...),
		Glue:         glue,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// CompositeHasOne declares a has-one relation from parent to related and
// registers it on the parent repository under name. An empty name becomes
// the snake_case model name of related.
func CompositeHasOne[P, R any](parent *Repository[P], related *Repository[R], name string, opts ...RelationOption) (*HasOne[P, R], error) {
	if name == "" {
		name = strcase.ToSnake(related.metadata.ModelName)
	}

	cfg, err := newRelationConfig(parent.fields, name, KindHasOne, opts)
	if err != nil {
		return nil, err
	}
	def, err := hasOneOrManyDefinition(KindHasOne, parent.metadata, related.metadata, name, cfg)
	if err != nil {
		return nil, err
	}

	rel := &HasOne[P, R]{hasOneOrMany: &hasOneOrMany[P, R]{def: def, parent: parent, related: related}}
	err = parent.registerRelation(&registeredRelation[P]{
		def:     def,
		related: related,
		load: func(ctx context.Context, tx *sqlx.Tx, records []*P, inc include) error {
			return rel.eagerLoad(ctx, tx, records, inc)
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Relations().Debug("declared relation", "relation", def.String())
	return rel, nil
}

// CompositeHasMany declares a has-many relation from parent to related and
// registers it on the parent repository under name. An empty name becomes
// the plural snake_case model name of related.
func CompositeHasMany[P, R any](parent *Repository[P], related *Repository[R], name string, opts ...RelationOption) (*HasMany[P, R], error) {
	if name == "" {
		name = inflect.Pluralize(strcase.ToSnake(related.metadata.ModelName))
	}

	cfg, err := newRelationConfig(parent.fields, name, KindHasMany, opts)
	if err != nil {
		return nil, err
	}
	def, err := hasOneOrManyDefinition(KindHasMany, parent.metadata, related.metadata, name, cfg)
	if err != nil {
		return nil, err
	}

	rel := &HasMany[P, R]{hasOneOrMany: &hasOneOrMany[P, R]{def: def, parent: parent, related: related}}
	err = parent.registerRelation(&registeredRelation[P]{
		def:     def,
		related: related,
		load: func(ctx context.Context, tx *sqlx.Tx, records []*P, inc include) error {
			return rel.eagerLoad(ctx, tx, records, inc)
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Relations().Debug("declared relation", "relation", def.String())
	return rel, nil
}

// CompositeBelongsTo declares that child belongs to an owner in related and
// registers it on the child repository under name. The conventional foreign
// keys are snake(name)_ownerKey; an empty name becomes the snake_case model
// name of related.
func CompositeBelongsTo[C, R any](child *Repository[C], related *Repository[R], name string, opts ...RelationOption) (*BelongsTo[C, R], error) {
	if name == "" {
		name = strcase.ToSnake(related.metadata.ModelName)
	}

	cfg, err := newRelationConfig(child.fields, name, KindBelongsTo, opts)
	if err != nil {
		return nil, err
	}
	def, err := belongsToDefinition(child.metadata, related.metadata, name, cfg)
	if err != nil {
		return nil, err
	}

	rel := &BelongsTo[C, R]{def: def, child: child, related: related}
	err = child.registerRelation(&registeredRelation[C]{
		def:     def,
		related: related,
		load: func(ctx context.Context, tx *sqlx.Tx, records []*C, inc include) error {
			return rel.eagerLoad(ctx, tx, records, inc)
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Relations().Debug("declared relation", "relation", def.String())
	return rel, nil
}
