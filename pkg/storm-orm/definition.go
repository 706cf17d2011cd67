package orm

import (
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

// RelationKind names one of the composite relation types
type RelationKind string

const (
	KindHasOne    RelationKind = "has_one"
	KindHasMany   RelationKind = "has_many"
	KindBelongsTo RelationKind = "belongs_to"
)

// RelationDefinition is the table-level description of a composite relation.
// Table is the declaring side; for belongs_to that is the child holding the
// foreign keys, for has_one/has_many it is the parent holding the local keys.
type RelationDefinition struct {
	Name         string       `json:"name" yaml:"name" validate:"required"`
	Kind         RelationKind `json:"kind" yaml:"kind" validate:"required,oneof=has_one has_many belongs_to"`
	Table        string       `json:"table" yaml:"table" validate:"required"`
	RelatedTable string       `json:"related_table" yaml:"related_table" validate:"required"`
	ForeignKeys  []string     `json:"foreign_keys" yaml:"foreign_keys" validate:"required,min=1,dive,required"`
	LocalKeys    []string     `json:"local_keys,omitempty" yaml:"local_keys,omitempty" validate:"omitempty,dive,required"`
	OwnerKeys    []string     `json:"owner_keys,omitempty" yaml:"owner_keys,omitempty" validate:"omitempty,dive,required"`
	Glue         Glue         `json:"glue,omitempty" yaml:"glue,omitempty"`
}

var definitionValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the definition and reports every problem found
func (d *RelationDefinition) Validate() error {
	var errs error

	if err := definitionValidator.Struct(d); err != nil {
		errs = multierr.Append(errs, err)
	}

	if d.Glue != "" {
		if _, err := ParseGlue(string(d.Glue)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	paired := d.pairedKeys()
	if len(paired) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("relation %s: %s keys are required", d.Name, d.pairedKeyLabel()))
	} else if len(paired) != len(d.ForeignKeys) {
		errs = multierr.Append(errs, fmt.Errorf("relation %s: %w (%d foreign, %d %s)",
			d.Name, ErrKeyCountMismatch, len(d.ForeignKeys), len(paired), d.pairedKeyLabel()))
	}

	return errs
}

func (d *RelationDefinition) pairedKeys() []string {
	if d.Kind == KindBelongsTo {
		return d.OwnerKeys
	}
	return d.LocalKeys
}

func (d *RelationDefinition) pairedKeyLabel() string {
	if d.Kind == KindBelongsTo {
		return "owner"
	}
	return "local"
}

func (d *RelationDefinition) glue() Glue {
	if d.Glue == "" {
		return DefaultGlue
	}
	return d.Glue
}

// ForeignKeyNames returns the foreign keys without any table prefix
func (d *RelationDefinition) ForeignKeyNames() []string {
	names := make([]string, len(d.ForeignKeys))
	for i, fk := range d.ForeignKeys {
		names[i] = unqualify(fk)
	}
	return names
}

// QualifiedForeignKeyNames qualifies the foreign keys with the table that holds them
func (d *RelationDefinition) QualifiedForeignKeyNames() []string {
	if d.Kind == KindBelongsTo {
		return qualifyColumns(d.Table, d.ForeignKeys)
	}
	return qualifyColumns(d.RelatedTable, d.ForeignKeys)
}

// JoinOn renders the join predicate between the declaring side (parentRef) and
// the related side (relatedRef). Either reference may be an alias.
func (d *RelationDefinition) JoinOn(parentRef, relatedRef string) string {
	foreign := d.ForeignKeyNames()
	if d.Kind == KindBelongsTo {
		return columnsEqual(qualifyColumns(parentRef, foreign), qualifyColumns(relatedRef, d.OwnerKeys))
	}
	return columnsEqual(qualifyColumns(relatedRef, foreign), qualifyColumns(parentRef, d.LocalKeys))
}

// ExistenceOn renders the correlated predicate used by existence and count
// sub-queries, parent columns first.
func (d *RelationDefinition) ExistenceOn(parentRef, relatedRef string) string {
	foreign := d.ForeignKeyNames()
	if d.Kind == KindBelongsTo {
		return columnsEqual(qualifyColumns(parentRef, foreign), qualifyColumns(relatedRef, d.OwnerKeys))
	}
	return columnsEqual(qualifyColumns(parentRef, d.LocalKeys), qualifyColumns(relatedRef, foreign))
}

// IsSelfRelation reports whether the relation points back at its own table
func (d *RelationDefinition) IsSelfRelation() bool {
	return d.Table == d.RelatedTable
}

// ExistenceQuery builds the sub-query selecting related rows for a parent
// reference. Self relations alias the related table with a reserved name.
func (d *RelationDefinition) ExistenceQuery(parentRef string, columns ...string) squirrel.SelectBuilder {
	builder, _ := d.existenceQuery(parentRef, columns...)
	return builder
}

func (d *RelationDefinition) existenceQuery(parentRef string, columns ...string) (squirrel.SelectBuilder, string) {
	if len(columns) == 0 {
		columns = []string{"*"}
	}

	from := d.RelatedTable
	relatedRef := d.RelatedTable
	if d.IsSelfRelation() || parentRef == d.RelatedTable {
		relatedRef = RelationCountHash(true)
		from = d.RelatedTable + " AS " + relatedRef
	}

	return squirrel.Select(columns...).
		From(from).
		Where(d.ExistenceOn(parentRef, relatedRef)), relatedRef
}

// EagerConstraint renders the eager-load predicate for a batch of key tuples
// taken from the parent (or child, for belongs_to) records.
func (d *RelationDefinition) EagerConstraint(tuples [][]interface{}) (squirrel.Sqlizer, error) {
	var columns []string
	if d.Kind == KindBelongsTo {
		columns = qualifyColumns(d.RelatedTable, d.OwnerKeys)
	} else {
		columns = d.QualifiedForeignKeyNames()
	}
	return eagerConstraint(columns, tuples, d.glue())
}

func (d *RelationDefinition) String() string {
	var paired string
	if d.Kind == KindBelongsTo {
		paired = "owner=" + strings.Join(d.OwnerKeys, ",")
	} else {
		paired = "local=" + strings.Join(d.LocalKeys, ",")
	}
	return fmt.Sprintf("%s %s %s -> %s (foreign=%s %s glue=%s)",
		d.Table, d.Kind, d.Name, d.RelatedTable, strings.Join(d.ForeignKeys, ","), paired, d.glue())
}
