package introspect

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

// Catalog is a set of model descriptions and the composite relations
// between them, as discovered from a database or written by hand
type Catalog struct {
	Models    []orm.ModelMetadata      `json:"models" yaml:"models"`
	Relations []orm.RelationDefinition `json:"relations" yaml:"relations"`
}

// Options controls discovery
type Options struct {
	// Schemas to inspect, all when empty
	Schemas []string
	// Exclude holds glob patterns of tables to skip, "public.audit_*"
	Exclude []string
	// SingleColumn also turns single-column foreign keys into relations
	SingleColumn bool
}

// Model returns the model for a table
func (c *Catalog) Model(table string) (*orm.ModelMetadata, bool) {
	for i := range c.Models {
		if c.Models[i].TableName == table {
			return &c.Models[i], true
		}
	}
	return nil, false
}

// RelationsFor returns the relations declared on a table, sorted by name
func (c *Catalog) RelationsFor(table string) []*orm.RelationDefinition {
	var defs []*orm.RelationDefinition
	for i := range c.Relations {
		if c.Relations[i].Table == table {
			defs = append(defs, &c.Relations[i])
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Relation finds a relation by declaring table and name
func (c *Catalog) Relation(table, name string) (*orm.RelationDefinition, bool) {
	for i := range c.Relations {
		if c.Relations[i].Table == table && c.Relations[i].Name == name {
			return &c.Relations[i], true
		}
	}
	return nil, false
}

// Option returns the declaration option carrying a stored relation's keys and
// glue, for use with orm.CompositeHasOne, CompositeHasMany and CompositeBelongsTo
func (c *Catalog) Option(table, name string) (orm.RelationOption, error) {
	def, ok := c.Relation(table, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", orm.ErrUnknownRelation, table, name)
	}
	return orm.WithDefinition(*def), nil
}

// Validate checks every relation and that it only refers to known tables and
// columns. All problems are reported together.
func (c *Catalog) Validate() error {
	var errs error
	seen := make(map[string]bool, len(c.Relations))

	for i := range c.Relations {
		def := &c.Relations[i]
		if err := def.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s.%s: %w", def.Table, def.Name, err))
		}

		key := def.Table + "." + def.Name
		if seen[key] {
			errs = multierr.Append(errs, fmt.Errorf("%s: declared more than once", key))
		}
		seen[key] = true

		if len(c.Models) == 0 {
			continue
		}
		for _, table := range []string{def.Table, def.RelatedTable} {
			if _, ok := c.Model(table); !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s: unknown table %s", key, table))
			}
		}
	}

	return errs
}

// sortRelations orders relations by declaring table, then name
func (c *Catalog) sortRelations() {
	sort.SliceStable(c.Relations, func(i, j int) bool {
		if c.Relations[i].Table != c.Relations[j].Table {
			return c.Relations[i].Table < c.Relations[j].Table
		}
		return c.Relations[i].Name < c.Relations[j].Name
	})
}
