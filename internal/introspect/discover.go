package introspect

import (
	"fmt"
	"sort"
	"strings"

	"ariga.io/atlas/sql/schema"
	"github.com/go-openapi/inflect"
	"github.com/iancoleman/strcase"

	"github.com/eleven-am/storm-composite/internal/logger"
	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

var defaultSchemas = map[string]bool{"": true, "public": true, "main": true}

// FromRealm builds a catalog from an inspected realm. Every multi-column
// foreign key becomes a belongs_to on the child and a has_many on the parent,
// or a has_one when the foreign key columns are unique on the child.
func FromRealm(realm *schema.Realm, opts Options) *Catalog {
	catalog := &Catalog{}
	if realm == nil {
		return catalog
	}

	var tables []*schema.Table
	for _, s := range realm.Schemas {
		tables = append(tables, s.Tables...)
	}
	sort.Slice(tables, func(i, j int) bool { return tableName(tables[i]) < tableName(tables[j]) })

	for _, t := range tables {
		catalog.Models = append(catalog.Models, modelFor(t))
	}

	used := make(map[string]bool)
	declare := func(def orm.RelationDefinition) {
		key := def.Table + "." + def.Name
		if used[key] {
			base := def.Name + "_" + strings.Join(unqualifiedNames(def.ForeignKeys), "_")
			def.Name = base
			for n := 2; used[def.Table+"."+def.Name]; n++ {
				def.Name = fmt.Sprintf("%s_%d", base, n)
			}
			key = def.Table + "." + def.Name
		}
		used[key] = true
		catalog.Relations = append(catalog.Relations, def)
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil || len(fk.Columns) != len(fk.RefColumns) {
				continue
			}
			if len(fk.Columns) < 2 && !opts.SingleColumn {
				continue
			}

			child, parent := tableName(t), tableName(fk.RefTable)
			foreign, owner := columnNames(fk.Columns), columnNames(fk.RefColumns)
			belongsName := belongsToName(foreign, owner, fk.RefTable.Name)

			declare(orm.RelationDefinition{
				Name:         belongsName,
				Kind:         orm.KindBelongsTo,
				Table:        child,
				RelatedTable: parent,
				ForeignKeys:  foreign,
				OwnerKeys:    owner,
			})

			inverse := orm.RelationDefinition{
				Table:        parent,
				RelatedTable: child,
				ForeignKeys:  foreign,
				LocalKeys:    owner,
			}
			if isUnique(t, fk.Columns) {
				inverse.Kind = orm.KindHasOne
				inverse.Name = strcase.ToSnake(inflect.Singularize(t.Name))
			} else {
				inverse.Kind = orm.KindHasMany
				inverse.Name = strcase.ToSnake(t.Name)
			}
			if inverse.Name == belongsName && child == parent {
				inverse.Name = inverse.Name + "_children"
			}
			declare(inverse)

			logger.Atlas().Debug("discovered composite foreign key",
				"table", child,
				"references", parent,
				"columns", strings.Join(foreign, ","),
			)
		}
	}

	catalog.sortRelations()
	return catalog
}

func tableName(t *schema.Table) string {
	if t.Schema == nil || defaultSchemas[t.Schema.Name] {
		return t.Name
	}
	return t.Schema.Name + "." + t.Name
}

func columnNames(columns []*schema.Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

func unqualifiedNames(columns []string) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		if idx := strings.LastIndex(c, "."); idx >= 0 {
			c = c[idx+1:]
		}
		names[i] = c
	}
	return names
}

// belongsToName uses the prefix shared by every foreign key column when each
// one is that prefix plus its owner column, "task_vendor_id" -> "task".
// Otherwise the singular of the referenced table is used.
func belongsToName(foreign, owner []string, refTable string) string {
	prefix := ""
	for i := range foreign {
		p, ok := strings.CutSuffix(foreign[i], "_"+owner[i])
		if !ok || p == "" || (prefix != "" && p != prefix) {
			prefix = ""
			break
		}
		prefix = p
	}
	if prefix != "" {
		return prefix
	}
	return strcase.ToSnake(inflect.Singularize(refTable))
}

// modelFor describes a table. A single integer primary key is taken to be
// generated by the database.
func modelFor(t *schema.Table) orm.ModelMetadata {
	meta := orm.ModelMetadata{
		TableName: tableName(t),
		ModelName: orm.ModelNameForTable(t.Name),
	}

	if t.PrimaryKey != nil {
		for _, part := range t.PrimaryKey.Parts {
			if part.C != nil {
				meta.PrimaryKeys = append(meta.PrimaryKeys, part.C.Name)
			}
		}
		if len(t.PrimaryKey.Parts) == 1 && t.PrimaryKey.Parts[0].C != nil {
			if ct := t.PrimaryKey.Parts[0].C.Type; ct != nil {
				_, meta.AutoIncrement = ct.Type.(*schema.IntegerType)
			}
		}
	}

	for _, c := range t.Columns {
		switch c.Name {
		case "created_at":
			meta.CreatedAtColumn = c.Name
		case "updated_at":
			meta.UpdatedAtColumn = c.Name
		case "deleted_at":
			meta.SoftDeleteColumn = c.Name
		}
	}
	return meta
}

// isUnique reports whether columns are exactly the primary key or a unique
// index of t, in any order
func isUnique(t *schema.Table, columns []*schema.Column) bool {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c.Name] = true
	}

	covers := func(idx *schema.Index) bool {
		if idx == nil || len(idx.Parts) != len(want) {
			return false
		}
		for _, part := range idx.Parts {
			if part.C == nil || !want[part.C.Name] {
				return false
			}
		}
		return true
	}

	if covers(t.PrimaryKey) {
		return true
	}
	for _, idx := range t.Indexes {
		if idx.Unique && covers(idx) {
			return true
		}
	}
	return false
}
