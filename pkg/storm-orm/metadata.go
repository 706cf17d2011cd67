package orm

import (
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
	"github.com/iancoleman/strcase"
)

// ModelMetadata describes how a Go struct maps onto a table
type ModelMetadata struct {
	TableName        string   `json:"table_name" yaml:"table"`
	ModelName        string   `json:"model_name,omitempty" yaml:"model,omitempty"`
	PrimaryKeys      []string `json:"primary_keys" yaml:"primary_keys"`
	AutoIncrement    bool     `json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`
	CreatedAtColumn  string   `json:"created_at_column,omitempty" yaml:"created_at,omitempty"`
	UpdatedAtColumn  string   `json:"updated_at_column,omitempty" yaml:"updated_at,omitempty"`
	SoftDeleteColumn string   `json:"soft_delete_column,omitempty" yaml:"soft_delete,omitempty"`
}

func (m *ModelMetadata) normalize() error {
	if m.TableName == "" {
		return fmt.Errorf("model metadata requires a table name")
	}
	if len(m.PrimaryKeys) == 0 {
		m.PrimaryKeys = []string{"id"}
	}
	if m.ModelName == "" {
		m.ModelName = ModelNameForTable(m.TableName)
	}
	return nil
}

// ModelNameForTable guesses a model name from a table name, "task_import_summaries" -> "TaskImportSummary"
func ModelNameForTable(table string) string {
	if idx := strings.LastIndex(table, "."); idx >= 0 {
		table = table[idx+1:]
	}
	return strcase.ToCamel(inflect.Singularize(table))
}

// KeyNames returns the primary key column names
func (m *ModelMetadata) KeyNames() []string {
	return m.PrimaryKeys
}

// QualifyColumn prefixes a column with the table name unless it is already qualified
func (m *ModelMetadata) QualifyColumn(column string) string {
	return qualifyColumn(m.TableName, column)
}

// QualifiedKeyNames returns the primary key columns qualified with the table name
func (m *ModelMetadata) QualifiedKeyNames() []string {
	return qualifyColumns(m.TableName, m.PrimaryKeys)
}

// ForeignKeys returns the conventional foreign key names other tables use to
// point at this model: snake(ModelName)_pk for every primary key.
func (m *ModelMetadata) ForeignKeys() []string {
	prefix := strcase.ToSnake(m.ModelName)
	keys := make([]string, len(m.PrimaryKeys))
	for i, pk := range m.PrimaryKeys {
		keys[i] = prefix + "_" + pk
	}
	return keys
}

func (m *ModelMetadata) IsCompositePrimaryKey() bool {
	return len(m.PrimaryKeys) > 1
}

func (m *ModelMetadata) hasTimestamps() bool {
	return m.CreatedAtColumn != "" || m.UpdatedAtColumn != ""
}

func qualifyColumn(table, column string) string {
	if strings.Contains(column, ".") || table == "" {
		return column
	}
	return table + "." + column
}

func qualifyColumns(table string, columns []string) []string {
	qualified := make([]string, len(columns))
	for i, column := range columns {
		qualified[i] = qualifyColumn(table, column)
	}
	return qualified
}

// unqualify strips any table prefix, "tasks.vendor_id" -> "vendor_id"
func unqualify(column string) string {
	if idx := strings.LastIndex(column, "."); idx >= 0 {
		return column[idx+1:]
	}
	return column
}
