package introspect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ExportFormat names an output format for a catalog
type ExportFormat string

const (
	ExportFormatYAML     ExportFormat = "yaml"
	ExportFormatJSON     ExportFormat = "json"
	ExportFormatMarkdown ExportFormat = "markdown"
)

var catalogJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Export renders the catalog in the given format
func (c *Catalog) Export(format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatYAML, "yml":
		return yaml.Marshal(c)
	case ExportFormatJSON:
		return catalogJSON.MarshalIndent(c, "", "  ")
	case ExportFormatMarkdown, "md":
		return exportMarkdown(c), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportMarkdown(c *Catalog) []byte {
	var b strings.Builder

	b.WriteString("# Composite relations\n\n")
	for _, model := range c.Models {
		defs := c.RelationsFor(model.TableName)
		if len(defs) == 0 {
			continue
		}

		b.WriteString(fmt.Sprintf("## %s\n\n", model.TableName))
		b.WriteString(fmt.Sprintf("Primary key: `%s`\n\n", strings.Join(model.PrimaryKeys, ", ")))
		b.WriteString("| Relation | Kind | Related | Join |\n")
		b.WriteString("|----------|------|---------|------|\n")
		for _, def := range defs {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | `%s` |\n",
				def.Name, def.Kind, def.RelatedTable, def.JoinOn(def.Table, def.RelatedTable)))
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relations file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse relations file: %w", err)
	}
	return &catalog, nil
}

// SaveCatalog writes the catalog as YAML, creating parent directories
func SaveCatalog(catalog *Catalog, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := catalog.Export(ExportFormatYAML)
	if err != nil {
		return fmt.Errorf("failed to marshal relations: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write relations file: %w", err)
	}
	return nil
}
