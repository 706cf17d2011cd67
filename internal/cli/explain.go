package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/spf13/cobra"

	"github.com/eleven-am/storm-composite/internal/dialect"
	"github.com/eleven-am/storm-composite/internal/introspect"
	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

var (
	relationsFile string
	explainDriver string
)

var explainCmd = &cobra.Command{
	Use:   "explain [table[.relation]]",
	Short: "Show the SQL each relation produces",
	Long: `Print the join predicate, the existence sub-query and a two-parent eager
load constraint for every relation in the relations file, or only for the
relations of one table.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVarP(&relationsFile, "relations", "r", "", "Relations file (default: relations.file from storm.yaml)")
	explainCmd.Flags().StringVar(&explainDriver, "driver", "", "Render placeholders for a driver: postgres, sqlite")
}

func loadRelations() (*introspect.Catalog, string, error) {
	path := relationsFile
	if path == "" {
		path = config().Relations.File
	}
	catalog, err := introspect.LoadCatalog(path)
	return catalog, path, err
}

func runExplain(cmd *cobra.Command, args []string) error {
	catalog, path, err := loadRelations()
	if err != nil {
		return err
	}

	var format squirrel.PlaceholderFormat = squirrel.Question
	driver := explainDriver
	if driver == "" {
		driver = config().Database.Driver
	}
	if driver != "" {
		name, err := dialect.NormalizeDriver(driver, "")
		if err != nil {
			return err
		}
		if name == dialect.Postgres {
			format = squirrel.Dollar
		}
	}

	var table, name string
	if len(args) == 1 {
		table = args[0]
		if len(catalog.RelationsFor(table)) == 0 {
			if idx := strings.LastIndex(table, "."); idx >= 0 {
				table, name = table[:idx], table[idx+1:]
			}
		}
	}

	var defs []*orm.RelationDefinition
	for i := range catalog.Relations {
		def := &catalog.Relations[i]
		if table != "" && def.Table != table {
			continue
		}
		if name != "" && def.Name != name {
			continue
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		if table != "" {
			return fmt.Errorf("no relations for %s in %s", args[0], path)
		}
		return fmt.Errorf("no relations in %s", path)
	}

	out := cmd.OutOrStdout()
	for _, def := range defs {
		if err := explainRelation(out, def, format); err != nil {
			return fmt.Errorf("%s.%s: %w", def.Table, def.Name, err)
		}
	}
	return nil
}

func explainRelation(out io.Writer, def *orm.RelationDefinition, format squirrel.PlaceholderFormat) error {
	if err := def.Validate(); err != nil {
		return err
	}

	existsSQL, _, err := def.ExistenceQuery(def.Table).PlaceholderFormat(format).ToSql()
	if err != nil {
		return err
	}

	eager, err := def.EagerConstraint(sampleTuples(len(def.ForeignKeys)))
	if err != nil {
		return err
	}
	eagerSQL, eagerArgs, err := eager.ToSql()
	if err != nil {
		return err
	}
	if eagerSQL, err = format.ReplacePlaceholders(eagerSQL); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s.%s  %s -> %s\n", def.Table, def.Name, def.Kind, def.RelatedTable)
	fmt.Fprintf(out, "  join:    %s\n", def.JoinOn(def.Table, def.RelatedTable))
	fmt.Fprintf(out, "  exists:  %s\n", existsSQL)
	fmt.Fprintf(out, "  eager:   %s  (%d args)\n\n", eagerSQL, len(eagerArgs))
	return nil
}

// sampleTuples builds two distinct key tuples of the given width
func sampleTuples(width int) [][]interface{} {
	tuples := make([][]interface{}, 2)
	for i := range tuples {
		tuples[i] = make([]interface{}, width)
		for j := range tuples[i] {
			tuples[i][j] = i*width + j + 1
		}
	}
	return tuples
}
