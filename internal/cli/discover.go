package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eleven-am/storm-composite/internal/dialect"
	"github.com/eleven-am/storm-composite/internal/introspect"
	"github.com/eleven-am/storm-composite/internal/logger"
	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

var (
	discoverFormat       string
	discoverOutput       string
	discoverSchemas      []string
	discoverExclude      []string
	discoverSingleColumn bool
	discoverGlue         string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover composite relations from database foreign keys",
	Long: `Inspect the database and turn every multi-column foreign key into a pair
of relations: a belongs_to on the table holding the keys, and a has_one or
has_many on the referenced table.

The catalog is printed to stdout unless --output is given.
Export formats supported: yaml, json, markdown`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverFormat, "format", "f", "yaml", "Export format: yaml, json, markdown")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "Output file (default: stdout)")
	discoverCmd.Flags().StringSliceVarP(&discoverSchemas, "schema", "s", nil, "Schemas to inspect (default: all)")
	discoverCmd.Flags().StringSliceVar(&discoverExclude, "exclude", nil, "Table patterns to skip")
	discoverCmd.Flags().BoolVar(&discoverSingleColumn, "single-column", false, "Also declare relations for single-column foreign keys")
	discoverCmd.Flags().StringVar(&discoverGlue, "glue", "", "Glue for eager constraints: and, or")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := config()
	if databaseURL == "" {
		return fmt.Errorf("database URL is required: pass --url or set database.url in storm.yaml")
	}

	glue := discoverGlue
	if glue == "" {
		glue = cfg.Relations.Glue
	}
	if glue != "" {
		if _, err := orm.ParseGlue(glue); err != nil {
			return err
		}
	}

	db, err := dialect.Open(ctx, dialect.Config{
		Driver:       cfg.Database.Driver,
		URL:          databaseURL,
		MaxOpenConns: cfg.Database.MaxConnections,
		MaxIdleConns: cfg.Database.MaxIdle,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	opts := introspect.Options{
		Schemas:      cfg.Discovery.Schemas,
		Exclude:      cfg.Discovery.Exclude,
		SingleColumn: cfg.Discovery.SingleColumn || discoverSingleColumn,
	}
	if len(discoverSchemas) > 0 {
		opts.Schemas = discoverSchemas
	}
	if len(discoverExclude) > 0 {
		opts.Exclude = discoverExclude
	}

	catalog, err := introspect.NewInspector(db.DB, db.DriverName()).Discover(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to discover relations: %w", err)
	}

	if glue != "" {
		parsed, _ := orm.ParseGlue(glue)
		for i := range catalog.Relations {
			catalog.Relations[i].Glue = parsed
		}
	}

	if err := catalog.Validate(); err != nil {
		logger.CLI().Warn("discovered relations failed validation", "error", err)
	}

	output, err := catalog.Export(introspect.ExportFormat(discoverFormat))
	if err != nil {
		return err
	}

	if discoverOutput == "" {
		_, err := cmd.OutOrStdout().Write(output)
		return err
	}

	if err := os.WriteFile(discoverOutput, output, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d relations across %d tables, written to %s\n",
		len(catalog.Relations), len(catalog.Models), discoverOutput)
	return nil
}
