package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a relations file",
	Long: `Check every relation in the relations file: required fields, matching
key counts, known glue, duplicate names and references to tables the file
does not describe.

Returns exit code 0 if the file is valid, 1 if problems are found.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&relationsFile, "relations", "r", "", "Relations file (default: relations.file from storm.yaml)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	catalog, path, err := loadRelations()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := catalog.Validate(); err != nil {
		problems := multierr.Errors(err)
		for _, problem := range problems {
			fmt.Fprintf(out, "  %v\n", problem)
		}
		return fmt.Errorf("%s: %d problems found", path, len(problems))
	}

	fmt.Fprintf(out, "%s: %d relations across %d tables are valid\n",
		path, len(catalog.Relations), len(catalog.Models))
	return nil
}
