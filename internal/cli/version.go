package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eleven-am/storm-composite/pkg/storm"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display Storm Composite version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), storm.FullVersionInfo())
	},
}
