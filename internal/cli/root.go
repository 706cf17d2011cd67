package cli

import (
	"github.com/spf13/cobra"

	"github.com/eleven-am/storm-composite/internal/logger"
	"github.com/eleven-am/storm-composite/pkg/storm"
)

// Global configuration variables
var (
	configFile  string
	stormConfig *StormConfig
	databaseURL string
	debug       bool
	verbose     bool
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storm-composite",
		Short: "Storm Composite - composite key relations",
		Long: `Storm Composite relates tables through multi-column keys.

The command line tool works on relation catalogs:
- discover composite foreign keys from a live database
- validate hand written relation files
- explain the joins and queries each relation produces`,
		Version:      storm.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			stormConfig, err = LoadStormConfig(configFile)
			if err != nil && verbose {
				cmd.PrintErrf("Warning: Failed to load config file: %v\n", err)
			}
			if stormConfig == nil {
				stormConfig = DefaultStormConfig()
			}

			if databaseURL == "" && stormConfig.Database.URL != "" {
				databaseURL = stormConfig.Database.URL
			}

			configureLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: storm.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "url", "", "database connection URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func configureLogging(cmd *cobra.Command) {
	level, err := logger.ParseLevel(stormConfig.Logging.Level)
	if err != nil {
		cmd.PrintErrf("Warning: %v\n", err)
	}
	switch {
	case debug:
		level = logger.LevelDebug
	case verbose && level < logger.LevelInfo:
		level = logger.LevelInfo
	}

	if err := logger.Configure(level); err != nil {
		cmd.PrintErrf("Warning: Failed to configure logging: %v\n", err)
	}
}

// config returns the loaded configuration, or the defaults when a command
// runs without the root pre-run
func config() *StormConfig {
	if stormConfig == nil {
		return DefaultStormConfig()
	}
	return stormConfig
}
