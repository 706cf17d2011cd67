package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/storm-composite/internal/dialect"
	"github.com/eleven-am/storm-composite/internal/logger"
)

const warehouseSchema = `
CREATE TABLE warehouses (
	region TEXT NOT NULL,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (region, code)
);
CREATE TABLE shipments (
	id INTEGER PRIMARY KEY,
	warehouse_region TEXT,
	warehouse_code TEXT,
	reference TEXT NOT NULL,
	FOREIGN KEY (warehouse_region, warehouse_code) REFERENCES warehouses (region, code)
);
`

// resetGlobals restores package flag state after a test runs commands
func resetGlobals(t *testing.T) {
	t.Helper()
	previous := logger.Get()
	t.Setenv("STORM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	reset := func() {
		configFile, databaseURL, stormConfig = "", "", nil
		debug, verbose = false, false
		discoverFormat, discoverOutput, discoverGlue = "yaml", "", ""
		discoverSchemas, discoverExclude, discoverSingleColumn = nil, nil, false
		relationsFile, explainDriver = "", ""
	}
	reset()
	t.Cleanup(func() {
		reset()
		logger.SetLogger(previous)
	})
}

// execute runs the root command with args and returns what it printed
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// warehouseDB creates a sqlite database file with a composite foreign key
func warehouseDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouses.db")

	db, err := dialect.Open(context.Background(), dialect.Config{URL: path})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(warehouseSchema)
	require.NoError(t, err)
	return path
}

func TestNewRootCommand(t *testing.T) {
	t.Run("creates root command", func(t *testing.T) {
		cmd := NewRootCommand()
		require.NotNil(t, cmd)
		assert.Equal(t, "storm-composite", cmd.Use)
		assert.NotEmpty(t, cmd.Version)
	})

	t.Run("has expected subcommands", func(t *testing.T) {
		cmd := NewRootCommand()

		var names []string
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		for _, expected := range []string{"discover", "explain", "validate", "version"} {
			assert.Contains(t, names, expected)
		}
	})

	t.Run("has expected flags", func(t *testing.T) {
		cmd := NewRootCommand()
		for _, name := range []string{"config", "url", "debug", "verbose"} {
			assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
		}
	})
}

func TestRootLoadsConfig(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfg := DefaultStormConfig()
	cfg.Database.URL = filepath.Join(dir, "from-config.db")
	cfg.Relations.File = filepath.Join(dir, "relations.yaml")
	configPath := filepath.Join(dir, "storm.yaml")
	require.NoError(t, SaveStormConfig(cfg, configPath))

	_, err := execute(t, "--config", configPath, "version")
	require.NoError(t, err)

	require.NotNil(t, stormConfig)
	assert.Equal(t, cfg.Relations.File, stormConfig.Relations.File)
	assert.Equal(t, cfg.Database.URL, databaseURL)
}

func TestRootFlagOverridesConfigURL(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfg := DefaultStormConfig()
	cfg.Database.URL = "postgres://localhost/from-config"
	configPath := filepath.Join(dir, "storm.yaml")
	require.NoError(t, SaveStormConfig(cfg, configPath))

	_, err := execute(t, "--config", configPath, "--url", "postgres://localhost/from-flag", "--debug", "version")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/from-flag", databaseURL)
}
