package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/storm-composite/internal/introspect"
	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

func TestDiscoverCommand(t *testing.T) {
	t.Run("requires a database url", func(t *testing.T) {
		resetGlobals(t)

		_, err := execute(t, "discover")
		assert.ErrorContains(t, err, "database URL is required")
	})

	t.Run("rejects unknown glue", func(t *testing.T) {
		resetGlobals(t)

		_, err := execute(t, "discover", "--url", warehouseDB(t), "--glue", "xor")
		assert.ErrorIs(t, err, orm.ErrInvalidGlue)
	})

	t.Run("writes the catalog to a file", func(t *testing.T) {
		resetGlobals(t)
		output := filepath.Join(t.TempDir(), "relations.yaml")

		out, err := execute(t, "discover", "--url", warehouseDB(t), "-o", output, "--glue", "and")
		require.NoError(t, err)
		assert.Contains(t, out, "Discovered 2 relations across 2 tables")

		catalog, err := introspect.LoadCatalog(output)
		require.NoError(t, err)
		require.NoError(t, catalog.Validate())

		owner, ok := catalog.Relation("shipments", "warehouse")
		require.True(t, ok)
		assert.Equal(t, orm.KindBelongsTo, owner.Kind)
		assert.Equal(t, []string{"warehouse_region", "warehouse_code"}, owner.ForeignKeys)
		assert.Equal(t, orm.GlueAnd, owner.Glue)

		shipments, ok := catalog.Relation("warehouses", "shipments")
		require.True(t, ok)
		assert.Equal(t, orm.KindHasMany, shipments.Kind)
	})

	t.Run("prints markdown to stdout", func(t *testing.T) {
		resetGlobals(t)

		out, err := execute(t, "discover", "--url", warehouseDB(t), "--format", "markdown")
		require.NoError(t, err)
		assert.Contains(t, out, "## warehouses")
		assert.Contains(t, out, "| shipments | has_many | shipments |")
	})
}
