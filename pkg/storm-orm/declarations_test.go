package orm

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Vendor struct {
	VendorID   int64  `db:"vendor_id"`
	VendorName string `db:"vendor_name"`

	Contracts []Contract `db:"-"`
	Profile   *Contract  `db:"-" orm:"has_many"`
}

type Contract struct {
	ID         int64  `db:"id"`
	VendorID   *int64 `db:"vendor_vendor_id"`
	VendorName string `db:"vendor_vendor_name"`
	OwnerID    *int64 `db:"owner_vendor_id"`
	OwnerName  string `db:"owner_vendor_name"`
}

func newVendorRepos(t *testing.T) (*Repository[Vendor], *Repository[Contract]) {
	t.Helper()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlite3")

	vendors, err := NewRepository[Vendor](sqlxDB, &ModelMetadata{TableName: "vendors", PrimaryKeys: []string{"vendor_id", "vendor_name"}})
	require.NoError(t, err)
	contracts, err := NewRepository[Contract](sqlxDB, &ModelMetadata{TableName: "contracts", AutoIncrement: true})
	require.NoError(t, err)
	return vendors, contracts
}

func TestCompositeHasManyDeclaration(t *testing.T) {
	t.Run("conventional keys", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeHasMany(vendors, contracts, "")
		require.NoError(t, err)

		def := rel.Definition()
		assert.Equal(t, "contracts", def.Name)
		assert.Equal(t, KindHasMany, def.Kind)
		assert.Equal(t, []string{"contracts.vendor_vendor_id", "contracts.vendor_vendor_name"}, def.ForeignKeys)
		assert.Equal(t, []string{"vendor_id", "vendor_name"}, rel.LocalKeyNames())
		assert.Equal(t, []string{"vendors.vendor_id", "vendors.vendor_name"}, rel.QualifiedParentKeyNames())
		assert.Equal(t, GlueOr, rel.Glue())

		registered, err := vendors.Relation("contracts")
		require.NoError(t, err)
		assert.Same(t, def, registered)
	})

	t.Run("explicit keys and glue", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeHasMany(vendors, contracts, "contracts",
			WithForeignKeys("owner_vendor_id", "owner_vendor_name"),
			WithGlue("AND"),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"contracts.owner_vendor_id", "contracts.owner_vendor_name"}, rel.QualifiedForeignKeyNames())
		assert.Equal(t, []string{"owner_vendor_id", "owner_vendor_name"}, rel.ForeignKeyNames())
		assert.Equal(t, GlueAnd, rel.Glue())
	})

	t.Run("invalid glue", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		_, err := CompositeHasMany(vendors, contracts, "contracts", WithGlue("xor"))
		assert.ErrorIs(t, err, ErrInvalidGlue)
	})

	t.Run("key count mismatch", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		_, err := CompositeHasMany(vendors, contracts, "contracts", WithLocalKeys("vendor_id"))
		assert.ErrorIs(t, err, ErrKeyCountMismatch)
	})

	t.Run("tag declaring another kind", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		_, err := CompositeHasOne(vendors, contracts, "profile")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relation tag declares has_many")
	})

	t.Run("redeclaring a name is rejected", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		first, err := CompositeHasMany(vendors, contracts, "contracts")
		require.NoError(t, err)

		_, err = CompositeHasMany(vendors, contracts, "contracts", WithForeignKeys("owner_vendor_id", "owner_vendor_name"))
		assert.ErrorIs(t, err, ErrRelationExists)

		registered, err := vendors.Relation("contracts")
		require.NoError(t, err)
		assert.Same(t, first.Definition(), registered)
	})
}

func TestCompositeHasOneDeclaration(t *testing.T) {
	f := newTaskFixture(t)

	def := f.summary.Definition()
	assert.Equal(t, "import_summary", def.Name)
	assert.Equal(t, "tasks", def.Table)
	assert.Equal(t, "task_import_summaries", def.RelatedTable)
	assert.Equal(t, []string{"task_import_summaries.task_vendor_id", "task_import_summaries.task_vendor_name"}, def.ForeignKeys)
	assert.Equal(t, []string{"vendor_id", "vendor_name"}, def.LocalKeys)

	t.Run("name defaults to the related model", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeHasOne(vendors, contracts, "", WithForeignKeys("owner_vendor_id", "owner_vendor_name"))
		require.NoError(t, err)
		assert.Equal(t, "contract", rel.Definition().Name)
	})
}

func TestCompositeBelongsToDeclaration(t *testing.T) {
	t.Run("foreign keys follow the relation name", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeBelongsTo(contracts, vendors, "owner")
		require.NoError(t, err)

		assert.Equal(t, "owner", rel.RelationName())
		assert.Equal(t, []string{"owner_vendor_id", "owner_vendor_name"}, rel.ForeignKeyNames())
		assert.Equal(t, []string{"contracts.owner_vendor_id", "contracts.owner_vendor_name"}, rel.QualifiedForeignKeyNames())
		assert.Equal(t, []string{"vendor_id", "vendor_name"}, rel.OwnerKeyNames())
		assert.Equal(t, []string{"vendors.vendor_id", "vendors.vendor_name"}, rel.QualifiedOwnerKeyNames())
	})

	t.Run("stored definition", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeBelongsTo(contracts, vendors, "seller", WithDefinition(RelationDefinition{
			Name:         "seller",
			Kind:         KindBelongsTo,
			Table:        "contracts",
			RelatedTable: "vendors",
			ForeignKeys:  []string{"contracts.owner_vendor_id", "contracts.owner_vendor_name"},
			OwnerKeys:    []string{"vendor_id", "vendor_name"},
			Glue:         GlueAnd,
		}))
		require.NoError(t, err)
		assert.Equal(t, []string{"owner_vendor_id", "owner_vendor_name"}, rel.ForeignKeyNames())
		assert.Equal(t, []string{"vendor_id", "vendor_name"}, rel.OwnerKeyNames())
		assert.Equal(t, GlueAnd, rel.Glue())
	})

	t.Run("name defaults to the related model", func(t *testing.T) {
		vendors, contracts := newVendorRepos(t)

		rel, err := CompositeBelongsTo(contracts, vendors, "")
		require.NoError(t, err)
		assert.Equal(t, "vendor", rel.RelationName())
		assert.Equal(t, []string{"vendor_vendor_id", "vendor_vendor_name"}, rel.ForeignKeyNames())
	})

	t.Run("tags supply the keys", func(t *testing.T) {
		f := newTaskFixture(t)

		assert.Equal(t, []string{"task_vendor_id", "task_vendor_name"}, f.summaryTask.ForeignKeyNames())
		assert.Equal(t, []string{"vendor_id", "vendor_name"}, f.summaryTask.OwnerKeyNames())
		assert.Equal(t, GlueOr, f.summaryTask.Glue())
		assert.Equal(t, GlueAnd, f.dataTask.Glue())
	})
}

func TestParseRelationTag(t *testing.T) {
	t.Run("full tag", func(t *testing.T) {
		tag, err := parseRelationTag("belongs_to, foreign_keys:a|b, owner_keys:x | y, glue:And")
		require.NoError(t, err)
		assert.Equal(t, relationTag{
			Kind:        KindBelongsTo,
			ForeignKeys: []string{"a", "b"},
			OwnerKeys:   []string{"x", "y"},
			Glue:        "And",
		}, tag)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := parseRelationTag("has_many_through,foreign_keys:a")
		assert.Error(t, err)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := parseRelationTag("has_one,join_table:x")
		assert.Error(t, err)
	})

	t.Run("bad glue", func(t *testing.T) {
		_, err := parseRelationTag("has_one,glue:xor")
		assert.ErrorIs(t, err, ErrInvalidGlue)
	})

	t.Run("malformed parameter", func(t *testing.T) {
		_, err := parseRelationTag("has_one,foreign_keys")
		assert.Error(t, err)
	})
}
