package dialect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

func TestNormalizeDriver(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		url     string
		want    string
		wantErr bool
	}{
		{name: "postgres alias", driver: "postgresql", want: Postgres},
		{name: "sqlite alias", driver: "SQLite", want: SQLite},
		{name: "postgres url", url: "postgres://localhost:5432/app", want: Postgres},
		{name: "sqlite url", url: "sqlite://./app.db", want: SQLite},
		{name: "memory", url: ":memory:", want: SQLite},
		{name: "unknown driver", driver: "mysql", wantErr: true},
		{name: "unknown url", url: "mysql://localhost/app", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDriver(tt.driver, tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a url", func(t *testing.T) {
		_, err := Open(ctx, Config{Driver: SQLite})
		assert.Error(t, err)
	})

	t.Run("sqlite memory", func(t *testing.T) {
		db, err := Open(ctx, Config{URL: "sqlite://:memory:"})
		require.NoError(t, err)
		defer db.Close()

		assert.Equal(t, SQLite, db.DriverName())
		assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	})
}

type vendor struct {
	ID   int64  `db:"id"`
	Code string `db:"code"`
	Name string `db:"name"`
}

func TestParseSQLiteError(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: SQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE vendors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL CHECK (name <> '')
	)`)
	require.NoError(t, err)

	vendors, err := orm.NewRepository[vendor](db, &orm.ModelMetadata{TableName: "vendors", AutoIncrement: true})
	require.NoError(t, err)

	require.NoError(t, vendors.Create(ctx, &vendor{Code: "acme", Name: "Acme"}))

	t.Run("unique", func(t *testing.T) {
		err := vendors.Create(ctx, &vendor{Code: "acme", Name: "Acme again"})
		assert.ErrorIs(t, err, orm.ErrDuplicateKey)
		assert.True(t, orm.IsConstraintError(err))

		var ormErr *orm.Error
		require.True(t, errors.As(err, &ormErr))
		assert.Equal(t, "code", ormErr.Column)
		assert.Equal(t, "vendors", ormErr.Table)
	})

	t.Run("check", func(t *testing.T) {
		err := vendors.Create(ctx, &vendor{Code: "globex"})
		assert.ErrorIs(t, err, orm.ErrCheckConstraint)
	})

	t.Run("not sqlite", func(t *testing.T) {
		assert.Nil(t, ParseSQLiteError(errors.New("boom"), "create", "vendors"))
	})
}

func TestConstraintColumn(t *testing.T) {
	assert.Equal(t, "vendor_id", constraintColumn("UNIQUE constraint failed: tasks.vendor_id, tasks.vendor_name"))
	assert.Equal(t, "", constraintColumn("database is locked"))
}
