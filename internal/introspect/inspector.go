package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/eleven-am/storm-composite/internal/logger"
)

// Inspector reads a live database schema through atlas
type Inspector struct {
	db     *sql.DB
	driver string
}

// NewInspector creates a new database inspector
func NewInspector(db *sql.DB, driver string) *Inspector {
	return &Inspector{
		db:     db,
		driver: driver,
	}
}

func (i *Inspector) atlasDriver() (migrate.Driver, error) {
	switch i.driver {
	case "postgres":
		return postgres.Open(i.db)
	case "sqlite3":
		return sqlite.Open(i.db)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", i.driver)
	}
}

// InspectRealm returns the tables, keys and indexes of the database
func (i *Inspector) InspectRealm(ctx context.Context, opts Options) (*schema.Realm, error) {
	drv, err := i.atlasDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to create atlas driver: %w", err)
	}

	realm, err := drv.InspectRealm(ctx, &schema.InspectRealmOption{
		Mode:    schema.InspectSchemas | schema.InspectTables,
		Schemas: opts.Schemas,
		Exclude: opts.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return realm, nil
}

// Discover inspects the database and builds its relation catalog
func (i *Inspector) Discover(ctx context.Context, opts Options) (*Catalog, error) {
	realm, err := i.InspectRealm(ctx, opts)
	if err != nil {
		return nil, err
	}

	catalog := FromRealm(realm, opts)
	logger.Atlas().Info("discovery finished",
		"driver", i.driver,
		"models", len(catalog.Models),
		"relations", len(catalog.Relations),
	)
	return catalog, nil
}
