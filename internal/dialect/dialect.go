// Package dialect opens database connections for the drivers storm-composite
// supports and teaches the ORM how to read their errors.
package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/eleven-am/storm-composite/internal/logger"
	orm "github.com/eleven-am/storm-composite/pkg/storm-orm"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

func init() {
	orm.RegisterErrorParser(SQLite, ParseSQLiteError)
}

// Config describes a connection
type Config struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NormalizeDriver maps driver aliases onto registered driver names. An empty
// driver is guessed from the URL.
func NormalizeDriver(driver, url string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "file:"), url == ":memory:", strings.HasSuffix(url, ".db"):
		return SQLite, nil
	}
	return "", fmt.Errorf("cannot infer a database driver from %q", url)
}

// dataSource strips the sqlite:// scheme go-sqlite3 does not understand
func dataSource(driver, url string) string {
	if driver == SQLite {
		return strings.TrimPrefix(url, "sqlite://")
	}
	return url
}

// Open connects and pings the database
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	driver, err := NormalizeDriver(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dataSource(driver, cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	switch {
	case driver == SQLite:
		// a second connection to :memory: would see a different database
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.DB().Debug("connected", "driver", driver)
	return db, nil
}

// ParseSQLiteError maps go-sqlite3 extended constraint codes onto the ORM's
// sentinel errors. It returns nil for errors that did not come from go-sqlite3.
func ParseSQLiteError(err error, op, table string) *orm.Error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}

	result := &orm.Error{Op: op, Table: table, Err: err}

	var sentinel error
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		sentinel = orm.ErrDuplicateKey
	case sqlite3.ErrConstraintForeignKey:
		sentinel = orm.ErrForeignKey
	case sqlite3.ErrConstraintNotNull:
		sentinel = orm.ErrNotNull
	case sqlite3.ErrConstraintCheck:
		sentinel = orm.ErrCheckConstraint
	default:
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			sentinel = orm.ErrTimeout
		}
	}

	if sentinel == nil {
		return result
	}

	result.Err = fmt.Errorf("%w: %s", sentinel, sqliteErr.Error())
	result.Column = constraintColumn(sqliteErr.Error())
	return result
}

// constraintColumn pulls the column out of messages such as
// "UNIQUE constraint failed: tasks.vendor_id, tasks.vendor_name"
func constraintColumn(message string) string {
	_, detail, found := strings.Cut(message, "constraint failed: ")
	if !found {
		return ""
	}
	first, _, _ := strings.Cut(detail, ",")
	first = strings.TrimSpace(first)
	if idx := strings.LastIndex(first, "."); idx >= 0 {
		return first[idx+1:]
	}
	return first
}
