package orm

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/jonboulle/clockwork"
)

// Repository provides database access for one model type
type Repository[T any] struct {
	db                DBExecutor
	metadata          *ModelMetadata
	fields            *modelFields
	placeholder       squirrel.PlaceholderFormat
	clock             clockwork.Clock
	middlewareManager *middlewareManager

	mu        sync.RWMutex
	relations map[string]*registeredRelation[T]
}

// relationSource is the type-erased view of a repository used when walking
// relation paths across models (joins, existence queries).
type relationSource interface {
	Metadata() *ModelMetadata
	lookupRelation(name string) (*RelationDefinition, relationSource, error)
}

type registeredRelation[T any] struct {
	def     *RelationDefinition
	related relationSource
	load    func(ctx context.Context, tx *sqlx.Tx, records []*T, inc include) error
}

type repositoryOptions struct {
	clock       clockwork.Clock
	placeholder squirrel.PlaceholderFormat
	middleware  []QueryMiddleware
}

// Option configures a repository
type Option func(*repositoryOptions)

// WithClock sets the clock used for timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(o *repositoryOptions) {
		o.clock = clock
	}
}

// WithPlaceholderFormat overrides the placeholder style picked from the driver name
func WithPlaceholderFormat(format squirrel.PlaceholderFormat) Option {
	return func(o *repositoryOptions) {
		o.placeholder = format
	}
}

// WithMiddleware installs query middleware at construction time
func WithMiddleware(middleware ...QueryMiddleware) Option {
	return func(o *repositoryOptions) {
		o.middleware = append(o.middleware, middleware...)
	}
}

var defaultMapper = reflectx.NewMapperFunc("db", strings.ToLower)

func NewRepository[T any](db DBExecutor, metadata *ModelMetadata, opts ...Option) (*Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("repository requires a database executor")
	}
	if metadata == nil {
		return nil, fmt.Errorf("repository requires model metadata")
	}

	meta := *metadata
	meta.PrimaryKeys = append([]string(nil), metadata.PrimaryKeys...)
	if err := meta.normalize(); err != nil {
		return nil, err
	}

	var zero T
	fields, err := newModelFields(defaultMapper, reflect.TypeOf(zero))
	if err != nil {
		return nil, fmt.Errorf("repository for %s: %w", meta.TableName, err)
	}

	for _, pk := range meta.PrimaryKeys {
		if _, ok := fields.field(pk); !ok {
			return nil, &Error{Op: "new_repository", Table: meta.TableName, Column: pk, Err: ErrNoPrimaryKey}
		}
	}

	options := repositoryOptions{
		clock:       clockwork.NewRealClock(),
		placeholder: placeholderFor(db.DriverName()),
	}
	for _, opt := range opts {
		opt(&options)
	}

	repo := &Repository[T]{
		db:          db,
		metadata:    &meta,
		fields:      fields,
		placeholder: options.placeholder,
		clock:       options.clock,
		relations:   make(map[string]*registeredRelation[T]),
	}
	for _, m := range options.middleware {
		repo.AddMiddleware(m)
	}

	return repo, nil
}

func placeholderFor(driverName string) squirrel.PlaceholderFormat {
	switch driverName {
	case "postgres", "pgx", "cloudsqlpostgres":
		return squirrel.Dollar
	default:
		return squirrel.Question
	}
}

func (r *Repository[T]) usesReturning() bool {
	return r.placeholder == squirrel.Dollar
}

func (r *Repository[T]) Metadata() *ModelMetadata {
	return r.metadata
}

func (r *Repository[T]) TableName() string {
	return r.metadata.TableName
}

// Columns returns the mapped column names in struct order
func (r *Repository[T]) Columns() []string {
	return r.fields.columns
}

func (r *Repository[T]) DB() DBExecutor {
	return r.db
}

func (r *Repository[T]) executor(tx *sqlx.Tx) DBExecutor {
	if tx != nil {
		return tx
	}
	return r.db
}

// Relation returns the definition of a registered relation
func (r *Repository[T]) Relation(name string) (*RelationDefinition, error) {
	def, _, err := r.lookupRelation(name)
	return def, err
}

// RelationNames lists the registered relations
func (r *Repository[T]) RelationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.relations))
	for name := range r.relations {
		names = append(names, name)
	}
	return names
}

func (r *Repository[T]) lookupRelation(name string) (*RelationDefinition, relationSource, error) {
	rel, err := r.relation(name)
	if err != nil {
		return nil, nil, err
	}
	return rel.def, rel.related, nil
}

func (r *Repository[T]) relation(name string) (*registeredRelation[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relations[name]
	if !ok {
		return nil, &Error{
			Op:    "relation",
			Table: r.metadata.TableName,
			Err:   fmt.Errorf("%w: %s", ErrUnknownRelation, name),
		}
	}
	return rel, nil
}

// registerRelation refuses a second relation under an existing name
func (r *Repository[T]) registerRelation(rel *registeredRelation[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.relations[rel.def.Name]; ok {
		return &Error{Op: "declare", Table: r.metadata.TableName, Err: fmt.Errorf("%w: %s", ErrRelationExists, rel.def.Name)}
	}
	r.relations[rel.def.Name] = rel
	return nil
}

func (r *Repository[T]) loadIncludes(ctx context.Context, tx *sqlx.Tx, records []*T, includes []include) error {
	for _, inc := range includes {
		rel, err := r.relation(inc.name)
		if err != nil {
			return err
		}
		if err := rel.load(ctx, tx, records, inc); err != nil {
			return fmt.Errorf("failed to load relationship %s: %w", inc.name, err)
		}
	}
	return nil
}

// FindByKeys loads a record by its primary key values, in key order
func (r *Repository[T]) FindByKeys(ctx context.Context, keys ...interface{}) (*T, error) {
	if len(keys) != len(r.metadata.PrimaryKeys) {
		return nil, &Error{
			Op:    "find",
			Table: r.metadata.TableName,
			Err:   fmt.Errorf("%w: expected %d key values, got %d", ErrKeyCountMismatch, len(r.metadata.PrimaryKeys), len(keys)),
		}
	}

	q := r.Query(ctx)
	for i, column := range r.metadata.QualifiedKeyNames() {
		q = q.Where(Eq(column, keys[i]))
	}
	return q.First()
}

func (r *Repository[T]) touchTimestamps(record *T, creating bool) error {
	if !r.metadata.hasTimestamps() {
		return nil
	}

	now := r.clock.Now()
	if creating && r.metadata.CreatedAtColumn != "" {
		current, err := r.GetAttribute(record, r.metadata.CreatedAtColumn)
		if err != nil {
			return err
		}
		if isBlank(current) {
			if err := r.SetAttribute(record, r.metadata.CreatedAtColumn, now); err != nil {
				return err
			}
		}
	}

	if r.metadata.UpdatedAtColumn != "" {
		if err := r.SetAttribute(record, r.metadata.UpdatedAtColumn, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T]) autoIncrementKey() string {
	if r.metadata.AutoIncrement && len(r.metadata.PrimaryKeys) == 1 {
		return r.metadata.PrimaryKeys[0]
	}
	return ""
}

// insertValues collects the column values of a record, leaving out a blank
// auto-increment key so the database assigns it.
func (r *Repository[T]) insertValues(record *T) (map[string]interface{}, bool, error) {
	values := make(map[string]interface{}, len(r.fields.columns))
	generated := false
	auto := r.autoIncrementKey()

	for _, column := range r.fields.columns {
		value, err := r.GetAttribute(record, column)
		if err != nil {
			return nil, false, err
		}
		if column == auto && isBlank(value) {
			generated = true
			continue
		}
		values[column] = value
	}
	return values, generated, nil
}

// Create inserts the record and fills a generated key back into it
func (r *Repository[T]) Create(ctx context.Context, record *T) error {
	if err := r.touchTimestamps(record, true); err != nil {
		return err
	}

	values, generated, err := r.insertValues(record)
	if err != nil {
		return err
	}

	auto := r.autoIncrementKey()
	builder := squirrel.Insert(r.metadata.TableName).
		SetMap(values).
		PlaceholderFormat(r.placeholder)
	if generated && r.usesReturning() {
		builder = builder.Suffix("RETURNING " + auto)
	}

	return r.executeQueryMiddleware(OpCreate, ctx, record, builder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.InsertBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "create",
				Table: r.metadata.TableName,
				Err:   fmt.Errorf("failed to build insert query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		if generated && r.usesReturning() {
			var id int64
			if err := r.db.QueryRowxContext(ctx, sqlQuery, args...).Scan(&id); err != nil {
				return ParseDatabaseError(r.db.DriverName(), err, "create", r.metadata.TableName)
			}
			return r.SetAttribute(record, auto, id)
		}

		result, err := r.db.ExecContext(ctx, sqlQuery, args...)
		if err != nil {
			return ParseDatabaseError(r.db.DriverName(), err, "create", r.metadata.TableName)
		}

		if generated {
			id, err := result.LastInsertId()
			if err != nil {
				return &Error{
					Op:    "create",
					Table: r.metadata.TableName,
					Err:   fmt.Errorf("failed to read generated key: %w", err),
				}
			}
			return r.SetAttribute(record, auto, id)
		}

		return nil
	})
}

// Update writes the given columns (all non-key columns when none are named)
// back to the row identified by the record's primary key.
func (r *Repository[T]) Update(ctx context.Context, record *T, columns ...string) error {
	if err := r.touchTimestamps(record, false); err != nil {
		return err
	}

	if len(columns) == 0 {
		columns = r.nonKeyColumns()
	} else if r.metadata.UpdatedAtColumn != "" {
		columns = append(append([]string(nil), columns...), r.metadata.UpdatedAtColumn)
	}

	updates := make(map[string]interface{}, len(columns))
	for _, column := range columns {
		value, err := r.GetAttribute(record, column)
		if err != nil {
			return err
		}
		updates[unqualify(column)] = value
	}

	if len(updates) == 0 {
		return &Error{
			Op:    "update",
			Table: r.metadata.TableName,
			Err:   fmt.Errorf("no updates provided"),
		}
	}

	keys, err := r.Keys(record)
	if err != nil {
		return err
	}

	where := make(squirrel.Eq, len(keys))
	for i, pk := range r.metadata.PrimaryKeys {
		where[pk] = normalizeValue(keys[i])
	}

	builder := squirrel.Update(r.metadata.TableName).
		SetMap(updates).
		Where(where).
		PlaceholderFormat(r.placeholder)

	return r.executeQueryMiddleware(OpUpdate, ctx, record, builder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.UpdateBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "update",
				Table: r.metadata.TableName,
				Err:   fmt.Errorf("failed to build update query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		result, err := r.db.ExecContext(ctx, sqlQuery, args...)
		if err != nil {
			return ParseDatabaseError(r.db.DriverName(), err, "update", r.metadata.TableName)
		}

		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			return &Error{Op: "update", Table: r.metadata.TableName, Err: ErrNotFound}
		}
		return nil
	})
}

func (r *Repository[T]) nonKeyColumns() []string {
	columns := make([]string, 0, len(r.fields.columns))
	for _, column := range r.fields.columns {
		if r.isKeyColumn(column) {
			continue
		}
		columns = append(columns, column)
	}
	return columns
}

func (r *Repository[T]) isKeyColumn(column string) bool {
	for _, pk := range r.metadata.PrimaryKeys {
		if pk == column {
			return true
		}
	}
	return false
}

// Save inserts records whose auto-increment key is still blank and upserts
// everything else on the primary key.
func (r *Repository[T]) Save(ctx context.Context, record *T) error {
	if auto := r.autoIncrementKey(); auto != "" {
		value, err := r.GetAttribute(record, auto)
		if err != nil {
			return err
		}
		if isBlank(value) {
			return r.Create(ctx, record)
		}
	}
	return r.upsert(ctx, record)
}

func (r *Repository[T]) upsert(ctx context.Context, record *T) error {
	if err := r.touchTimestamps(record, true); err != nil {
		return err
	}

	values, _, err := r.insertValues(record)
	if err != nil {
		return err
	}

	var sets []string
	for _, column := range r.nonKeyColumns() {
		if column == r.metadata.CreatedAtColumn {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	conflict := "ON CONFLICT (" + strings.Join(r.metadata.PrimaryKeys, ", ") + ") DO NOTHING"
	if len(sets) > 0 {
		conflict = "ON CONFLICT (" + strings.Join(r.metadata.PrimaryKeys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}

	builder := squirrel.Insert(r.metadata.TableName).
		SetMap(values).
		Suffix(conflict).
		PlaceholderFormat(r.placeholder)

	return r.executeQueryMiddleware(OpUpsert, ctx, record, builder, func(middlewareCtx *MiddlewareContext) error {
		finalQuery := middlewareCtx.QueryBuilder.(squirrel.InsertBuilder)

		sqlQuery, args, err := finalQuery.ToSql()
		if err != nil {
			return &Error{
				Op:    "upsert",
				Table: r.metadata.TableName,
				Err:   fmt.Errorf("failed to build upsert query: %w", err),
			}
		}

		middlewareCtx.Query = sqlQuery
		middlewareCtx.Args = args

		if _, err := r.db.ExecContext(ctx, sqlQuery, args...); err != nil {
			return ParseDatabaseError(r.db.DriverName(), err, "upsert", r.metadata.TableName)
		}
		return nil
	})
}

// Delete removes the record, or stamps its soft-delete column when the model has one
func (r *Repository[T]) Delete(ctx context.Context, record *T) error {
	keys, err := r.Keys(record)
	if err != nil {
		return err
	}

	q := r.Query(ctx)
	for i, column := range r.metadata.QualifiedKeyNames() {
		q = q.Where(Eq(column, keys[i]))
	}

	if column := r.metadata.SoftDeleteColumn; column != "" {
		now := r.clock.Now()
		if _, err := q.Update(map[string]interface{}{column: now}); err != nil {
			return err
		}
		return r.SetAttribute(record, column, now)
	}

	_, err = q.Delete()
	return err
}
