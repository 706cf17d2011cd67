package orm

import (
	"context"
	"time"

	"github.com/eleven-am/storm-composite/internal/logger"
)

// OperationType represents different types of database operations
type OperationType string

const (
	OpCreate    OperationType = "create"
	OpUpdate    OperationType = "update"
	OpUpsert    OperationType = "upsert"
	OpDelete    OperationType = "delete"
	OpFind      OperationType = "find"
	OpQuery     OperationType = "query"
	OpEagerLoad OperationType = "eager_load"
)

// MiddlewareContext contains information passed to middleware
type MiddlewareContext struct {
	Operation    OperationType
	TableName    string
	Relation     string
	Record       interface{}
	QueryBuilder interface{} // squirrel.SelectBuilder, squirrel.InsertBuilder, etc.
	Query        string
	Args         []interface{}
	StartTime    time.Time
	Context      context.Context
	Metadata     map[string]interface{}
}

// QueryMiddlewareFunc represents middleware that can modify queries
type QueryMiddlewareFunc func(ctx *MiddlewareContext) error

// QueryMiddleware represents middleware that can see and modify query builders
type QueryMiddleware func(next QueryMiddlewareFunc) QueryMiddlewareFunc

// middlewareManager manages database middleware
type middlewareManager struct {
	middleware []QueryMiddleware
}

func newMiddlewareManager() *middlewareManager {
	return &middlewareManager{
		middleware: make([]QueryMiddleware, 0),
	}
}

func (mm *middlewareManager) AddMiddleware(middleware QueryMiddleware) {
	mm.middleware = append(mm.middleware, middleware)
}

func (mm *middlewareManager) ExecuteMiddleware(ctx *MiddlewareContext, finalFunc QueryMiddlewareFunc) error {
	handler := finalFunc

	for i := len(mm.middleware) - 1; i >= 0; i-- {
		handler = mm.middleware[i](handler)
	}

	return handler(ctx)
}

func (r *Repository[T]) newMiddlewareContext(op OperationType, ctx context.Context, record interface{}, queryBuilder interface{}) *MiddlewareContext {
	return &MiddlewareContext{
		Operation:    op,
		TableName:    r.metadata.TableName,
		Record:       record,
		QueryBuilder: queryBuilder,
		Context:      ctx,
		StartTime:    time.Now(),
		Metadata:     make(map[string]interface{}),
	}
}

func (r *Repository[T]) executeQueryMiddleware(op OperationType, ctx context.Context, record interface{}, queryBuilder interface{}, finalFunc QueryMiddlewareFunc) error {
	return r.runMiddleware(r.newMiddlewareContext(op, ctx, record, queryBuilder), finalFunc)
}

func (r *Repository[T]) runMiddleware(middlewareCtx *MiddlewareContext, finalFunc QueryMiddlewareFunc) error {
	if r.middlewareManager == nil {
		return finalFunc(middlewareCtx)
	}

	return r.middlewareManager.ExecuteMiddleware(middlewareCtx, finalFunc)
}

func (r *Repository[T]) AddMiddleware(middleware QueryMiddleware) {
	if r.middlewareManager == nil {
		r.middlewareManager = newMiddlewareManager()
	}
	r.middlewareManager.AddMiddleware(middleware)
}

// LoggingMiddleware logs every statement with its duration at debug level
func LoggingMiddleware() QueryMiddleware {
	return func(next QueryMiddlewareFunc) QueryMiddlewareFunc {
		return func(ctx *MiddlewareContext) error {
			err := next(ctx)
			log := logger.SQL().WithFields(map[string]interface{}{
				"op":    string(ctx.Operation),
				"table": ctx.TableName,
			})
			if ctx.Relation != "" {
				log = log.WithField("relation", ctx.Relation)
			}
			if err != nil {
				log.Warn("statement failed", "query", ctx.Query, "error", err)
				return err
			}
			log.Debug("statement executed", "query", ctx.Query, "args", len(ctx.Args), "elapsed", time.Since(ctx.StartTime))
			return nil
		}
	}
}
