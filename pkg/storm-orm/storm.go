package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/eleven-am/storm-composite/internal/logger"
)

// Storm holds a connection and the executor repositories should run on,
// which is the transaction inside WithTransaction
type Storm struct {
	db       DBWrapper
	executor DBExecutor
}

func NewStorm(db DBWrapper) *Storm {
	return &Storm{
		db:       db,
		executor: db,
	}
}

// TransactionOptions configures the transactions WithTransactionOptions begins
type TransactionOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (o *TransactionOptions) toTxOptions() *sql.TxOptions {
	if o == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly}
}

// WithTransaction runs fn inside a transaction, committing when fn returns nil
func (s *Storm) WithTransaction(ctx context.Context, fn func(*Storm) error) error {
	return s.WithTransactionOptions(ctx, nil, fn)
}

// WithTransactionOptions is WithTransaction with explicit options. Nested calls
// reuse the surrounding transaction.
func (s *Storm) WithTransactionOptions(ctx context.Context, opts *TransactionOptions, fn func(*Storm) error) error {
	if _, isTransaction := s.executor.(*sqlx.Tx); isTransaction {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, opts.toTxOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.DB().Warn("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&Storm{db: s.db, executor: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// Executor returns the transaction when inside one, the connection otherwise
func (s *Storm) Executor() DBExecutor {
	return s.executor
}

// Tx returns the current transaction, nil outside one
func (s *Storm) Tx() *sqlx.Tx {
	tx, _ := s.executor.(*sqlx.Tx)
	return tx
}

func (s *Storm) DB() DBWrapper {
	return s.db
}
