package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// Common errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidGlue      = errors.New(`the glue must be either "and" or "or"`)
	ErrKeyCountMismatch = errors.New("foreign and local key counts differ")
	ErrUnknownColumn    = errors.New("unknown column")
	ErrUnknownRelation  = errors.New("unknown relation")
	ErrRelationExists   = errors.New("relation already declared")
	ErrMissingParent    = errors.New("relation is not bound to a record")
	ErrNoPrimaryKey     = errors.New("no primary key defined")
	ErrDuplicateKey     = errors.New("duplicate key violation")
	ErrForeignKey       = errors.New("foreign key violation")
	ErrCheckConstraint  = errors.New("check constraint violation")
	ErrNotNull          = errors.New("not null constraint violation")
	ErrTimeout          = errors.New("operation timeout")
	ErrCanceled         = errors.New("operation canceled")
)

// Error provides detailed error information
type Error struct {
	Op         string        // Operation that failed
	Table      string        // Table involved
	Err        error         // Underlying error
	Query      string        // SQL query (if applicable)
	Args       []interface{} // Query arguments (if applicable)
	Constraint string        // Constraint name (if applicable)
	Column     string        // Column name (if applicable)
}

func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("orm: %s", e.Op))

	if e.Table != "" {
		parts = append(parts, fmt.Sprintf("table=%s", e.Table))
	}

	if e.Column != "" {
		parts = append(parts, fmt.Sprintf("column=%s", e.Column))
	}

	if e.Constraint != "" {
		parts = append(parts, fmt.Sprintf("constraint=%s", e.Constraint))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for Error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return errors.Is(e.Err, target)
	}

	if t.Op != "" && e.Op == t.Op {
		return true
	}

	return errors.Is(e.Err, t.Err)
}

// ErrorParser turns a driver error into an *Error. It returns nil when it
// does not recognise the error.
type ErrorParser func(err error, op, table string) *Error

var (
	parsersMu    sync.RWMutex
	errorParsers = map[string]ErrorParser{}
)

// RegisterErrorParser installs a parser for errors coming from the named driver
func RegisterErrorParser(driverName string, parser ErrorParser) {
	parsersMu.Lock()
	defer parsersMu.Unlock()
	errorParsers[driverName] = parser
}

// ParseDatabaseError converts driver errors to ORM errors
func ParseDatabaseError(driverName string, err error, op, table string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Table: table, Err: ErrNotFound}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Table: table, Err: ErrTimeout}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Op: op, Table: table, Err: ErrCanceled}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return parsePostgresError(pqErr, op, table)
	}

	parsersMu.RLock()
	parser := errorParsers[driverName]
	parsersMu.RUnlock()

	if parser != nil {
		if parsed := parser(err, op, table); parsed != nil {
			return parsed
		}
	}

	return &Error{Op: op, Table: table, Err: err}
}

func parsePostgresError(pqErr *pq.Error, op, table string) *Error {
	result := &Error{
		Op:         op,
		Table:      table,
		Err:        pqErr,
		Constraint: pqErr.Constraint,
		Column:     pqErr.Column,
	}

	switch pqErr.Code {
	case "23505":
		result.Err = fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Message)
	case "23503":
		result.Err = fmt.Errorf("%w: %s", ErrForeignKey, pqErr.Message)
	case "23502":
		result.Err = fmt.Errorf("%w: %s", ErrNotNull, pqErr.Message)
	case "23514":
		result.Err = fmt.Errorf("%w: %s", ErrCheckConstraint, pqErr.Message)
	}

	return result
}

// IsConstraintError reports whether err is any integrity constraint violation
func IsConstraintError(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrForeignKey) ||
		errors.Is(err, ErrNotNull) ||
		errors.Is(err, ErrCheckConstraint)
}
