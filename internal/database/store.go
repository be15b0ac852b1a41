package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ruralpay/ledger/internal/apperror"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the lifecycle-scoped handle to the persistent account store. It
// owns the admission gate in front of the pool and runs atomic scopes.
type Store struct {
	db          *sql.DB
	gate        *Gate
	lockTimeout time.Duration
}

type StoreOption func(*Store)

// WithLockTimeout makes every atomic scope give up on a row lock after d.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

func WithGate(g *Gate) StoreOption {
	return func(s *Store) { s.gate = g }
}

func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = NewGate(1<<20, 0, 0)
	}
	return s
}

func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside one atomic scope. Any error from fn, a panic, or a
// cancelled context rolls the whole scope back; nothing is committed unless
// fn returns nil and the commit succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Classify(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return Classify(err, "set lock timeout")
		}
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return Classify(err, "commit transaction")
	}
	return nil
}

// Read runs fn against the pool without an atomic scope, still subject to the gate.
func (s *Store) Read(ctx context.Context, fn func(q Querier) error) error {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(s.db)
}

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeTooManyConnections   = "53300"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeUniqueViolation
}

// Classify turns a driver error into an apperror. Lock contention and
// connection exhaustion become retriable overload signals.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeTooManyConnections:
			return apperror.Overloaded(fmt.Errorf("%s: %w", message, err))
		case codeUniqueViolation:
			return &apperror.Error{Kind: apperror.KindDuplicate, Message: message, Err: err}
		}
	}
	return apperror.Internal(message, err)
}
