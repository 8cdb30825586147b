// Package store persists pharmacies, the medication catalog, inventory lots,
// their sale/return/movement records and users. Invariants on stock (no
// negative quantity, one lot per pharmacy and medication) are enforced by the
// schema; this package translates their violations into domain errors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so every store method can
// run inside or outside a transaction.
type Querier interface {
	sqlx.ExtContext
}

// Store is the entity store. It holds no mutable state besides the database
// handle and is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New constructs a Store over an open database.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// DB returns the non-transactional handle for reads.
func (s *Store) DB() Querier { return s.db }

// WithTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back on error or panic. The handle passed to fn must
// not be retained after fn returns.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", translate(cErr))
		}
	}()
	return fn(tx)
}

// lockClause returns the row lock suffix for "select for update" reads.
// SQLite has no row locks; its single connection already gives the
// transaction exclusive access.
func lockClause(q Querier, forUpdate bool) string {
	if !forUpdate {
		return ""
	}
	switch q.DriverName() {
	case "pgx", "postgres":
		return " FOR UPDATE"
	}
	return ""
}

func get(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
}

func selectAll(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

func insertReturningID(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

// PharmacyFilter restricts list queries to a set of pharmacies. All disables
// the restriction; an empty IDs with All unset matches nothing.
type PharmacyFilter struct {
	All bool
	IDs []int64
}

// AllPharmacies is the unrestricted filter.
func AllPharmacies() PharmacyFilter { return PharmacyFilter{All: true} }

// OnlyPharmacies restricts to the given pharmacies.
func OnlyPharmacies(ids ...int64) PharmacyFilter { return PharmacyFilter{IDs: ids} }

func (f PharmacyFilter) empty() bool { return !f.All && len(f.IDs) == 0 }

// where appends the filter as a SQL clause on column. It reports false when the
// filter can never match, in which case the query should be skipped.
func (f PharmacyFilter) where(column string, clauses []string, args []any) ([]string, []any, bool) {
	if f.All {
		return clauses, args, true
	}
	if len(f.IDs) == 0 {
		return clauses, args, false
	}
	clause, inArgs, err := sqlx.In(column+" IN (?)", f.IDs)
	if err != nil {
		return clauses, args, false
	}
	return append(clauses, clause), append(args, inArgs...), true
}
