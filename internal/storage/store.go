// Package storage persists loans, requests and loan policy documents in Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
)

const (
	dialectPostgres = "postgres"

	tableLoans     = "loans"
	tableRequests  = "requests"
	tablePolicies  = "loan_policies"
	tableSchedules = "fixed_due_date_schedules"
)

// Store is the Postgres backing store for circulation records.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

func New(db *sql.DB) *Store {
	return &Store{
		db:      sqlx.NewDb(db, dialectPostgres),
		dialect: goqu.Dialect(dialectPostgres),
	}
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (s *Store) get(ctx context.Context, dest any, stmt sqlBuilder) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.GetContext(ctx, dest, query, args...)
}

func (s *Store) selectAll(ctx context.Context, dest any, stmt sqlBuilder) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, stmt sqlBuilder) (int64, error) {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build statement: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
