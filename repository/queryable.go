package repository

import (
	"context"
	"errors"
	"fmt"

	"custodian/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryable abstracts over a pgx pool and a pgx transaction so repositories
// can run standalone or bound to a unit of work
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	pgCodeLockNotAvailable = "55P03"
	pgCodeUniqueViolation  = "23505"
)

// mapRowLockError translates a Postgres lock_timeout expiry into the
// retriable domain error. All FOR UPDATE reads go through this.
func mapRowLockError(err error, target string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCodeLockNotAvailable {
		return fmt.Errorf("locking %s: %w", target, models.ErrLockTimeout)
	}
	return err
}

// isUniqueViolation reports whether err is a unique-constraint violation on
// the named constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgCodeUniqueViolation &&
		pgErr.ConstraintName == constraint
}
