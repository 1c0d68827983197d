package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wsaxqd/home-work2-sub001/internal/domain"
)

// Repository errors. They alias the domain sentinels so callers can match
// either.
var (
	ErrConflict = domain.ErrConflict
	ErrNotFound = domain.ErrNotFound
)

// Postgres SQLSTATE codes treated as a lost race.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// isConflict reports whether err is a transient write conflict: a unique
// violation, serialization failure or deadlock on Postgres, or a busy,
// locked or constraint error on SQLite.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// wrap maps driver errors onto ErrConflict and sql.ErrNoRows onto
// ErrNotFound, keeping the original for context.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isConflict(err):
		return errors.Join(ErrConflict, err)
	}
	return err
}
