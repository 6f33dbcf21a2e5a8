package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateAttempt is returned when an attempt already exists for the
// (examination, user) pair.
var ErrDuplicateAttempt = errors.New("attempt already exists for this examination and user")

// ErrExaminationLocked is returned when a save would change the questions or
// total points of an examination that already has attempts.
var ErrExaminationLocked = errors.New("examination has attempts; its questions cannot change")

// ErrDuplicateUsername is returned when a username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
