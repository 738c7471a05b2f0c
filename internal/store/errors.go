package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionConflict is returned when an ordered patch set finds a block row
// that changed since it was read.
var ErrVersionConflict = errors.New("block changed concurrently")

const (
	sqlStateUniqueViolation       = "23505"
	sqlStateInsufficientPrivilege = "42501"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	return hasSQLState(err, sqlStateUniqueViolation)
}

// IsPermissionDenied reports whether the database refused the statement for the
// connected role (row level security or grants).
func IsPermissionDenied(err error) bool {
	return hasSQLState(err, sqlStateInsufficientPrivilege)
}

// IsQueryError reports whether err came back from the server as a statement
// error, as opposed to a transport or pool failure.
func IsQueryError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasSQLState(err error, state string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.SQLState() == state
}
