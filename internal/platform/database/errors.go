package database

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index collision.
const uniqueViolation = "23505"

// IsUniqueViolation recognizes unique violations from either driver that
// may sit behind database/sql.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState() == uniqueViolation
	}
	return false
}
