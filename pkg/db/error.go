package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsCheckViolation reports whether err is a CHECK constraint failure for the
// named constraint. An empty name matches any CHECK violation.
func IsCheckViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}

	// PostgreSQL (error code 23514), pgx and lib/pq drivers
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23514" {
		return constraint == "" || pqErr.Constraint == constraint
	}

	msg := err.Error()
	if strings.Contains(msg, "violates check constraint") {
		return constraint == "" || strings.Contains(msg, `"`+constraint+`"`)
	}

	// SQLite reports "CHECK constraint failed: <name>"
	if strings.Contains(msg, "CHECK constraint failed") {
		return constraint == "" || strings.Contains(msg, constraint)
	}

	return false
}
