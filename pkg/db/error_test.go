package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pgconn", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: donations.stripe_checkout_session_id"), want: true},
		{name: "other", err: errors.New("connection reset"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsCheckViolation(t *testing.T) {
	const name = "donations_donor_identity_check"
	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "pgconn_named", err: &pgconn.PgError{Code: "23514", ConstraintName: name}, constraint: name, want: true},
		{name: "pgconn_other_constraint", err: &pgconn.PgError{Code: "23514", ConstraintName: "amount_positive"}, constraint: name, want: false},
		{name: "pgconn_any", err: &pgconn.PgError{Code: "23514", ConstraintName: "amount_positive"}, want: true},
		{name: "sqlite_named", err: errors.New("constraint failed: CHECK constraint failed: " + name + " (275)"), constraint: name, want: true},
		{name: "postgres_text", err: errors.New(`ERROR: new row for relation "donations" violates check constraint "` + name + `"`), constraint: name, want: true},
		{name: "unique_is_not_check", err: &pgconn.PgError{Code: "23505"}, constraint: name, want: false},
		{name: "nil", err: nil, constraint: name, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCheckViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
