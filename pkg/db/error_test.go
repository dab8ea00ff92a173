package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
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
		{name: "pgx", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "pq", err: &pq.Error{Code: "23505"}, want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: counters.regie_id"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestIsCheckViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "gorm", err: gorm.ErrCheckConstraintViolated, want: true},
		{name: "pgx", err: fmt.Errorf("assign: %w", &pgconn.PgError{Code: "23514"}), want: true},
		{name: "pq", err: &pq.Error{Code: "23514"}, want: true},
		{name: "sqlite", err: errors.New("CHECK constraint failed: chk_credits_assigned_amount"), want: true},
		{name: "unique is not check", err: &pgconn.PgError{Code: "23505"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsCheckViolation(tc.err))
		})
	}
}
