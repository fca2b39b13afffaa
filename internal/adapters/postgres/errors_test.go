package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestAsPgError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: UniqueViolationCode, ConstraintName: "profiles_subject_unique"})
	pe, ok := AsPgError(wrapped)
	if !ok || pe.Code != UniqueViolationCode || pe.ConstraintName != "profiles_subject_unique" {
		t.Fatalf("AsPgError()=%v,%v", pe, ok)
	}
	if _, ok := AsPgError(errors.New("plain")); ok {
		t.Fatalf("AsPgError() matched a plain error")
	}
}

func TestIsUnreachable(t *testing.T) {
	t.Parallel()

	if !IsUnreachable(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline not treated as unreachable")
	}
	if IsUnreachable(&pgconn.PgError{Code: UniqueViolationCode}) {
		t.Fatalf("server error treated as unreachable")
	}
	if IsUnreachable(nil) {
		t.Fatalf("nil treated as unreachable")
	}
}

func TestNewPool_RequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), " ", PoolOptions{}); err == nil {
		t.Fatalf("NewPool() accepted empty dsn")
	}
	if _, err := NewPool(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Fatalf("NewPool() accepted malformed dsn")
	}
}
