// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so commit-path methods run inside
// the caller's transaction while reads go straight to the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrSupermarketNotFound = errors.New("supermarket not found")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrDuplicateImage      = errors.New("receipt image already submitted")
	ErrDuplicatePhone      = errors.New("phone number already registered")
	ErrInsufficientPoints  = errors.New("insufficient points balance")
	ErrCampaignExhausted   = errors.New("campaign redemption cap reached")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation on the named constraint (any constraint when name is empty).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
