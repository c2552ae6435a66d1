// Package postgres opens the connection pool and classifies pgx failures into the
// application error kinds.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/apperr"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInvalidTextRepr      = "22P02"
)

type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueViolation reports a unique violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	return code == codeUniqueViolation && (constraint == "" || name == constraint)
}

func IsForeignKeyViolation(err error) bool {
	code, _ := pgCode(err)
	return code == codeForeignKeyViolation
}

// IsInvalidInput reports malformed literals, such as a non-uuid id.
func IsInvalidInput(err error) bool {
	code, _ := pgCode(err)
	return code == codeInvalidTextRepr
}

// Classify maps a pgx failure to an application error. notFound, when set, is
// returned for pgx.ErrNoRows and for ids the database cannot parse. Errors already
// carrying a kind pass through.
func Classify(err error, notFound error, op string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if notFound != nil && (errors.Is(err, pgx.ErrNoRows) || IsInvalidInput(err)) {
		return notFound
	}
	code, _ := pgCode(err)
	switch code {
	case codeSerializationFailure, codeDeadlockDetected:
		return apperr.Infrastructure(err, "%s: concurrent update, retry the request", op)
	case codeCheckViolation:
		return apperr.Validation("%s: value violates a catalog constraint", op)
	}
	return apperr.Infrastructure(err, "%s: storage unavailable", op)
}
