package user

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/auth"
	"lendingapi/internal/platform/postgres"
)

const constraintEmail = "users_email_key"

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) Create(ctx context.Context, u User) (User, error) {
	const query = `
	INSERT INTO users (id, name, email, role)
	VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4)
	RETURNING id, created_at
	`
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	err := r.db.QueryRow(timeoutCtx, query, u.ID, u.Name, u.Email, string(u.Role)).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, constraintEmail) {
			return User{}, ErrAlreadyExists
		}
		return User{}, postgres.Classify(err, ErrNotFound, "create user")
	}
	return u, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (User, error) {
	const query = `SELECT id, name, email, role, created_at FROM users WHERE id = $1`

	var u User
	var role string
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.db.QueryRow(timeoutCtx, query, id).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
		return User{}, postgres.Classify(err, ErrNotFound, "get user")
	}
	u.Role = auth.Role(role)
	return u, nil
}
