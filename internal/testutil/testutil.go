// Package testutil holds fixtures and helpers shared by handler and repository tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"lendingapi/db"
	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/user"
)

const TestSecret = "test-secret"

// TestUser is a borrower fixture
var TestUser = user.User{
	ID:    "7f1d2c3b-0000-4000-8000-000000000001",
	Name:  "Test User",
	Email: "test@example.com",
	Role:  auth.RoleUser,
}

// TestAdminUser is an administrator fixture
var TestAdminUser = user.User{
	ID:    "7f1d2c3b-0000-4000-8000-000000000002",
	Name:  "Admin User",
	Email: "admin@example.com",
	Role:  auth.RoleAdmin,
}

// TestBook is a catalog fixture
var TestBook = book.NewBook{
	Title:  "Dune",
	Author: "Frank Herbert",
	Genre:  "Science Fiction",
	ISBN:   "9780441013593",
}

func IdentityOf(u user.User) auth.Identity {
	return auth.Identity{UserID: u.ID, Role: u.Role}
}

// GenerateTestToken generates a JWT token for testing
func GenerateTestToken(secret, userID string, role auth.Role) string {
	token, err := auth.GenerateToken(secret, auth.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// GenerateExpiredToken generates an expired JWT token for testing
func GenerateExpiredToken(secret, userID string, role auth.Role) string {
	c := auth.Claims{
		Sub:  userID,
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	return token
}

// NewRequest creates a new HTTP request for testing. A string body is sent as is,
// anything else is JSON encoded.
func NewRequest(method, path string, body any) *http.Request {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		reader = bytes.NewReader(raw)
	}
	r := httptest.NewRequest(method, path, reader)
	if reader != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return r
}

// NewRequestWithAuth creates a new HTTP request with JWT auth for testing
func NewRequestWithAuth(method, path string, body any, token string) *http.Request {
	r := NewRequest(method, path, body)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

// RecordResponse records the HTTP response for testing
type RecordResponse struct {
	Code   int
	Header http.Header
	Body   map[string]any
}

func RecordHTTPResponse(w *httptest.ResponseRecorder) RecordResponse {
	result := w.Result()
	defer result.Body.Close()

	raw, _ := io.ReadAll(result.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	return RecordResponse{Code: result.StatusCode, Header: result.Header, Body: body}
}

// OpenTestDB connects to TEST_DB_DSN, applies the migrations and empties every
// table. The test is skipped when the variable is unset or the database is down.
func OpenTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("cannot create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose dialect: %v", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := goose.Up(sqlDB, db.MigrationsDir); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := pool.Exec(ctx, `TRUNCATE transactions, books, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

// SeedUser inserts u directly, keeping its id.
func SeedUser(t *testing.T, pool *pgxpool.Pool, u user.User) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Name, u.Email, string(u.Role))
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
