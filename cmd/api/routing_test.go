package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/store"
	"lendingapi/internal/testutil"
	"lendingapi/internal/user"
)

func newTestServer(t *testing.T, extraChecks ...func(context.Context) error) (http.Handler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	for _, u := range []user.User{testutil.TestUser, testutil.TestAdminUser} {
		_, err := mem.Users().Create(context.Background(), u)
		require.NoError(t, err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handlers{
		books:   book.NewHTTPHandler(book.NewService(mem.Books())),
		loans:   loan.NewHTTPHandler(loan.NewService(mem.Loans())),
		lending: lending.NewHTTPHandler(lending.NewEngine(mem, lending.WithLogger(logger))),
		users:   user.NewHTTPHandler(user.NewService(mem.Users())),
	}
	return newRouter(routerConfig{
		logger:       logger,
		jwtSecret:    testutil.TestSecret,
		maxBodyBytes: 1 << 20,
		ready:        allReady(append([]func(context.Context) error{mem.Ping}, extraChecks...)...),
	}, h), mem
}

func serve(h http.Handler, r *http.Request) testutil.RecordResponse {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return testutil.RecordHTTPResponse(w)
}

func TestRouter_Probes(t *testing.T) {
	h, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, serve(h, testutil.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, testutil.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	resp := serve(h, testutil.NewRequest(http.MethodGet, "/books", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code, "routes live under /v1")
	assert.Equal(t, "ROUTE_NOT_FOUND", resp.Body["code"])
}

func TestRouter_ReadinessFailsWhenADependencyIsDown(t *testing.T) {
	redisDown := func(context.Context) error { return errors.New("dial tcp: connection refused") }
	h, _ := newTestServer(t, redisDown)

	resp := serve(h, testutil.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "INFRASTRUCTURE", resp.Body["code"])
	assert.Equal(t, http.StatusOK, serve(h, testutil.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRouter_RoleGates(t *testing.T) {
	h, _ := newTestServer(t)
	userToken := testutil.GenerateTestToken(testutil.TestSecret, testutil.TestUser.ID, auth.RoleUser)
	adminToken := testutil.GenerateTestToken(testutil.TestSecret, testutil.TestAdminUser.ID, auth.RoleAdmin)

	assert.Equal(t, http.StatusOK, serve(h, testutil.NewRequest(http.MethodGet, "/v1/books", nil)).Code)

	resp := serve(h, testutil.NewRequest(http.MethodPost, "/v1/books", testutil.TestBook))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodPost, "/v1/books", testutil.TestBook, userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	expired := testutil.GenerateExpiredToken(testutil.TestSecret, testutil.TestAdminUser.ID, auth.RoleAdmin)
	resp = serve(h, testutil.NewRequestWithAuth(http.MethodPost, "/v1/books", testutil.TestBook, expired))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodGet, "/v1/me", nil, userToken))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, testutil.TestUser.Email, resp.Body["payload"].(map[string]any)["email"])

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodGet, "/v1/loans/some-id", nil, userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodPut, "/v1/books", nil, adminToken))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestRouter_LendingFlow(t *testing.T) {
	h, mem := newTestServer(t)
	userToken := testutil.GenerateTestToken(testutil.TestSecret, testutil.TestUser.ID, auth.RoleUser)
	adminToken := testutil.GenerateTestToken(testutil.TestSecret, testutil.TestAdminUser.ID, auth.RoleAdmin)

	body := map[string]string{"title": "Dune", "author": "Frank Herbert", "genre": "Science Fiction"}
	resp := serve(h, testutil.NewRequestWithAuth(http.MethodPost, "/v1/books", body, adminToken))
	require.Equal(t, http.StatusCreated, resp.Code)
	bookID := resp.Body["payload"].(map[string]any)["id"].(string)

	borrow := map[string]string{"bookId": bookID, "dueDate": "2099-01-01T00:00:00Z"}
	resp = serve(h, testutil.NewRequestWithAuth(http.MethodPost, "/v1/loans", borrow, userToken))
	require.Equal(t, http.StatusCreated, resp.Code)
	txID := resp.Body["payload"].(map[string]any)["transaction"].(map[string]any)["id"].(string)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodDelete, "/v1/books/"+bookID, nil, adminToken))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodGet, "/v1/loans?state=open", nil, userToken))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, resp.Body["payload"], 1)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodPost, "/v1/loans/"+txID+"/return", nil, userToken))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = serve(h, testutil.NewRequestWithAuth(http.MethodDelete, "/v1/books/"+bookID, nil, adminToken))
	assert.Equal(t, http.StatusOK, resp.Code)

	v, err := mem.Loans().GetView(context.Background(), txID)
	require.NoError(t, err)
	assert.Nil(t, v.Book)
	assert.NotNil(t, v.ClosedAt)
}
