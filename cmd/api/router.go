package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/httpx"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/user"
)

type handlers struct {
	books   *book.HTTPHandler
	loans   *loan.HTTPHandler
	lending *lending.HTTPHandler
	users   *user.HTTPHandler
}

type routerConfig struct {
	logger       *slog.Logger
	jwtSecret    string
	corsOrigins  []string
	maxBodyBytes int64
	rateLimit    *httpx.RateLimitMiddleware
	ready        func(context.Context) error
}

// allReady passes when every dependency check passes, in order.
func allReady(checks ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func newRouter(cfg routerConfig, h handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RequestIDMiddleware)
	r.Use(httpx.AccessLog(cfg.logger))
	r.Use(httpx.RecoveryMiddleware)
	r.Use(httpx.SecurityHeadersMiddleware(false))
	r.Use(httpx.CORSMiddleware(cfg.corsOrigins))
	r.Use(httpx.RequestSizeLimitMiddleware(cfg.maxBodyBytes))
	if cfg.rateLimit != nil {
		r.Use(cfg.rateLimit.Middleware)
	}
	r.NotFound(httpx.NotFoundHandler)
	r.MethodNotAllowed(httpx.MethodNotAllowedHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSONSuccess(w, r, "ok", nil, nil)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := cfg.ready(ctx); err != nil {
			httpx.Logger(r).Warn("readiness check failed", "error", err)
			httpx.JSONError(w, r, http.StatusServiceUnavailable, "INFRASTRUCTURE", "dependencies not ready", nil)
			return
		}
		httpx.JSONSuccess(w, r, "ready", nil, nil)
	})

	authenticate := httpx.Authenticate(cfg.jwtSecret)
	adminOnly := httpx.RequireRole(auth.RoleAdmin)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/books", h.books.List)
		r.Get("/books/{id}", h.books.Get)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/me", h.users.Me)
			r.Post("/books/{id}/reservation", h.lending.Reserve)
			r.Delete("/books/{id}/reservation", h.lending.CancelReservation)
			r.Post("/loans", h.lending.Borrow)
			r.Post("/loans/{id}/return", h.lending.Return)
			r.Get("/loans", h.loans.List)

			r.Group(func(r chi.Router) {
				r.Use(adminOnly)

				r.Post("/books", h.books.Create)
				r.Patch("/books/{id}", h.books.Update)
				r.Delete("/books/{id}", h.books.Delete)
				r.Get("/loans/{id}", h.loans.Get)
				r.Patch("/loans/{id}", h.loans.Update)
				r.Delete("/loans/{id}", h.loans.Delete)
			})
		})
	})
	return r
}
