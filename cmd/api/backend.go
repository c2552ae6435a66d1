package main

import (
	"context"
	"fmt"
	"log/slog"

	"lendingapi/internal/book"
	"lendingapi/internal/config"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/platform/postgres"
	"lendingapi/internal/store"
	"lendingapi/internal/user"
)

// backend groups the repositories and unit of work of one store driver.
type backend struct {
	books book.Repository
	loans loan.Repository
	users user.Repository
	unit  lending.Store
	ping  func(context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := store.NewMemory()
		users := user.NewService(mem.Users())
		for _, mu := range cfg.MemoryUsers {
			_, err := users.Create(ctx, user.User{
				ID:    mu.ID,
				Name:  mu.Name,
				Email: mu.ID + "@users.local",
				Role:  mu.Role,
			})
			if err != nil {
				return backend{}, fmt.Errorf("seed memory user %s: %w", mu.ID, err)
			}
		}
		logger.Warn("using in-memory store; data is lost on restart", "users", len(cfg.MemoryUsers))
		return backend{
			books: mem.Books(),
			loans: mem.Loans(),
			users: mem.Users(),
			unit:  mem,
			ping:  mem.Ping,
			close: func() {},
		}, nil
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseDSN, postgres.PoolOptions{})
		if err != nil {
			return backend{}, fmt.Errorf("connect database (%s): %w", redactDSN(cfg.DatabaseDSN), err)
		}
		logger.Info("database connection OK")
		return backend{
			books: book.NewPostgresRepo(pool, cfg.DBTimeout),
			loans: loan.NewPostgresRepo(pool, cfg.DBTimeout),
			users: user.NewPostgresRepo(pool, cfg.DBTimeout),
			unit:  lending.NewPostgresStore(pool, cfg.DBTimeout),
			ping:  pool.Ping,
			close: pool.Close,
		}, nil
	}
}
