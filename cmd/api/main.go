package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lendingapi/internal/book"
	"lendingapi/internal/config"
	"lendingapi/internal/httpx"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/platform/kafka"
	"lendingapi/internal/platform/redisx"
	"lendingapi/internal/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lendingapi:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	engineOpts := []lending.Option{
		lending.WithLogger(logger),
		lending.WithCorrelation(httpx.RequestIDFromContext),
	}

	g, gctx := errgroup.WithContext(ctx)
	checks := []func(context.Context) error{be.ping}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		idem := redisx.NewIdempotency(rdb, redisx.TTLIdempotency)
		engineOpts = append(engineOpts, lending.WithIdempotency(idem))
		checks = append(checks, idem.Ping)
		logger.Info("borrow idempotency enabled", "redis_addr", cfg.RedisAddr)
	}

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024, logger)
		producer.Start(gctx)
		engineOpts = append(engineOpts, lending.WithPublisher(producer))
		logger.Info("lending events enabled", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
	} else {
		engineOpts = append(engineOpts, lending.WithPublisher(kafka.Discard{}))
	}

	engine := lending.NewEngine(be.unit, engineOpts...)
	h := handlers{
		books:   book.NewHTTPHandler(book.NewService(be.books)),
		loans:   loan.NewHTTPHandler(loan.NewService(be.loans)),
		lending: lending.NewHTTPHandler(engine),
		users:   user.NewHTTPHandler(user.NewService(be.users)),
	}
	router := newRouter(routerConfig{
		logger:       logger,
		jwtSecret:    cfg.JWTSecret,
		corsOrigins:  cfg.CORSOrigins,
		maxBodyBytes: cfg.MaxBodyBytes,
		rateLimit:    httpx.NewRateLimitMiddleware(gctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		ready:        allReady(checks...),
	}, h)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if producer != nil {
		producer.WaitClosed()
	}
	return err
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
