// Package redisx backs borrow idempotency keys with Redis.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lendingapi/internal/apperr"
)

const (
	// idem:borrow:<userId>:<key> -> transactionId
	KeyIdemBorrow = "idem:borrow:%s:%s"

	TTLIdempotency = 24 * time.Hour
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func IdemBorrowKey(userID, key string) string {
	return fmt.Sprintf(KeyIdemBorrow, userID, key)
}

// Idempotency implements lending.Idempotency.
type Idempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotency(rdb *redis.Client, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

func (i *Idempotency) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	id, err := i.rdb.Get(ctx, IdemBorrowKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Infrastructure(err, "idempotency lookup")
	}
	return id, true, nil
}

// Remember keeps the first transaction recorded under key.
func (i *Idempotency) Remember(ctx context.Context, userID, key, transactionID string) error {
	if err := i.rdb.SetNX(ctx, IdemBorrowKey(userID, key), transactionID, i.ttl).Err(); err != nil {
		return apperr.Infrastructure(err, "idempotency remember")
	}
	return nil
}

func (i *Idempotency) Forget(ctx context.Context, userID, key string) error {
	if err := i.rdb.Del(ctx, IdemBorrowKey(userID, key)).Err(); err != nil {
		return apperr.Infrastructure(err, "idempotency forget")
	}
	return nil
}

func (i *Idempotency) Ping(ctx context.Context) error {
	return i.rdb.Ping(ctx).Err()
}
