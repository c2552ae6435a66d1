package lending

import (
	"context"
	"time"

	"lendingapi/internal/book"
	"lendingapi/internal/loan"
	"lendingapi/internal/user"
)

// Store runs fn as one atomic unit. Every write made through tx becomes visible
// together when fn returns nil and ctx is still live, and none of them otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of shared state inside a unit of work. Lock methods serialize
// concurrent units touching the same record until the unit ends. Books are locked
// before transactions.
type Tx interface {
	GetUser(ctx context.Context, id string) (user.User, error)
	LockBook(ctx context.Context, id string) (book.Book, error)
	SetBookLending(ctx context.Context, id string, state book.LendingState, now time.Time) (book.Book, error)
	GetTransaction(ctx context.Context, id string) (loan.Transaction, error)
	LockTransaction(ctx context.Context, id string) (loan.Transaction, error)
	// InsertTransaction assigns the id. It fails with loan.ErrBookOnLoan when the
	// book already has an open loan.
	InsertTransaction(ctx context.Context, t loan.Transaction) (loan.Transaction, error)
	// CloseTransaction sets closedAt only on an open loan and fails with
	// loan.ErrAlreadyReturned otherwise.
	CloseTransaction(ctx context.Context, id string, closedAt time.Time) (loan.Transaction, error)
}

// Publisher delivers committed lending events downstream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Idempotency remembers which transaction a client's borrow request produced.
// Remember keeps the first transaction stored under a key.
type Idempotency interface {
	Lookup(ctx context.Context, userID, key string) (transactionID string, found bool, err error)
	Remember(ctx context.Context, userID, key, transactionID string) error
	Forget(ctx context.Context, userID, key string) error
}
