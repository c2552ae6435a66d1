// Package store provides an in-memory arena implementing every repository port and
// the lending unit of work. It backs the memory driver and the engine's tests.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"lendingapi/internal/apperr"
	"lendingapi/internal/book"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/user"
)

// Memory keeps records in maps keyed by id. Writers are serialized by a weighted
// semaphore so waiting honors context cancellation; readers only take the RWMutex,
// which writers hold just long enough to apply a finished unit.
type Memory struct {
	writer *semaphore.Weighted
	mu     sync.RWMutex
	now    func() time.Time
	newID  func() string

	users      map[string]user.User
	emails     map[string]string
	books      map[string]book.Book
	isbns      map[string]string
	loans      map[string]loan.Transaction
	openByBook map[string]string
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithIDs replaces the uuid generator, for deterministic tests.
func WithIDs(next func() string) MemoryOption {
	return func(m *Memory) { m.newID = next }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		writer:     semaphore.NewWeighted(1),
		now:        time.Now,
		newID:      uuid.NewString,
		users:      make(map[string]user.User),
		emails:     make(map[string]string),
		books:      make(map[string]book.Book),
		isbns:      make(map[string]string),
		loans:      make(map[string]loan.Transaction),
		openByBook: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Books() *BookRepo { return &BookRepo{m: m} }
func (m *Memory) Loans() *LoanRepo { return &LoanRepo{m: m} }
func (m *Memory) Users() *UserRepo { return &UserRepo{m: m} }

// Ping always succeeds; it lets the memory driver share the readiness probe.
func (m *Memory) Ping(context.Context) error { return nil }

// write runs fn as the only writer. fn mutates the maps directly under the write
// lock, so it must validate before it changes anything.
func (m *Memory) write(ctx context.Context, fn func() error) error {
	if err := m.writer.Acquire(ctx, 1); err != nil {
		return apperr.Infrastructure(err, "storage busy")
	}
	defer m.writer.Release(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := apperr.FromContext(ctx); err != nil {
		return err
	}
	return fn()
}

// WithinTx stages every change fn makes and applies them together only when fn
// succeeds and ctx is still live.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx lending.Tx) error) error {
	if err := m.writer.Acquire(ctx, 1); err != nil {
		return apperr.Infrastructure(err, "storage busy")
	}
	defer m.writer.Release(1)

	tx := &memTx{
		m:     m,
		books: make(map[string]book.Book),
		loans: make(map[string]loan.Transaction),
		open:  make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := apperr.FromContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range tx.books {
		m.books[id] = b
	}
	for id, t := range tx.loans {
		m.loans[id] = t
	}
	for bookID, txID := range tx.open {
		if txID == "" {
			delete(m.openByBook, bookID)
		} else {
			m.openByBook[bookID] = txID
		}
	}
	return nil
}

// memTx reads through its staged records to the committed maps. Only the holder of
// the writer semaphore changes the committed maps, so reading them under RLock is
// enough.
type memTx struct {
	m     *Memory
	books map[string]book.Book
	loans map[string]loan.Transaction
	open  map[string]string
}

func (tx *memTx) GetUser(ctx context.Context, id string) (user.User, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return user.User{}, err
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	u, ok := tx.m.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (tx *memTx) book(id string) (book.Book, bool) {
	if b, ok := tx.books[id]; ok {
		return b, true
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	b, ok := tx.m.books[id]
	return b, ok
}

func (tx *memTx) LockBook(ctx context.Context, id string) (book.Book, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return book.Book{}, err
	}
	b, ok := tx.book(id)
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	return b, nil
}

func (tx *memTx) SetBookLending(ctx context.Context, id string, state book.LendingState, now time.Time) (book.Book, error) {
	if err := state.Validate(); err != nil {
		return book.Book{}, err
	}
	b, err := tx.LockBook(ctx, id)
	if err != nil {
		return book.Book{}, err
	}
	b = b.WithLendingState(state, now)
	tx.books[id] = b
	return b, nil
}

func (tx *memTx) transaction(id string) (loan.Transaction, bool) {
	if t, ok := tx.loans[id]; ok {
		return t, true
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	t, ok := tx.m.loans[id]
	return t, ok
}

func (tx *memTx) GetTransaction(ctx context.Context, id string) (loan.Transaction, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return loan.Transaction{}, err
	}
	t, ok := tx.transaction(id)
	if !ok {
		return loan.Transaction{}, loan.ErrNotFound
	}
	return t, nil
}

func (tx *memTx) LockTransaction(ctx context.Context, id string) (loan.Transaction, error) {
	return tx.GetTransaction(ctx, id)
}

func (tx *memTx) openLoan(bookID string) string {
	if txID, ok := tx.open[bookID]; ok {
		return txID
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return tx.m.openByBook[bookID]
}

func (tx *memTx) InsertTransaction(ctx context.Context, t loan.Transaction) (loan.Transaction, error) {
	if err := apperr.FromContext(ctx); err != nil {
		return loan.Transaction{}, err
	}
	if tx.openLoan(t.BookID) != "" {
		return loan.Transaction{}, loan.ErrBookOnLoan
	}
	t.ID = tx.m.newID()
	t.ClosedAt = nil
	tx.loans[t.ID] = t
	tx.open[t.BookID] = t.ID
	return t, nil
}

func (tx *memTx) CloseTransaction(ctx context.Context, id string, closedAt time.Time) (loan.Transaction, error) {
	t, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return loan.Transaction{}, err
	}
	if t, err = t.Close(closedAt); err != nil {
		return loan.Transaction{}, err
	}
	tx.loans[id] = t
	if tx.openLoan(t.BookID) == id {
		tx.open[t.BookID] = ""
	}
	return t, nil
}

var _ lending.Store = (*Memory)(nil)
