package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/apperr"
	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/loan"
	"lendingapi/internal/platform/postgres"
	"lendingapi/internal/user"
)

const constraintOpenLoan = "transactions_open_book_idx"

// PostgresStore runs each unit of work in one database transaction. Rows are locked
// with SELECT ... FOR UPDATE and held until commit or rollback.
type PostgresStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(db *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return postgres.Classify(err, nil, "begin unit of work")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := apperr.FromContext(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return postgres.Classify(err, nil, "commit unit of work")
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var role string
	err := t.tx.QueryRow(ctx, `SELECT id, name, email, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if err != nil {
		return user.User{}, postgres.Classify(err, user.ErrNotFound, "get user")
	}
	u.Role = auth.Role(role)
	return u, nil
}

func (t *pgTx) LockBook(ctx context.Context, id string) (book.Book, error) {
	const sql = `
		SELECT id, title, author, genre, isbn, status, issued_to, reserved_for, created_at, updated_at
		FROM books WHERE id = $1 FOR UPDATE`
	b, err := book.ScanBook(t.tx.QueryRow(ctx, sql, id))
	if err != nil {
		return book.Book{}, postgres.Classify(err, book.ErrNotFound, "lock book")
	}
	return b, nil
}

func (t *pgTx) SetBookLending(ctx context.Context, id string, state book.LendingState, now time.Time) (book.Book, error) {
	if err := state.Validate(); err != nil {
		return book.Book{}, fmt.Errorf("set book lending: %w", err)
	}
	const sql = `
		UPDATE books SET status = $2, issued_to = $3, reserved_for = $4, updated_at = $5
		WHERE id = $1
		RETURNING id, title, author, genre, isbn, status, issued_to, reserved_for, created_at, updated_at`
	b, err := book.ScanBook(t.tx.QueryRow(ctx, sql, id, string(state.Status), state.IssuedTo, state.ReservedFor, now))
	if err != nil {
		return book.Book{}, postgres.Classify(err, book.ErrNotFound, "set book lending")
	}
	return b, nil
}

func (t *pgTx) GetTransaction(ctx context.Context, id string) (loan.Transaction, error) {
	const sql = `SELECT id, user_id, book_id, borrowed_date, return_date, closed_at FROM transactions WHERE id = $1`
	tr, err := loan.ScanTransaction(t.tx.QueryRow(ctx, sql, id))
	if err != nil {
		return loan.Transaction{}, postgres.Classify(err, loan.ErrNotFound, "get transaction")
	}
	return tr, nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id string) (loan.Transaction, error) {
	const sql = `SELECT id, user_id, book_id, borrowed_date, return_date, closed_at FROM transactions WHERE id = $1 FOR UPDATE`
	tr, err := loan.ScanTransaction(t.tx.QueryRow(ctx, sql, id))
	if err != nil {
		return loan.Transaction{}, postgres.Classify(err, loan.ErrNotFound, "lock transaction")
	}
	return tr, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, in loan.Transaction) (loan.Transaction, error) {
	const sql = `
		INSERT INTO transactions (user_id, book_id, borrowed_date, return_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, book_id, borrowed_date, return_date, closed_at`
	tr, err := loan.ScanTransaction(t.tx.QueryRow(ctx, sql, in.UserID, in.BookID, in.BorrowedDate, in.ReturnDate))
	if err != nil {
		if postgres.IsUniqueViolation(err, constraintOpenLoan) {
			return loan.Transaction{}, loan.ErrBookOnLoan
		}
		if postgres.IsForeignKeyViolation(err) {
			return loan.Transaction{}, user.ErrNotFound
		}
		return loan.Transaction{}, postgres.Classify(err, loan.ErrNotFound, "insert transaction")
	}
	return tr, nil
}

func (t *pgTx) CloseTransaction(ctx context.Context, id string, closedAt time.Time) (loan.Transaction, error) {
	const sql = `
		UPDATE transactions SET closed_at = $2
		WHERE id = $1 AND closed_at IS NULL
		RETURNING id, user_id, book_id, borrowed_date, return_date, closed_at`
	tr, err := loan.ScanTransaction(t.tx.QueryRow(ctx, sql, id, closedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := t.GetTransaction(ctx, id); getErr != nil {
			return loan.Transaction{}, getErr
		}
		return loan.Transaction{}, loan.ErrAlreadyReturned
	}
	if err != nil {
		return loan.Transaction{}, postgres.Classify(err, loan.ErrNotFound, "close transaction")
	}
	return tr, nil
}
