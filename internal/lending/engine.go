// Package lending moves books between available, reserved and checked out. Every
// transition is a check followed by writes to the book and the ledger, executed as
// one unit of work so racing requests cannot both win.
package lending

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lendingapi/internal/apperr"
	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/loan"
)

var (
	ErrAlreadyCheckedOut   = apperr.New(apperr.KindConflict, "book is already checked out")
	ErrReservedForOther    = apperr.New(apperr.KindConflict, "book is reserved for another user")
	ErrNotAvailable        = apperr.New(apperr.KindConflict, "book is not available for reservation")
	ErrNotReserved         = apperr.New(apperr.KindConflict, "book has no active reservation")
	ErrIdempotencyMismatch = apperr.New(apperr.KindConflict, "idempotency key was already used for a different request")
)

type Engine struct {
	store       Store
	publisher   Publisher
	idempotency Idempotency
	logger      *slog.Logger
	now         func() time.Time
	producer    string
	correlation func(context.Context) string
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithIdempotency(i Idempotency) Option {
	return func(e *Engine) { e.idempotency = i }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCorrelation sets how an event's correlation id is read from the request context.
func WithCorrelation(fn func(context.Context) string) Option {
	return func(e *Engine) { e.correlation = fn }
}

func WithProducer(name string) Option {
	return func(e *Engine) { e.producer = name }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		producer:    defaultProducer,
		correlation: func(context.Context) string { return "" },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type BorrowRequest struct {
	// UserID defaults to the caller. Only administrators may borrow for others.
	UserID         string
	BookID         string
	DueDate        time.Time
	IdempotencyKey string
}

type BorrowResult struct {
	Transaction loan.Transaction `json:"transaction"`
	Book        *book.Book       `json:"book"`
	// Replayed is set when the idempotency key matched an earlier borrow.
	Replayed bool `json:"replayed"`
}

type ReturnResult struct {
	Transaction loan.Transaction `json:"transaction"`
	// Book is nil when the book was deleted while on loan.
	Book *book.Book `json:"book"`
}

// Borrow checks a book out to a user and opens its ledger entry.
func (e *Engine) Borrow(ctx context.Context, actor auth.Identity, req BorrowRequest) (BorrowResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = actor.UserID
	}
	bookID := strings.TrimSpace(req.BookID)
	switch {
	case userID == "":
		return BorrowResult{}, apperr.FieldValidation("userId", "userId is required")
	case bookID == "":
		return BorrowResult{}, apperr.FieldValidation("bookId", "bookId is required")
	case req.DueDate.IsZero():
		return BorrowResult{}, apperr.FieldValidation("dueDate", "dueDate is required")
	}
	if !actor.CanActFor(userID) {
		return BorrowResult{}, apperr.Forbidden("only administrators may borrow on behalf of another user")
	}

	if req.IdempotencyKey != "" {
		if res, ok, err := e.replay(ctx, userID, bookID, req.IdempotencyKey); err != nil || ok {
			return res, err
		}
	}

	now := e.now()
	var res BorrowResult
	remembered := false
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if err := canBorrow(b, userID); err != nil {
			return err
		}
		t, err := loan.New(userID, bookID, req.DueDate, now)
		if err != nil {
			return err
		}
		updated, err := tx.SetBookLending(ctx, bookID, book.CheckedOutTo(userID), now)
		if err != nil {
			return err
		}
		if t, err = tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		// The key is recorded while the book is still locked, so a retry that
		// loses the race for the lock always finds it.
		remembered = e.remember(ctx, userID, req.IdempotencyKey, t.ID)
		res = BorrowResult{Transaction: t, Book: &updated}
		return nil
	})
	if err != nil {
		if remembered {
			e.forget(userID, req.IdempotencyKey)
		}
		if req.IdempotencyKey != "" && lostToSelf(err) {
			if replayed, ok, rerr := e.replay(ctx, userID, bookID, req.IdempotencyKey); rerr == nil && ok {
				return replayed, nil
			}
		}
		return BorrowResult{}, err
	}

	e.committed(ctx, "borrow", EventBookBorrowed, bookID, res.Transaction.ID, userID, loanPayload(res.Transaction, false))
	return res, nil
}

// lostToSelf reports a borrow that failed because the book is already on loan,
// possibly to an earlier copy of the same request.
func lostToSelf(err error) bool {
	return errors.Is(err, ErrAlreadyCheckedOut) || errors.Is(err, loan.ErrBookOnLoan)
}

func (e *Engine) remember(ctx context.Context, userID, key, txID string) bool {
	if key == "" || e.idempotency == nil {
		return false
	}
	if err := e.idempotency.Remember(ctx, userID, key, txID); err != nil {
		e.logger.Warn("remember idempotency key failed", "error", err, "transaction_id", txID)
		return false
	}
	return true
}

// forget drops a key recorded by a unit of work that did not commit.
func (e *Engine) forget(userID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.idempotency.Forget(ctx, userID, key); err != nil {
		e.logger.Warn("forget idempotency key failed", "error", err, "user_id", userID)
	}
}

func canBorrow(b book.Book, userID string) error {
	switch b.Status {
	case book.StatusCheckedOut:
		return ErrAlreadyCheckedOut
	case book.StatusReserved:
		if b.ReservedFor == nil || *b.ReservedFor != userID {
			return ErrReservedForOther
		}
	}
	return nil
}

// replay returns the earlier result of a borrow sent again with the same key. A
// failing idempotency store is logged and the request proceeds as a fresh borrow.
func (e *Engine) replay(ctx context.Context, userID, bookID, key string) (BorrowResult, bool, error) {
	if e.idempotency == nil {
		return BorrowResult{}, false, nil
	}
	txID, found, err := e.idempotency.Lookup(ctx, userID, key)
	if err != nil {
		e.logger.Warn("idempotency lookup failed", "error", err, "user_id", userID)
		return BorrowResult{}, false, nil
	}
	if !found {
		return BorrowResult{}, false, nil
	}

	var res BorrowResult
	err = e.store.WithinTx(ctx, func(tx Tx) error {
		t, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if t.BookID != bookID || t.UserID != userID {
			return ErrIdempotencyMismatch
		}
		res = BorrowResult{Transaction: t, Replayed: true}
		return nil
	})
	if errors.Is(err, loan.ErrNotFound) {
		// The ledger entry was purged; treat the key as unused.
		return BorrowResult{}, false, nil
	}
	if err != nil {
		return BorrowResult{}, false, err
	}
	return res, true, nil
}

// Return closes an open loan and makes its book available again. A loan whose book
// was deleted is still closed.
func (e *Engine) Return(ctx context.Context, actor auth.Identity, transactionID string) (ReturnResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return ReturnResult{}, apperr.FieldValidation("id", "transaction id is required")
	}

	now := e.now()
	var res ReturnResult
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		peek, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !actor.CanActFor(peek.UserID) {
			return apperr.Forbidden("only the borrower or an administrator may return this loan")
		}

		b, err := tx.LockBook(ctx, peek.BookID)
		bookGone := errors.Is(err, book.ErrNotFound)
		if err != nil && !bookGone {
			return err
		}

		t, err := tx.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !t.Open() {
			return loan.ErrAlreadyReturned
		}
		if t, err = tx.CloseTransaction(ctx, transactionID, now); err != nil {
			return err
		}
		res.Transaction = t

		if bookGone {
			return nil
		}
		updated, err := tx.SetBookLending(ctx, b.ID, book.Available(), now)
		if err != nil {
			return err
		}
		res.Book = &updated
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}

	e.committed(ctx, "return", EventBookReturned, res.Transaction.BookID, res.Transaction.ID, res.Transaction.UserID,
		loanPayload(res.Transaction, res.Book == nil))
	return res, nil
}

// Reserve holds an available book for the caller.
func (e *Engine) Reserve(ctx context.Context, actor auth.Identity, bookID string) (book.Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return book.Book{}, apperr.FieldValidation("id", "book id is required")
	}
	if actor.UserID == "" {
		return book.Book{}, apperr.FieldValidation("userId", "userId is required")
	}

	now := e.now()
	var updated book.Book
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetUser(ctx, actor.UserID); err != nil {
			return err
		}
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if b.Status != book.StatusAvailable {
			return ErrNotAvailable
		}
		updated, err = tx.SetBookLending(ctx, bookID, book.ReservedBy(actor.UserID), now)
		return err
	})
	if err != nil {
		return book.Book{}, err
	}

	e.committed(ctx, "reserve", EventBookReserved, bookID, "", actor.UserID,
		ReservationPayload{BookID: bookID, UserID: actor.UserID})
	return updated, nil
}

// CancelReservation releases a reservation held by the caller, or any reservation
// when the caller is an administrator.
func (e *Engine) CancelReservation(ctx context.Context, actor auth.Identity, bookID string) (book.Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return book.Book{}, apperr.FieldValidation("id", "book id is required")
	}

	now := e.now()
	var updated book.Book
	var holder string
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if b.Status != book.StatusReserved || b.ReservedFor == nil {
			return ErrNotReserved
		}
		holder = *b.ReservedFor
		if !actor.CanActFor(holder) {
			return apperr.Forbidden("only the reserving user or an administrator may cancel this reservation")
		}
		updated, err = tx.SetBookLending(ctx, bookID, book.Available(), now)
		return err
	})
	if err != nil {
		return book.Book{}, err
	}

	e.committed(ctx, "cancel_reservation", EventReservationCanceled, bookID, "", holder,
		ReservationPayload{BookID: bookID, UserID: holder})
	return updated, nil
}

// committed logs a transition and publishes its event. Publication failures never
// change the outcome of an operation that already committed.
func (e *Engine) committed(ctx context.Context, op, eventType, bookID, transactionID, userID string, payload any) {
	e.logger.Info("lending transition committed",
		"op", op,
		"book_id", bookID,
		"transaction_id", transactionID,
		"user_id", userID,
	)
	if e.publisher == nil {
		return
	}
	ev := newEvent(eventType, e.producer, e.correlation(ctx), bookID, e.now(), payload)
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish lending event failed", "error", err, "event_type", eventType, "book_id", bookID)
	}
}

func loanPayload(t loan.Transaction, bookDeleted bool) LoanPayload {
	return LoanPayload{
		TransactionID: t.ID,
		BookID:        t.BookID,
		UserID:        t.UserID,
		BorrowedDate:  t.BorrowedDate,
		ReturnDate:    t.ReturnDate,
		ClosedAt:      t.ClosedAt,
		BookDeleted:   bookDeleted,
	}
}
