// Package loan is the ledger of borrow events. A Transaction is opened by the
// lending engine together with the book transition and closed on return; the ledger
// itself only corrects due dates, deletes closed history and serves reads.
package loan

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"lendingapi/internal/apperr"
	"lendingapi/internal/user"
)

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "transaction not found")
	ErrAlreadyReturned = apperr.New(apperr.KindConflict, "transaction already returned")
	ErrStillOpen       = apperr.New(apperr.KindConflict, "transaction is still open, return the book first")
	ErrBookOnLoan      = apperr.New(apperr.KindConflict, "book already has an open loan")
)

type Transaction struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	BookID       string     `json:"bookId"`
	BorrowedDate time.Time  `json:"borrowedDate"`
	ReturnDate   time.Time  `json:"returnDate"`
	ClosedAt     *time.Time `json:"closedAt"`
}

// New validates a loan opened at now and due at returnDate. The caller assigns the id.
func New(userID, bookID string, returnDate, now time.Time) (Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return Transaction{}, apperr.FieldValidation("userId", "userId is required")
	}
	if strings.TrimSpace(bookID) == "" {
		return Transaction{}, apperr.FieldValidation("bookId", "bookId is required")
	}
	if err := ValidateReturnDate(now, returnDate, now); err != nil {
		return Transaction{}, err
	}
	return Transaction{
		UserID:       userID,
		BookID:       bookID,
		BorrowedDate: now,
		ReturnDate:   returnDate,
	}, nil
}

// ValidateReturnDate requires a set return date that is neither in the past nor
// before the borrow date.
func ValidateReturnDate(borrowed, returnDate, now time.Time) error {
	if returnDate.IsZero() {
		return apperr.FieldValidation("returnDate", "returnDate is required")
	}
	if returnDate.Before(now) {
		return apperr.FieldValidation("returnDate", "returnDate must not be in the past")
	}
	if returnDate.Before(borrowed) {
		return apperr.FieldValidation("returnDate", "returnDate must not be before borrowedDate")
	}
	return nil
}

func (t Transaction) Open() bool { return t.ClosedAt == nil }

// Overdue reports an open loan past its return date.
func (t Transaction) Overdue(now time.Time) bool {
	return t.Open() && now.After(t.ReturnDate)
}

// Close marks the loan returned at now.
func (t Transaction) Close(now time.Time) (Transaction, error) {
	if !t.Open() {
		return t, ErrAlreadyReturned
	}
	t.ClosedAt = &now
	return t, nil
}

type BookSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
}

// View is a transaction joined with its borrower and book. Book is nil when the
// book has been deleted from the catalog.
type View struct {
	Transaction
	User    user.Summary `json:"user"`
	Book    *BookSummary `json:"book"`
	Overdue bool         `json:"overdue"`
}

type State string

const (
	StateAll    State = "all"
	StateOpen   State = "open"
	StateClosed State = "closed"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter selects and orders ledger rows. Rows are ordered by borrowedDate, then id.
type ListFilter struct {
	UserID   string
	State    State
	Desc     bool
	Page     int
	PageSize int
}

func (f ListFilter) Matches(t Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	switch f.State {
	case StateOpen:
		return t.Open()
	case StateClosed:
		return !t.Open()
	}
	return true
}

func (f ListFilter) Less(a, b Transaction) bool {
	cmp := a.BorrowedDate.Compare(b.BorrowedDate)
	if f.Desc {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.ID < b.ID
}

func (f ListFilter) Offset() int { return (f.Page - 1) * f.PageSize }

// ParseListFilter reads userId, state, sortDirection, page and pageSize. Defaults
// are all states, newest first, page 1 of 20.
func ParseListFilter(v url.Values) (ListFilter, error) {
	f := ListFilter{
		UserID:   strings.TrimSpace(v.Get("userId")),
		State:    StateAll,
		Desc:     true,
		Page:     1,
		PageSize: DefaultPageSize,
	}
	if s := v.Get("state"); s != "" {
		switch st := State(strings.ToLower(s)); st {
		case StateAll, StateOpen, StateClosed:
			f.State = st
		default:
			return ListFilter{}, apperr.FieldValidation("state", "state must be open, closed or all")
		}
	}
	switch strings.ToLower(v.Get("sortDirection")) {
	case "", "desc":
	case "asc":
		f.Desc = false
	default:
		return ListFilter{}, apperr.FieldValidation("sortDirection", "sortDirection must be asc or desc")
	}
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return ListFilter{}, apperr.FieldValidation("page", "page must be a positive integer")
		}
		f.Page = n
	}
	if s := v.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxPageSize {
			return ListFilter{}, apperr.FieldValidation("pageSize", "pageSize must be between 1 and %d", MaxPageSize)
		}
		f.PageSize = n
	}
	return f, nil
}
