package book

import (
	"strings"
	"time"

	"lendingapi/internal/apperr"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "book not found")
	ErrDuplicateISBN = apperr.New(apperr.KindValidation, "a book with this isbn already exists")
	ErrHasOpenLoan   = apperr.New(apperr.KindConflict, "book has an open loan and cannot be deleted")
)

type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusReserved   Status = "RESERVED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusAvailable, StatusCheckedOut, StatusReserved:
		return st, nil
	}
	return "", apperr.FieldValidation("status", "status must be one of AVAILABLE, CHECKED_OUT, RESERVED")
}

// Book represents a catalog item and its current lending state.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	ISBN        *string   `json:"isbn"`
	Status      Status    `json:"status"`
	IssuedTo    *string   `json:"issuedTo"`
	ReservedFor *string   `json:"reservedFor"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LendingState is the part of a Book only the lending engine may write.
type LendingState struct {
	Status      Status
	IssuedTo    *string
	ReservedFor *string
}

func (b Book) LendingState() LendingState {
	return LendingState{Status: b.Status, IssuedTo: b.IssuedTo, ReservedFor: b.ReservedFor}
}

// WithLendingState returns a copy of b carrying s.
func (b Book) WithLendingState(s LendingState, now time.Time) Book {
	b.Status = s.Status
	b.IssuedTo = s.IssuedTo
	b.ReservedFor = s.ReservedFor
	b.UpdatedAt = now
	return b
}

func Available() LendingState {
	return LendingState{Status: StatusAvailable}
}

func CheckedOutTo(userID string) LendingState {
	return LendingState{Status: StatusCheckedOut, IssuedTo: &userID}
}

func ReservedBy(userID string) LendingState {
	return LendingState{Status: StatusReserved, ReservedFor: &userID}
}

// Validate checks that the holder fields agree with the status: issuedTo is set
// exactly when the book is checked out and reservedFor exactly when it is reserved.
func (s LendingState) Validate() error {
	switch s.Status {
	case StatusAvailable:
		if s.IssuedTo != nil || s.ReservedFor != nil {
			return apperr.Validation("an available book has no holder")
		}
	case StatusCheckedOut:
		if s.IssuedTo == nil || *s.IssuedTo == "" || s.ReservedFor != nil {
			return apperr.Validation("a checked out book must be issued to exactly one user")
		}
	case StatusReserved:
		if s.ReservedFor == nil || *s.ReservedFor == "" || s.IssuedTo != nil {
			return apperr.Validation("a reserved book must be reserved for exactly one user")
		}
	default:
		return apperr.Validation("unknown book status %q", s.Status)
	}
	return nil
}

// NewBook holds the caller-supplied fields of a book being created.
type NewBook struct {
	Title  string
	Author string
	Genre  string
	ISBN   string
}

// Normalize trims every field and rejects missing required ones.
func (n NewBook) Normalize() (NewBook, error) {
	out := NewBook{
		Title:  strings.TrimSpace(n.Title),
		Author: strings.TrimSpace(n.Author),
		Genre:  strings.TrimSpace(n.Genre),
		ISBN:   strings.TrimSpace(n.ISBN),
	}
	if err := requireText("title", out.Title); err != nil {
		return NewBook{}, err
	}
	if err := requireText("author", out.Author); err != nil {
		return NewBook{}, err
	}
	if err := requireText("genre", out.Genre); err != nil {
		return NewBook{}, err
	}
	return out, nil
}

// ISBNPtr returns nil for an absent isbn.
func (n NewBook) ISBNPtr() *string {
	if n.ISBN == "" {
		return nil
	}
	isbn := n.ISBN
	return &isbn
}

// UpdateFields lists the catalog fields a caller may change. A nil field is left as
// is. An empty ISBN clears it; the other fields must stay non-empty.
type UpdateFields struct {
	Title  *string
	Author *string
	Genre  *string
	ISBN   *string
}

func (f UpdateFields) Empty() bool {
	return f.Title == nil && f.Author == nil && f.Genre == nil && f.ISBN == nil
}

func (f UpdateFields) Normalize() (UpdateFields, error) {
	var out UpdateFields
	for _, fld := range []struct {
		name string
		in   *string
		out  **string
	}{
		{"title", f.Title, &out.Title},
		{"author", f.Author, &out.Author},
		{"genre", f.Genre, &out.Genre},
	} {
		if fld.in == nil {
			continue
		}
		v := strings.TrimSpace(*fld.in)
		if err := requireText(fld.name, v); err != nil {
			return UpdateFields{}, err
		}
		*fld.out = &v
	}
	if f.ISBN != nil {
		v := strings.TrimSpace(*f.ISBN)
		out.ISBN = &v
	}
	return out, nil
}

// Apply returns b with the fields changed.
func (f UpdateFields) Apply(b Book, now time.Time) Book {
	if f.Title != nil {
		b.Title = *f.Title
	}
	if f.Author != nil {
		b.Author = *f.Author
	}
	if f.Genre != nil {
		b.Genre = *f.Genre
	}
	if f.ISBN != nil {
		if *f.ISBN == "" {
			b.ISBN = nil
		} else {
			isbn := *f.ISBN
			b.ISBN = &isbn
		}
	}
	b.UpdatedAt = now
	return b
}

func requireText(field, v string) error {
	if v == "" {
		return apperr.FieldValidation(field, "%s is required", field)
	}
	return nil
}
