package loan

import (
	"context"
	"strings"
	"time"

	"lendingapi/internal/apperr"
	"lendingapi/internal/auth"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Pagination struct {
	TotalCount  int `json:"totalCount"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

type Page struct {
	Items      []View
	Pagination Pagination
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	if err := requireID(id); err != nil {
		return View{}, err
	}
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return View{}, err
	}
	v.Overdue = v.Transaction.Overdue(s.now())
	return v, nil
}

// List returns ledger rows visible to actor. Non-admins only ever see their own
// loans, whatever userId they asked for.
func (s *Service) List(ctx context.Context, actor auth.Identity, f ListFilter) (Page, error) {
	if !actor.IsAdmin() {
		if f.UserID != "" && f.UserID != actor.UserID {
			return Page{}, apperr.Forbidden("only administrators may list other users' loans")
		}
		f.UserID = actor.UserID
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.State == "" {
		f.State = StateAll
	}

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	now := s.now()
	for i := range items {
		items[i].Overdue = items[i].Transaction.Overdue(now)
	}
	if items == nil {
		items = []View{}
	}
	return Page{
		Items: items,
		Pagination: Pagination{
			TotalCount:  total,
			TotalPages:  (total + f.PageSize - 1) / f.PageSize,
			CurrentPage: f.Page,
			PageSize:    f.PageSize,
		},
	}, nil
}

// UpdateReturnDate corrects the expected return date of an open loan.
func (s *Service) UpdateReturnDate(ctx context.Context, id string, returnDate time.Time) (Transaction, error) {
	if err := requireID(id); err != nil {
		return Transaction{}, err
	}
	if returnDate.IsZero() {
		return Transaction{}, apperr.FieldValidation("returnDate", "returnDate is required")
	}
	if returnDate.Before(s.now()) {
		return Transaction{}, apperr.FieldValidation("returnDate", "returnDate must not be in the past")
	}
	return s.repo.UpdateReturnDate(ctx, id, returnDate)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.FieldValidation("id", "transaction id is required")
	}
	return nil
}
