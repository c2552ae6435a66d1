package book

import (
	"context"
	"strings"

	"lendingapi/internal/apperr"
)

// Service provides the catalog operations.
type Service struct {
	repo Repository
}

// NewService creates a new book service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Page is one page of a catalog listing.
type Page struct {
	Items      []Book
	Pagination Pagination
}

func (s *Service) Create(ctx context.Context, nb NewBook) (Book, error) {
	nb, err := nb.Normalize()
	if err != nil {
		return Book{}, err
	}
	return s.repo.Create(ctx, nb)
}

func (s *Service) Update(ctx context.Context, id string, f UpdateFields) (Book, error) {
	if err := requireID(id); err != nil {
		return Book{}, err
	}
	f, err := f.Normalize()
	if err != nil {
		return Book{}, err
	}
	if f.Empty() {
		return s.repo.GetByID(ctx, id)
	}
	return s.repo.Update(ctx, id, f)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (Book, error) {
	if err := requireID(id); err != nil {
		return Book{}, err
	}
	return s.repo.GetByID(ctx, id)
}

// List returns the page of books selected by p. A page past the end is empty but
// still carries the pagination of the whole result.
func (s *Service) List(ctx context.Context, p ListParams) (Page, error) {
	plan, err := p.Plan()
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.List(ctx, plan)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Book{}
	}
	return Page{Items: items, Pagination: plan.Pagination(total)}, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.FieldValidation("id", "book id is required")
	}
	return nil
}
