package book

import (
	"context"
)

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=book

// Repository defines the contract for book data storage. Implementations set the
// timestamps and never change the lending state from Update.
type Repository interface {
	Create(ctx context.Context, nb NewBook) (Book, error)
	Update(ctx context.Context, id string, f UpdateFields) (Book, error)
	// Delete removes the book unless an open loan references it. The check and the
	// removal are one atomic step.
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Book, error)
	List(ctx context.Context, plan Plan) ([]Book, int, error)
}
