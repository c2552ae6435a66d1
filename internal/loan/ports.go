package loan

import (
	"context"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=loan

// Repository is the ledger's storage. Opening and closing loans goes through the
// lending unit of work instead, paired with the book transition.
type Repository interface {
	GetView(ctx context.Context, id string) (View, error)
	List(ctx context.Context, f ListFilter) ([]View, int, error)
	// UpdateReturnDate changes the due date of an open loan. It fails with
	// ErrAlreadyReturned on a closed one and with VALIDATION when returnDate is
	// before the borrow date; the check and the write are atomic.
	UpdateReturnDate(ctx context.Context, id string, returnDate time.Time) (Transaction, error)
	// Delete removes a closed loan; open loans fail with ErrStillOpen.
	Delete(ctx context.Context, id string) error
}
