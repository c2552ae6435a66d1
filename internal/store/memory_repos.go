package store

import (
	"context"
	"sort"
	"time"

	"lendingapi/internal/book"
	"lendingapi/internal/loan"
	"lendingapi/internal/user"
)

// BookRepo implements book.Repository over a Memory arena.
type BookRepo struct{ m *Memory }

func (r *BookRepo) Create(ctx context.Context, nb book.NewBook) (book.Book, error) {
	var out book.Book
	err := r.m.write(ctx, func() error {
		if nb.ISBN != "" {
			if _, taken := r.m.isbns[nb.ISBN]; taken {
				return book.ErrDuplicateISBN
			}
		}
		now := r.m.now()
		out = book.Book{
			ID:        r.m.newID(),
			Title:     nb.Title,
			Author:    nb.Author,
			Genre:     nb.Genre,
			ISBN:      nb.ISBNPtr(),
			Status:    book.StatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.m.books[out.ID] = out
		if out.ISBN != nil {
			r.m.isbns[*out.ISBN] = out.ID
		}
		return nil
	})
	return out, err
}

func (r *BookRepo) Update(ctx context.Context, id string, f book.UpdateFields) (book.Book, error) {
	var out book.Book
	err := r.m.write(ctx, func() error {
		b, ok := r.m.books[id]
		if !ok {
			return book.ErrNotFound
		}
		if f.ISBN != nil && *f.ISBN != "" {
			if owner, taken := r.m.isbns[*f.ISBN]; taken && owner != id {
				return book.ErrDuplicateISBN
			}
		}
		if b.ISBN != nil {
			delete(r.m.isbns, *b.ISBN)
		}
		out = f.Apply(b, r.m.now())
		r.m.books[id] = out
		if out.ISBN != nil {
			r.m.isbns[*out.ISBN] = id
		}
		return nil
	})
	return out, err
}

func (r *BookRepo) Delete(ctx context.Context, id string) error {
	return r.m.write(ctx, func() error {
		b, ok := r.m.books[id]
		if !ok {
			return book.ErrNotFound
		}
		if r.m.openByBook[id] != "" {
			return book.ErrHasOpenLoan
		}
		if b.ISBN != nil {
			delete(r.m.isbns, *b.ISBN)
		}
		delete(r.m.books, id)
		return nil
	})
}

func (r *BookRepo) GetByID(ctx context.Context, id string) (book.Book, error) {
	if err := ctx.Err(); err != nil {
		return book.Book{}, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	b, ok := r.m.books[id]
	if !ok {
		return book.Book{}, book.ErrNotFound
	}
	return b, nil
}

func (r *BookRepo) List(ctx context.Context, plan book.Plan) ([]book.Book, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.m.mu.RLock()
	all := make([]book.Book, 0, len(r.m.books))
	for _, b := range r.m.books {
		all = append(all, b)
	}
	r.m.mu.RUnlock()

	items, total := plan.Apply(all)
	return items, total, nil
}

// LoanRepo implements loan.Repository over a Memory arena.
type LoanRepo struct{ m *Memory }

func (r *LoanRepo) GetView(ctx context.Context, id string) (loan.View, error) {
	if err := ctx.Err(); err != nil {
		return loan.View{}, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.loans[id]
	if !ok {
		return loan.View{}, loan.ErrNotFound
	}
	return r.view(t), nil
}

// view joins t with its borrower and book; callers hold mu.
func (r *LoanRepo) view(t loan.Transaction) loan.View {
	v := loan.View{Transaction: t}
	if u, ok := r.m.users[t.UserID]; ok {
		v.User = u.Summary()
	} else {
		v.User = user.Summary{ID: t.UserID}
	}
	if b, ok := r.m.books[t.BookID]; ok {
		v.Book = &loan.BookSummary{ID: b.ID, Title: b.Title, Author: b.Author, Genre: b.Genre}
	}
	return v
}

func (r *LoanRepo) List(ctx context.Context, f loan.ListFilter) ([]loan.View, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	matched := make([]loan.Transaction, 0)
	for _, t := range r.m.loans {
		if f.Matches(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return f.Less(matched[i], matched[j]) })

	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []loan.View{}, total, nil
	}
	end := min(start+f.PageSize, total)
	views := make([]loan.View, 0, end-start)
	for _, t := range matched[start:end] {
		views = append(views, r.view(t))
	}
	return views, total, nil
}

func (r *LoanRepo) UpdateReturnDate(ctx context.Context, id string, returnDate time.Time) (loan.Transaction, error) {
	var out loan.Transaction
	err := r.m.write(ctx, func() error {
		t, ok := r.m.loans[id]
		if !ok {
			return loan.ErrNotFound
		}
		if !t.Open() {
			return loan.ErrAlreadyReturned
		}
		if err := loan.ValidateReturnDate(t.BorrowedDate, returnDate, r.m.now()); err != nil {
			return err
		}
		t.ReturnDate = returnDate
		r.m.loans[id] = t
		out = t
		return nil
	})
	return out, err
}

func (r *LoanRepo) Delete(ctx context.Context, id string) error {
	return r.m.write(ctx, func() error {
		t, ok := r.m.loans[id]
		if !ok {
			return loan.ErrNotFound
		}
		if t.Open() {
			return loan.ErrStillOpen
		}
		delete(r.m.loans, id)
		return nil
	})
}

// UserRepo implements user.Repository over a Memory arena.
type UserRepo struct{ m *Memory }

// Create keeps a caller-supplied id and assigns one otherwise.
func (r *UserRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	if err := u.Validate(); err != nil {
		return user.User{}, err
	}
	err := r.m.write(ctx, func() error {
		if _, taken := r.m.emails[u.Email]; taken {
			return user.ErrAlreadyExists
		}
		if u.ID == "" {
			u.ID = r.m.newID()
		}
		if _, taken := r.m.users[u.ID]; taken {
			return user.ErrAlreadyExists
		}
		u.CreatedAt = r.m.now()
		r.m.users[u.ID] = u
		r.m.emails[u.Email] = u.ID
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

var (
	_ book.Repository = (*BookRepo)(nil)
	_ loan.Repository = (*LoanRepo)(nil)
	_ user.Repository = (*UserRepo)(nil)
)
