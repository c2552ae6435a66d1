package lending_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingapi/internal/apperr"
	"lendingapi/internal/auth"
	"lendingapi/internal/book"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/testutil"
	"lendingapi/internal/user"
)

func TestPostgresStore_ConcurrentBorrow(t *testing.T) {
	pool := testutil.OpenTestDB(t)
	ctx := context.Background()
	books := book.NewPostgresRepo(pool, 3*time.Second)
	engine := lending.NewEngine(lending.NewPostgresStore(pool, 3*time.Second))

	b, err := books.Create(ctx, testutil.TestBook)
	require.NoError(t, err)

	const n = 8
	actors := make([]auth.Identity, n)
	for i := range actors {
		u := user.User{
			ID:    fmt.Sprintf("00000000-0000-4000-8000-%012d", i+1),
			Name:  fmt.Sprintf("reader %d", i),
			Email: fmt.Sprintf("reader%d@example.com", i),
			Role:  auth.RoleUser,
		}
		testutil.SeedUser(t, pool, u)
		actors[i] = testutil.IdentityOf(u)
	}

	var wg sync.WaitGroup
	results := make([]lending.BorrowResult, n)
	errs := make([]error, n)
	for i := range actors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Borrow(ctx, actors[i], lending.BorrowRequest{
				BookID: b.ID, DueDate: time.Now().Add(24 * time.Hour),
			})
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			assert.Equal(t, -1, winner, "two borrows succeeded")
			winner = i
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindConflict), "unexpected error: %v", err)
	}
	require.NotEqual(t, -1, winner)

	stored, err := books.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusCheckedOut, stored.Status)
	assert.Equal(t, actors[winner].UserID, *stored.IssuedTo)

	assert.ErrorIs(t, books.Delete(ctx, b.ID), book.ErrHasOpenLoan)

	ret, err := engine.Return(ctx, actors[winner], results[winner].Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusAvailable, ret.Book.Status)
	require.NoError(t, books.Delete(ctx, b.ID))
}

func TestPostgresStore_ReturnAfterBookDeleted(t *testing.T) {
	pool := testutil.OpenTestDB(t)
	ctx := context.Background()
	books := book.NewPostgresRepo(pool, 3*time.Second)
	engine := lending.NewEngine(lending.NewPostgresStore(pool, 3*time.Second))

	b, err := books.Create(ctx, testutil.TestBook)
	require.NoError(t, err)
	testutil.SeedUser(t, pool, testutil.TestUser)
	actor := testutil.IdentityOf(testutil.TestUser)

	borrowed, err := engine.Borrow(ctx, actor, lending.BorrowRequest{BookID: b.ID, DueDate: time.Now().Add(24 * time.Hour)})
	require.NoError(t, err)

	// Bypasses the repository, which refuses while the loan is open.
	_, err = pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, b.ID)
	require.NoError(t, err)

	res, err := engine.Return(ctx, actor, borrowed.Transaction.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Book)
	assert.NotNil(t, res.Transaction.ClosedAt)

	view, err := loan.NewPostgresRepo(pool, 3*time.Second).GetView(ctx, borrowed.Transaction.ID)
	require.NoError(t, err)
	assert.False(t, view.Open())
	assert.Nil(t, view.Book)
}
