package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingapi/internal/apperr"
	"lendingapi/internal/book"
	"lendingapi/internal/lending"
	"lendingapi/internal/loan"
	"lendingapi/internal/user"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMemory() *Memory {
	n := 0
	return NewMemory(
		WithClock(func() time.Time { return testNow }),
		WithIDs(func() string {
			n++
			return fmt.Sprintf("id-%03d", n)
		}),
	)
}

func seedBook(t *testing.T, m *Memory, title string) book.Book {
	t.Helper()
	b, err := m.Books().Create(context.Background(), book.NewBook{Title: title, Author: "A", Genre: "G"})
	require.NoError(t, err)
	return b
}

func seedUser(t *testing.T, m *Memory, email string) user.User {
	t.Helper()
	u, err := m.Users().Create(context.Background(), user.User{Name: "Reader", Email: email})
	require.NoError(t, err)
	return u
}

// openLoan checks b out to u through the unit of work.
func openLoan(t *testing.T, m *Memory, b book.Book, u user.User) loan.Transaction {
	t.Helper()
	var out loan.Transaction
	err := m.WithinTx(context.Background(), func(tx lending.Tx) error {
		if _, err := tx.SetBookLending(context.Background(), b.ID, book.CheckedOutTo(u.ID), testNow); err != nil {
			return err
		}
		var err error
		out, err = tx.InsertTransaction(context.Background(), loan.Transaction{
			UserID: u.ID, BookID: b.ID, BorrowedDate: testNow, ReturnDate: testNow.Add(24 * time.Hour),
		})
		return err
	})
	require.NoError(t, err)
	return out
}

func TestMemory_WithinTxCommitsTogether(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	u := seedUser(t, m, "a@example.com")

	tr := openLoan(t, m, b, u)

	got, err := m.Books().GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusCheckedOut, got.Status)
	require.NotNil(t, got.IssuedTo)
	assert.Equal(t, u.ID, *got.IssuedTo)

	stored, err := m.Loans().GetView(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.True(t, stored.Open())
}

func TestMemory_WithinTxDiscardsOnError(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	boom := errors.New("boom")

	err := m.WithinTx(context.Background(), func(tx lending.Tx) error {
		if _, err := tx.SetBookLending(context.Background(), b.ID, book.CheckedOutTo("u1"), testNow); err != nil {
			return err
		}
		staged, err := tx.LockBook(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, book.StatusCheckedOut, staged.Status, "reads see staged writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.Books().GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusAvailable, got.Status)
}

func TestMemory_WithinTxDiscardsWhenContextEnds(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	ctx, cancel := context.WithCancel(context.Background())

	err := m.WithinTx(ctx, func(tx lending.Tx) error {
		_, err := tx.SetBookLending(ctx, b.ID, book.ReservedBy("u1"), testNow)
		cancel()
		return err
	})
	assert.True(t, apperr.Is(err, apperr.KindInfrastructure))

	got, err := m.Books().GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusAvailable, got.Status)
}

func TestMemory_WriterWaitHonorsContext(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = m.WithinTx(context.Background(), func(tx lending.Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Books().Update(ctx, b.ID, book.UpdateFields{Title: ptr("Other")})
	assert.True(t, apperr.Is(err, apperr.KindInfrastructure))

	close(release)
	<-done
}

func TestMemory_InsertRejectsSecondOpenLoan(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	u := seedUser(t, m, "a@example.com")
	openLoan(t, m, b, u)

	err := m.WithinTx(context.Background(), func(tx lending.Tx) error {
		_, err := tx.InsertTransaction(context.Background(), loan.Transaction{UserID: u.ID, BookID: b.ID})
		return err
	})
	assert.ErrorIs(t, err, loan.ErrBookOnLoan)
}

func TestMemory_CloseTransactionFreesBook(t *testing.T) {
	m := newTestMemory()
	b := seedBook(t, m, "Dune")
	u := seedUser(t, m, "a@example.com")
	tr := openLoan(t, m, b, u)

	assert.ErrorIs(t, m.Books().Delete(context.Background(), b.ID), book.ErrHasOpenLoan)

	err := m.WithinTx(context.Background(), func(tx lending.Tx) error {
		_, err := tx.CloseTransaction(context.Background(), tr.ID, testNow)
		return err
	})
	require.NoError(t, err)

	err = m.WithinTx(context.Background(), func(tx lending.Tx) error {
		_, err := tx.CloseTransaction(context.Background(), tr.ID, testNow)
		return err
	})
	assert.ErrorIs(t, err, loan.ErrAlreadyReturned)

	require.NoError(t, m.Books().Delete(context.Background(), b.ID))
	_, err = m.Books().GetByID(context.Background(), b.ID)
	assert.ErrorIs(t, err, book.ErrNotFound)
}

func TestBookRepo_ISBNUniqueness(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	first, err := m.Books().Create(ctx, book.NewBook{Title: "Dune", Author: "Herbert", Genre: "SF", ISBN: "9780441013593"})
	require.NoError(t, err)
	_, err = m.Books().Create(ctx, book.NewBook{Title: "Copy", Author: "X", Genre: "SF", ISBN: "9780441013593"})
	assert.ErrorIs(t, err, book.ErrDuplicateISBN)

	second := seedBook(t, m, "Emma")
	_, err = m.Books().Update(ctx, second.ID, book.UpdateFields{ISBN: ptr("9780441013593")})
	assert.ErrorIs(t, err, book.ErrDuplicateISBN)

	cleared, err := m.Books().Update(ctx, first.ID, book.UpdateFields{ISBN: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, cleared.ISBN)

	updated, err := m.Books().Update(ctx, second.ID, book.UpdateFields{ISBN: ptr("9780441013593")})
	require.NoError(t, err)
	assert.Equal(t, "9780441013593", *updated.ISBN)
}

func TestLoanRepo_ListAndJoin(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()
	alice := seedUser(t, m, "alice@example.com")
	bob := seedUser(t, m, "bob@example.com")

	dune := seedBook(t, m, "Dune")
	emma := seedBook(t, m, "Emma")
	openLoan(t, m, dune, alice)
	bobs := openLoan(t, m, emma, bob)

	views, total, err := m.Loans().List(ctx, loan.ListFilter{UserID: bob.ID, State: loan.StateAll, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, views, 1)
	assert.Equal(t, bobs.ID, views[0].ID)
	assert.Equal(t, "bob@example.com", views[0].User.Email)
	require.NotNil(t, views[0].Book)
	assert.Equal(t, "Emma", views[0].Book.Title)

	views, total, err = m.Loans().List(ctx, loan.ListFilter{State: loan.StateOpen, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Empty(t, views)
}

func TestLoanRepo_UpdateReturnDateAndDelete(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()
	tr := openLoan(t, m, seedBook(t, m, "Dune"), seedUser(t, m, "a@example.com"))

	_, err := m.Loans().UpdateReturnDate(ctx, tr.ID, testNow.Add(-time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	due := testNow.Add(72 * time.Hour)
	updated, err := m.Loans().UpdateReturnDate(ctx, tr.ID, due)
	require.NoError(t, err)
	assert.Equal(t, due, updated.ReturnDate)

	assert.ErrorIs(t, m.Loans().Delete(ctx, tr.ID), loan.ErrStillOpen)
	assert.ErrorIs(t, m.Loans().Delete(ctx, "nope"), loan.ErrNotFound)
}

func TestUserRepo_Create(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	u, err := m.Users().Create(ctx, user.User{ID: "fixed", Name: " Ann ", Email: "Ann@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", u.ID)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Equal(t, testNow, u.CreatedAt)

	_, err = m.Users().Create(ctx, user.User{Name: "Other", Email: "ann@example.com"})
	assert.ErrorIs(t, err, user.ErrAlreadyExists)

	_, err = m.Users().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func ptr(s string) *string { return &s }
