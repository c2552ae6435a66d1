package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/apperr"
	"lendingapi/internal/platform/postgres"
)

const (
	dialectPostgres          = "postgres"
	selectTransactionColumns = "id, user_id, book_id, borrowed_date, return_date, closed_at"
)

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// ScanTransaction reads a row selected with the standard transaction columns.
func ScanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.BookID, &t.BorrowedDate, &t.ReturnDate, &t.ClosedAt)
	return t, err
}

func (r *PostgresRepo) getByID(ctx context.Context, id string) (Transaction, error) {
	const sql = `SELECT ` + selectTransactionColumns + ` FROM transactions WHERE id = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	t, err := ScanTransaction(r.db.QueryRow(ctx, sql, id))
	if err != nil {
		return Transaction{}, postgres.Classify(err, ErrNotFound, "get transaction")
	}
	return t, nil
}

func (r *PostgresRepo) GetView(ctx context.Context, id string) (View, error) {
	sql, args, err := viewSelect().Where(goqu.I("t.id").Eq(id)).Prepared(true).ToSQL()
	if err != nil {
		return View{}, fmt.Errorf("build view query: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	v, err := scanView(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return View{}, postgres.Classify(err, ErrNotFound, "get transaction")
	}
	return v, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]View, int, error) {
	countSQL, countArgs, dataSQL, dataArgs, err := ListSQL(f)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "count transactions")
	}
	if f.Offset() >= total {
		return []View{}, total, nil
	}

	rows, err := r.db.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "list transactions")
	}
	defer rows.Close()

	out := make([]View, 0, f.PageSize)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, postgres.Classify(err, ErrNotFound, "scan transaction")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "list transactions")
	}
	return out, total, nil
}

// UpdateReturnDate writes only when the loan is still open and the new date is not
// before the borrow date. When nothing matched, the row is re-read to tell a
// missing loan from a closed one.
func (r *PostgresRepo) UpdateReturnDate(ctx context.Context, id string, returnDate time.Time) (Transaction, error) {
	const sql = `
		UPDATE transactions SET return_date = $2
		WHERE id = $1 AND closed_at IS NULL AND borrowed_date <= $2
		RETURNING ` + selectTransactionColumns

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	t, err := ScanTransaction(r.db.QueryRow(ctx, sql, id, returnDate))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, postgres.Classify(err, ErrNotFound, "update transaction")
	}

	current, err := r.getByID(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if !current.Open() {
		return Transaction{}, ErrAlreadyReturned
	}
	return Transaction{}, apperr.FieldValidation("returnDate", "returnDate must not be before borrowedDate")
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND closed_at IS NOT NULL`, id)
	if err != nil {
		return postgres.Classify(err, ErrNotFound, "delete transaction")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.getByID(ctx, id); err != nil {
		return err
	}
	return ErrStillOpen
}

func viewSelect() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(goqu.T("transactions").As("t")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("t.user_id")))).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("t.book_id")))).
		Select(
			goqu.I("t.id"), goqu.I("t.user_id"), goqu.I("t.book_id"),
			goqu.I("t.borrowed_date"), goqu.I("t.return_date"), goqu.I("t.closed_at"),
			goqu.I("u.name"), goqu.I("u.email"),
			goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.genre"),
		)
}

func scanView(row pgx.Row) (View, error) {
	var v View
	var title, author, genre *string
	err := row.Scan(
		&v.ID, &v.UserID, &v.BookID, &v.BorrowedDate, &v.ReturnDate, &v.ClosedAt,
		&v.User.Name, &v.User.Email,
		&title, &author, &genre,
	)
	if err != nil {
		return View{}, err
	}
	v.User.ID = v.UserID
	if title != nil {
		v.Book = &BookSummary{ID: v.BookID, Title: *title, Author: deref(author), Genre: deref(genre)}
	}
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListSQL renders the count and page queries for f.
func ListSQL(f ListFilter) (countSQL string, countArgs []any, dataSQL string, dataArgs []any, err error) {
	where := filterConditions(f)

	countSQL, countArgs, err = goqu.Dialect(dialectPostgres).
		From(goqu.T("transactions").As("t")).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build count query: %w", err)
	}

	order := goqu.I("t.borrowed_date").Desc()
	if !f.Desc {
		order = goqu.I("t.borrowed_date").Asc()
	}
	dataSQL, dataArgs, err = viewSelect().
		Where(where...).
		Order(order, goqu.I("t.id").Asc()).
		Limit(uint(f.PageSize)).
		Offset(uint(f.Offset())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build list query: %w", err)
	}
	return countSQL, countArgs, dataSQL, dataArgs, nil
}

func filterConditions(f ListFilter) []exp.Expression {
	var where []exp.Expression
	if f.UserID != "" {
		where = append(where, goqu.I("t.user_id").Eq(f.UserID))
	}
	switch f.State {
	case StateOpen:
		where = append(where, goqu.I("t.closed_at").IsNull())
	case StateClosed:
		where = append(where, goqu.I("t.closed_at").IsNotNull())
	}
	return where
}
