package book

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendingapi/internal/platform/postgres"
)

const (
	tableBooks           = "books"
	constraintISBN       = "books_isbn_key"
	colID                = "id"
	colTitle             = "title"
	colAuthor            = "author"
	colGenre             = "genre"
	colISBN              = "isbn"
	colStatus            = "status"
	colCreatedAt         = "created_at"
	colUpdatedAt         = "updated_at"
	dialectPostgres      = "postgres"
	selectBookColumns    = "id, title, author, genre, isbn, status, issued_to, reserved_for, created_at, updated_at"
	returningBookColumns = "RETURNING " + selectBookColumns
)

var bookColumns = []any{colID, colTitle, colAuthor, colGenre, colISBN, colStatus, "issued_to", "reserved_for", colCreatedAt, colUpdatedAt}

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

// ScanBook reads one row selected with the standard book column list.
func ScanBook(row pgx.Row) (Book, error) {
	var b Book
	var status string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.ISBN, &status,
		&b.IssuedTo, &b.ReservedFor, &b.CreatedAt, &b.UpdatedAt)
	b.Status = Status(status)
	return b, err
}

func (r *PostgresRepo) Create(ctx context.Context, nb NewBook) (Book, error) {
	const sql = `
		INSERT INTO books (title, author, genre, isbn, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'AVAILABLE', NOW(), NOW())
		` + returningBookColumns

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := ScanBook(r.db.QueryRow(ctx, sql, nb.Title, nb.Author, nb.Genre, nb.ISBNPtr()))
	if err != nil {
		if postgres.IsUniqueViolation(err, constraintISBN) {
			return Book{}, ErrDuplicateISBN
		}
		return Book{}, postgres.Classify(err, ErrNotFound, "create book")
	}
	return b, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id string, f UpdateFields) (Book, error) {
	rec := goqu.Record{colUpdatedAt: goqu.L("NOW()")}
	if f.Title != nil {
		rec[colTitle] = *f.Title
	}
	if f.Author != nil {
		rec[colAuthor] = *f.Author
	}
	if f.Genre != nil {
		rec[colGenre] = *f.Genre
	}
	if f.ISBN != nil {
		if *f.ISBN == "" {
			rec[colISBN] = nil
		} else {
			rec[colISBN] = *f.ISBN
		}
	}
	sql, args, err := goqu.Dialect(dialectPostgres).
		Update(tableBooks).
		Set(rec).
		Where(goqu.C(colID).Eq(id)).
		Returning(bookColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return Book{}, fmt.Errorf("build update: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := ScanBook(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if postgres.IsUniqueViolation(err, constraintISBN) {
			return Book{}, ErrDuplicateISBN
		}
		return Book{}, postgres.Classify(err, ErrNotFound, "update book")
	}
	return b, nil
}

// Delete locks the book row first so a concurrent borrow either completes before
// the open-loan check or finds the book gone.
func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return postgres.Classify(err, ErrNotFound, "delete book")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM books WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return postgres.Classify(err, ErrNotFound, "delete book")
	}
	var open bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE book_id = $1 AND closed_at IS NULL)`, id,
	).Scan(&open); err != nil {
		return postgres.Classify(err, ErrNotFound, "delete book")
	}
	if open {
		return ErrHasOpenLoan
	}
	if _, err := tx.Exec(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
		return postgres.Classify(err, ErrNotFound, "delete book")
	}
	if err := tx.Commit(ctx); err != nil {
		return postgres.Classify(err, ErrNotFound, "delete book")
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Book, error) {
	const sql = `SELECT ` + selectBookColumns + ` FROM books WHERE id = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := ScanBook(r.db.QueryRow(ctx, sql, id))
	if err != nil {
		return Book{}, postgres.Classify(err, ErrNotFound, "get book")
	}
	return b, nil
}

func (r *PostgresRepo) List(ctx context.Context, plan Plan) ([]Book, int, error) {
	countSQL, countArgs, dataSQL, dataArgs, err := ListSQL(plan)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "count books")
	}
	if plan.Offset() >= total {
		return []Book{}, total, nil
	}

	rows, err := r.db.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "list books")
	}
	defer rows.Close()

	out := make([]Book, 0, plan.Limit())
	for rows.Next() {
		b, err := ScanBook(rows)
		if err != nil {
			return nil, 0, postgres.Classify(err, ErrNotFound, "scan book")
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, postgres.Classify(err, ErrNotFound, "list books")
	}
	return out, total, nil
}

// ListSQL renders the count and page queries for plan.
func ListSQL(plan Plan) (countSQL string, countArgs []any, dataSQL string, dataArgs []any, err error) {
	where := planConditions(plan)
	base := goqu.Dialect(dialectPostgres).From(tableBooks).Where(where...)

	countSQL, countArgs, err = base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build count query: %w", err)
	}

	sortCol := goqu.C(colCreatedAt)
	if plan.SortBy == SortByTitle {
		sortCol = goqu.C(colTitle)
	}
	order := sortCol.Desc()
	if !plan.Desc {
		order = sortCol.Asc()
	}

	dataSQL, dataArgs, err = base.
		Select(bookColumns...).
		Order(order, goqu.C(colID).Asc()).
		Limit(uint(plan.Limit())).
		Offset(uint(plan.Offset())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("build list query: %w", err)
	}
	return countSQL, countArgs, dataSQL, dataArgs, nil
}

func planConditions(plan Plan) []exp.Expression {
	var where []exp.Expression
	if plan.Status != "" {
		where = append(where, goqu.C(colStatus).Eq(string(plan.Status)))
	}
	if plan.Query != "" {
		pattern := LikePattern(plan.Query)
		where = append(where, goqu.Or(
			goqu.C(colTitle).ILike(pattern),
			goqu.C(colAuthor).ILike(pattern),
			goqu.C(colGenre).ILike(pattern),
		))
	}
	return where
}
