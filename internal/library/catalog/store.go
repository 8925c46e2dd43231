package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

// ErrNoCopiesLeft: 在庫カウンタの減算ガードに引っかかった（同時貸出で先を越された等）
var ErrNoCopiesLeft = errors.New("available copies would drop below zero")

const bookColumns = `accession_number, title, author, isbn, publisher, category,
	total_copies, available_copies, created_at, updated_at`

type Store struct {
	db db.DBTX
}

// NewStore は *sqlx.DB でも *sqlx.Tx でも受け取れる
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func (s *Store) GetBook(ctx context.Context, accessionNumber string) (*Book, error) {
	const q = `SELECT ` + bookColumns + ` FROM books WHERE accession_number = ?`
	var b Book
	if err := s.db.GetContext(ctx, &b, q, accessionNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("book not found")
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

// UpdateAvailable は貸出可能数を delta だけ動かす。
//   - delta < 0: available_copies + delta >= 0 の条件付き UPDATE（CAS）。満たさなければ ErrNoCopiesLeft
//   - delta > 0: total_copies を上限にクランプ
func (s *Store) UpdateAvailable(ctx context.Context, accessionNumber string, delta int, now time.Time) (*Book, error) {
	var (
		res sql.Result
		err error
	)
	if delta < 0 {
		const q = `
		UPDATE books
		SET available_copies = available_copies + ?, updated_at = ?
		WHERE accession_number = ?
		AND available_copies + ? >= 0`
		res, err = s.db.ExecContext(ctx, q, delta, now, accessionNumber, delta)
	} else {
		const q = `
		UPDATE books
		SET available_copies = CASE
			WHEN available_copies + ? > total_copies THEN total_copies
			ELSE available_copies + ?
		END,
		updated_at = ?
		WHERE accession_number = ?`
		res, err = s.db.ExecContext(ctx, q, delta, delta, now, accessionNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("update available_copies: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if aff == 0 {
		// 行が無いのか、ガードで弾かれたのかを切り分ける
		b, gerr := s.GetBook(ctx, accessionNumber)
		if gerr != nil {
			return nil, gerr
		}
		// 加算側にガードは無い。MySQL は値が変わらない UPDATE を 0 件と数えることがある
		if delta > 0 {
			return b, nil
		}
		return nil, ErrNoCopiesLeft
	}
	return s.GetBook(ctx, accessionNumber)
}

// AdjustCopies は蔵書数と貸出可能数を同じだけ動かす（複本の受入・除籍）。
// 棚にある冊数より多くは除籍できない。
func (s *Store) AdjustCopies(ctx context.Context, accessionNumber string, delta int, now time.Time) error {
	const q = `
	UPDATE books
	SET total_copies = total_copies + ?, available_copies = available_copies + ?, updated_at = ?
	WHERE accession_number = ?
	AND available_copies + ? >= 0
	AND total_copies + ? >= 1`
	res, err := s.db.ExecContext(ctx, q, delta, delta, now, accessionNumber, delta, delta)
	if err != nil {
		return fmt.Errorf("adjust copies: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		if _, gerr := s.GetBook(ctx, accessionNumber); gerr != nil {
			return gerr
		}
		return ErrNoCopiesLeft
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, b *Book) error {
	const q = `
	INSERT INTO books
	(accession_number, title, author, isbn, publisher, category, total_copies, available_copies, created_at, updated_at)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		b.AccessionNumber, b.Title, b.Author, b.ISBN, b.Publisher, b.Category,
		b.TotalCopies, b.AvailableCopies, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("accession_number already exists")
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// UpdateDetails: 書誌情報のみ更新（冊数は AdjustCopies / UpdateAvailable 経由）
func (s *Store) UpdateDetails(ctx context.Context, b *Book) error {
	const q = `
	UPDATE books
	SET title = ?, author = ?, isbn = ?, publisher = ?, category = ?, updated_at = ?
	WHERE accession_number = ?`
	res, err := s.db.ExecContext(ctx, q,
		b.Title, b.Author, b.ISBN, b.Publisher, b.Category, b.UpdatedAt, b.AccessionNumber,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return apierr.ErrNotFound("book not found")
	}
	return nil
}

// CountOpenLoans: 未返却の貸出件数
func (s *Store) CountOpenLoans(ctx context.Context, accessionNumber string) (int, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE accession_number = ? AND status <> 'returned'`
	var n int
	if err := s.db.GetContext(ctx, &n, q, accessionNumber); err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, accessionNumber string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE accession_number = ?`, accessionNumber)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apierr.ErrConflict("book has loan history and cannot be deleted")
		}
		return fmt.Errorf("delete book: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return apierr.ErrNotFound("book not found")
	}
	return nil
}

func (s *Store) List(ctx context.Context, f BookQuery, p Page) ([]Book, int64, error) {
	ds := db.Dialect(s.db).From("books")

	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		ds = ds.Where(goqu.Or(
			containsFold("accession_number", q),
			containsFold("title", q),
			containsFold("author", q),
			containsFold("isbn", q),
		))
	}
	if f.Category != nil {
		ds = ds.Where(goqu.C("category").Eq(*f.Category))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}

	countSQL, countArgs, err := db.CountOf(ds).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	order := goqu.C("title").Asc()
	if strings.ToLower(p.Order) == "desc" {
		order = goqu.C("title").Desc()
	}
	listSQL, args, err := ds.
		Select(goqu.L(bookColumns)).
		Order(order, goqu.C("accession_number").Asc()).
		Limit(uint(p.Limit)).
		Offset(uint(p.Offset)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	var out []Book
	if err := s.db.SelectContext(ctx, &out, listSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return out, total, nil
}

// containsFold: 大文字小文字を区別しない部分一致。LIKE のエスケープ差異（MySQL/SQLite）を避けて INSTR を使う
func containsFold(col, lowered string) goqu.Expression {
	return goqu.L("INSTR(LOWER(COALESCE(?, '')), ?) > 0", goqu.I(col), lowered)
}
