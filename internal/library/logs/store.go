package logs

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const logColumns = `log_id, member_id, book_title, department, semester, email, logged_by, created_at`

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func (s *Store) Insert(ctx context.Context, l *OutsideBook) error {
	const q = `
	INSERT INTO outside_books
	(member_id, book_title, department, semester, email, logged_by, created_at)
	VALUES
	(?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		l.MemberID, l.BookTitle, l.Department, l.Semester, l.Email, l.LoggedBy, l.CreatedAt,
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apierr.ErrNotFound("member not found")
		}
		return fmt.Errorf("insert outside book log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	l.LogID = id
	return nil
}

// List: 新しい順に limit 件
func (s *Store) List(ctx context.Context, f LogFilter, limit int) ([]OutsideBook, error) {
	ds := db.Dialect(s.db).From("outside_books")

	if f.MemberID != nil {
		ds = ds.Where(goqu.C("member_id").Eq(*f.MemberID))
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		ds = ds.Where(goqu.Or(
			goqu.L("INSTR(LOWER(book_title), ?) > 0", q),
			goqu.L("INSTR(LOWER(member_id), ?) > 0", q),
		))
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("created_at").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("created_at").Lt(*f.To))
	}

	q, args, err := ds.
		Select(goqu.L(logColumns)).
		Order(goqu.C("created_at").Desc(), goqu.C("log_id").Desc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	var out []OutsideBook
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list outside book logs: %w", err)
	}
	return out, nil
}
