package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"LIBRIS-backend/internal/platform/db"
)

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func (s *Store) bookTotals(ctx context.Context) (bookTotals, error) {
	const q = `
	SELECT COUNT(*) AS titles,
		COALESCE(SUM(total_copies), 0) AS total_copies,
		COALESCE(SUM(available_copies), 0) AS available_copies
	FROM books`
	var t bookTotals
	if err := s.db.GetContext(ctx, &t, q); err != nil {
		return t, fmt.Errorf("book totals: %w", err)
	}
	return t, nil
}

func (s *Store) memberCounts(ctx context.Context) (total, active int64, err error) {
	if err = s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM members`); err != nil {
		return 0, 0, fmt.Errorf("count members: %w", err)
	}
	if err = s.db.GetContext(ctx, &active, `SELECT COUNT(*) FROM members WHERE status = 'active'`); err != nil {
		return 0, 0, fmt.Errorf("count active members: %w", err)
	}
	return total, active, nil
}

func (s *Store) loanCounts(ctx context.Context, now time.Time) (active, overdue int64, err error) {
	if err = s.db.GetContext(ctx, &active, `SELECT COUNT(*) FROM loans WHERE status <> 'returned'`); err != nil {
		return 0, 0, fmt.Errorf("count active loans: %w", err)
	}
	const q = `SELECT COUNT(*) FROM loans WHERE status <> 'returned' AND due_at < ?`
	if err = s.db.GetContext(ctx, &overdue, q, now); err != nil {
		return 0, 0, fmt.Errorf("count overdue loans: %w", err)
	}
	return active, overdue, nil
}

func (s *Store) finesCollected(ctx context.Context) (float64, error) {
	var sum float64
	if err := s.db.GetContext(ctx, &sum, `SELECT COALESCE(SUM(fine), 0) FROM loans WHERE status = 'returned'`); err != nil {
		return 0, fmt.Errorf("sum fines: %w", err)
	}
	return sum, nil
}

// activeByType: 利用者種別ごとの貸出中件数
func (s *Store) activeByType(ctx context.Context) ([]typeCount, error) {
	q, args, err := db.Dialect(s.db).
		From(goqu.T("loans").As("l")).
		InnerJoin(goqu.T("members").As("m"), goqu.On(goqu.I("m.member_id").Eq(goqu.I("l.member_id")))).
		Where(goqu.I("l.status").Neq("returned")).
		GroupBy(goqu.I("m.member_type")).
		Select(goqu.I("m.member_type").As("member_type"), goqu.COUNT(goqu.Star()).As("cnt")).
		Order(goqu.I("m.member_type").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build group query: %w", err)
	}
	var out []typeCount
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("active by type: %w", err)
	}
	return out, nil
}
