package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const memberColumns = `member_id, name, email, phone, department, member_type, status, expires_at, created_at, updated_at`

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func (s *Store) GetMember(ctx context.Context, memberID string) (*Member, error) {
	const q = `SELECT ` + memberColumns + ` FROM members WHERE member_id = ?`
	var m Member
	if err := s.db.GetContext(ctx, &m, q, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("member not found")
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *Store) Insert(ctx context.Context, m *Member) error {
	const q = `
	INSERT INTO members
	(member_id, name, email, phone, department, member_type, status, expires_at, created_at, updated_at)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		m.MemberID, m.Name, m.Email, m.Phone, m.Department,
		string(m.Type), string(m.Status), m.ExpiresAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("member_id or email already exists")
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, m *Member) error {
	const q = `
	UPDATE members
	SET name = ?, email = ?, phone = ?, department = ?, member_type = ?, status = ?, expires_at = ?, updated_at = ?
	WHERE member_id = ?`
	res, err := s.db.ExecContext(ctx, q,
		m.Name, m.Email, m.Phone, m.Department, string(m.Type), string(m.Status), m.ExpiresAt, m.UpdatedAt, m.MemberID,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("email already exists")
		}
		return fmt.Errorf("update member: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return apierr.ErrNotFound("member not found")
	}
	return nil
}

// CountLoans: 利用者の未返却件数と貸出履歴の総数
func (s *Store) CountLoans(ctx context.Context, memberID string) (open, total int, err error) {
	const q = `
	SELECT
		COALESCE(SUM(CASE WHEN status <> 'returned' THEN 1 ELSE 0 END), 0) AS open_cnt,
		COUNT(*) AS total_cnt
	FROM loans
	WHERE member_id = ?`
	var row struct {
		Open  int `db:"open_cnt"`
		Total int `db:"total_cnt"`
	}
	if err := s.db.GetContext(ctx, &row, q, memberID); err != nil {
		return 0, 0, fmt.Errorf("count member loans: %w", err)
	}
	return row.Open, row.Total, nil
}

func (s *Store) Delete(ctx context.Context, memberID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE member_id = ?`, memberID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apierr.ErrConflict("member is referenced by loans or logs")
		}
		return fmt.Errorf("delete member: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return apierr.ErrNotFound("member not found")
	}
	return nil
}

// List: 条件に応じて動的WHERE + ORDER + LIMIT/OFFSET
func (s *Store) List(ctx context.Context, f MemberQuery, p Page) ([]Member, int64, error) {
	ds := db.Dialect(s.db).From("members")

	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		ds = ds.Where(goqu.Or(
			goqu.L("INSTR(LOWER(member_id), ?) > 0", q),
			goqu.L("INSTR(LOWER(name), ?) > 0", q),
			goqu.L("INSTR(LOWER(COALESCE(email, '')), ?) > 0", q),
		))
	}
	if f.Type != nil {
		ds = ds.Where(goqu.C("member_type").Eq(string(*f.Type)))
	}
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}

	countSQL, countArgs, err := db.CountOf(ds).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	listSQL, args, err := ds.
		Select(goqu.L(memberColumns)).
		Order(goqu.C("name").Asc(), goqu.C("member_id").Asc()).
		Limit(uint(p.Limit)).
		Offset(uint(p.Offset)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	var out []Member
	if err := s.db.SelectContext(ctx, &out, listSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("list members: %w", err)
	}
	return out, total, nil
}
