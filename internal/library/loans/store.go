package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const loanColumns = `loan_id, loan_ulid, accession_number, member_id, issued_at, due_at,
	returned_at, status, fine, note, issued_by, received_by`

// Store は貸出台帳（loans テーブル）へのアクセス
type Store struct {
	db db.DBTX
}

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

// InsertLoan は新規貸出を記録し、採番された loan_id を l に入れる
func (s *Store) InsertLoan(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO loans
	(loan_ulid, accession_number, member_id, issued_at, due_at, status, fine, note, issued_by)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		l.LoanULID, l.AccessionNumber, l.MemberID, l.IssuedAt, l.DueAt,
		string(l.Status), l.Fine, l.Note, l.IssuedBy,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("loan id collision")
		}
		if db.IsForeignKeyViolation(err) {
			return apierr.ErrNotFound("book or member not found")
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	l.LoanID = id
	return nil
}

func (s *Store) GetLoanByID(ctx context.Context, loanID int64) (*Loan, error) {
	const q = `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = ?`
	return s.getOne(ctx, q, loanID)
}

func (s *Store) GetLoanByULID(ctx context.Context, ulid string) (*Loan, error) {
	const q = `SELECT ` + loanColumns + ` FROM loans WHERE loan_ulid = ?`
	return s.getOne(ctx, q, ulid)
}

// GetLoanByKey: 数値なら loan_id、それ以外は ULID として引く
func (s *Store) GetLoanByKey(ctx context.Context, key string) (*Loan, error) {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return s.GetLoanByID(ctx, id)
	}
	return s.GetLoanByULID(ctx, key)
}

func (s *Store) getOne(ctx context.Context, q string, arg any) (*Loan, error) {
	var l Loan
	if err := s.db.GetContext(ctx, &l, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("loan not found")
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return &l, nil
}

// MarkReturned は未返却の貸出だけを返却済みにする。
// 既に返却済みなら何も更新せず false を返す（二重返却の検出）。
func (s *Store) MarkReturned(ctx context.Context, loanID int64, returnedAt time.Time, fine float64, receivedBy sql.NullString) (bool, error) {
	const q = `
	UPDATE loans
	SET returned_at = ?, status = ?, fine = ?, received_by = ?
	WHERE loan_id = ?
	AND status <> ?`
	res, err := s.db.ExecContext(ctx, q,
		returnedAt, string(StatusReturned), fine, receivedBy, loanID, string(StatusReturned),
	)
	if err != nil {
		return false, fmt.Errorf("mark returned: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

// GetView は表示用の結合行を1件返す
func (s *Store) GetView(ctx context.Context, loanID int64) (*LoanView, error) {
	q, args, err := s.viewQuery().
		Where(goqu.I("l.loan_id").Eq(loanID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build view query: %w", err)
	}
	var v LoanView
	if err := s.db.GetContext(ctx, &v, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound("loan not found")
		}
		return nil, fmt.Errorf("get loan view: %w", err)
	}
	return &v, nil
}

// ActiveLoans は未返却の貸出を期限の近い順に1行ずつ流す。
// range のたびにクエリを発行し直すので何度でも回せる。
// ループ中に同じ *sqlx.DB へ別クエリを投げないこと（sqlite は接続1本）。
func (s *Store) ActiveLoans(ctx context.Context, f ActiveFilter, now time.Time) iter.Seq2[LoanView, error] {
	return func(yield func(LoanView, error) bool) {
		ds := s.viewQuery().Where(goqu.I("l.status").Neq(string(StatusReturned)))
		ds = ds.Where(activeConditions(f, now)...)

		q, args, err := ds.
			Order(goqu.I("l.due_at").Asc(), goqu.I("l.loan_id").Asc()).
			Prepared(true).
			ToSQL()
		if err != nil {
			yield(LoanView{}, fmt.Errorf("build active query: %w", err))
			return
		}
		rows, err := s.db.QueryxContext(ctx, q, args...)
		if err != nil {
			yield(LoanView{}, fmt.Errorf("query active loans: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var v LoanView
			if err := rows.StructScan(&v); err != nil {
				yield(LoanView{}, fmt.Errorf("scan active loan: %w", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(LoanView{}, fmt.Errorf("iterate active loans: %w", err))
		}
	}
}

func activeConditions(f ActiveFilter, now time.Time) []exp.Expression {
	var conds []exp.Expression
	if f.MemberType != nil {
		conds = append(conds, goqu.I("m.member_type").Eq(string(*f.MemberType)))
	}
	if f.MemberID != nil {
		conds = append(conds, goqu.I("l.member_id").Eq(*f.MemberID))
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		conds = append(conds, goqu.Or(
			containsFold("m.name", q),
			containsFold("m.member_id", q),
			containsFold("b.title", q),
			containsFold("b.accession_number", q),
		))
	}
	if f.OverdueOnly {
		conds = append(conds, goqu.I("l.due_at").Lt(now))
	}
	return conds
}

// ListLoans: 貸出履歴（返却済みを含む）のページング取得
func (s *Store) ListLoans(ctx context.Context, f LoanFilter, p Page, now time.Time) ([]LoanView, int64, error) {
	ds := s.viewQuery()

	if f.MemberID != nil {
		ds = ds.Where(goqu.I("l.member_id").Eq(*f.MemberID))
	}
	if f.AccessionNumber != nil {
		ds = ds.Where(goqu.I("l.accession_number").Eq(*f.AccessionNumber))
	}
	if f.Status != nil {
		switch *f.Status {
		case string(StatusIssued), string(StatusReturned):
			ds = ds.Where(goqu.I("l.status").Eq(*f.Status))
		case "overdue":
			// 延滞は保存しないのでここで導出
			ds = ds.Where(
				goqu.I("l.status").Neq(string(StatusReturned)),
				goqu.I("l.due_at").Lt(now),
			)
		}
	}
	if f.From != nil {
		ds = ds.Where(goqu.I("l.issued_at").Gte(*f.From))
	}
	if f.To != nil {
		ds = ds.Where(goqu.I("l.issued_at").Lt(*f.To))
	}

	countSQL, countArgs, err := db.CountOf(ds).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}

	order := goqu.I("l.loan_id").Desc()
	if p.Order == "asc" {
		order = goqu.I("l.loan_id").Asc()
	}
	listSQL, args, err := ds.
		Order(order).
		Limit(uint(p.Limit)).
		Offset(uint(p.Offset)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	var out []LoanView
	if err := s.db.SelectContext(ctx, &out, listSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	return out, total, nil
}

// CountOpenByMember: 利用者の未返却件数
func (s *Store) CountOpenByMember(ctx context.Context, memberID string) (int, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE member_id = ? AND status <> ?`
	var n int
	if err := s.db.GetContext(ctx, &n, q, memberID, string(StatusReturned)); err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return n, nil
}

func (s *Store) viewQuery() *goqu.SelectDataset {
	return db.Dialect(s.db).
		From(goqu.T("loans").As("l")).
		InnerJoin(goqu.T("members").As("m"), goqu.On(goqu.I("m.member_id").Eq(goqu.I("l.member_id")))).
		InnerJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.accession_number").Eq(goqu.I("l.accession_number")))).
		Select(
			goqu.I("l.loan_id"), goqu.I("l.loan_ulid"), goqu.I("l.accession_number"), goqu.I("l.member_id"),
			goqu.I("l.issued_at"), goqu.I("l.due_at"), goqu.I("l.returned_at"), goqu.I("l.status"),
			goqu.I("l.fine"), goqu.I("l.note"), goqu.I("l.issued_by"), goqu.I("l.received_by"),
			goqu.I("m.name").As("member_name"),
			goqu.I("m.member_type").As("member_type"),
			goqu.I("b.title").As("book_title"),
		)
}

func containsFold(col, lowered string) exp.Expression {
	return goqu.L("INSTR(LOWER(COALESCE(?, '')), ?) > 0", goqu.I(col), lowered)
}
