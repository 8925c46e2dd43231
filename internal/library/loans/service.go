package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"LIBRIS-backend/internal/library/catalog"
	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

// DefaultEntropy はプロセス共有のモノトニックエントロピーでゴルーチン安全
func (ulidGen) NewULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Service は貸出・返却のワークフロー。
// 在庫カウンタと台帳は必ず同じTxの中で動かす（available = total - 未返却件数）。
type Service struct {
	db     *sqlx.DB
	ledger *Store
	policy Policy
	clock  Clock
	ids    IDGen
}

func NewService(conn *sqlx.DB, policy Policy) *Service {
	return &Service{
		db:     conn,
		ledger: NewStore(conn),
		policy: policy,
		clock:  realClock{},
		ids:    ulidGen{},
	}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithIDGen(g IDGen) *Service {
	s.ids = g
	return s
}

// Issue は1冊を貸し出す。
//
//	書誌/利用者が無い → NotFound
//	貸出可能数が0 → Unavailable
//	利用者が active でない・有効期限切れ・貸出冊数の上限 → Ineligible
//	事前チェック後に同時貸出で在庫を取られた → Conflict（再試行してよい）
func (s *Service) Issue(ctx context.Context, in IssueRequest) (LoanResponse, error) {
	acc := strings.TrimSpace(in.AccessionNumber)
	memberID := strings.TrimSpace(in.MemberID)
	if acc == "" || memberID == "" {
		return LoanResponse{}, apierr.ErrInvalid("accession_number and member_id are required")
	}
	now := s.clock.Now()

	var due *time.Time
	if in.DueDate != nil && strings.TrimSpace(*in.DueDate) != "" {
		t, err := ParseTimeArg(*in.DueDate)
		if err != nil {
			return LoanResponse{}, apierr.ErrInvalid("due_date must be YYYY-MM-DD or RFC3339")
		}
		if !t.After(now) {
			return LoanResponse{}, apierr.ErrInvalid("due_date must be in the future")
		}
		due = &t
	}

	var view LoanView
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		books := catalog.NewStore(tx)
		book, err := books.GetBook(ctx, acc)
		if err != nil {
			return err
		}
		member, err := members.NewStore(tx).GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if book.AvailableCopies <= 0 {
			return apierr.ErrUnavailable("no copies of this book are available")
		}
		if !member.CanBorrow(now) {
			if member.Status == members.StatusActive {
				return apierr.ErrIneligible("membership has expired")
			}
			return apierr.ErrIneligible(fmt.Sprintf("member is %s", member.Status))
		}
		if limit := s.policy.MaxLoans(member.Type); limit > 0 {
			open, err := NewStore(tx).CountOpenByMember(ctx, memberID)
			if err != nil {
				return err
			}
			if open >= limit {
				return apierr.ErrIneligible(fmt.Sprintf("member already has %d open loans (limit %d)", open, limit))
			}
		}

		dueAt := s.policy.DueAt(now, member.Type)
		if due != nil {
			dueAt = *due
		}

		// 在庫カウンタを条件付きで減算。先に取られていればここで弾かれる
		if _, err := books.UpdateAvailable(ctx, acc, -1, now); err != nil {
			if errors.Is(err, catalog.ErrNoCopiesLeft) {
				return apierr.ErrConflict("the last copy was just issued to someone else")
			}
			return err
		}

		loan := Loan{
			LoanULID:        s.ids.NewULID(now),
			AccessionNumber: acc,
			MemberID:        memberID,
			IssuedAt:        now,
			DueAt:           dueAt.UTC(),
			Status:          StatusIssued,
			Note:            toNullString(in.Note),
			IssuedBy:        toNullString(&in.IssuedBy),
		}
		if err := NewStore(tx).InsertLoan(ctx, &loan); err != nil {
			return err
		}
		view = LoanView{Loan: loan, MemberName: member.Name, MemberType: member.Type, BookTitle: book.Title}
		return nil
	})
	if err != nil {
		return LoanResponse{}, err
	}
	return toResponse(&view, now, s.policy.FinePerDay), nil
}

// Return は貸出を返却済みにして延滞料を確定する。
// 延滞料 = max(0, ceil(超過日数)) × 日額。状態は常に returned。
// 2回目の返却は AlreadyReturned で、在庫カウンタは動かない。
func (s *Service) Return(ctx context.Context, key string, in ReturnRequest) (LoanResponse, error) {
	now := s.clock.Now()
	returnedAt := now
	if in.ReturnedAt != nil && strings.TrimSpace(*in.ReturnedAt) != "" {
		t, err := ParseTimeArg(*in.ReturnedAt)
		if err != nil {
			return LoanResponse{}, apierr.ErrInvalid("returned_at must be YYYY-MM-DD or RFC3339")
		}
		if t.After(now) {
			return LoanResponse{}, apierr.ErrInvalid("returned_at must not be in the future")
		}
		returnedAt = t
	}

	var view *LoanView
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		ledger := NewStore(tx)
		loan, err := ledger.GetLoanByKey(ctx, key)
		if err != nil {
			return err
		}
		if !loan.IsOpen() {
			return apierr.ErrAlreadyReturned("loan is already returned")
		}
		if returnedAt.Before(loan.IssuedAt) {
			return apierr.ErrInvalid("returned_at must not be before issued_at")
		}

		fine := s.policy.Fine(loan.DueAt, returnedAt)
		ok, err := ledger.MarkReturned(ctx, loan.LoanID, returnedAt, fine, toNullString(&in.ReceivedBy))
		if err != nil {
			return err
		}
		if !ok {
			// 読んだ後に別の返却処理が先に確定した
			return apierr.ErrAlreadyReturned("loan is already returned")
		}
		if _, err := catalog.NewStore(tx).UpdateAvailable(ctx, loan.AccessionNumber, +1, now); err != nil {
			return err
		}

		view, err = ledger.GetView(ctx, loan.LoanID)
		return err
	})
	if err != nil {
		return LoanResponse{}, err
	}
	return toResponse(view, now, s.policy.FinePerDay), nil
}

// ListActive は未返却の貸出を遅延評価で返す。range し直すたびに最新の状態を読み直す。
func (s *Service) ListActive(ctx context.Context, f ActiveFilter) iter.Seq2[LoanResponse, error] {
	return func(yield func(LoanResponse, error) bool) {
		if f.MemberType != nil && !f.MemberType.Valid() {
			yield(LoanResponse{}, apierr.ErrInvalid("unknown member_type"))
			return
		}
		now := s.clock.Now()
		for v, err := range s.ledger.ActiveLoans(ctx, f, now) {
			if err != nil {
				yield(LoanResponse{}, err)
				return
			}
			if !yield(toResponse(&v, now, s.policy.FinePerDay), nil) {
				return
			}
		}
	}
}

// CollectActive: ListActive を読み切ってスライスにする（HTTP用）
func (s *Service) CollectActive(ctx context.Context, f ActiveFilter) (ActiveLoansResult, error) {
	items := make([]LoanResponse, 0)
	for r, err := range s.ListActive(ctx, f) {
		if err != nil {
			return ActiveLoansResult{}, err
		}
		items = append(items, r)
	}
	return ActiveLoansResult{Items: items, Count: len(items)}, nil
}

// GetLoan: key は loan_id（数値）か ULID
func (s *Service) GetLoan(ctx context.Context, key string) (LoanResponse, error) {
	l, err := s.ledger.GetLoanByKey(ctx, key)
	if err != nil {
		return LoanResponse{}, err
	}
	v, err := s.ledger.GetView(ctx, l.LoanID)
	if err != nil {
		return LoanResponse{}, err
	}
	return toResponse(v, s.clock.Now(), s.policy.FinePerDay), nil
}

func (s *Service) ListLoans(ctx context.Context, f LoanFilter, p Page) (ListLoansResult, error) {
	if f.Status != nil {
		switch *f.Status {
		case string(StatusIssued), string(StatusReturned), "overdue":
		default:
			return ListLoansResult{}, apierr.ErrInvalid("status must be issued, returned or overdue")
		}
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return ListLoansResult{}, apierr.ErrInvalid("from must be before to")
	}
	if p.Order != "" && p.Order != "asc" && p.Order != "desc" {
		return ListLoansResult{}, apierr.ErrInvalid("order must be asc or desc")
	}
	p = p.normalize()
	now := s.clock.Now()

	rows, total, err := s.ledger.ListLoans(ctx, f, p, now)
	if err != nil {
		return ListLoansResult{}, err
	}
	items := make([]LoanResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toResponse(&rows[i], now, s.policy.FinePerDay))
	}
	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	}
	return ListLoansResult{Items: items, Total: total, NextOffset: next}, nil
}

// ListMemberLoans: 利用者本人の貸出履歴（/me/loans）
func (s *Service) ListMemberLoans(ctx context.Context, memberID string, status *string, p Page) (ListLoansResult, error) {
	if strings.TrimSpace(memberID) == "" {
		return ListLoansResult{}, apierr.ErrForbidden("account is not linked to a member")
	}
	return s.ListLoans(ctx, LoanFilter{MemberID: &memberID, Status: status}, p)
}

// ParseTimeArg は "2006-01-02"（UTC 0時）か RFC3339 を受け付ける
func ParseTimeArg(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// helpers

func toResponse(v *LoanView, now time.Time, finePerDay float64) LoanResponse {
	r := LoanResponse{
		LoanID:          v.LoanID,
		LoanULID:        v.LoanULID,
		AccessionNumber: v.AccessionNumber,
		BookTitle:       v.BookTitle,
		MemberID:        v.MemberID,
		MemberName:      v.MemberName,
		MemberType:      string(v.MemberType),
		IssuedAt:        v.IssuedAt.UTC(),
		DueAt:           v.DueAt.UTC(),
		Status:          string(v.Status),
		IsOverdue:       v.IsOverdue(now),
		Fine:            v.Fine,
		Note:            nullToPtr(v.Note),
		IssuedBy:        nullToPtr(v.IssuedBy),
		ReceivedBy:      nullToPtr(v.ReceivedBy),
	}
	if v.ReturnedAt.Valid {
		t := v.ReturnedAt.Time.UTC()
		r.ReturnedAt = &t
		r.OverdueDays = OverdueDays(v.DueAt, t)
	} else {
		r.OverdueDays = OverdueDays(v.DueAt, now)
		if r.OverdueDays > 0 {
			f := ComputeFine(v.DueAt, now, finePerDay)
			r.AccruedFine = &f
		}
	}
	return r
}

func toNullString(s *string) (ns sql.NullString) {
	if s != nil && strings.TrimSpace(*s) != "" {
		ns.Valid, ns.String = true, strings.TrimSpace(*s)
	}
	return
}

func nullToPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}
