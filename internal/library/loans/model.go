package loans

import (
	"database/sql"
	"time"

	"LIBRIS-backend/internal/library/members"
)

// Status は保存される状態。延滞は保存せず DueAt と現在時刻から導出する。
type Status string

const (
	StatusIssued   Status = "issued"
	StatusReturned Status = "returned"
)

// Loan は loans テーブルの1行を表す。
// 作成（Issue）→ 1回だけの返却更新（Return）→ 以後不変。
type Loan struct {
	LoanID          int64          `db:"loan_id"`
	LoanULID        string         `db:"loan_ulid"`
	AccessionNumber string         `db:"accession_number"`
	MemberID        string         `db:"member_id"`
	IssuedAt        time.Time      `db:"issued_at"`
	DueAt           time.Time      `db:"due_at"`
	ReturnedAt      sql.NullTime   `db:"returned_at"`
	Status          Status         `db:"status"`
	Fine            float64        `db:"fine"`
	Note            sql.NullString `db:"note"`
	IssuedBy        sql.NullString `db:"issued_by"`
	ReceivedBy      sql.NullString `db:"received_by"`
}

func (l *Loan) IsOpen() bool { return l.Status != StatusReturned }

// IsOverdue: 未返却かつ返却期限を過ぎている
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == StatusIssued && l.DueAt.Before(now)
}

// LoanView は表示用に利用者名・書名を結合した行
type LoanView struct {
	Loan
	MemberName string             `db:"member_name"`
	MemberType members.MemberType `db:"member_type"`
	BookTitle  string             `db:"book_title"`
}

// ActiveFilter: 貸出中一覧の絞り込み
type ActiveFilter struct {
	MemberType  *members.MemberType
	MemberID    *string
	Search      string // 利用者名・利用者ID・書名・登録番号の部分一致（大文字小文字無視）
	OverdueOnly bool
}

// LoanFilter: 貸出履歴の絞り込み
type LoanFilter struct {
	MemberID        *string
	AccessionNumber *string
	Status          *string // "issued" | "returned" | "overdue"
	From            *time.Time
	To              *time.Time
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
