package loans

import "time"

// ===== Requests =====

// POST /loans
type IssueRequest struct {
	AccessionNumber string  `json:"accession_number" binding:"required"`
	MemberID        string  `json:"member_id" binding:"required"`
	DueDate         *string `json:"due_date,omitempty"` // "2006-01-02" or RFC3339。省略時は利用者種別の既定日数
	Note            *string `json:"note,omitempty"`

	IssuedBy string `json:"-"` // 操作したアカウント（トークンから）
}

// POST /loans/:key/return
type ReturnRequest struct {
	ReturnedAt *string `json:"returned_at,omitempty"` // 省略時は現在時刻

	ReceivedBy string `json:"-"`
}

// ===== Responses =====

type LoanResponse struct {
	LoanID          int64      `json:"loan_id"`
	LoanULID        string     `json:"loan_ulid"`
	AccessionNumber string     `json:"accession_number"`
	BookTitle       string     `json:"book_title"`
	MemberID        string     `json:"member_id"`
	MemberName      string     `json:"member_name"`
	MemberType      string     `json:"member_type"`
	IssuedAt        time.Time  `json:"issued_at"`
	DueAt           time.Time  `json:"due_at"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	Status          string     `json:"status"`
	IsOverdue       bool       `json:"is_overdue"`
	OverdueDays     int        `json:"overdue_days"`
	Fine            float64    `json:"fine"`                   // 返却時に確定した延滞料
	AccruedFine     *float64   `json:"accrued_fine,omitempty"` // 未返却で延滞中なら現時点の見込み額
	Note            *string    `json:"note,omitempty"`
	IssuedBy        *string    `json:"issued_by,omitempty"`
	ReceivedBy      *string    `json:"received_by,omitempty"`
}

type ListLoansResult struct {
	Items      []LoanResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"` // 0 なら終端
}

type ActiveLoansResult struct {
	Items []LoanResponse `json:"items"`
	Count int            `json:"count"`
}
