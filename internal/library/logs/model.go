package logs

import (
	"database/sql"
	"time"
)

// OutsideBook は持ち込み図書の記録（館外の本を閲覧室で使うときに利用者が残す）
type OutsideBook struct {
	LogID      int64          `db:"log_id"`
	MemberID   string         `db:"member_id"`
	BookTitle  string         `db:"book_title"`
	Department sql.NullString `db:"department"`
	Semester   sql.NullString `db:"semester"`
	Email      sql.NullString `db:"email"`
	LoggedBy   sql.NullString `db:"logged_by"`
	CreatedAt  time.Time      `db:"created_at"`
}

type LogFilter struct {
	MemberID *string
	Query    string // 書名・利用者IDの部分一致
	From     *time.Time
	To       *time.Time
}

const (
	defaultLimit = 100
	maxLimit     = 500
)
