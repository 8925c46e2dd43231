package members

import (
	"database/sql"
	"time"
)

type MemberType string

const (
	TypeStudent  MemberType = "student"
	TypeFaculty  MemberType = "faculty"
	TypeStaff    MemberType = "staff"
	TypeExternal MemberType = "external"
)

func (t MemberType) Valid() bool {
	switch t {
	case TypeStudent, TypeFaculty, TypeStaff, TypeExternal:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusExpired:
		return true
	}
	return false
}

// Member は members テーブルの1行を表す
type Member struct {
	MemberID   string         `db:"member_id"`
	Name       string         `db:"name"`
	Email      sql.NullString `db:"email"`
	Phone      sql.NullString `db:"phone"`
	Department sql.NullString `db:"department"`
	Type       MemberType     `db:"member_type"`
	Status     Status         `db:"status"`
	ExpiresAt  sql.NullTime   `db:"expires_at"` // 会員資格の有効期限（NULL は無期限）
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// IsExpired: 有効期限を過ぎているか。status が expired に更新される前でも期限で判定する
func (m *Member) IsExpired(now time.Time) bool {
	return m.Status == StatusExpired || (m.ExpiresAt.Valid && !now.Before(m.ExpiresAt.Time))
}

// CanBorrow: 新規貸出できるのは active かつ有効期限内のみ
func (m *Member) CanBorrow(now time.Time) bool {
	return m.Status == StatusActive && !m.IsExpired(now)
}

type MemberQuery struct {
	Query  string // ID・氏名・メールの部分一致
	Type   *MemberType
	Status *Status
}

type Page struct {
	Limit  int
	Offset int
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
