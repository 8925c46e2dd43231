package loans

import (
	"math"
	"time"

	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/db"
)

const day = 24 * time.Hour

// Policy は貸出条件（利用者種別ごとの貸出日数・冊数上限と延滞料の日額）
type Policy struct {
	DefaultDays     int
	DaysByType      map[members.MemberType]int
	DefaultMaxLoans int
	MaxLoansByType  map[members.MemberType]int
	FinePerDay      float64
}

func PolicyFromConfig(c db.LoanPolicyConfig) Policy {
	p := Policy{
		DefaultDays:     c.DefaultDays,
		DaysByType:      make(map[members.MemberType]int, len(c.DaysByType)),
		DefaultMaxLoans: c.DefaultMaxLoans,
		MaxLoansByType:  make(map[members.MemberType]int, len(c.MaxLoansByType)),
		FinePerDay:      c.FinePerDay,
	}
	for k, v := range c.DaysByType {
		p.DaysByType[members.MemberType(k)] = v
	}
	for k, v := range c.MaxLoansByType {
		p.MaxLoansByType[members.MemberType(k)] = v
	}
	return p
}

func (p Policy) BorrowDays(t members.MemberType) int {
	if d, ok := p.DaysByType[t]; ok && d > 0 {
		return d
	}
	return p.DefaultDays
}

// MaxLoans: 同時貸出の上限。0 は無制限
func (p Policy) MaxLoans(t members.MemberType) int {
	if n, ok := p.MaxLoansByType[t]; ok {
		return n
	}
	return p.DefaultMaxLoans
}

// DueAt: 期限省略時の返却期限
func (p Policy) DueAt(issuedAt time.Time, t members.MemberType) time.Time {
	return issuedAt.AddDate(0, 0, p.BorrowDays(t))
}

func (p Policy) Fine(dueAt, returnedAt time.Time) float64 {
	return ComputeFine(dueAt, returnedAt, p.FinePerDay)
}

// OverdueDays は期限超過日数。1日未満の超過も1日と数える（切り上げ）。
func OverdueDays(dueAt, at time.Time) int {
	if !at.After(dueAt) {
		return 0
	}
	return int(math.Ceil(float64(at.Sub(dueAt)) / float64(day)))
}

// ComputeFine = max(0, 切り上げ超過日数) × 日額。小数2桁に丸める。
func ComputeFine(dueAt, returnedAt time.Time, perDay float64) float64 {
	fine := float64(OverdueDays(dueAt, returnedAt)) * perDay
	return math.Round(fine*100) / 100
}
