package members

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const maxMemberIDLen = 20

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Service struct {
	db    *sqlx.DB
	store *Store
	clock Clock
}

func NewService(conn *sqlx.DB) *Service {
	return &Service{db: conn, store: NewStore(conn), clock: realClock{}}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// POST /members
func (s *Service) CreateMember(ctx context.Context, in CreateMemberRequest) (MemberResponse, error) {
	id := strings.TrimSpace(in.MemberID)
	if id == "" || len(id) > maxMemberIDLen {
		return MemberResponse{}, apierr.ErrInvalid("member_id is required (max 20 chars)")
	}
	if strings.TrimSpace(in.Name) == "" {
		return MemberResponse{}, apierr.ErrInvalid("name is required")
	}
	typ := TypeStudent
	if in.Type != "" {
		typ = MemberType(in.Type)
		if !typ.Valid() {
			return MemberResponse{}, apierr.ErrInvalid("member_type must be student, faculty, staff or external")
		}
	}

	expires, err := parseExpiry(in.ExpiresAt)
	if err != nil {
		return MemberResponse{}, err
	}

	now := s.clock.Now()
	m := &Member{
		MemberID:   id,
		Name:       strings.TrimSpace(in.Name),
		Email:      toNullString(in.Email),
		Phone:      toNullString(in.Phone),
		Department: toNullString(in.Department),
		Type:       typ,
		Status:     StatusActive,
		ExpiresAt:  expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return MemberResponse{}, err
	}
	return toResponse(m, now), nil
}

func (s *Service) GetMember(ctx context.Context, memberID string) (MemberResponse, error) {
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return MemberResponse{}, err
	}
	return toResponse(m, s.clock.Now()), nil
}

func (s *Service) ListMembers(ctx context.Context, f MemberQuery, p Page) (ListMembersResult, error) {
	if f.Type != nil && !f.Type.Valid() {
		return ListMembersResult{}, apierr.ErrInvalid("unknown member_type")
	}
	if f.Status != nil && !f.Status.Valid() {
		return ListMembersResult{}, apierr.ErrInvalid("unknown status")
	}
	p = p.normalize()
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return ListMembersResult{}, err
	}
	now := s.clock.Now()
	items := make([]MemberResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toResponse(&rows[i], now))
	}
	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	}
	return ListMembersResult{Items: items, Total: total, NextOffset: next}, nil
}

// PUT /members/:member_id
func (s *Service) UpdateMember(ctx context.Context, memberID string, in UpdateMemberRequest) (MemberResponse, error) {
	return s.mutate(ctx, memberID, func(m *Member) error {
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return apierr.ErrInvalid("name must not be empty")
			}
			m.Name = strings.TrimSpace(*in.Name)
		}
		if in.Email != nil {
			m.Email = toNullString(in.Email)
		}
		if in.Phone != nil {
			m.Phone = toNullString(in.Phone)
		}
		if in.Department != nil {
			m.Department = toNullString(in.Department)
		}
		if in.Type != nil {
			t := MemberType(*in.Type)
			if !t.Valid() {
				return apierr.ErrInvalid("member_type must be student, faculty, staff or external")
			}
			m.Type = t
		}
		if in.ExpiresAt != nil {
			e, err := parseExpiry(in.ExpiresAt)
			if err != nil {
				return err
			}
			m.ExpiresAt = e
		}
		return nil
	})
}

// PATCH /members/:member_id/status
// 停止・期限切れにしても既存の貸出はそのまま。新規貸出だけが止まる。
func (s *Service) SetStatus(ctx context.Context, memberID string, status string) (MemberResponse, error) {
	st := Status(status)
	if !st.Valid() {
		return MemberResponse{}, apierr.ErrInvalid("status must be active, suspended or expired")
	}
	return s.mutate(ctx, memberID, func(m *Member) error {
		m.Status = st
		return nil
	})
}

// DELETE /members/:member_id
// 貸出履歴が1件でもあれば消さない（台帳は履歴として残す）。停止は SetStatus で。
func (s *Service) DeleteMember(ctx context.Context, memberID string) error {
	return db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		if _, err := st.GetMember(ctx, memberID); err != nil {
			return err
		}
		open, total, err := st.CountLoans(ctx, memberID)
		if err != nil {
			return err
		}
		if open > 0 {
			return apierr.ErrConflict("member has open loans")
		}
		if total > 0 {
			return apierr.ErrConflict("member has loan history; suspend instead of deleting")
		}
		return st.Delete(ctx, memberID)
	})
}

func (s *Service) mutate(ctx context.Context, memberID string, fn func(*Member) error) (MemberResponse, error) {
	var out MemberResponse
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		m, err := st.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.UpdatedAt = s.clock.Now()
		if err := st.Update(ctx, m); err != nil {
			return err
		}
		out = toResponse(m, m.UpdatedAt)
		return nil
	})
	return out, err
}

// helpers

func toResponse(m *Member, now time.Time) MemberResponse {
	r := MemberResponse{
		MemberID:   m.MemberID,
		Name:       m.Name,
		Email:      nullToPtr(m.Email),
		Phone:      nullToPtr(m.Phone),
		Department: nullToPtr(m.Department),
		Type:       string(m.Type),
		Status:     string(m.Status),
		Expired:    m.IsExpired(now),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.ExpiresAt.Valid {
		t := m.ExpiresAt.Time.UTC()
		r.ExpiresAt = &t
	}
	return r
}

// parseExpiry: nil/空文字は無期限。日付のみなら UTC 0時
func parseExpiry(v *string) (sql.NullTime, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return sql.NullTime{}, nil
	}
	s := strings.TrimSpace(*v)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return sql.NullTime{Time: t.UTC(), Valid: true}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return sql.NullTime{}, apierr.ErrInvalid("expires_at must be YYYY-MM-DD or RFC3339")
	}
	return sql.NullTime{Time: t, Valid: true}, nil
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
