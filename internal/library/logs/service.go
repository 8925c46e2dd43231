package logs

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const (
	maxTitleLen    = 255
	maxSemesterLen = 10
)

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

// CreateLog は持ち込み図書を1件記録する。所属・メールは省略時に利用者情報から埋める。
func (s *Service) CreateLog(ctx context.Context, in CreateLogRequest) (LogResponse, error) {
	memberID := strings.TrimSpace(in.MemberID)
	title := strings.TrimSpace(in.BookTitle)
	if memberID == "" {
		return LogResponse{}, apierr.ErrInvalid("member_id is required")
	}
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return LogResponse{}, apierr.ErrInvalid("book_title is required (max 255 chars)")
	}
	if in.Semester != nil && utf8.RuneCountInString(strings.TrimSpace(*in.Semester)) > maxSemesterLen {
		return LogResponse{}, apierr.ErrInvalid("semester must be at most 10 chars")
	}

	var out LogResponse
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		m, err := members.NewStore(tx).GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		l := &OutsideBook{
			MemberID:   memberID,
			BookTitle:  title,
			Department: orDefault(in.Department, m.Department),
			Semester:   toNullString(in.Semester),
			Email:      orDefault(in.Email, m.Email),
			LoggedBy:   toNullString(&in.LoggedBy),
			CreatedAt:  s.clock.Now(),
		}
		if err := NewStore(tx).Insert(ctx, l); err != nil {
			return err
		}
		out = toResponse(l)
		return nil
	})
	return out, err
}

func (s *Service) ListLogs(ctx context.Context, f LogFilter, limit int) (ListLogsResult, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return ListLogsResult{}, apierr.ErrInvalid("from must be before to")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	rows, err := s.store.List(ctx, f, limit)
	if err != nil {
		return ListLogsResult{}, err
	}
	items := make([]LogResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toResponse(&rows[i]))
	}
	return ListLogsResult{Items: items, Count: len(items)}, nil
}

// ListMemberLogs: 本人の記録のみ（/me/outside-books）
func (s *Service) ListMemberLogs(ctx context.Context, memberID string, limit int) (ListLogsResult, error) {
	if strings.TrimSpace(memberID) == "" {
		return ListLogsResult{}, apierr.ErrForbidden("account is not linked to a member")
	}
	return s.ListLogs(ctx, LogFilter{MemberID: &memberID}, limit)
}

// ParseDateArg は "2006-01-02"（UTC 0時）か RFC3339
func ParseDateArg(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}

// helpers

func toResponse(l *OutsideBook) LogResponse {
	return LogResponse{
		LogID:      l.LogID,
		MemberID:   l.MemberID,
		BookTitle:  l.BookTitle,
		Department: nullToPtr(l.Department),
		Semester:   nullToPtr(l.Semester),
		Email:      nullToPtr(l.Email),
		LoggedBy:   nullToPtr(l.LoggedBy),
		CreatedAt:  l.CreatedAt.UTC(),
	}
}

func orDefault(v *string, def sql.NullString) sql.NullString {
	if ns := toNullString(v); ns.Valid {
		return ns
	}
	return def
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
