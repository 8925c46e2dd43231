package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

const maxAccessionNumberLen = 30

// -------------- Clock --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// -------------- Service --------------

type Service struct {
	db    *sqlx.DB
	store *Store
	clock Clock
}

func NewService(conn *sqlx.DB) *Service {
	return &Service{db: conn, store: NewStore(conn), clock: realClock{}}
}

// WithClock はテスト用に時計を差し替える
func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// POST /books
func (s *Service) CreateBook(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	acc := strings.TrimSpace(in.AccessionNumber)
	if acc == "" || len(acc) > maxAccessionNumberLen {
		return BookResponse{}, apierr.ErrInvalid("accession_number is required (max 30 chars)")
	}
	if strings.TrimSpace(in.Title) == "" {
		return BookResponse{}, apierr.ErrInvalid("title is required")
	}
	copies := in.TotalCopies
	if copies == 0 {
		copies = 1
	}
	if copies < 0 {
		return BookResponse{}, apierr.ErrInvalid("total_copies must be > 0")
	}

	now := s.clock.Now()
	b := &Book{
		AccessionNumber: acc,
		Title:           strings.TrimSpace(in.Title),
		Author:          toNullString(in.Author),
		ISBN:            toNullString(in.ISBN),
		Publisher:       toNullString(in.Publisher),
		Category:        toNullString(in.Category),
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) GetBook(ctx context.Context, accessionNumber string) (BookResponse, error) {
	b, err := s.store.GetBook(ctx, accessionNumber)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) ListBooks(ctx context.Context, f BookQuery, p Page) (ListBooksResult, error) {
	p = p.normalize()
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return ListBooksResult{}, err
	}
	items := make([]BookResponse, 0, len(rows))
	for i := range rows {
		items = append(items, toResponse(&rows[i]))
	}
	return ListBooksResult{Items: items, Total: total, NextOffset: nextOffset(total, p)}, nil
}

// PUT /books/:accession_number
func (s *Service) UpdateBook(ctx context.Context, accessionNumber string, in UpdateBookRequest) (BookResponse, error) {
	var out BookResponse
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		b, err := st.GetBook(ctx, accessionNumber)
		if err != nil {
			return err
		}
		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return apierr.ErrInvalid("title must not be empty")
			}
			b.Title = strings.TrimSpace(*in.Title)
		}
		if in.Author != nil {
			b.Author = toNullString(in.Author)
		}
		if in.ISBN != nil {
			b.ISBN = toNullString(in.ISBN)
		}
		if in.Publisher != nil {
			b.Publisher = toNullString(in.Publisher)
		}
		if in.Category != nil {
			b.Category = toNullString(in.Category)
		}
		b.UpdatedAt = s.clock.Now()
		if err := st.UpdateDetails(ctx, b); err != nil {
			return err
		}
		out = toResponse(b)
		return nil
	})
	return out, err
}

// POST /books/:accession_number/copies
func (s *Service) AddCopies(ctx context.Context, accessionNumber string, n int) (BookResponse, error) {
	if n <= 0 {
		return BookResponse{}, apierr.ErrInvalid("count must be > 0")
	}
	return s.adjustCopies(ctx, accessionNumber, n)
}

// DELETE /books/:accession_number/copies
// 除籍。貸出中の冊は除籍できないので棚にある分だけ。
func (s *Service) WithdrawCopies(ctx context.Context, accessionNumber string, n int) (BookResponse, error) {
	if n <= 0 {
		return BookResponse{}, apierr.ErrInvalid("count must be > 0")
	}
	return s.adjustCopies(ctx, accessionNumber, -n)
}

func (s *Service) adjustCopies(ctx context.Context, accessionNumber string, delta int) (BookResponse, error) {
	var out BookResponse
	err := db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		if err := st.AdjustCopies(ctx, accessionNumber, delta, s.clock.Now()); err != nil {
			if errors.Is(err, ErrNoCopiesLeft) {
				return apierr.ErrConflict("not enough copies on the shelf to withdraw")
			}
			return err
		}
		b, err := st.GetBook(ctx, accessionNumber)
		if err != nil {
			return err
		}
		out = toResponse(b)
		return nil
	})
	return out, err
}

// DELETE /books/:accession_number
func (s *Service) DeleteBook(ctx context.Context, accessionNumber string) error {
	return db.RunInTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
		st := NewStore(tx)
		open, err := st.CountOpenLoans(ctx, accessionNumber)
		if err != nil {
			return err
		}
		if open > 0 {
			return apierr.ErrConflict("book has open loans")
		}
		return st.Delete(ctx, accessionNumber)
	})
}

// helpers

func toResponse(b *Book) BookResponse {
	return BookResponse{
		AccessionNumber: b.AccessionNumber,
		Title:           b.Title,
		Author:          nullToPtr(b.Author),
		ISBN:            nullToPtr(b.ISBN),
		Publisher:       nullToPtr(b.Publisher),
		Category:        nullToPtr(b.Category),
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
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

func nextOffset(total int64, p Page) int {
	next := p.Offset + p.Limit
	if next >= int(total) {
		return 0 // 0=終端
	}
	return next
}
