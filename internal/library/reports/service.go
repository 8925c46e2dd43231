package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Service struct {
	db    *sqlx.DB
	loans *loans.Service
	clock Clock
}

func NewService(conn *sqlx.DB, loanSvc *loans.Service) *Service {
	return &Service{db: conn, loans: loanSvc, clock: realClock{}}
}

func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// Stats は1つの読み取りTxで集計する（数字同士の整合を取るため）
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.clock.Now()
	var st Stats
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		store := NewStore(tx)

		bt, err := store.bookTotals(ctx)
		if err != nil {
			return err
		}
		st.Titles, st.TotalCopies, st.AvailableCopies = bt.Titles, bt.TotalCopies, bt.AvailableCopies
		st.CopiesOnLoan = bt.TotalCopies - bt.AvailableCopies

		if st.Members, st.ActiveMembers, err = store.memberCounts(ctx); err != nil {
			return err
		}
		if st.ActiveLoans, st.OverdueLoans, err = store.loanCounts(ctx, now); err != nil {
			return err
		}
		if st.FinesCollected, err = store.finesCollected(ctx); err != nil {
			return err
		}

		rows, err := store.activeByType(ctx)
		if err != nil {
			return err
		}
		st.ActiveByType = make(map[string]int64, len(rows))
		for _, r := range rows {
			st.ActiveByType[r.MemberType] = r.Count
		}
		return nil
	})
	return st, err
}

var csvHeader = []string{
	"loan_id", "accession_number", "book_title", "member_id", "member_name", "member_type",
	"issued_at", "due_at", "overdue", "overdue_days", "accrued_fine",
}

// ActiveLoansCSV は貸出中一覧を CSV にする。
// 行は ListActive から1件ずつ受け取り、全部書けてから返す（途中失敗で壊れたファイルを返さない）。
func (s *Service) ActiveLoansCSV(ctx context.Context, f loans.ActiveFilter, enc Encoding) ([]byte, error) {
	if enc == "" {
		enc = EncodingUTF8
	}
	if !enc.Valid() {
		return nil, apierr.ErrInvalid("encoding must be utf8 or sjis")
	}

	var b bytes.Buffer
	tw := transform.NewWriter(&b, encoderFor(enc))
	w := csv.NewWriter(tw)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for r, err := range s.loans.ListActive(ctx, f) {
		if err != nil {
			return nil, err
		}
		accrued := ""
		if r.AccruedFine != nil {
			accrued = strconv.FormatFloat(*r.AccruedFine, 'f', 2, 64)
		}
		rec := []string{
			strconv.FormatInt(r.LoanID, 10),
			r.AccessionNumber,
			r.BookTitle,
			r.MemberID,
			r.MemberName,
			r.MemberType,
			r.IssuedAt.Format(time.RFC3339),
			r.DueAt.Format(time.RFC3339),
			strconv.FormatBool(r.IsOverdue),
			strconv.Itoa(r.OverdueDays),
			accrued,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func encoderFor(enc Encoding) transform.Transformer {
	switch enc {
	case EncodingShiftJIS:
		// CP932 で表せない文字は置換して落とさない
		return encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	default:
		return unicode.UTF8BOM.NewEncoder()
	}
}

// ExportActiveLoans: CLI の export コマンド用
func (s *Service) ExportActiveLoans(ctx context.Context, out io.Writer, f loans.ActiveFilter, enc Encoding) error {
	buf, err := s.ActiveLoansCSV(ctx, f, enc)
	if err != nil {
		return err
	}
	_, err = out.Write(buf)
	return err
}
