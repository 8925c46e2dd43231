package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *sqlx.DB) {
	t.Helper()
	conn := testutil.NewDB(t)
	return NewService(conn).WithClock(testutil.NewClock(testutil.BaseTime)), conn
}

func ptr(s string) *string { return &s }

// 貸出中の行を直接入れる（loans パッケージに依存しないため）
func openLoan(t *testing.T, conn *sqlx.DB, acc, memberID string) {
	t.Helper()
	_, err := conn.Exec(`UPDATE books SET available_copies = available_copies - 1 WHERE accession_number = ?`, acc)
	require.NoError(t, err)
	_, err = conn.Exec(`
	INSERT INTO loans (loan_ulid, accession_number, member_id, issued_at, due_at, status, fine)
	VALUES (?, ?, ?, ?, ?, 'issued', 0)`,
		"ULID-"+acc+"-"+memberID, acc, memberID, testutil.BaseTime, testutil.BaseTime.AddDate(0, 0, 14))
	require.NoError(t, err)
}

func Test_CreateBook(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.CreateBook(ctx, CreateBookRequest{AccessionNumber: " B-001 ", Title: "Go", Author: ptr("Kernighan")})
	require.NoError(t, err)
	assert.Equal(t, "B-001", res.AccessionNumber)
	assert.Equal(t, 1, res.TotalCopies)
	assert.Equal(t, 1, res.AvailableCopies)
	require.NotNil(t, res.Author)
	assert.Equal(t, "Kernighan", *res.Author)
	assert.Nil(t, res.ISBN)

	_, err = svc.CreateBook(ctx, CreateBookRequest{AccessionNumber: "B-001", Title: "Dup"})
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))

	_, err = svc.CreateBook(ctx, CreateBookRequest{AccessionNumber: "B-002", Title: "  "})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))

	_, err = svc.CreateBook(ctx, CreateBookRequest{AccessionNumber: "B-003", Title: "Neg", TotalCopies: -2})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func Test_ListBooks(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "GO-1", "The Go Programming Language", 2)
	testutil.SeedBook(t, conn, "AL-1", "Algorithms", 1)
	testutil.SeedBook(t, conn, "DB-1", "Database Internals", 1)
	testutil.SeedMember(t, conn, "S-1", "Alice", "student", "active")
	openLoan(t, conn, "AL-1", "S-1")

	res, err := svc.ListBooks(ctx, BookQuery{Query: "go PROG"}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "GO-1", res.Items[0].AccessionNumber)

	res, err = svc.ListBooks(ctx, BookQuery{AvailableOnly: true}, Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	res, err = svc.ListBooks(ctx, BookQuery{}, Page{Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Algorithms", res.Items[0].Title)
	assert.Equal(t, 2, res.NextOffset)

	res, err = svc.ListBooks(ctx, BookQuery{}, Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 0, res.NextOffset)
}

func Test_UpdateBook(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "B-1", "Old", 1)

	res, err := svc.UpdateBook(ctx, "B-1", UpdateBookRequest{Title: ptr("New"), Category: ptr("CS")})
	require.NoError(t, err)
	assert.Equal(t, "New", res.Title)
	require.NotNil(t, res.Category)
	assert.Equal(t, "CS", *res.Category)

	_, err = svc.UpdateBook(ctx, "B-404", UpdateBookRequest{Title: ptr("x")})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func Test_AddAndWithdrawCopies(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "B-1", "Book", 2)
	testutil.SeedMember(t, conn, "S-1", "Alice", "student", "active")
	openLoan(t, conn, "B-1", "S-1")

	res, err := svc.AddCopies(ctx, "B-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalCopies)
	assert.Equal(t, 3, res.AvailableCopies)

	// 棚にある3冊より多くは除籍できない
	_, err = svc.WithdrawCopies(ctx, "B-1", 4)
	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(err))

	res, err = svc.WithdrawCopies(ctx, "B-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCopies)
	assert.Equal(t, 0, res.AvailableCopies)

	_, err = svc.AddCopies(ctx, "B-1", 0)
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))

	_, err = svc.AddCopies(ctx, "B-404", 1)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

func Test_DeleteBook(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "B-1", "Lent", 1)
	testutil.SeedBook(t, conn, "B-2", "Free", 1)
	testutil.SeedMember(t, conn, "S-1", "Alice", "student", "active")
	openLoan(t, conn, "B-1", "S-1")

	assert.Equal(t, apierr.CodeConflict, apierr.CodeOf(svc.DeleteBook(ctx, "B-1")))
	require.NoError(t, svc.DeleteBook(ctx, "B-2"))
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(svc.DeleteBook(ctx, "B-2")))
}

func Test_Store_UpdateAvailable(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "B-1", "Book", 1)
	st := NewStore(conn)

	b, err := st.UpdateAvailable(ctx, "B-1", -1, testutil.BaseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, b.AvailableCopies)

	// 0 からは減らせない
	_, err = st.UpdateAvailable(ctx, "B-1", -1, testutil.BaseTime)
	assert.ErrorIs(t, err, ErrNoCopiesLeft)

	b, err = st.UpdateAvailable(ctx, "B-1", 1, testutil.BaseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	// total を超えない
	b, err = st.UpdateAvailable(ctx, "B-1", 1, testutil.BaseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	_, err = st.UpdateAvailable(ctx, "B-404", -1, testutil.BaseTime)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

// 値の変わらない UPDATE を 0 件と返すドライバ（clientFoundRows 無しの MySQL）の真似
type unchangedRowsDB struct{ db.DBTX }

type zeroResult struct{ sql.Result }

func (zeroResult) RowsAffected() (int64, error) { return 0, nil }

func (u unchangedRowsDB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	res, err := u.DBTX.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return zeroResult{res}, nil
}

func Test_Store_UpdateAvailable_ZeroAffectedIncrement(t *testing.T) {
	conn := testutil.NewDB(t)
	ctx := context.Background()
	testutil.SeedBook(t, conn, "B-1", "Book", 1)
	st := NewStore(unchangedRowsDB{conn})

	b, err := st.UpdateAvailable(ctx, "B-1", 1, testutil.BaseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	// 減算側はガード失敗のまま
	_, err = st.UpdateAvailable(ctx, "B-1", -1, testutil.BaseTime)
	assert.ErrorIs(t, err, ErrNoCopiesLeft)

	_, err = st.UpdateAvailable(ctx, "B-404", 1, testutil.BaseTime)
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}
