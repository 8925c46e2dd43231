package loans

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/testutil"
)

const day24 = 24 * time.Hour

func newTestService(t *testing.T) (*Service, *sqlx.DB, *testutil.Clock) {
	t.Helper()
	conn := testutil.NewDB(t)
	clock := testutil.NewClock(testutil.BaseTime)
	svc := NewService(conn, PolicyFromConfig(db.Defaults().Loans)).WithClock(clock)
	return svc, conn, clock
}

func issue(t *testing.T, svc *Service, acc, memberID string) LoanResponse {
	t.Helper()
	res, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: acc, MemberID: memberID, IssuedBy: "librarian1"})
	require.NoError(t, err)
	return res
}

func collect(t *testing.T, svc *Service, f ActiveFilter) []LoanResponse {
	t.Helper()
	var out []LoanResponse
	for r, err := range svc.ListActive(context.Background(), f) {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func Test_Issue_Success(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "The Go Programming Language", 2)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	res := issue(t, svc, "B-001", "S-001")

	assert.NotZero(t, res.LoanID)
	assert.Len(t, res.LoanULID, 26)
	assert.Equal(t, "issued", res.Status)
	assert.Equal(t, "The Go Programming Language", res.BookTitle)
	assert.Equal(t, "Alice", res.MemberName)
	assert.True(t, res.DueAt.Equal(testutil.BaseTime.AddDate(0, 0, 14)))
	assert.False(t, res.IsOverdue)
	assert.Nil(t, res.ReturnedAt)
	require.NotNil(t, res.IssuedBy)
	assert.Equal(t, "librarian1", *res.IssuedBy)

	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Issue_DefaultDueDependsOnMemberType(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 2)
	testutil.SeedMember(t, conn, "F-001", "Prof. Sato", "faculty", "active")

	res := issue(t, svc, "B-001", "F-001")
	assert.True(t, res.DueAt.Equal(testutil.BaseTime.AddDate(0, 0, 30)))
}

func Test_Issue_ExplicitDueDate(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	due := "2024-01-10"
	res, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-001", DueDate: &due})
	require.NoError(t, err)
	assert.True(t, res.DueAt.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))

	got, err := svc.GetLoan(context.Background(), res.LoanULID)
	require.NoError(t, err)
	assert.True(t, got.DueAt.Equal(res.DueAt))
}

func Test_Issue_RejectsPastOrMalformedDueDate(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	for _, due := range []string{"2023-12-31", "next friday"} {
		d := due
		_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-001", DueDate: &d})
		assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err), due)
	}
	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Issue_Unavailable(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")
	testutil.SeedMember(t, conn, "S-002", "Bob", "student", "active")

	issue(t, svc, "B-001", "S-001")

	_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-002"})
	assert.Equal(t, apierr.CodeUnavailable, apierr.CodeOf(err))
	assert.Equal(t, 0, testutil.Available(t, conn, "B-001"))
	assert.Equal(t, 1, testutil.OpenLoans(t, conn, "B-001"))
}

func Test_Issue_Ineligible(t *testing.T) {
	for _, status := range []string{"suspended", "expired"} {
		t.Run(status, func(t *testing.T) {
			svc, conn, _ := newTestService(t)
			testutil.SeedBook(t, conn, "B-001", "Book", 1)
			testutil.SeedMember(t, conn, "S-001", "Alice", "student", status)

			_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-001"})
			assert.Equal(t, apierr.CodeIneligible, apierr.CodeOf(err))
			assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
			assert.Equal(t, 0, testutil.OpenLoans(t, conn, "B-001"))
		})
	}
}

func Test_Issue_MembershipExpired(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 2)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")
	_, err := conn.Exec(`UPDATE members SET expires_at = ? WHERE member_id = 'S-001'`, testutil.BaseTime.Add(48*time.Hour))
	require.NoError(t, err)

	issue(t, svc, "B-001", "S-001")

	// status が active のままでも期限を過ぎたら貸さない
	clock.Advance(72 * time.Hour)
	_, err = svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-001"})
	assert.Equal(t, apierr.CodeIneligible, apierr.CodeOf(err))
	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Issue_LoanLimitPerMemberType(t *testing.T) {
	conn := testutil.NewDB(t)
	clock := testutil.NewClock(testutil.BaseTime)
	cfg := db.Defaults().Loans
	cfg.MaxLoansByType = map[string]int{"student": 2, "faculty": 0}
	svc := NewService(conn, PolicyFromConfig(cfg)).WithClock(clock)

	for i := 1; i <= 4; i++ {
		testutil.SeedBook(t, conn, "B-00"+strconv.Itoa(i), "Book", 1)
	}
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")
	testutil.SeedMember(t, conn, "F-001", "Bob", "faculty", "active")

	first := issue(t, svc, "B-001", "S-001")
	issue(t, svc, "B-002", "S-001")

	_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-003", MemberID: "S-001"})
	assert.Equal(t, apierr.CodeIneligible, apierr.CodeOf(err))
	assert.Equal(t, 1, testutil.Available(t, conn, "B-003"))

	// 返却すれば枠が空く
	_, err = svc.Return(context.Background(), first.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	issue(t, svc, "B-003", "S-001")

	// 0 は無制限
	issue(t, svc, "B-001", "F-001")
	issue(t, svc, "B-004", "F-001")
}

type seqIDs struct{ n int }

func (g *seqIDs) NewULID(t time.Time) string {
	g.n++
	return fmt.Sprintf("01HTEST%019d", g.n)
}

func Test_Issue_UsesIDGen(t *testing.T) {
	svc, conn, _ := newTestService(t)
	svc.WithIDGen(&seqIDs{})
	testutil.SeedBook(t, conn, "B-001", "Book", 2)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	a := issue(t, svc, "B-001", "S-001")
	b := issue(t, svc, "B-001", "S-001")
	assert.Equal(t, "01HTEST0000000000000000001", a.LoanULID)
	assert.Equal(t, "01HTEST0000000000000000002", b.LoanULID)

	got, err := svc.GetLoan(context.Background(), "01HTEST0000000000000000002")
	require.NoError(t, err)
	assert.Equal(t, b.LoanID, got.LoanID)
}

func Test_Issue_NotFound(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "NOPE", MemberID: "S-001"})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))

	_, err = svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "NOPE"})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))

	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Return_ComputesFineAndRestoresCopy(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	loan := issue(t, svc, "B-001", "S-001")
	// 期限(14日)から5日と1時間後 → 6日分
	clock.Advance(19*day24 + time.Hour)

	res, err := svc.Return(context.Background(), strconv.FormatInt(loan.LoanID, 10), ReturnRequest{ReceivedBy: "librarian2"})
	require.NoError(t, err)

	assert.Equal(t, "returned", res.Status)
	assert.InDelta(t, 30.0, res.Fine, 1e-9)
	assert.Equal(t, 6, res.OverdueDays)
	assert.False(t, res.IsOverdue)
	assert.Nil(t, res.AccruedFine)
	require.NotNil(t, res.ReturnedAt)
	assert.True(t, res.ReturnedAt.Equal(clock.Now()))
	require.NotNil(t, res.ReceivedBy)
	assert.Equal(t, "librarian2", *res.ReceivedBy)

	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Return_OnTimeHasNoFine(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	loan := issue(t, svc, "B-001", "S-001")
	clock.Advance(3 * day24)

	res, err := svc.Return(context.Background(), loan.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	assert.Equal(t, "returned", res.Status)
	assert.Zero(t, res.Fine)
}

func Test_Return_Twice(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 2)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	loan := issue(t, svc, "B-001", "S-001")
	clock.Advance(day24)

	_, err := svc.Return(context.Background(), loan.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.Available(t, conn, "B-001"))

	_, err = svc.Return(context.Background(), loan.LoanULID, ReturnRequest{})
	assert.Equal(t, apierr.CodeAlreadyReturned, apierr.CodeOf(err))
	assert.Equal(t, 2, testutil.Available(t, conn, "B-001"))
}

func Test_Return_ExplicitReturnedAt(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)
	testutil.SeedMember(t, conn, "S-001", "Alice", "student", "active")

	loan := issue(t, svc, "B-001", "S-001")
	clock.Advance(30 * day24)

	// 期限 2024-01-15 09:00 → 返却 2024-01-20 00:00 は 4日15時間超過 → 5日
	at := "2024-01-20"
	res, err := svc.Return(context.Background(), loan.LoanULID, ReturnRequest{ReturnedAt: &at})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, res.Fine, 1e-9)

	future := clock.Now().Add(day24).Format(time.RFC3339)
	_, err = svc.Return(context.Background(), loan.LoanULID, ReturnRequest{ReturnedAt: &future})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func Test_Return_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Return(context.Background(), "999", ReturnRequest{})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))

	_, err = svc.Return(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV", ReturnRequest{})
	assert.Equal(t, apierr.CodeNotFound, apierr.CodeOf(err))
}

// available = total - 未返却件数 が操作列の後でも崩れない
func Test_CopyCounterMatchesOpenLoans(t *testing.T) {
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 3)
	for i := 1; i <= 4; i++ {
		testutil.SeedMember(t, conn, "S-00"+strconv.Itoa(i), "Member "+strconv.Itoa(i), "student", "active")
	}

	check := func() {
		t.Helper()
		assert.Equal(t, 3-testutil.OpenLoans(t, conn, "B-001"), testutil.Available(t, conn, "B-001"))
	}

	l1 := issue(t, svc, "B-001", "S-001")
	check()
	l2 := issue(t, svc, "B-001", "S-002")
	check()
	issue(t, svc, "B-001", "S-003")
	check()

	_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-004"})
	assert.Equal(t, apierr.CodeUnavailable, apierr.CodeOf(err))
	check()

	clock.Advance(day24)
	_, err = svc.Return(context.Background(), l1.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	check()

	_, err = svc.Return(context.Background(), l1.LoanULID, ReturnRequest{})
	assert.Equal(t, apierr.CodeAlreadyReturned, apierr.CodeOf(err))
	check()

	issue(t, svc, "B-001", "S-004")
	check()

	_, err = svc.Return(context.Background(), l2.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	check()
	assert.Equal(t, 1, testutil.Available(t, conn, "B-001"))
}

func Test_Issue_ConcurrentOnLastCopy(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.SeedBook(t, conn, "B-001", "Book", 1)

	const n = 8
	for i := 0; i < n; i++ {
		testutil.SeedMember(t, conn, "S-"+strconv.Itoa(i), "Member", "student", "active")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		codes     []apierr.Code
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), IssueRequest{AccessionNumber: "B-001", MemberID: "S-" + strconv.Itoa(i)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			codes = append(codes, apierr.CodeOf(err))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, c := range codes {
		assert.Contains(t, []apierr.Code{apierr.CodeUnavailable, apierr.CodeConflict}, c)
	}
	assert.Equal(t, 0, testutil.Available(t, conn, "B-001"))
	assert.Equal(t, 1, testutil.OpenLoans(t, conn, "B-001"))
}

func seedActiveFixture(t *testing.T) (*Service, *testutil.Clock) {
	t.Helper()
	svc, conn, clock := newTestService(t)
	testutil.SeedBook(t, conn, "GO-001", "Go Programming", 2)
	testutil.SeedBook(t, conn, "DS-001", "Data Structures", 2)
	testutil.SeedBook(t, conn, "DB-001", "Database Systems", 1)
	testutil.SeedMember(t, conn, "S-100", "Alice Yamada", "student", "active")
	testutil.SeedMember(t, conn, "F-200", "Bob Tanaka", "faculty", "active")

	issue(t, svc, "GO-001", "S-100")
	issue(t, svc, "DS-001", "F-200")
	done := issue(t, svc, "DB-001", "S-100")

	clock.Advance(time.Hour)
	_, err := svc.Return(context.Background(), done.LoanULID, ReturnRequest{})
	require.NoError(t, err)
	return svc, clock
}

func Test_ListActive_Filters(t *testing.T) {
	svc, _ := seedActiveFixture(t)
	student := members.TypeStudent
	faculty := members.TypeFaculty

	tests := []struct {
		name string
		f    ActiveFilter
		want []string // accession numbers
	}{
		{"all_open_loans", ActiveFilter{}, []string{"GO-001", "DS-001"}},
		{"by_member_type_student", ActiveFilter{MemberType: &student}, []string{"GO-001"}},
		{"by_member_type_faculty", ActiveFilter{MemberType: &faculty}, []string{"DS-001"}},
		{"search_member_name_case_insensitive", ActiveFilter{Search: "ALICE"}, []string{"GO-001"}},
		{"search_member_id", ActiveFilter{Search: "f-2"}, []string{"DS-001"}},
		{"search_title", ActiveFilter{Search: "structures"}, []string{"DS-001"}},
		{"search_accession_number", ActiveFilter{Search: "go-0"}, []string{"GO-001"}},
		{"search_and_type_combined", ActiveFilter{Search: "a", MemberType: &faculty}, []string{"DS-001"}},
		{"no_match", ActiveFilter{Search: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range collect(t, svc, tt.f) {
				assert.Equal(t, "issued", r.Status)
				got = append(got, r.AccessionNumber)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func Test_ListActive_OverdueIsDerived(t *testing.T) {
	svc, clock := seedActiveFixture(t)

	for _, r := range collect(t, svc, ActiveFilter{}) {
		assert.False(t, r.IsOverdue)
	}

	// 学生(14日)は延滞、教員(30日)はまだ
	clock.Advance(20 * day24)

	all := collect(t, svc, ActiveFilter{})
	require.Len(t, all, 2)
	for _, r := range all {
		switch r.AccessionNumber {
		case "GO-001":
			assert.True(t, r.IsOverdue)
			assert.Equal(t, 7, r.OverdueDays)
			require.NotNil(t, r.AccruedFine)
			assert.InDelta(t, 35.0, *r.AccruedFine, 1e-9)
			assert.Zero(t, r.Fine)
		case "DS-001":
			assert.False(t, r.IsOverdue)
			assert.Nil(t, r.AccruedFine)
		}
	}

	overdue := collect(t, svc, ActiveFilter{OverdueOnly: true})
	require.Len(t, overdue, 1)
	assert.Equal(t, "GO-001", overdue[0].AccessionNumber)
}

func Test_ListActive_IsRestartableAndStopsEarly(t *testing.T) {
	svc, _ := seedActiveFixture(t)
	seq := svc.ListActive(context.Background(), ActiveFilter{})

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())

	seen := 0
	for _, err := range seq {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)

	// 途中で抜けた後も接続が解放されている
	assert.Equal(t, 2, count())
}

func Test_ListActive_UnknownMemberType(t *testing.T) {
	svc, _, _ := newTestService(t)
	bad := members.MemberType("alien")
	for _, err := range svc.ListActive(context.Background(), ActiveFilter{MemberType: &bad}) {
		assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
	}
}

func Test_ListLoans_History(t *testing.T) {
	svc, clock := seedActiveFixture(t)
	ctx := context.Background()

	all, err := svc.ListLoans(ctx, LoanFilter{}, Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	require.Len(t, all.Items, 3)
	// 既定は新しい順
	assert.Equal(t, "DB-001", all.Items[0].AccessionNumber)
	assert.Equal(t, 0, all.NextOffset)

	returned := "returned"
	r, err := svc.ListLoans(ctx, LoanFilter{Status: &returned}, Page{})
	require.NoError(t, err)
	require.Len(t, r.Items, 1)
	assert.Equal(t, "DB-001", r.Items[0].AccessionNumber)

	clock.Advance(20 * day24)
	overdue := "overdue"
	o, err := svc.ListLoans(ctx, LoanFilter{Status: &overdue}, Page{})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "GO-001", o.Items[0].AccessionNumber)

	page, err := svc.ListLoans(ctx, LoanFilter{}, Page{Limit: 2, Order: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "GO-001", page.Items[0].AccessionNumber)
	assert.Equal(t, 2, page.NextOffset)

	bad := "lost"
	_, err = svc.ListLoans(ctx, LoanFilter{Status: &bad}, Page{})
	assert.Equal(t, apierr.CodeInvalidArgument, apierr.CodeOf(err))
}

func Test_ListMemberLoans(t *testing.T) {
	svc, _ := seedActiveFixture(t)
	ctx := context.Background()

	res, err := svc.ListMemberLoans(ctx, "S-100", nil, Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	for _, l := range res.Items {
		assert.Equal(t, "S-100", l.MemberID)
	}

	_, err = svc.ListMemberLoans(ctx, "", nil, Page{})
	assert.Equal(t, apierr.CodeForbidden, apierr.CodeOf(err))
}
