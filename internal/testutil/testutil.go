// Package testutil はテスト共通のフィクスチャ（移行済み SQLite、時計、直接INSERTする seed）。
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/db"
)

// BaseTime: テストの「現在時刻」の起点
var BaseTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// NewDB は一時ディレクトリに SQLite を作り、本番と同じ Connect/Migrate を通す
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libris.db")
	conn, err := db.Connect(db.DatabaseConfig{Driver: db.DriverSQLite, Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))
	return conn
}

// Clock は手動で進める時計
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func SeedBook(t testing.TB, conn *sqlx.DB, accession, title string, copies int) {
	t.Helper()
	const q = `
	INSERT INTO books (accession_number, title, author, total_copies, available_copies, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := conn.Exec(q, accession, title, "Author of "+title, copies, copies, BaseTime, BaseTime)
	require.NoError(t, err)
}

func SeedMember(t testing.TB, conn *sqlx.DB, memberID, name, memberType, status string) {
	t.Helper()
	const q = `
	INSERT INTO members (member_id, name, member_type, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := conn.Exec(q, memberID, name, memberType, status, BaseTime, BaseTime)
	require.NoError(t, err)
}

// Available は books.available_copies をそのまま読む
func Available(t testing.TB, conn *sqlx.DB, accession string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.Get(&n, `SELECT available_copies FROM books WHERE accession_number = ?`, accession))
	return n
}

// OpenLoans は未返却件数を数える
func OpenLoans(t testing.TB, conn *sqlx.DB, accession string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.Get(&n,
		`SELECT COUNT(*) FROM loans WHERE accession_number = ? AND status <> 'returned'`, accession))
	return n
}
