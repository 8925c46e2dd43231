package db

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate はドライバに対応する埋め込みスキーマを流す。
// 全て CREATE ... IF NOT EXISTS なので何度実行してもよい。
func Migrate(ctx context.Context, db *sqlx.DB) error {
	name := fmt.Sprintf("schema/%s.sql", db.DriverName())
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("no schema for driver %q: %w", db.DriverName(), err)
	}

	// multiStatements を DSN で有効にしていないので1文ずつ流す
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w\n%s", err, stmt)
		}
	}
	return nil
}

func splitStatements(src string) []string {
	parts := strings.Split(src, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
