package db

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"   // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
)

// Dialect は接続ドライバに合わせた goqu の方言を返す（mysql / sqlite3 は名前が一致）
func Dialect(d DBTX) goqu.DialectWrapper {
	return goqu.Dialect(d.DriverName())
}

// CountOf: 同じ WHERE/JOIN のまま SELECT COUNT(*) にする（ORDER/LIMIT は外す）
func CountOf(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.ClearSelect().ClearOrder().ClearLimit().ClearOffset().Select(goqu.COUNT(goqu.Star()))
}
