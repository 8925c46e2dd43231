package db

import (
	"errors"

	mysql "github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// MySQL のエラー番号
const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451 // 親行の削除（子が参照中）
	mysqlNoReferencedRow = 1452 // 子行の挿入（親が存在しない）
)

// IsDuplicateKey: UNIQUE / PRIMARY KEY 制約違反か
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsForeignKeyViolation: 外部キー制約違反か（参照中の削除・存在しない親への参照）
func IsForeignKeyViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlRowIsReferenced || me.Number == mysqlNoReferencedRow
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
