package db

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

func Connect(c DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := dsnFor(c)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(c.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", c.Driver, err)
	}

	switch c.Driver {
	case DriverMySQL:
		// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
		db.SetMaxOpenConns(80)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case DriverSQLite:
		// SQLite は writer が1つなので接続も1本に絞る（SQLITE_BUSY 回避）
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	return db, nil
}

func dsnFor(c DatabaseConfig) (string, error) {
	switch c.Driver {
	case DriverMySQL:
		return mysqlConfig(c).FormatDSN(), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_loc=UTC", c.Path), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

// ユーザー名・パスワードに記号が入っても FormatDSN がエスケープする
func mysqlConfig(c DatabaseConfig) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = 3 * time.Second
	mc.ReadTimeout = 5 * time.Second
	mc.WriteTimeout = 5 * time.Second
	// 更新で値が変わらなくても一致行数を返させる（UpdateAvailable の判定用）
	mc.ClientFoundRows = true
	return mc
}
