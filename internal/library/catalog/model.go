package catalog

import (
	"database/sql"
	"time"
)

// Book は books テーブルの1行を表す
type Book struct {
	AccessionNumber string         `db:"accession_number"`
	Title           string         `db:"title"`
	Author          sql.NullString `db:"author"`
	ISBN            sql.NullString `db:"isbn"`
	Publisher       sql.NullString `db:"publisher"`
	Category        sql.NullString `db:"category"`
	TotalCopies     int            `db:"total_copies"`
	AvailableCopies int            `db:"available_copies"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// 蔵書検索の条件
type BookQuery struct {
	Query         string // タイトル・著者・登録番号・ISBN の部分一致
	Category      *string
	AvailableOnly bool
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
