package reports

// Stats は貸出カウンタ画面のサマリ
type Stats struct {
	Titles          int64            `json:"titles"`
	TotalCopies     int64            `json:"total_copies"`
	AvailableCopies int64            `json:"available_copies"`
	CopiesOnLoan    int64            `json:"copies_on_loan"`
	Members         int64            `json:"members"`
	ActiveMembers   int64            `json:"active_members"`
	ActiveLoans     int64            `json:"active_loans"`
	OverdueLoans    int64            `json:"overdue_loans"`
	ActiveByType    map[string]int64 `json:"active_by_member_type"`
	FinesCollected  float64          `json:"fines_collected"`
}

type bookTotals struct {
	Titles          int64 `db:"titles"`
	TotalCopies     int64 `db:"total_copies"`
	AvailableCopies int64 `db:"available_copies"`
}

type typeCount struct {
	MemberType string `db:"member_type"`
	Count      int64  `db:"cnt"`
}

// CSV の文字コード
type Encoding string

const (
	EncodingUTF8     Encoding = "utf8" // BOM付き（Excel でそのまま開ける）
	EncodingShiftJIS Encoding = "sjis"
)

func (e Encoding) Valid() bool {
	return e == EncodingUTF8 || e == EncodingShiftJIS
}
