package logs

import "time"

type CreateLogRequest struct {
	MemberID   string  `json:"member_id"` // 学生・教員は自分のIDで上書きされる
	BookTitle  string  `json:"book_title" binding:"required"`
	Department *string `json:"department,omitempty"` // 省略時は利用者の所属
	Semester   *string `json:"semester,omitempty"`
	Email      *string `json:"email,omitempty"` // 省略時は利用者のメール
	LoggedBy   string  `json:"-"`
}

type LogResponse struct {
	LogID      int64     `json:"log_id"`
	MemberID   string    `json:"member_id"`
	BookTitle  string    `json:"book_title"`
	Department *string   `json:"department,omitempty"`
	Semester   *string   `json:"semester,omitempty"`
	Email      *string   `json:"email,omitempty"`
	LoggedBy   *string   `json:"logged_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListLogsResult struct {
	Items []LogResponse `json:"items"`
	Count int           `json:"count"`
}
