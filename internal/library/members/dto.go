package members

import "time"

type CreateMemberRequest struct {
	MemberID   string  `json:"member_id" binding:"required"`
	Name       string  `json:"name" binding:"required"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	Type       string  `json:"member_type"`          // 省略時は student
	ExpiresAt  *string `json:"expires_at,omitempty"` // YYYY-MM-DD or RFC3339
}

type UpdateMemberRequest struct {
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	Type       *string `json:"member_type,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"` // "" で無期限に戻す
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type MemberResponse struct {
	MemberID   string     `json:"member_id"`
	Name       string     `json:"name"`
	Email      *string    `json:"email,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	Department *string    `json:"department,omitempty"`
	Type       string     `json:"member_type"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Expired    bool       `json:"expired"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ListMembersResult struct {
	Items      []MemberResponse `json:"items"`
	Total      int64            `json:"total"`
	NextOffset int              `json:"next_offset"`
}
