package catalog

import "time"

// ===== Requests =====

type CreateBookRequest struct {
	AccessionNumber string  `json:"accession_number" binding:"required"`
	Title           string  `json:"title" binding:"required"`
	Author          *string `json:"author,omitempty"`
	ISBN            *string `json:"isbn,omitempty"`
	Publisher       *string `json:"publisher,omitempty"`
	Category        *string `json:"category,omitempty"`
	TotalCopies     int     `json:"total_copies"` // 省略時は1
}

type UpdateBookRequest struct {
	Title     *string `json:"title,omitempty"`
	Author    *string `json:"author,omitempty"`
	ISBN      *string `json:"isbn,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	Category  *string `json:"category,omitempty"`
}

// 複本の追加・除籍
type CopiesRequest struct {
	Count int `json:"count" binding:"required"`
}

// ===== Responses =====

type BookResponse struct {
	AccessionNumber string    `json:"accession_number"`
	Title           string    `json:"title"`
	Author          *string   `json:"author,omitempty"`
	ISBN            *string   `json:"isbn,omitempty"`
	Publisher       *string   `json:"publisher,omitempty"`
	Category        *string   `json:"category,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ListBooksResult struct {
	Items      []BookResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset int            `json:"next_offset"`
}
