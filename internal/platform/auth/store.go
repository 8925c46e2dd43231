package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"LIBRIS-backend/internal/platform/db"
)

type Account struct {
	ID           string         `db:"id"`
	PasswordHash string         `db:"password_hash"`
	Role         Role           `db:"role"`
	MemberID     sql.NullString `db:"member_id"`
	IsDisabled   bool           `db:"is_disabled"`
	CreatedAt    time.Time      `db:"created_at"`
}

type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id string) (int64, error)
	UpdateID(ctx context.Context, oldID, newID string) (int64, error)
}

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) AccountStore {
	return &Store{db: d}
}

// GetByID: 見つからなければ (nil, nil)
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	const q = `
SELECT id, password_hash, role, member_id, is_disabled, created_at
FROM auth_accounts
WHERE id = ?
LIMIT 1
`
	var a Account
	err := s.db.GetContext(ctx, &a, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO auth_accounts (id, password_hash, role, member_id, is_disabled, created_at)
VALUES (?, ?, ?, ?, 0, ?)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.PasswordHash, string(a.Role), a.MemberID, a.CreatedAt)
	if db.IsDuplicateKey(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_accounts WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) UpdateID(ctx context.Context, oldID, newID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE auth_accounts SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return res.RowsAffected()
}
