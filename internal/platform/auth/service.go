package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidInput  = errors.New("id and password are required")
)

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, in RegisterInput) error
	Delete(ctx context.Context, id string) error
	ChangeID(ctx context.Context, oldID, newID string) error
}

type RegisterInput struct {
	ID       string
	Password string
	Role     Role
	MemberID string // 学生・教員アカウントのみ
}

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(conn *sqlx.DB, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  NewStore(conn),
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}

	now := s.now()
	claims := Claims{
		Role:     acct.Role,
		MemberID: acct.MemberID.String,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	if strings.TrimSpace(in.ID) == "" || in.Password == "" {
		return ErrInvalidInput
	}
	if !in.Role.Valid() {
		return ErrInvalidRole
	}

	exists, err := s.store.GetByID(ctx, in.ID)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var mid sql.NullString
	if in.MemberID != "" {
		mid = sql.NullString{String: in.MemberID, Valid: true}
	}
	return s.store.Create(ctx, &Account{
		ID:           in.ID,
		PasswordHash: string(hash),
		Role:         in.Role,
		MemberID:     mid,
		CreatedAt:    s.now(),
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ChangeID(ctx context.Context, oldID, newID string) error {
	// old が存在するか
	old, err := s.store.GetByID(ctx, oldID)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNotFound
	}

	// new が空いてるか
	nw, err := s.store.GetByID(ctx, newID)
	if err != nil {
		return err
	}
	if nw != nil {
		return ErrAlreadyExists
	}

	updated, err := s.store.UpdateID(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}
