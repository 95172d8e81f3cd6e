package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"carebridge.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                   { return &userStore{db: s.db} }
func (s *PGStore) RotationTokens(context.Context) RotationTokenStore { return &rotationStore{db: s.db} }

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = "active"
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, display_name, password_hash, role, status)
		values($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Role, u.Status)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanOne(ctx, `
		select id, email, display_name, password_hash, role, status, created_at, updated_at
		from users where id=$1
	`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(ctx, `
		select id, email, display_name, password_hash, role, status, created_at, updated_at
		from users where email=$1
	`, strings.ToLower(email))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) scanOne(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Status,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Rotation token store ------------------------------------------------------

type rotationStore struct{ db *sql.DB }

func (s *rotationStore) Create(ctx context.Context, tok *RotationToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rotation_tokens(id, user_id, token_hash, expires_at)
		values($1,$2,$3,$4)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt)
	return err
}

func (s *rotationStore) Find(ctx context.Context, id string) (*RotationToken, error) {
	var tok RotationToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from rotation_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Revoke is the rotation compare-and-swap: the conditional update succeeds
// for exactly one caller, which is what makes rotation single-use.
func (s *rotationStore) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update rotation_tokens set revoked=true where id=$1 and revoked=false`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *rotationStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update rotation_tokens set revoked=true where user_id=$1 and revoked=false`, userID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
