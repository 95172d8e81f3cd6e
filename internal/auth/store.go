package auth

import "context"

// Store describes the persistence operations the token authority needs.
type Store interface {
	Users(ctx context.Context) UserStore
	RotationTokens(ctx context.Context) RotationTokenStore
}

// UserStore manages accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// RotationTokenStore manages the durable rotation-credential records.
type RotationTokenStore interface {
	Create(ctx context.Context, tok *RotationToken) error
	Find(ctx context.Context, id string) (*RotationToken, error)

	// Revoke marks the token revoked if it is not already. It reports
	// whether this call performed the revocation: under two concurrent
	// rotations of the same token exactly one caller sees true.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) error
}
