package auth

import "time"

// User is an account known to the token authority. Role is a plain string
// claim ("caregiver", "family", "admin") carried in access tokens; services
// interpret it themselves.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool { return u != nil && u.Status == "active" }

// RotationToken is the durable half of a session: the only session state
// that outlives a single request. The opaque secret handed to the client is
// never stored; only its sha256 hash is.
type RotationToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// TokenPair is what a successful issue or rotate returns.
type TokenPair struct {
	AccessToken     string
	RotationToken   string
	AccessExpiresAt time.Time
	RotationExpires time.Time
}
