// Package identity defines the verification port every non-authority service
// depends on. Services never validate credentials locally: each request's
// bearer token is handed to a Verifier, which delegates to the token
// authority. Alternate implementations (e.g. local signature check with a
// revocation-list sync) can be substituted behind the same interface.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned for any credential that could not be verified,
// including transport failures reaching the authority. Verification always
// fails closed.
var ErrUnauthorized = errors.New("identity: unauthorized")

// Identity is the verified subject of an access credential.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Verifier validates an access credential and resolves its subject.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface. Used by tests.
type VerifierFunc func(ctx context.Context, accessToken string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, accessToken string) (Identity, error) {
	return f(ctx, accessToken)
}
