package identity

import (
	"context"
	"strings"
)

type ctxKey string

const identityKey ctxKey = "identity"

// ContextWithIdentity stores the verified identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the verified identity from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	if !ok || strings.TrimSpace(v.UserID) == "" {
		return Identity{}, false
	}
	return v, true
}
