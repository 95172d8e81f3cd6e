package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"carebridge.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/login",
	"/refresh",
	"/validate",
	"/logout",
	"/register",
	"/password-reset",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth verifies the bearer credential against the configured verifier
// and stashes the resulting identity in the request context. The websocket
// endpoint carries its credential in a query parameter and does its own
// verification, so it passes through here.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		id, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			// Verification fails closed: an unreachable authority reads the
			// same as a bad token.
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.ContextWithIdentity(r.Context(), id)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
