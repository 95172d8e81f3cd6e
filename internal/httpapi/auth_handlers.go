package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"carebridge.org/internal/audit"
	"carebridge.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RotationToken string `json:"rotation_token"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type tokenPairResponse struct {
	AccessToken     string    `json:"access_token"`
	RotationToken   string    `json:"rotation_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RotationExpires time.Time `json:"rotation_expires_at"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
}

func pairResponse(pair auth.TokenPair, user *auth.User) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:     pair.AccessToken,
		RotationToken:   pair.RotationToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		RotationExpires: pair.RotationExpires,
		UserID:          user.ID,
		Role:            user.Role,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.auth.Issue(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		// Wrong password and unknown email answer identically.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	default:
		writeError(w, r, http.StatusBadGateway, "credential store unavailable")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, pairResponse(pair, user))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.auth.Rotate(r.Context(), req.RotationToken)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid rotation token")
		return
	default:
		writeError(w, r, http.StatusBadGateway, "credential store unavailable")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.session.rotated", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, pairResponse(pair, user))
}

// handleValidate is the cross-service verification endpoint: peer services
// relay the bearer credential here and trust the response.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := a.auth.Verify(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	default:
		writeError(w, r, http.StatusBadGateway, "credential store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// handleLogout revokes the rotation token. Idempotent: revoking an already
// revoked or unknown token still answers 204.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.Revoke(r.Context(), req.RotationToken); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid email or password")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":      user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"role":         user.Role,
	})
}

// handlePasswordReset always answers 202 so the endpoint cannot be used to
// probe which emails have accounts.
func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	a.auth.RequestPasswordReset(r.Context(), a.resetSender, req.Email)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
