package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carebridge.org/internal/identity"
	"carebridge.org/internal/ids"
)

const (
	defaultIssuer      = "carebridge-authority"
	defaultAccessTTL   = 15 * time.Minute
	defaultRotationTTL = 7 * 24 * time.Hour
)

// Service is the token authority: it issues, rotates, verifies and revokes
// session credentials. Access credentials are stateless HS256 JWTs; rotation
// credentials are opaque "id.secret" pairs tracked in durable storage so
// they can be individually revoked.
type Service struct {
	store Store
	now   func() time.Time

	secret      []byte
	issuer      string
	accessTTL   time.Duration
	rotationTTL time.Duration
}

// Claims are the JWT claims embedded in access credentials.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecret sets the HS256 signing secret. Required.
func WithSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: signing secret is empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access credential lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRotationTTL configures rotation credential lifetime.
func WithRotationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.rotationTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the authority service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:       store,
		now:         time.Now,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		rotationTTL: defaultRotationTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: signing secret is not configured")
	}
	return svc, nil
}

// Issue authenticates credentials and mints a fresh token pair. Prior
// rotation credentials for the user stay valid: concurrent sessions are
// allowed.
func (s *Service) Issue(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return TokenPair{}, nil, ErrInvalidCredentials
	case err != nil:
		// A store failure is not a credential verdict; surface it.
		return TokenPair{}, nil, fmt.Errorf("auth: look up user: %w", err)
	}
	if !user.Active() {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Rotate validates a rotation credential and atomically replaces it with a
// fresh pair. A credential is single-use: the stored record is revoked with
// a compare-and-swap before minting, so a concurrent replay of the same
// token loses the race and fails.
func (s *Service) Rotate(ctx context.Context, rotationToken string) (TokenPair, *User, error) {
	tokenID, secret, err := splitRotationToken(rotationToken)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}

	store := s.store.RotationTokens(ctx)
	record, err := store.Find(ctx, tokenID)
	switch {
	case errors.Is(err, ErrNotFound):
		return TokenPair{}, nil, ErrInvalidToken
	case err != nil:
		return TokenPair{}, nil, fmt.Errorf("auth: look up rotation token: %w", err)
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		// Wrong secret for a known id smells like token theft; burn the record.
		_, _ = store.Revoke(ctx, record.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}

	revoked, err := store.Revoke(ctx, record.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !revoked {
		// Another rotation of the same token won the swap.
		return TokenPair{}, nil, ErrInvalidToken
	}

	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return TokenPair{}, nil, ErrInvalidToken
	case err != nil:
		return TokenPair{}, nil, fmt.Errorf("auth: look up user: %w", err)
	}
	if !user.Active() {
		return TokenPair{}, nil, ErrInvalidToken
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Verify checks an access credential's signature and expiry, then re-checks
// that the subject still exists and is active, so a deactivated account
// cannot ride out an already-issued token.
func (s *Service) Verify(ctx context.Context, accessToken string) (identity.Identity, error) {
	claims, err := s.parseAccessToken(accessToken)
	if err != nil {
		return identity.Identity{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrNotFound):
		return identity.Identity{}, ErrInvalidToken
	case err != nil:
		return identity.Identity{}, fmt.Errorf("auth: look up user: %w", err)
	}
	if !user.Active() {
		return identity.Identity{}, ErrInvalidToken
	}
	return identity.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Revoke deletes a rotation credential. Absence is not an error: logout is
// idempotent.
func (s *Service) Revoke(ctx context.Context, rotationToken string) error {
	tokenID, _, err := splitRotationToken(rotationToken)
	if err != nil {
		return nil
	}
	_, err = s.store.RotationTokens(ctx).Revoke(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Register creates a new account. Email uniqueness is enforced by the store.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
		Role:         "caregiver",
		Status:       "active",
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ResetSender delivers password-reset instructions out of band. It is an
// external collaborator with its own contract; the authority only decides
// whether to invoke it.
type ResetSender interface {
	SendReset(ctx context.Context, email string) error
}

// RequestPasswordReset always reports success to the caller regardless of
// whether the email exists, so the endpoint cannot be used to enumerate
// accounts. Delivery errors are logged by the sender, not surfaced.
func (s *Service) RequestPasswordReset(ctx context.Context, sender ResetSender, email string) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || sender == nil {
		return
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil || !user.Active() {
		return
	}
	_ = sender.SendReset(ctx, user.Email)
}

// ChangePassword updates the stored hash and revokes every outstanding
// rotation credential for the user, ending all other sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.store.RotationTokens(ctx).RevokeAllForUser(ctx, userID)
}

// Internal helpers ---------------------------------------------------------

func (s *Service) mintPair(ctx context.Context, user *User) (TokenPair, error) {
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	rotationString, record, err := s.generateRotationToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RotationTokens(ctx).Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:     accessToken,
		RotationToken:   rotationString,
		AccessExpiresAt: accessExp,
		RotationExpires: record.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(user *User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) parseAccessToken(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateRotationToken(userID string, now time.Time) (string, *RotationToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RotationToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.rotationTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func splitRotationToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid rotation token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
