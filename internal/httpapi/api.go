// Package httpapi is the HTTP surface for both services: the token
// authority and the messaging API share the mux wiring, middleware and
// response helpers but expose disjoint route sets.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"carebridge.org/internal/auth"
	"carebridge.org/internal/directory"
	"carebridge.org/internal/fanout"
	"carebridge.org/internal/identity"
	"carebridge.org/internal/messaging"
	"carebridge.org/internal/msglog"
	"carebridge.org/internal/obs"
)

// ReadyProbe checks the service's backing stores for the readiness
// endpoint. Nil members are skipped, so each service configures only the
// stores it actually depends on.
type ReadyProbe struct {
	DB    *sql.DB
	Extra func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Extra != nil {
		return rp.Extra(ctx)
	}
	return nil
}

// authService is the slice of the token authority the handlers call.
type authService interface {
	Issue(ctx context.Context, email, password string) (auth.TokenPair, *auth.User, error)
	Rotate(ctx context.Context, rotationToken string) (auth.TokenPair, *auth.User, error)
	Verify(ctx context.Context, accessToken string) (identity.Identity, error)
	Revoke(ctx context.Context, rotationToken string) error
	Register(ctx context.Context, email, password, displayName string) (*auth.User, error)
	RequestPasswordReset(ctx context.Context, sender auth.ResetSender, email string)
}

// messagingService is the slice of the orchestrator the handlers call.
type messagingService interface {
	CreateConversation(ctx context.Context, callerID, otherID string) (*directory.Conversation, bool, error)
	ListConversations(ctx context.Context, callerID string, page messaging.Page) ([]messaging.ConversationView, error)
	ListMessages(ctx context.Context, callerID, conversationID string, page messaging.Page) ([]*msglog.Message, error)
	SendMessage(ctx context.Context, callerID, conversationID, content, clientMessageID string) (messaging.SendResult, error)
	Typing(ctx context.Context, callerID, conversationID string, isTyping bool) error
	CanAccess(ctx context.Context, callerID, conversationID string) error
}

// API is the HTTP layer for one service role.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	service    string
	version    string

	rateBurst  int
	ratePerSec int

	auth        authService
	resetSender auth.ResetSender

	verifier identity.Verifier
	msg      messagingService
	hub      *fanout.Hub
}

// APIOption configures an API.
type APIOption func(*API)

// WithRateLimit overrides the per-IP token-bucket parameters.
func WithRateLimit(burst, perSecond int) APIOption {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// NewAuthority builds the token authority surface: credential endpoints
// plus the operational trio. Every route is public; the credentials
// themselves are the authentication.
func NewAuthority(svc authService, sender auth.ResetSender, rp ReadyProbe, version string, opts ...APIOption) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		service:     "carebridge-authority",
		version:     version,
		rateBurst:   defaultRateBurst,
		ratePerSec:  defaultRatePerSec,
		auth:        svc,
		resetSender: sender,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/login", a.handleLogin)
	a.mux.HandleFunc("/refresh", a.handleRefresh)
	a.mux.HandleFunc("/validate", a.handleValidate)
	a.mux.HandleFunc("/logout", a.handleLogout)
	a.mux.HandleFunc("/register", a.handleRegister)
	a.mux.HandleFunc("/password-reset", a.handlePasswordReset)

	a.routeOperational()
	return a
}

// NewMessaging builds the messaging surface. All conversation routes and
// the websocket endpoint require a verified identity.
func NewMessaging(svc messagingService, verifier identity.Verifier, hub *fanout.Hub, rp ReadyProbe, version string, opts ...APIOption) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		service:    "carebridge-api",
		version:    version,
		rateBurst:  defaultRateBurst,
		ratePerSec: defaultRatePerSec,
		verifier:   verifier,
		msg:        svc,
		hub:        hub,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/conversations", a.handleConversations)
	a.mux.HandleFunc("/conversations/", a.handleConversationResource)
	a.mux.HandleFunc("/ws", a.handleWS)

	a.routeOperational()
	return a
}

func (a *API) routeOperational() {
	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}

// Handler wraps the mux with the shared middleware chain, innermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	h = RequestID(h)
	return h
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.service,
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
