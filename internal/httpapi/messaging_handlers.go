package httpapi

import (
	"net/http"
	"strings"
	"time"

	"carebridge.org/internal/identity"
)

type createConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

type conversationResponse struct {
	ID               string    `json:"id"`
	OtherParticipant string    `json:"other_participant"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type sendMessageRequest struct {
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodPost:
		a.createConversation(w, r, caller)
	case http.MethodGet:
		a.listConversations(w, r, caller)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleConversationResource routes /conversations/{id}/messages.
func (a *API) handleConversationResource(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/conversations/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "messages" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listMessages(w, r, caller, id)
	case http.MethodPost:
		a.sendMessage(w, r, caller, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createConversation(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	conv, created, err := a.msg.CreateConversation(r.Context(), caller.UserID, req.ParticipantID)
	if err != nil {
		handleMessagingError(w, r, err)
		return
	}

	// An existing thread is a conflict that carries the pointer to the
	// prior conversation, so clients can reuse it without a second lookup.
	code := http.StatusConflict
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, conversationResponse{
		ID:               conv.ID,
		OtherParticipant: conv.Other(caller.UserID),
		CreatedAt:        conv.CreatedAt,
		UpdatedAt:        conv.UpdatedAt,
	})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request, caller identity.Identity) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	views, err := a.msg.ListConversations(r.Context(), caller.UserID, page)
	if err != nil {
		handleMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request, caller identity.Identity, conversationID string) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := a.msg.ListMessages(r.Context(), caller.UserID, conversationID, page)
	if err != nil {
		handleMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request, caller identity.Identity, conversationID string) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.msg.SendMessage(r.Context(), caller.UserID, conversationID, req.Content, req.MessageID)
	if err != nil {
		handleMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
