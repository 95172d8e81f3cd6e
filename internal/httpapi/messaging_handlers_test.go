package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"carebridge.org/internal/directory"
	"carebridge.org/internal/fanout"
	"carebridge.org/internal/identity"
	"carebridge.org/internal/messaging"
	"carebridge.org/internal/msglog"
)

// fakeMessaging scripts the orchestrator. Membership: alice and bob share
// conv-1; everything else is not found.
type fakeMessaging struct {
	sendErr error

	mu     sync.Mutex
	sent   []string
	typing []string
}

func (f *fakeMessaging) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typing)
}

func (f *fakeMessaging) member(callerID, conversationID string) bool {
	return conversationID == "conv-1" && (callerID == "alice" || callerID == "bob")
}

func (f *fakeMessaging) CreateConversation(_ context.Context, callerID, otherID string) (*directory.Conversation, bool, error) {
	if otherID == "" || otherID == callerID {
		return nil, false, messaging.ErrValidation
	}
	now := time.Now().UTC()
	conv := &directory.Conversation{ID: "conv-1", ParticipantA: callerID, ParticipantB: otherID, CreatedAt: now, UpdatedAt: now}
	if otherID == "bob" {
		// Existing thread.
		return conv, false, nil
	}
	return conv, true, nil
}

func (f *fakeMessaging) ListConversations(_ context.Context, callerID string, _ messaging.Page) ([]messaging.ConversationView, error) {
	return []messaging.ConversationView{{ID: "conv-1", OtherParticipant: "bob", UnreadCount: 2}}, nil
}

func (f *fakeMessaging) ListMessages(_ context.Context, callerID, conversationID string, _ messaging.Page) ([]*msglog.Message, error) {
	if !f.member(callerID, conversationID) {
		return nil, messaging.ErrNotFound
	}
	return []*msglog.Message{{ID: "m1", ConversationID: conversationID, SenderID: "bob", Content: "hi"}}, nil
}

func (f *fakeMessaging) SendMessage(_ context.Context, callerID, conversationID, content, clientMessageID string) (messaging.SendResult, error) {
	if f.sendErr != nil {
		return messaging.SendResult{}, f.sendErr
	}
	if !f.member(callerID, conversationID) {
		return messaging.SendResult{}, messaging.ErrNotFound
	}
	if content == "" {
		return messaging.SendResult{}, messaging.ErrValidation
	}
	f.mu.Lock()
	f.sent = append(f.sent, content)
	f.mu.Unlock()
	return messaging.SendResult{MessageID: "m-new", Timestamp: time.Now().UTC()}, nil
}

func (f *fakeMessaging) Typing(_ context.Context, callerID, conversationID string, isTyping bool) error {
	if !f.member(callerID, conversationID) {
		return messaging.ErrNotFound
	}
	f.mu.Lock()
	f.typing = append(f.typing, conversationID)
	f.mu.Unlock()
	return nil
}

func (f *fakeMessaging) CanAccess(_ context.Context, callerID, conversationID string) error {
	if !f.member(callerID, conversationID) {
		return messaging.ErrNotFound
	}
	return nil
}

// tokenVerifier maps "tok-<user>" to that user's identity, like the remote
// authority would.
func tokenVerifier() identity.Verifier {
	return identity.VerifierFunc(func(_ context.Context, token string) (identity.Identity, error) {
		switch token {
		case "tok-alice":
			return identity.Identity{UserID: "alice", Role: "caregiver"}, nil
		case "tok-bob":
			return identity.Identity{UserID: "bob", Role: "family"}, nil
		default:
			return identity.Identity{}, identity.ErrUnauthorized
		}
	})
}

func newMessagingServer(t *testing.T, fm *fakeMessaging) *httptest.Server {
	t.Helper()
	api := NewMessaging(fm, tokenVerifier(), fanout.NewHub(), ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func authed(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestConversationRoutesRequireAuth(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	resp, err := srv.Client().Get(srv.URL + "/conversations")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestCreateConversationStatusReflectsReuse(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	resp := postJSON(t, srv, "/conversations", createConversationRequest{ParticipantID: "carol"}, authed("tok-alice"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("new thread: expected 201, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv, "/conversations", createConversationRequest{ParticipantID: "bob"}, authed("tok-alice"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("existing thread: expected 409 with existing id, got %d", resp.StatusCode)
	}
	var body conversationResponse
	decodeBody(t, resp, &body)
	if body.ID != "conv-1" || body.OtherParticipant != "bob" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	resp := postJSON(t, srv, "/conversations", createConversationRequest{ParticipantID: "alice"}, authed("tok-alice"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListConversationsAnnotated(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/conversations", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	var body struct {
		Items []messaging.ConversationView `json:"items"`
	}
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].UnreadCount != 2 {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestSendMessage(t *testing.T) {
	fm := &fakeMessaging{}
	srv := newMessagingServer(t, fm)

	resp := postJSON(t, srv, "/conversations/conv-1/messages", sendMessageRequest{Content: "hello"}, authed("tok-alice"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body messaging.SendResult
	decodeBody(t, resp, &body)
	if body.MessageID == "" {
		t.Fatalf("expected a message id")
	}
	if len(fm.sent) != 1 || fm.sent[0] != "hello" {
		t.Fatalf("service should have received the content, got %v", fm.sent)
	}
}

func TestSendMessageAsOutsiderIs404(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	// carol's token is invalid -> 401; bob on an unknown conversation -> 404.
	resp := postJSON(t, srv, "/conversations/conv-9/messages", sendMessageRequest{Content: "hello"}, authed("tok-bob"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSendMessageUpstreamFailureIs502(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{sendErr: messaging.ErrUpstream})

	resp := postJSON(t, srv, "/conversations/conv-1/messages", sendMessageRequest{Content: "hello"}, authed("tok-alice"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestListMessages(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/conversations/conv-1/messages?limit=10", nil)
	req.Header.Set("Authorization", "Bearer tok-bob")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	var body struct {
		Items []*msglog.Message `json:"items"`
	}
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].Content != "hi" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestUnknownResourcePathIs404(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/conversations/conv-1/attachments", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	resp, err := srv.Client().Get(srv.URL + "/conversations")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	rid, _ := body["request_id"].(string)
	if rid == "" {
		t.Fatalf("expected request_id in error body, got %v", body)
	}
	if hdr := resp.Header.Get("X-Request-Id"); hdr != rid {
		t.Fatalf("header/body request id mismatch: %q vs %q", hdr, rid)
	}
}
