package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"carebridge.org/internal/fanout"
	"carebridge.org/internal/messaging"
)

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, int) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	if err != nil {
		return nil, code
	}
	t.Cleanup(func() { conn.Close() })
	return conn, code
}

func TestWSRejectsBadToken(t *testing.T) {
	srv := newMessagingServer(t, &fakeMessaging{})

	conn, code := dialWS(t, srv, "tok-nobody")
	if conn != nil {
		t.Fatalf("dial should fail with a bad token")
	}
	if code != 401 {
		t.Fatalf("expected 401 handshake response, got %d", code)
	}
}

func TestWSUserRoomDeliveryAfterConnect(t *testing.T) {
	fm := &fakeMessaging{}
	hub := fanout.NewHub()
	api := NewMessaging(fm, tokenVerifier(), hub, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	conn, _ := dialWS(t, srv, "tok-alice")
	if conn == nil {
		t.Fatalf("dial failed")
	}

	// Attach runs in the handler goroutine; wait for the user room to exist.
	payload := []byte(`{"event":"receive_message","messageId":"m1"}`)
	deadline := time.Now().Add(2 * time.Second)
	for hub.NotifyUser("alice", payload) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never joined its user room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt fanout.MessageEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.MessageID != "m1" {
		t.Fatalf("unexpected frame: %s", frame)
	}
}

func TestWSJoinChatGatedByMembership(t *testing.T) {
	fm := &fakeMessaging{}
	hub := fanout.NewHub()
	pub := fanout.NewHubPublisher(hub)
	api := NewMessaging(fm, tokenVerifier(), hub, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	conn, _ := dialWS(t, srv, "tok-alice")
	if conn == nil {
		t.Fatalf("dial failed")
	}

	readFrame := func() map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return frame
	}

	// conv-9 is not alice's; the join is refused with an error frame.
	if err := conn.WriteJSON(clientFrame{Action: actionJoinChat, ConversationID: "conv-9"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(); got["event"] != "error" {
		t.Fatalf("expected error frame for refused join, got %v", got)
	}

	if err := conn.WriteJSON(clientFrame{Action: actionJoinChat, ConversationID: "conv-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(); got["event"] != "joined_chat" || got["chatId"] != "conv-1" {
		t.Fatalf("expected joined_chat ack, got %v", got)
	}

	// The ack means the join is complete, so a publish is now observable.
	_ = pub.PublishMessage("conv-1", messaging.MessageEvent{
		MessageID: "m-live", ConversationID: "conv-1", SenderID: "bob", Content: "hi",
	})
	if got := readFrame(); got["event"] != "receive_message" || got["messageId"] != "m-live" {
		t.Fatalf("expected receive_message, got %v", got)
	}

	// Nothing from rooms the client could not join reaches the socket.
	_ = pub.PublishMessage("conv-9", messaging.MessageEvent{MessageID: "m-secret", ConversationID: "conv-9"})
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no further frames, got %s", raw)
	}
}

func TestWSTypingForwardedToService(t *testing.T) {
	fm := &fakeMessaging{}
	srv := newMessagingServer(t, fm)

	conn, _ := dialWS(t, srv, "tok-alice")
	if conn == nil {
		t.Fatalf("dial failed")
	}

	if err := conn.WriteJSON(clientFrame{Action: actionTypingStart, ConversationID: "conv-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fm.typingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("typing frame never reached the service")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
