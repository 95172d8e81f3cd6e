package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"carebridge.org/internal/fanout"
	"carebridge.org/internal/obs"
)

const (
	wsReadLimit  = 4 << 10
	wsPongWait   = 60 * time.Second
	maxChatRooms = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalOrigin(origin)
	},
}

// clientFrame is every message a client may send over the socket. Unknown
// actions are ignored rather than closing the connection, so old servers
// tolerate new clients.
type clientFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"chatId"`
}

const (
	actionJoinUserRoom = "join_user_room"
	actionJoinChat     = "join_chat"
	actionLeaveChat    = "leave_chat"
	actionTypingStart  = "typing_start"
	actionTypingStop   = "typing_stop"
)

// serverFrame acknowledges joins and leaves and reports per-frame errors.
// Message and typing events use the fanout payloads instead.
type serverFrame struct {
	Event          string `json:"event"`
	ConversationID string `json:"chatId,omitempty"`
	Error          string `json:"error,omitempty"`
}

const (
	eventJoinedUserRoom = "joined_user_room"
	eventJoinedChat     = "joined_chat"
	eventLeftChat       = "left_chat"
	eventError          = "error"
)

func sendFrame(conn *fanout.Connection, frame serverFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

// handleWS upgrades the connection and runs the subscription loop.
// Browsers cannot set headers on websocket dials, so the credential rides
// in the token query parameter and is verified before the upgrade.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "missing token")
		return
	}
	caller, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		return
	}

	conn := fanout.NewConnection(caller.UserID, ws)
	conn.Start()
	a.hub.Attach(conn)
	defer a.hub.Detach(conn)

	obs.LogEvent(map[string]any{
		"level":   "info",
		"msg":     "ws connected",
		"user_id": caller.UserID,
		"conn_id": conn.ID(),
	})

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	joined := 0
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			conn.Close(websocket.CloseNormalClosure, "bye")
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			sendFrame(conn, serverFrame{Event: eventError, Error: "malformed frame"})
			continue
		}

		switch frame.Action {
		case actionJoinUserRoom:
			// Attach already joined the identity room; rejoin is harmless.
			a.hub.Join(fanout.UserRoom(caller.UserID), conn)
			sendFrame(conn, serverFrame{Event: eventJoinedUserRoom})

		case actionJoinChat:
			if frame.ConversationID == "" || joined >= maxChatRooms {
				sendFrame(conn, serverFrame{Event: eventError, ConversationID: frame.ConversationID, Error: "cannot join"})
				continue
			}
			// Room membership mirrors conversation membership; the check is
			// done once at join, not per delivered event.
			if err := a.msg.CanAccess(r.Context(), caller.UserID, frame.ConversationID); err != nil {
				sendFrame(conn, serverFrame{Event: eventError, ConversationID: frame.ConversationID, Error: "conversation not found"})
				continue
			}
			a.hub.Join(fanout.ChatRoom(frame.ConversationID), conn)
			joined++
			sendFrame(conn, serverFrame{Event: eventJoinedChat, ConversationID: frame.ConversationID})

		case actionLeaveChat:
			if frame.ConversationID == "" {
				continue
			}
			a.hub.Leave(fanout.ChatRoom(frame.ConversationID), conn)
			if joined > 0 {
				joined--
			}
			sendFrame(conn, serverFrame{Event: eventLeftChat, ConversationID: frame.ConversationID})

		case actionTypingStart, actionTypingStop:
			if frame.ConversationID == "" {
				continue
			}
			isTyping := frame.Action == actionTypingStart
			_ = a.msg.Typing(r.Context(), caller.UserID, frame.ConversationID, isTyping)
		}
	}
}
