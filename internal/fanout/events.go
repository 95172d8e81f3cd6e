package fanout

import "time"

// Room keys. One identity-scoped room per user, one per conversation a user
// is actively viewing.
const (
	userRoomPrefix = "user:"
	chatRoomPrefix = "chat:"
)

// UserRoom returns the room key for a user's identity-scoped room.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ChatRoom returns the room key for a conversation.
func ChatRoom(conversationID string) string { return chatRoomPrefix + conversationID }

// MessageEvent is the server→client `receive_message` payload.
type MessageEvent struct {
	Event          string    `json:"event"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"chatId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// TypingEvent is the server→client `user_typing` payload.
type TypingEvent struct {
	Event          string `json:"event"`
	ConversationID string `json:"chatId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

const (
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
)
