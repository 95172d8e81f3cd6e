// Package msglog is the document-store side of the messaging core: it owns
// message content, ordering, and read state. Messages are immutable once
// written except for the read flag and its timestamp.
package msglog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateID is returned when a message id already exists. Callers
	// treat it as a harmless retry, not a failure: message ids are assigned
	// by the sender side, so a client retry carries the same id.
	ErrDuplicateID = errors.New("msglog: duplicate message id")

	ErrNotFound = errors.New("msglog: message not found")
)

// MessageType tags the payload kind. Only text exists today; the tag leaves
// room for media attachments.
type MessageType string

const MessageTypeText MessageType = "text"

// Message is a single chat message. The id is assigned before the write
// commits so it can be echoed to the real-time channel immediately.
type Message struct {
	ID             string      `bson:"_id" json:"id"`
	ConversationID string      `bson:"conversation_id" json:"conversation_id"`
	SenderID       string      `bson:"sender_id" json:"sender_id"`
	RecipientID    string      `bson:"recipient_id" json:"recipient_id"`
	Content        string      `bson:"content" json:"content"`
	Type           MessageType `bson:"type" json:"type"`
	Read           bool        `bson:"read" json:"read"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
}

// Store is the message log port.
type Store interface {
	// Append inserts a new message. Insert-only: ErrDuplicateID on id reuse.
	Append(ctx context.Context, msg *Message) error

	// Find returns one message by id, ErrNotFound when absent.
	Find(ctx context.Context, id string) (*Message, error)

	// ListByConversation returns one page ordered oldest-to-newest. The
	// page window itself is anchored at the newest messages: page 0 is the
	// most recent pageSize messages.
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)

	// MarkReadExcept flips the read flag on all unread messages in the
	// conversation not sent by readerID. The returned count is informational.
	MarkReadExcept(ctx context.Context, conversationID, readerID string) (int64, error)

	// CountUnread counts unread messages addressed to readerID.
	CountUnread(ctx context.Context, conversationID, readerID string) (int64, error)
}

// reverse flips a newest-first fetch into presentation order.
func reverse(msgs []*Message) []*Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
