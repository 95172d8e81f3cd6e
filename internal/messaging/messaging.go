// Package messaging orchestrates the conversation directory, the message
// log and the fan-out channel. Cross-store operations are sagas with a
// fixed partial-failure outcome: once a message is durably appended to the
// log, directory-touch and fan-out failures are logged and swallowed — the
// message is retrievable even if live delivery failed.
package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound covers both a nonexistent conversation and a caller who
	// is not a participant. The two are deliberately indistinguishable so
	// conversation existence cannot be probed.
	ErrNotFound = errors.New("messaging: conversation not found")

	ErrValidation = errors.New("messaging: invalid input")

	// ErrUpstream wraps dependency failures the caller cannot act on.
	ErrUpstream = errors.New("messaging: upstream dependency failed")
)

// Publisher is the fan-out port. Failures are best-effort by contract.
type Publisher interface {
	PublishMessage(conversationID string, evt MessageEvent) error
	PublishTyping(conversationID, userID string, isTyping bool) error
}

// MessageEvent mirrors fanout.MessageEvent without importing the hub, so
// the orchestrator stays transport-agnostic.
type MessageEvent struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Content        string
	Timestamp      time.Time
}

// ConversationView is a listing row annotated with state derived at read
// time, never stored.
type ConversationView struct {
	ID               string    `json:"id"`
	OtherParticipant string    `json:"other_participant"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	UnreadCount      int64     `json:"unread_count"`
}

// SendResult is what a successful send returns to the caller.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Page bounds a listing request.
type Page struct {
	Limit  int
	Offset int
}

func classifyUpstream(err error) error {
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
