// Package directory is the relational side of the messaging core: it owns
// conversation identity and participant membership. Message content lives in
// the message log; neither store is authoritative over the other.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("directory: conversation not found")

	// ErrAlreadyExists signals that a non-deleted conversation already
	// exists for the participant pair. Callers receive the existing
	// conversation alongside it so create can be answered with a pointer
	// to the prior thread.
	ErrAlreadyExists = errors.New("directory: conversation already exists")

	ErrInvalidParticipant = errors.New("directory: participant does not exist or is deactivated")
	ErrSelfConversation   = errors.New("directory: cannot open a conversation with yourself")
)

// Conversation is a two-party thread. Participants are stored positionally
// but looked up symmetrically: at most one non-deleted conversation exists
// per unordered pair.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Has reports whether userID is one of the two participants.
func (c *Conversation) Has(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Store is the conversation directory port.
type Store interface {
	// FindOrCreate returns the existing conversation for the pair with
	// ErrAlreadyExists, or creates and returns a new one with a nil error.
	FindOrCreate(ctx context.Context, userA, userB string) (*Conversation, error)

	Get(ctx context.Context, id string) (*Conversation, error)

	// Touch bumps updated_at. Best-effort: callers log and swallow failures.
	Touch(ctx context.Context, id string) error

	// ListForUser returns conversations where the user is either
	// participant, most recently active first.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Conversation, error)
}
