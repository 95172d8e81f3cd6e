package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"carebridge.org/internal/audit"
	"carebridge.org/internal/directory"
	"carebridge.org/internal/ids"
	"carebridge.org/internal/msglog"
	"carebridge.org/internal/obs"
)

const maxContentLength = 4096

// Service implements the messaging operations on top of the directory, the
// message log and the fan-out channel. It holds no mutable state of its
// own; correctness relies on the stores' atomicity.
type Service struct {
	dir   directory.Store
	log   msglog.Store
	pub   Publisher
	now   func() time.Time
	newID func() string
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides message id generation (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(dir directory.Store, log msglog.Store, pub Publisher, opts ...Option) *Service {
	s := &Service{
		dir:   dir,
		log:   log,
		pub:   pub,
		now:   time.Now,
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation opens (or finds) the conversation between the caller
// and otherID. When the pair already has a live thread the existing
// conversation is returned with created=false.
func (s *Service) CreateConversation(ctx context.Context, callerID, otherID string) (*directory.Conversation, bool, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, false, fmt.Errorf("%w: participant_id is required", ErrValidation)
	}

	conv, err := s.dir.FindOrCreate(ctx, callerID, otherID)
	switch {
	case err == nil:
		_ = audit.LogEvent(ctx, "conversation.created", map[string]any{
			"conversation_id": conv.ID,
			"participants":    []string{callerID, otherID},
		})
		return conv, true, nil
	case errors.Is(err, directory.ErrAlreadyExists):
		return conv, false, nil
	case errors.Is(err, directory.ErrSelfConversation):
		return nil, false, fmt.Errorf("%w: cannot open a conversation with yourself", ErrValidation)
	case errors.Is(err, directory.ErrInvalidParticipant):
		return nil, false, fmt.Errorf("%w: participant does not exist or is deactivated", ErrValidation)
	default:
		return nil, false, classifyUpstream(err)
	}
}

// ListConversations returns the caller's conversations, most recently
// active first, each annotated with the computed unread count and the
// normalized other participant.
func (s *Service) ListConversations(ctx context.Context, callerID string, page Page) ([]ConversationView, error) {
	convs, err := s.dir.ListForUser(ctx, callerID, page.Limit, page.Offset)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		unread, err := s.log.CountUnread(ctx, conv.ID, callerID)
		if err != nil {
			// Annotation is derived, not authoritative; a log hiccup should
			// not hide the conversation list.
			s.logSwallowed(ctx, "count unread", conv.ID, err)
			unread = 0
		}
		views = append(views, ConversationView{
			ID:               conv.ID,
			OtherParticipant: conv.Other(callerID),
			CreatedAt:        conv.CreatedAt,
			UpdatedAt:        conv.UpdatedAt,
			UnreadCount:      unread,
		})
	}
	return views, nil
}

// ListMessages returns one page of a conversation, oldest-to-newest, and
// opportunistically marks messages from the other participant as read.
func (s *Service) ListMessages(ctx context.Context, callerID, conversationID string, page Page) ([]*msglog.Message, error) {
	if _, err := s.requireMembership(ctx, callerID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.log.ListByConversation(ctx, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	if _, err := s.log.MarkReadExcept(ctx, conversationID, callerID); err != nil {
		// Read-state bookkeeping is best-effort on the fetch path.
		s.logSwallowed(ctx, "mark read", conversationID, err)
	}
	return msgs, nil
}

// SendMessage runs the send saga: membership check, durable append,
// best-effort touch and fan-out. The caller gets a successful result as
// soon as persistence succeeds.
func (s *Service) SendMessage(ctx context.Context, callerID, conversationID, content, clientMessageID string) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLength {
		return SendResult{}, fmt.Errorf("%w: content must be 1 to %d characters", ErrValidation, maxContentLength)
	}

	conv, err := s.requireMembership(ctx, callerID, conversationID)
	if err != nil {
		return SendResult{}, err
	}

	// Persisting. The id is fixed before the write commits so the same id
	// can be echoed to the real-time channel and reused by client retries.
	msgID := strings.TrimSpace(clientMessageID)
	if msgID == "" {
		msgID = s.newID()
	}
	msg := &msglog.Message{
		ID:             msgID,
		ConversationID: conversationID,
		SenderID:       callerID,
		RecipientID:    conv.Other(callerID),
		Content:        content,
		Type:           msglog.MessageTypeText,
		CreatedAt:      s.now().UTC(),
	}
	switch err := s.log.Append(ctx, msg); {
	case err == nil:
		obs.MessageSent()
	case errors.Is(err, msglog.ErrDuplicateID):
		// The client retried a send it already generated an id for. The
		// message is durably stored; report success with the stored
		// timestamp so the retry answers exactly like the original, and
		// skip re-publishing.
		if stored, findErr := s.log.Find(ctx, msgID); findErr == nil {
			return SendResult{MessageID: msgID, Timestamp: stored.CreatedAt}, nil
		}
		return SendResult{MessageID: msgID, Timestamp: msg.CreatedAt}, nil
	default:
		return SendResult{}, classifyUpstream(err)
	}

	// Publishing: both steps are fire-and-forget relative to the caller.
	if err := s.dir.Touch(ctx, conversationID); err != nil {
		s.logSwallowed(ctx, "touch conversation", conversationID, err)
	}
	if err := s.pub.PublishMessage(conversationID, MessageEvent{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        content,
		Timestamp:      msg.CreatedAt,
	}); err != nil {
		s.logSwallowed(ctx, "publish message", conversationID, err)
	}

	_ = audit.LogEvent(ctx, "message.sent", map[string]any{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
	})
	return SendResult{MessageID: msg.ID, Timestamp: msg.CreatedAt}, nil
}

// Typing forwards a typing signal to the conversation room after the same
// membership check as any other conversation-scoped operation.
func (s *Service) Typing(ctx context.Context, callerID, conversationID string, isTyping bool) error {
	if _, err := s.requireMembership(ctx, callerID, conversationID); err != nil {
		return err
	}
	if err := s.pub.PublishTyping(conversationID, callerID, isTyping); err != nil {
		s.logSwallowed(ctx, "publish typing", conversationID, err)
	}
	return nil
}

// CanAccess reports whether the caller may join the conversation's room.
func (s *Service) CanAccess(ctx context.Context, callerID, conversationID string) error {
	_, err := s.requireMembership(ctx, callerID, conversationID)
	return err
}

// requireMembership resolves the conversation and confirms the caller is a
// participant. Non-members get the same ErrNotFound as a nonexistent id.
func (s *Service) requireMembership(ctx context.Context, callerID, conversationID string) (*directory.Conversation, error) {
	conv, err := s.dir.Get(ctx, conversationID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyUpstream(err)
	}
	if !conv.Has(callerID) {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (s *Service) logSwallowed(ctx context.Context, step, conversationID string, err error) {
	obs.LogEvent(map[string]any{
		"level":           "warn",
		"msg":             "best-effort step failed",
		"step":            step,
		"conversation_id": conversationID,
		"request_id":      audit.RequestIDFromContext(ctx),
		"error":           err.Error(),
	})
}
