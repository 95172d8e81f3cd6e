package fanout

import "carebridge.org/internal/messaging"

// HubPublisher adapts the Hub to the orchestrator's publisher port,
// translating the transport-agnostic event into the wire payload.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

var _ messaging.Publisher = (*HubPublisher)(nil)

func (p *HubPublisher) PublishMessage(conversationID string, evt messaging.MessageEvent) error {
	return p.hub.PublishMessage(conversationID, MessageEvent{
		MessageID:      evt.MessageID,
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		Content:        evt.Content,
		Timestamp:      evt.Timestamp,
	})
}

func (p *HubPublisher) PublishTyping(conversationID, userID string, isTyping bool) error {
	return p.hub.PublishTyping(conversationID, userID, isTyping)
}
