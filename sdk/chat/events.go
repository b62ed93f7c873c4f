package chat

import "time"

// Event names exchanged with the collaboration server.
const (
	EventMessageNew      = "message:new"
	EventMessageSend     = "message:send"
	EventMessageUpdated  = "message:updated"
	EventMessageRead     = "message:read"
	EventConversationNew = "conversation:new"
	EventConversations   = "conversations"
	EventTyping          = "typing"
	EventUnread          = "unread"
	EventError           = "error"
)

// SendMessagePayload is the body of an outbound message:send.
type SendMessagePayload struct {
	ClientID       string         `json:"clientId"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MessageUpdatedPayload carries a partial message update.
type MessageUpdatedPayload struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Content        *string        `json:"content,omitempty"`
	IsRead         *bool          `json:"isRead,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
}

// Patch converts the payload into a store patch.
func (p MessageUpdatedPayload) Patch() MessagePatch {
	return MessagePatch{
		Content:   p.Content,
		IsRead:    p.IsRead,
		Metadata:  p.Metadata,
		UpdatedAt: p.UpdatedAt,
	}
}

// ReadPayload announces that a user read a conversation.
type ReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// TypingPayload is the full set of users typing in a conversation.
type TypingPayload struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
}

// TypingSignal is sent by a client when it starts or stops typing.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// UnreadPayload sets the unread count of a conversation.
type UnreadPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

// ErrorPayload is a server-reported, user-facing error.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
