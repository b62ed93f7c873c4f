package chat

import "time"

// User is a participant as returned by the auth API.
type User struct {
	ID        string     `json:"id" yaml:"id"`
	Email     string     `json:"email" yaml:"email"`
	Username  string     `json:"username" yaml:"username"`
	FirstName string     `json:"firstName,omitempty" yaml:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty" yaml:"lastName,omitempty"`
	Avatar    string     `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	IsOnline  bool       `json:"isOnline,omitempty" yaml:"isOnline,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty" yaml:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

type Conversation struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Type         ConversationType `json:"type"`
	Participants []User           `json:"participants"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// MessageStatus tracks delivery of locally originated messages. Messages
// received from the server are always MessageSent.
type MessageStatus string

const (
	MessageSent    MessageStatus = "sent"
	MessagePending MessageStatus = "pending"
	MessageFailed  MessageStatus = "failed"
)

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IsRead         bool           `json:"isRead"`
	// ClientID is the id assigned by the sending client before the server
	// confirmed the message; it lets an optimistic copy be reconciled.
	ClientID  string        `json:"clientId,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// MessagePatch holds the fields to merge into an existing message; nil
// fields are left untouched.
type MessagePatch struct {
	ID        *string
	Content   *string
	IsRead    *bool
	Status    *MessageStatus
	Metadata  map[string]any
	UpdatedAt *time.Time
}

func (p MessagePatch) apply(m Message) Message {
	if p.ID != nil {
		m.ID = *p.ID
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Metadata != nil {
		merged := make(map[string]any, len(m.Metadata)+len(p.Metadata))
		for k, v := range m.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		m.Metadata = merged
	}
	if p.UpdatedAt != nil {
		m.UpdatedAt = *p.UpdatedAt
	}
	return m
}

func (m Message) clone() Message {
	if m.Metadata != nil {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}

func (c Conversation) clone() Conversation {
	if c.Participants != nil {
		c.Participants = append([]User(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := c.LastMessage.clone()
		c.LastMessage = &lm
	}
	return c
}
