// Package chat holds the client-side projection of conversations and
// messages.
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

// Store is the single source of truth for chat state during a session.
//
// Every mutation runs under one lock and replaces the snapshot as a whole, so
// readers never observe a partially applied change and read-modify-write
// operations such as IncrementUnreadCount are atomic. Mutations that
// reference an unknown conversation or message are silent no-ops.
type Store struct {
	mu       sync.RWMutex
	state    State
	version  uint64
	watchers *stream.Hub[State]
	log      zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for mutation traces.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = l.With().Str("component", "chat-store").Logger()
	}
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:    initialState(),
		watchers: stream.NewHub[State](),
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// update applies fn to a shallow copy of the current snapshot. fn must
// replace, never modify in place, any collection it changes. Returning false
// discards the copy.
func (s *Store) update(op string, fn func(next *State) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	if !fn(&next) {
		s.log.Debug().Str("op", op).Msg("mutation had no target, ignored")
		return
	}
	s.state = next
	s.version++
	s.watchers.Publish(next.Clone())
}

// SetConversations replaces the conversation list.
func (s *Store) SetConversations(conversations []Conversation) {
	list := cloneConversations(conversations)
	s.update("setConversations", func(next *State) bool {
		next.Conversations = list
		return true
	})
}

// AddConversation appends c. Ids are not deduplicated.
func (s *Store) AddConversation(c Conversation) {
	c = c.clone()
	s.update("addConversation", func(next *State) bool {
		list := make([]Conversation, 0, len(next.Conversations)+1)
		list = append(list, next.Conversations...)
		next.Conversations = append(list, c)
		return true
	})
}

// SetActiveConversation selects a conversation; an empty id clears it.
func (s *Store) SetActiveConversation(id string) {
	s.update("setActiveConversation", func(next *State) bool {
		next.ActiveConversationID = id
		return true
	})
}

// SetMessages replaces the message list of a conversation.
func (s *Store) SetMessages(conversationID string, messages []Message) {
	list := cloneMessages(messages)
	s.update("setMessages", func(next *State) bool {
		msgs := copyMap(next.Messages)
		msgs[conversationID] = list
		next.Messages = msgs
		return true
	})
}

// AddMessage appends m to the conversation and makes it the conversation's
// last message in the same update.
func (s *Store) AddMessage(conversationID string, m Message) {
	m = m.clone()
	s.update("addMessage", func(next *State) bool {
		msgs := copyMap(next.Messages)
		cur := msgs[conversationID]
		list := make([]Message, 0, len(cur)+1)
		list = append(list, cur...)
		msgs[conversationID] = append(list, m)
		next.Messages = msgs

		last := m.clone()
		next.Conversations = mapConversation(next.Conversations, conversationID, func(c Conversation) Conversation {
			c.LastMessage = &last
			return c
		})
		return true
	})
}

// UpdateMessage merges patch into the message with messageID, and into the
// conversation's last message when it is the same message. Unknown ids leave
// the state untouched.
func (s *Store) UpdateMessage(conversationID, messageID string, patch MessagePatch) {
	s.update("updateMessage", func(next *State) bool {
		cur, ok := next.Messages[conversationID]
		if !ok {
			return false
		}
		var updated *Message
		list := make([]Message, len(cur))
		for i, m := range cur {
			if m.ID == messageID {
				m = patch.apply(m.clone())
				updated = &m
			}
			list[i] = m
		}
		if updated == nil {
			return false
		}
		msgs := copyMap(next.Messages)
		msgs[conversationID] = list
		next.Messages = msgs

		next.Conversations = mapConversation(next.Conversations, conversationID, func(c Conversation) Conversation {
			if c.LastMessage != nil && c.LastMessage.ID == messageID {
				last := updated.clone()
				c.LastMessage = &last
			}
			return c
		})
		return true
	})
}

// SetTypingUsers replaces the typing set of a conversation.
func (s *Store) SetTypingUsers(conversationID string, userIDs []string) {
	users := append([]string{}, userIDs...)
	s.update("setTypingUsers", func(next *State) bool {
		typing := copyMap(next.TypingUsers)
		typing[conversationID] = users
		next.TypingUsers = typing
		return true
	})
}

// SetUnreadCount sets the count and mirrors it onto the conversation.
func (s *Store) SetUnreadCount(conversationID string, n int) {
	s.update("setUnreadCount", func(next *State) bool {
		setUnread(next, conversationID, n)
		return true
	})
}

// IncrementUnreadCount adds one to the count (absent counts start at zero).
func (s *Store) IncrementUnreadCount(conversationID string) {
	s.update("incrementUnreadCount", func(next *State) bool {
		setUnread(next, conversationID, next.UnreadCounts[conversationID]+1)
		return true
	})
}

// MarkAsRead zeroes the unread count and flags every message of the
// conversation as read, in one update.
func (s *Store) MarkAsRead(conversationID string) {
	s.update("markAsRead", func(next *State) bool {
		setUnread(next, conversationID, 0)

		cur, ok := next.Messages[conversationID]
		if !ok {
			return true
		}
		list := make([]Message, len(cur))
		for i, m := range cur {
			m.IsRead = true
			list[i] = m
		}
		msgs := copyMap(next.Messages)
		msgs[conversationID] = list
		next.Messages = msgs
		return true
	})
}

// SetLoading flags a pending fetch.
func (s *Store) SetLoading(loading bool) {
	s.update("setLoading", func(next *State) bool {
		next.Loading = loading
		return true
	})
}

// SetError records a user-facing error; an empty message clears it.
func (s *Store) SetError(msg string) {
	s.update("setError", func(next *State) bool {
		next.Error = msg
		return true
	})
}

// Reset restores the empty initial state.
func (s *Store) Reset() {
	s.update("reset", func(next *State) bool {
		*next = initialState()
		return true
	})
}

// State returns a deep copy of the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Version increments on every applied mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveConversationID
}

func (s *Store) ActiveConversation() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.ActiveConversation()
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

func (s *Store) ActiveMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.state.ActiveMessages())
}

func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConversations(s.state.Conversations)
}

func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.state.Messages[conversationID])
}

func (s *Store) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.UnreadCounts[conversationID]
}

func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.state.TypingUsers[conversationID]...)
}

// FindMessageByClientID finds a message by the id its sender assigned
// locally.
func (s *Store) FindMessageByClientID(conversationID, clientID string) (Message, bool) {
	if clientID == "" {
		return Message{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.state.Messages[conversationID] {
		if m.ClientID == clientID {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Watch yields a snapshot after every applied mutation.
func (s *Store) Watch() *stream.Subscription[State] {
	return s.watchers.Subscribe(nil)
}

// WatchActiveMessages yields the active message list after every mutation.
func (s *Store) WatchActiveMessages() *stream.Subscription[[]Message] {
	return stream.Map(s.watchers, nil, func(st State) []Message { return st.ActiveMessages() })
}

// Close terminates every watch subscription.
func (s *Store) Close() {
	s.watchers.Close()
}

func setUnread(next *State, conversationID string, n int) {
	counts := copyMap(next.UnreadCounts)
	counts[conversationID] = n
	next.UnreadCounts = counts
	next.Conversations = mapConversation(next.Conversations, conversationID, func(c Conversation) Conversation {
		c.UnreadCount = n
		return c
	})
}

// mapConversation returns a new slice with fn applied to every conversation
// with the given id.
func mapConversation(in []Conversation, id string, fn func(Conversation) Conversation) []Conversation {
	out := make([]Conversation, len(in))
	for i, c := range in {
		if c.ID == id {
			c = fn(c)
		}
		out[i] = c
	}
	return out
}
