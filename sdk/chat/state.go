package chat

// State is one immutable snapshot of the chat projection. Values handed out
// by the Store are copies; mutating them has no effect on the Store.
type State struct {
	Conversations []Conversation
	// ActiveConversationID is a lookup key into Conversations; empty means
	// no conversation is active.
	ActiveConversationID string
	Messages             map[string][]Message
	TypingUsers          map[string][]string
	UnreadCounts         map[string]int
	Loading              bool
	// Error is the last user-facing error; empty when cleared.
	Error string
}

func initialState() State {
	return State{
		Conversations: []Conversation{},
		Messages:      map[string][]Message{},
		TypingUsers:   map[string][]string{},
		UnreadCounts:  map[string]int{},
	}
}

// ActiveConversation looks the active id up in Conversations.
func (s State) ActiveConversation() (Conversation, bool) {
	if s.ActiveConversationID == "" {
		return Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.ActiveConversationID {
			return c, true
		}
	}
	return Conversation{}, false
}

// ActiveMessages returns the active conversation's messages, or an empty
// slice.
func (s State) ActiveMessages() []Message {
	if s.ActiveConversationID == "" {
		return []Message{}
	}
	msgs, ok := s.Messages[s.ActiveConversationID]
	if !ok {
		return []Message{}
	}
	return msgs
}

// Clone returns a deep copy sharing no collections with s.
func (s State) Clone() State {
	out := s
	out.Conversations = cloneConversations(s.Conversations)

	out.Messages = make(map[string][]Message, len(s.Messages))
	for id, msgs := range s.Messages {
		out.Messages[id] = cloneMessages(msgs)
	}

	out.TypingUsers = make(map[string][]string, len(s.TypingUsers))
	for id, users := range s.TypingUsers {
		out.TypingUsers[id] = append([]string{}, users...)
	}

	out.UnreadCounts = make(map[string]int, len(s.UnreadCounts))
	for id, n := range s.UnreadCounts {
		out.UnreadCounts[id] = n
	}
	return out
}

func cloneConversations(in []Conversation) []Conversation {
	out := make([]Conversation, len(in))
	for i, c := range in {
		out[i] = c.clone()
	}
	return out
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
