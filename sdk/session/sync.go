package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/realtime"
	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

type handlerFunc func(data json.RawMessage) error

// Sync applies inbound server events to a Store, in arrival order.
type Sync struct {
	store    *chat.Store
	self     func() string
	log      zerolog.Logger
	sub      *stream.Subscription[realtime.Frame]
	handlers map[string]handlerFunc
	wg       sync.WaitGroup
}

// NewSync starts applying router's events to store. self returns the id of
// the signed-in user, or "".
func NewSync(router *realtime.Router, store *chat.Store, self func() string, log zerolog.Logger) *Sync {
	s := &Sync{
		store: store,
		self:  self,
		log:   log.With().Str("subcomponent", "sync").Logger(),
		sub:   router.OnAny(),
	}
	s.handlers = map[string]handlerFunc{
		chat.EventMessageNew:      s.onMessageNew,
		chat.EventMessageUpdated:  s.onMessageUpdated,
		chat.EventMessageRead:     s.onMessageRead,
		chat.EventConversationNew: s.onConversationNew,
		chat.EventConversations:   s.onConversations,
		chat.EventTyping:          s.onTyping,
		chat.EventUnread:          s.onUnread,
		chat.EventError:           s.onError,
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Stop unsubscribes and waits for the event in flight to be applied.
func (s *Sync) Stop() {
	s.sub.Cancel()
	s.wg.Wait()
}

func (s *Sync) run() {
	defer s.wg.Done()

	for f := range s.sub.C() {
		h, ok := s.handlers[f.Event]
		if !ok {
			continue
		}
		if err := h(f.Data); err != nil {
			s.log.Warn().Err(err).Str("event", f.Event).Msg("dropping undecodable event")
		}
	}
}

func (s *Sync) onMessageNew(data json.RawMessage) error {
	msg, err := realtime.Decode[chat.Message](data)
	if err != nil {
		return err
	}
	if msg.Status == "" {
		msg.Status = chat.MessageSent
	}

	// the echo of our own optimistic message replaces the pending copy
	if pending, ok := s.store.FindMessageByClientID(msg.ConversationID, msg.ClientID); ok {
		sent := chat.MessageSent
		patch := chat.MessagePatch{
			ID:       &msg.ID,
			Content:  &msg.Content,
			Status:   &sent,
			Metadata: msg.Metadata,
		}
		if !msg.UpdatedAt.IsZero() {
			patch.UpdatedAt = &msg.UpdatedAt
		}
		s.store.UpdateMessage(msg.ConversationID, pending.ID, patch)
		return nil
	}

	s.store.AddMessage(msg.ConversationID, msg)

	own := msg.SenderID != "" && msg.SenderID == s.self()
	if msg.ConversationID != s.store.ActiveConversationID() && !own {
		s.store.IncrementUnreadCount(msg.ConversationID)
	}
	return nil
}

func (s *Sync) onMessageUpdated(data json.RawMessage) error {
	p, err := realtime.Decode[chat.MessageUpdatedPayload](data)
	if err != nil {
		return err
	}
	s.store.UpdateMessage(p.ConversationID, p.MessageID, p.Patch())
	return nil
}

// onMessageRead only applies receipts for the signed-in user; other users'
// receipts carry no local state.
func (s *Sync) onMessageRead(data json.RawMessage) error {
	p, err := realtime.Decode[chat.ReadPayload](data)
	if err != nil {
		return err
	}
	if p.UserID != "" && p.UserID != s.self() {
		return nil
	}
	s.store.MarkAsRead(p.ConversationID)
	return nil
}

func (s *Sync) onConversationNew(data json.RawMessage) error {
	c, err := realtime.Decode[chat.Conversation](data)
	if err != nil {
		return err
	}
	s.store.AddConversation(c)
	return nil
}

func (s *Sync) onConversations(data json.RawMessage) error {
	list, err := realtime.Decode[[]chat.Conversation](data)
	if err != nil {
		return err
	}
	s.store.SetConversations(list)
	return nil
}

func (s *Sync) onTyping(data json.RawMessage) error {
	p, err := realtime.Decode[chat.TypingPayload](data)
	if err != nil {
		return err
	}
	s.store.SetTypingUsers(p.ConversationID, p.UserIDs)
	return nil
}

func (s *Sync) onUnread(data json.RawMessage) error {
	p, err := realtime.Decode[chat.UnreadPayload](data)
	if err != nil {
		return err
	}
	s.store.SetUnreadCount(p.ConversationID, p.Count)
	return nil
}

func (s *Sync) onError(data json.RawMessage) error {
	p, err := realtime.Decode[chat.ErrorPayload](data)
	if err != nil {
		return err
	}
	s.store.SetError(p.Message)
	return nil
}
