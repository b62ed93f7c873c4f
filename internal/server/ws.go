package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/realtime"
)

const (
	topicEvents  = "chat.events"
	writeTimeout = 10 * time.Second
)

// peer is one connected websocket.
type peer struct {
	conn *websocket.Conn
	user chat.User
	log  zerolog.Logger

	writeMu sync.Mutex
}

func (p *peer) write(f realtime.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(f)
}

func (p *peer) writeEvent(event string, payload any) error {
	f, err := realtime.NewFrame(event, payload)
	if err != nil {
		return err
	}
	return p.write(f)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, ok := s.tokens.Authenticate(r.URL.Query().Get("token"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, ok := s.users.Get(userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	p := &peer{
		conn: conn,
		user: user,
		log:  s.log.With().Str("user", user.ID).Logger(),
	}
	s.serve(r.Context(), p)
}

func (s *Server) serve(parent context.Context, p *peer) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.track(p)
	defer s.untrack(p)

	events, err := s.pubsub.Subscribe(ctx, topicEvents)
	if err != nil {
		p.log.Error().Err(err).Msg("subscribe failed")
		return
	}

	s.users.SetOnline(p.user.ID, true)
	p.log.Info().Msg("client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forward(p, events)
	}()

	s.readLoop(p)

	cancel()
	wg.Wait()

	s.users.SetOnline(p.user.ID, false)
	for _, conversationID := range s.typing.clearUser(p.user.ID) {
		s.broadcastTyping(conversationID)
	}
	p.log.Info().Msg("client disconnected")
}

// forward writes every broadcast event to the peer until the subscription
// ends.
func (s *Server) forward(p *peer, events <-chan *message.Message) {
	for msg := range events {
		var f realtime.Frame
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			p.log.Warn().Err(err).Msg("dropping undecodable broadcast")
		} else if err := p.write(f); err != nil {
			p.log.Debug().Err(err).Str("event", f.Event).Msg("write failed")
		}
		msg.Ack()
	}
}

func (s *Server) readLoop(p *peer) {
	for {
		var f realtime.Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		if err := s.dispatch(p, f); err != nil {
			p.log.Warn().Err(err).Str("event", f.Event).Msg("rejected event")
			_ = p.writeEvent(chat.EventError, chat.ErrorPayload{Code: "bad_request", Message: err.Error()})
		}
	}
}

func (s *Server) dispatch(p *peer, f realtime.Frame) error {
	switch f.Event {
	case realtime.EventPing:
		return p.write(realtime.Frame{Event: realtime.EventPong, Data: f.Data})

	case chat.EventMessageSend:
		in, err := realtime.Decode[chat.SendMessagePayload](f.Data)
		if err != nil {
			return err
		}
		if in.Type == "" {
			in.Type = chat.MessageText
		}
		now := time.Now().UTC()
		return s.broadcast(chat.EventMessageNew, chat.Message{
			ID:             uuid.NewString(),
			ClientID:       in.ClientID,
			ConversationID: in.ConversationID,
			SenderID:       p.user.ID,
			Content:        in.Content,
			Type:           in.Type,
			Metadata:       in.Metadata,
			Status:         chat.MessageSent,
			CreatedAt:      now,
			UpdatedAt:      now,
		})

	case chat.EventTyping:
		in, err := realtime.Decode[chat.TypingSignal](f.Data)
		if err != nil {
			return err
		}
		if s.typing.set(in.ConversationID, p.user.ID, in.IsTyping) {
			s.broadcastTyping(in.ConversationID)
		}
		return nil

	case chat.EventMessageRead:
		in, err := realtime.Decode[chat.ReadPayload](f.Data)
		if err != nil {
			return err
		}
		in.UserID = p.user.ID
		return s.broadcast(chat.EventMessageRead, in)

	default:
		p.log.Debug().Str("event", f.Event).Msg("ignoring unknown event")
		return nil
	}
}

func (s *Server) track(p *peer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[p] = struct{}{}
}

func (s *Server) untrack(p *peer) {
	s.peersMu.Lock()
	delete(s.peers, p)
	s.peersMu.Unlock()
	_ = p.conn.Close()
}

// closePeers drops every connected socket; their read loops then exit.
func (s *Server) closePeers() {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	for p := range s.peers {
		_ = p.conn.Close()
	}
}

func (s *Server) broadcastTyping(conversationID string) {
	err := s.broadcast(chat.EventTyping, chat.TypingPayload{
		ConversationID: conversationID,
		UserIDs:        s.typing.users(conversationID),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("typing broadcast failed")
	}
}

func (s *Server) broadcast(event string, payload any) error {
	f, err := realtime.NewFrame(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.pubsub.Publish(topicEvents, message.NewMessage(uuid.NewString(), data))
}

// typingTracker holds who is typing where.
type typingTracker struct {
	mu     sync.Mutex
	byConv map[string]map[string]struct{}
}

func newTypingTracker() *typingTracker {
	return &typingTracker{byConv: make(map[string]map[string]struct{})}
}

// set reports whether the typing set changed.
func (t *typingTracker) set(conversationID, userID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.byConv[conversationID]
	_, present := users[userID]
	if typing == present {
		return false
	}
	if typing {
		if users == nil {
			users = make(map[string]struct{})
			t.byConv[conversationID] = users
		}
		users[userID] = struct{}{}
		return true
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.byConv, conversationID)
	}
	return true
}

func (t *typingTracker) users(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.byConv[conversationID]))
	for id := range t.byConv[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// clearUser removes userID everywhere and returns the affected conversations.
func (t *typingTracker) clearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []string
	for conversationID, users := range t.byConv {
		if _, ok := users[userID]; !ok {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, conversationID)
		}
		changed = append(changed, conversationID)
	}
	sort.Strings(changed)
	return changed
}
