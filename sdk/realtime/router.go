package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

// Router demultiplexes a Channel's inbound frames by event name. Every On
// subscription is an independent live filter over the same inbound stream.
type Router struct {
	log zerolog.Logger

	frames *stream.Hub[Frame]
	status *stream.Hub[bool]

	inbound *stream.Subscription[Frame]
	states  *stream.Subscription[StateChange]

	mu        sync.Mutex
	connected bool

	wg sync.WaitGroup
}

// NewRouter subscribes to ch and starts fanning its frames out.
func NewRouter(ch *Channel) *Router {
	r := &Router{
		log:       ch.log.With().Str("subcomponent", "router").Logger(),
		frames:    stream.NewHub[Frame](),
		status:    stream.NewHub[bool](),
		inbound:   ch.Inbound(),
		states:    ch.States(),
		connected: ch.IsConnected(),
	}

	r.wg.Add(2)
	go r.forwardFrames()
	go r.forwardStates()
	return r
}

// On yields the payload of every inbound frame named event, in arrival order.
func (r *Router) On(event string) *stream.Subscription[json.RawMessage] {
	return stream.Map(r.frames,
		func(f Frame) bool { return f.Event == event },
		func(f Frame) json.RawMessage { return f.Data },
	)
}

// OnAny yields every inbound frame.
func (r *Router) OnAny() *stream.Subscription[Frame] {
	return r.frames.Subscribe(nil)
}

// ConnectionStatus yields the current connectivity followed by every change.
func (r *Router) ConnectionStatus() *stream.Subscription[bool] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.SubscribeWith([]bool{r.connected}, nil)
}

// Close stops routing and terminates every subscription handed out.
func (r *Router) Close() {
	r.inbound.Cancel()
	r.states.Cancel()
	r.wg.Wait()
}

func (r *Router) forwardFrames() {
	defer r.wg.Done()
	defer r.frames.Close()

	for f := range r.inbound.C() {
		r.log.Trace().Str("event", f.Event).Msg("received event")
		r.frames.Publish(f)
	}
}

func (r *Router) forwardStates() {
	defer r.wg.Done()
	defer r.status.Close()

	for sc := range r.states.C() {
		r.mu.Lock()
		if sc.Connected() != r.connected {
			r.connected = sc.Connected()
			r.status.Publish(r.connected)
		}
		r.mu.Unlock()
	}
}
