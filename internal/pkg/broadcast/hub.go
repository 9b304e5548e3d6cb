package broadcast

import (
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
)

// Subscription is one passive viewer attached to a session
type Subscription struct {
	sessionID string
	events    chan api.ViewerEvent
	dropped   bool
	closed    bool
}

// Events returns the viewer event channel. It is closed on
// unsubscribe, on session retirement or when the viewer is dropped
// for not keeping up.
func (s *Subscription) Events() <-chan api.ViewerEvent {
	return s.events
}

// SessionID returns the subscribed session
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Hub distributes session events to passive viewers.
// Delivery to each subscriber is best effort with a bounded buffer -
// a slow viewer is dropped, never applying backpressure to the source.
type Hub struct {
	bufSize int

	lock     sync.Mutex
	sessions map[string]map[*Subscription]struct{}
}

// NewHub creates broadcaster
func NewHub(subscriberBuffer int) *Hub {
	if subscriberBuffer < 1 {
		subscriberBuffer = 32
	}
	return &Hub{bufSize: subscriberBuffer, sessions: map[string]map[*Subscription]struct{}{}}
}

// Open makes a session available for subscriptions
func (h *Hub) Open(sessionID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, found := h.sessions[sessionID]; !found {
		h.sessions[sessionID] = map[*Subscription]struct{}{}
	}
}

// Subscribe attaches a viewer to a live session
func (h *Hub) Subscribe(sessionID string) (*Subscription, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	subs, found := h.sessions[sessionID]
	if !found {
		return nil, api.ErrUnknownSession
	}
	res := &Subscription{sessionID: sessionID, events: make(chan api.ViewerEvent, h.bufSize)}
	subs[res] = struct{}{}
	goapp.Log.Debug().Str("ID", sessionID).Int("active", len(subs)).Msg("subscribed")
	return res, nil
}

// Unsubscribe detaches the viewer
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.removeNoSync(s)
}

func (h *Hub) removeNoSync(s *Subscription) {
	if s.closed {
		return
	}
	if subs, found := h.sessions[s.sessionID]; found {
		delete(subs, s)
	}
	s.closed = true
	close(s.events)
}

// Publish delivers the event to all current session subscribers.
// A subscriber with a full buffer is dropped.
func (h *Hub) Publish(sessionID string, ev api.ViewerEvent) {
	h.lock.Lock()
	defer h.lock.Unlock()
	subs, found := h.sessions[sessionID]
	if !found {
		return
	}
	for s := range subs {
		select {
		case s.events <- ev:
		default:
			goapp.Log.Warn().Str("ID", sessionID).Msg("slow viewer, dropping")
			s.dropped = true
			h.removeNoSync(s)
		}
	}
}

// Subscribers returns current viewer count for the session
func (h *Hub) Subscribers(sessionID string) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.sessions[sessionID])
}

// CloseSession drops all subscribers of a retired session
func (h *Hub) CloseSession(sessionID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	subs, found := h.sessions[sessionID]
	if !found {
		return
	}
	for s := range subs {
		h.removeNoSync(s)
	}
	delete(h.sessions, sessionID)
}

// Dropped reports if the subscription was evicted for not keeping up
func (s *Subscription) Dropped() bool {
	return s.dropped
}
