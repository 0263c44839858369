package httpserver

import (
	"log"
	"sync"
	"time"

	"github.com/chadiek/voice-agent/internal/session"
)

// Event is one message on the /events stream.
type Event struct {
	Type       string                `json:"type"`
	From       session.Status        `json:"from,omitempty"`
	Status     session.Status        `json:"status,omitempty"`
	Transcript []session.TurnMessage `json:"transcript,omitempty"`
	Notice     string                `json:"notice,omitempty"`
	At         time.Time             `json:"at"`
}

// Hub fans session events out to /events subscribers. Slow subscribers
// lose events rather than stalling the session.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan Event]struct{})} }

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("events: subscriber buffer full, dropping %s", ev.Type)
		}
	}
}

// SessionEvents adapts the hub to session display hooks.
func (h *Hub) SessionEvents() session.Events {
	return session.Events{
		OnStatus: func(from, to session.Status) {
			h.Publish(Event{Type: "status", From: from, Status: to})
		},
		OnTranscript: func(turns []session.TurnMessage) {
			h.Publish(Event{Type: "transcript", Transcript: turns})
		},
		OnNotice: func(n session.Notice) {
			h.Publish(Event{Type: "notice", Notice: n.Message, At: n.At})
		},
	}
}
