// Package live fans board change events out to Server-Sent Events subscribers.
package live

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kalambet/missionctl/internal/metrics"
)

// Event announces that a record changed. Subscribers re-query the read
// endpoints; the event carries no record body.
type Event struct {
	Kind string `json:"kind"` // task, agent, activity, chat, deliverable, comment
	ID   string `json:"id,omitempty"`
	At   int64  `json:"at"`
}

// Publisher is implemented by *Hub. Handlers depend on this so tests can
// record events without running a hub.
type Publisher interface {
	Publish(Event)
}

const subscriberBuffer = 256

var keepaliveInterval = 30 * time.Second

type Hub struct {
	mu      sync.RWMutex
	subs    map[chan []byte]struct{}
	metrics *metrics.Metrics
}

// NewHub returns an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{subs: make(map[chan []byte]struct{}), metrics: m}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.metrics.LiveSubscribers(1)
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		h.metrics.LiveSubscribers(-1)
	}
	h.mu.Unlock()
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.metrics.LiveEvent()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		fmt.Fprintf(w, "data: %s\n\n", `{"kind":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}
