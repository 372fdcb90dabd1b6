package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseMessage is one formatted server-sent event.
type sseMessage struct {
	event string
	data  []byte
}

// eventHub fans broadcast messages out to every connected SSE client.
// Slow clients are dropped rather than allowed to stall a job.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan sseMessage]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan sseMessage]struct{})}
}

func (h *eventHub) subscribe() chan sseMessage {
	ch := make(chan sseMessage, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan sseMessage) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *eventHub) broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := sseMessage{event: event, data: data}
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
	h.mu.Unlock()
}

// Events handles GET /events, the server-sent event stream. Two event
// names are used: "log" for per-line output and "job" for lifecycle
// transitions.
func (c *Controller) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := c.hub.subscribe()
	defer c.hub.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		}
	}
}
