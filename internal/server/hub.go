package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
)

// Event is one Server-Sent Event.
type Event struct {
	Type string
	Data any
}

// subscriberBuffer bounds how far a slow client may fall behind before
// events are dropped for it.
const subscriberBuffer = 32

// hub fans events out to the SSE clients of one session. The latest event
// of each replay slot is kept so late subscribers start from the current
// display. order lists the slots from least to most recently written.
type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	last   map[string]Event
	order  []string
	closed bool
}

func newHub() *hub {
	return &hub{
		subs: make(map[chan Event]struct{}),
		last: make(map[string]Event),
	}
}

// Broadcast never blocks: a subscriber with a full buffer misses the event.
func (h *hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if slot, ok := replaySlot(ev.Type); ok {
		h.order = append(slices.DeleteFunc(h.order, func(k string) bool { return k == slot }), slot)
		h.last[slot] = ev
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe returns a channel primed with the replayable state.
func (h *hub) subscribe() (chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan Event, subscriberBuffer+len(h.order))
	for _, slot := range h.order {
		ch <- h.last[slot]
	}
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close disconnects every subscriber.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// replaySlot maps an event type to the display state it describes. Cursor
// and cursor-clear share a slot since the later one wins. One-off actions
// have no slot.
func replaySlot(typ string) (string, bool) {
	switch typ {
	case EventStatus, EventArtifact:
		return typ, true
	case EventCursor, EventCursorClear:
		return EventCursor, true
	default:
		return "", false
	}
}

// serve streams events to w until the client goes away or the hub closes.
func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
