package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/banshee-data/fieldtrack/internal/httputil"
	"github.com/banshee-data/fieldtrack/internal/monitoring"
	"github.com/banshee-data/fieldtrack/internal/tracks"
	"github.com/banshee-data/fieldtrack/internal/units"
)

const eventBuffer = 32

// Event is one message on the capture event stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventHub fans capture events out to stream subscribers. It implements
// tracks.Listener. Events for a subscriber whose buffer is full are dropped.
type EventHub struct {
	units string

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewEventHub returns a hub that reports completion summaries in unit.
func NewEventHub(unit string) *EventHub {
	if !units.IsValid(unit) {
		unit = units.KPH
	}
	return &EventHub{units: unit, subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and an id for Unsubscribe.
func (h *EventHub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, eventBuffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

// Unsubscribe closes and removes the subscription.
func (h *EventHub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *EventHub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			monitoring.Debugf("events: subscriber %d full, dropping %s", id, ev.Type)
		}
	}
}

func (h *EventHub) StateChanged(s tracks.Snapshot) { h.publish(Event{Type: "state", Data: s}) }

func (h *EventHub) PointAccepted(p tracks.TrackPoint) { h.publish(Event{Type: "point", Data: p}) }

func (h *EventHub) SignalAdvisory(msg string) {
	h.publish(Event{Type: "advisory", Data: map[string]string{"message": msg}})
}

func (h *EventHub) CaptureCompleted(c tracks.Completion) {
	h.publish(Event{Type: "completed", Data: newCompletionResponse(c, h.units)})
}

func (h *EventHub) CaptureDiscarded(recordID string) {
	h.publish(Event{Type: "discarded", Data: map[string]string{"record_id": recordID}})
}

// ServeHTTP streams events as Server-Sent Events until the client goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, events := h.Subscribe()
	defer h.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				monitoring.Logf("events: encode %s: %v", ev.Type, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
