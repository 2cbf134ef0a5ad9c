// Package events fans registry activity out to live subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/owinhost/internal/registry"
)

// Event types published by the hub.
const (
	TypeAppConfigured = "app.configured"
	TypeAppInvoked    = "app.invoked"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Configured is the payload of an app.configured event.
type Configured struct {
	AppID    int    `json:"app_id"`
	Name     string `json:"name"`
	Module   string `json:"module"`
	TypeName string `json:"type_name"`
	Method   string `json:"method,omitempty"`
	Source   string `json:"source"`
}

// Invoked is the payload of an app.invoked event.
type Invoked struct {
	AppID      int     `json:"app_id"`
	Name       string  `json:"name,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
	Method     string  `json:"method,omitempty"`
	Path       string  `json:"path,omitempty"`
	StatusCode int     `json:"status_code,omitempty"`
	Outcome    string  `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
// It implements registry.Recorder.
type Hub struct {
	nextID atomic.Int64
	now    func() time.Time

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		now:  time.Now,
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// RecordConfigured publishes an app.configured event.
func (h *Hub) RecordConfigured(info registry.AppInfo) {
	h.Publish(TypeAppConfigured, Configured{
		AppID:    info.ID,
		Name:     info.Name,
		Module:   info.Module,
		TypeName: info.TypeName,
		Method:   info.Method,
		Source:   string(info.Source),
	})
}

// RecordInvocation publishes an app.invoked event.
func (h *Hub) RecordInvocation(inv registry.Invocation) {
	payload := Invoked{
		AppID:      inv.AppID,
		Name:       inv.AppName,
		RequestID:  inv.RequestID,
		Method:     inv.Method,
		Path:       inv.Path,
		StatusCode: inv.StatusCode,
		Outcome:    string(inv.Outcome),
		DurationMS: float64(inv.Duration.Microseconds()) / 1000,
	}
	if inv.Err != nil {
		payload.Error = inv.Err.Error()
	}
	h.Publish(TypeAppInvoked, payload)
}

func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   h.now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than block the registry.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of new events and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
