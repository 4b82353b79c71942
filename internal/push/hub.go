package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
)

const (
	defaultBuffer       = 64
	defaultHeartbeat    = 15 * time.Second
	defaultTerminalWait = 2 * time.Second
)

// terminal events end a turn on the client; losing one leaves it waiting.
var terminal = map[string]bool{
	EventConversationComplete: true,
	EventAggregatedComplete:   true,
	EventAIResponseDone:       true,
	EventAIError:              true,
}

type subscriber struct {
	ch chan Event
}

// Hub keeps per-room subscriber sets for this process.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	buffer       int
	heartbeat    time.Duration
	terminalWait time.Duration
	log          *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs:         make(map[string]map[*subscriber]struct{}),
		buffer:       defaultBuffer,
		heartbeat:    defaultHeartbeat,
		terminalWait: defaultTerminalWait,
		log:          logger.OrNop(log).With("component", "push.Hub"),
	}
}

// Subscribe registers a listener for roomID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(roomID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[roomID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[roomID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[roomID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, roomID)
				}
			}
			close(s.ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roomID])
}

func (h *Hub) Publish(ctx context.Context, roomID, eventType string, data map[string]any) {
	h.Deliver(Event{ChatroomID: roomID, Type: eventType, Data: data})
}

// Deliver does not block on streaming events: a subscriber whose buffer is
// full misses them. Terminal events wait up to terminalWait for room.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var timeout <-chan time.Time
	if terminal[ev.Type] {
		t := time.NewTimer(h.terminalWait)
		defer t.Stop()
		timeout = t.C
	}
	for s := range h.subs[ev.ChatroomID] {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		if timeout != nil {
			select {
			case s.ch <- ev:
				continue
			case <-timeout:
				// one deadline for the whole fan-out
				timeout = nil
			}
		}
		metrics.PushDropped.Inc()
		h.log.Warn("subscriber buffer full, dropping event", "room_id", ev.ChatroomID, "event", ev.Type)
	}
}

// ServeSSE streams roomID's events to w until the client goes away.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, roomID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // helpful if behind nginx
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.Subscribe(roomID)
	defer unsubscribe()

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	// tells the client the subscription is live
	writeJSON("connected", map[string]any{"chatroomId": roomID})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeJSON(EventPing, map[string]any{"ts": time.Now().Unix()})
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeJSON(ev.Type, ev.Data)
		}
	}
}
