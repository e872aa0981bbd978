package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gwon-omega/server/internal/notify"
)

const keepAliveInterval = 25 * time.Second

// EventsHandler streams cart events over Server-Sent Events. Each connection
// subscribes to the notifier, forwards only its own user's events, and
// unsubscribes on disconnect. A periodic ping keeps proxies from dropping
// idle connections.
type EventsHandler struct {
	notifier *notify.Notifier
}

func NewEventsHandler(notifier *notify.Notifier) *EventsHandler {
	return &EventsHandler{notifier: notifier}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.notifier.Subscribe(32)
	defer cancel()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, "ping", map[string]int64{"ts": time.Now().Unix()})
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.UserID != userID {
				continue
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("sse: marshal %s failed: %v", event, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
