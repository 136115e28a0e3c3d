package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/events"
)

// handleEvents streams bus events as server-sent events. Each subscriber
// gets a connected frame first, then every evaluated action in publish
// order; heartbeats are written as comment lines so idle proxies keep
// the connection open. A slow consumer misses events rather than
// back-pressuring the engine.
// GET /v1/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := h.deps.Bus.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := LoggerFromContext(r.Context(), h.logger)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				// Bus shut down.
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent renders one bus event as an SSE frame. Heartbeats become
// comment lines; everything else is an event/data pair.
func writeEvent(w http.ResponseWriter, ev events.Event) error {
	if ev.Kind == events.KindHeartbeat {
		_, err := fmt.Fprintf(w, ": heartbeat %s\n\n", ev.Timestamp.UTC().Format(time.RFC3339))
		return err
	}

	var payload any = ev
	if ev.Kind == events.KindActionEvaluated && ev.Action != nil {
		payload = ev.Action
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
