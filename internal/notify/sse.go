package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServeSSE streams a project's snapshots to one client as a
// text/event-stream, interleaved with comment-line liveness pings. It
// blocks until the client disconnects, then removes the subscriber.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, projectID, ownerID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.Subscribe(r.Context(), projectID, ownerID)
	defer h.Unsubscribe(sub)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				slog.Warn("Failed to write to subscriber", "project_id", projectID, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
