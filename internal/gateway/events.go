// ABOUTME: Server-Sent Events stream of handled exchanges for live debugging
// ABOUTME: Follows one user with ?user_id= or every user without it

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/rollcall-gateway/internal/conversation"
)

// streamKeepalive is how often an idle stream gets a comment line.
const streamKeepalive = 30 * time.Second

// handleDebugStream handles GET /debug/stream.
func (g *Gateway) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = conversation.AllUsers
	}
	events, subID := g.broadcaster.Subscribe(r.Context(), userID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", map[string]string{"subscription_id": subID, "user_id": userID})
	flusher.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "exchange", toExchangeResponse(e))
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
