package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/docpipe/internal/pipeline"
)

// handleStreamEvents streams pipeline lifecycle events over SSE. An
// optional ?types= query holds a comma-separated list of event types
// to forward; everything else is dropped server-side.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseTypeFilter(r.URL.Query().Get("types"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.pipeline.Subscribe()
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				// Pipeline stopped; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if filter != nil && !filter[evt.Type] {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("marshal event", "type", string(evt.Type), "error", err)
				continue
			}
			if err := writeSSEEvent(w, string(evt.Type), string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// parseTypeFilter builds the allow set from a comma-separated list.
// An empty list means no filtering.
func parseTypeFilter(raw string) map[pipeline.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[pipeline.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			filter[pipeline.EventType(part)] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
