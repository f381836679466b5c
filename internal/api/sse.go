package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowsim/flowsim/internal/events"
)

// handleMetricsStream pushes live metrics as Server-Sent Events until the
// client disconnects. Monitoring events from the event bus are forwarded as
// they happen, named by their event type.
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()

	var eventCh <-chan events.Event
	if s.eventBus != nil {
		eventCh = s.eventBus.Subscribe()
		defer s.eventBus.Unsubscribe(eventCh)
	}

	s.logger.Debug("metrics stream connected", "remote_addr", r.RemoteAddr)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{
		"status":   "connected",
		"interval": s.streamInterval.String(),
	})
	s.pushMetrics(w, flusher)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("metrics stream disconnected", "remote_addr", r.RemoteAddr)
			return
		case <-ticker.C:
			s.pushMetrics(w, flusher)
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.sendSSEEvent(w, flusher, ev.EventType(), ev)
		}
	}
}

func (s *Server) pushMetrics(w http.ResponseWriter, flusher http.Flusher) {
	s.sendSSEEvent(w, flusher, "metrics", s.monitor.GetRealTimeMetrics())
	if issues := s.monitor.DetectPerformanceIssues(); len(issues) > 0 {
		s.sendSSEEvent(w, flusher, "issues", issues)
	}
}

// sendSSEEvent writes an event to the SSE stream.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
