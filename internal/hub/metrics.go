package hub

import (
	"encoding/json"
	"time"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/internal/viewer"
	"github.com/grantmcdermott/jgd/logger"
)

// metricsTimeout is the one-shot deadline on every metrics_request (spec
// §4.5.1): at most one response reaches the producer, within 2 seconds.
const metricsTimeout = 2 * time.Second

type metricsRequestLine struct {
	Type string   `json:"type"`
	ID   *float64 `json:"id"`
}

type metricsFallback struct {
	Type    string  `json:"type"`
	ID      float64 `json:"id"`
	Width   float64 `json:"width"`
	Ascent  float64 `json:"ascent"`
	Descent float64 `json:"descent"`
}

// handleMetricsRequest validates the id, then either fabricates an
// immediate zero-valued fallback (no viewers connected) or records the
// correlation, broadcasts to viewers, and arms the timeout.
func (h *Hub) handleMetricsRequest(s *session.Session, line string) {
	var req metricsRequestLine
	if err := json.Unmarshal([]byte(line), &req); err != nil || req.ID == nil {
		h.log.Warnw("dropping metrics_request with unparseable id", logger.FieldSessionID, s.ID())
		return
	}
	id := int64(*req.ID)

	h.mu.Lock()
	viewerCount := len(h.clients)
	h.mu.Unlock()

	if viewerCount == 0 {
		h.sendMetricsFallback(id, s.ID())
		return
	}

	h.mu.Lock()
	h.metricsRouting[id] = s.ID()
	h.mu.Unlock()

	if logger.ShouldShowMetricsCorrelation(logger.CurrentVerbosity()) {
		h.log.Debugw("metrics_request armed", logger.FieldSessionID, s.ID(), "metrics_id", id)
	}

	h.broadcastToViewers(line)

	time.AfterFunc(metricsTimeout, func() {
		h.handleMetricsTimeout(id)
	})
}

// handleMetricsTimeout fires once, metricsTimeout after arming. If the
// request is still outstanding it removes the correlation and sends the
// zero-valued fallback to whichever session the id currently routes to
// (honouring any rename since arming).
func (h *Hub) handleMetricsTimeout(id int64) {
	h.mu.Lock()
	sessionID, ok := h.metricsRouting[id]
	if ok {
		delete(h.metricsRouting, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if logger.ShouldShowMetricsCorrelation(logger.CurrentVerbosity()) {
		h.log.Debugw("metrics_request timed out, sending zero-valued fallback", logger.FieldSessionID, sessionID, "metrics_id", id)
	}
	h.sendMetricsFallback(id, sessionID)
}

// sendMetricsFallback constructs the zero-valued metrics_response and
// enqueues it on the named session, if it still exists.
func (h *Hub) sendMetricsFallback(id int64, sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	encoded, err := json.Marshal(metricsFallback{Type: "metrics_response", ID: float64(id)})
	if err != nil {
		h.log.Errorw("failed to encode metrics fallback", logger.FieldError, err)
		return
	}
	s.Send(encoded)
}

// HandleMetricsResponse implements the viewer -> producer leg: a response
// removes its correlation and is forwarded to the originating session
// exactly once. Responses after timeout or for unknown ids are dropped.
func (h *Hub) HandleMetricsResponse(c *viewer.Client, line string) {
	var resp metricsRequestLine
	if err := json.Unmarshal([]byte(line), &resp); err != nil || resp.ID == nil {
		return
	}
	id := int64(*resp.ID)

	h.mu.Lock()
	sessionID, ok := h.metricsRouting[id]
	if ok {
		delete(h.metricsRouting, id)
	}
	var s *session.Session
	if ok {
		s = h.sessions[sessionID]
	}
	h.mu.Unlock()

	if !ok || s == nil {
		return
	}
	if logger.ShouldShowMetricsCorrelation(logger.CurrentVerbosity()) {
		h.log.Debugw("metrics_response forwarded to originating session", logger.FieldSessionID, sessionID, "metrics_id", id)
	}
	s.Send([]byte(line))
}
