package hub

import (
	"time"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/logger"
)

// handleFrame implements the "frame" branch of handleProducerMessage: it
// consumes the head of the originating session's pending-resize queue (if
// any), tags the outgoing line accordingly, ensures the nested plot object
// carries a sessionId, and broadcasts to all viewers.
func (h *Hub) handleFrame(s *session.Session, line string) {
	start := time.Now()
	id := s.ID()

	h.mu.Lock()
	q := h.resizeQueues[id]
	var head PendingResizeEntry
	var hasHead bool
	if q != nil {
		head, hasHead = q.popHead()
	}
	h.mu.Unlock()

	out := line

	if hasHead {
		fields := map[string]any{"resize": true}
		if head.PlotIndex != nil {
			fields["plotIndex"] = *head.PlotIndex
		}
		tagged, err := injectFields(out, fields)
		if err != nil {
			h.log.Warnw("failed to tag frame with resize fields", logger.FieldSessionID, id, logger.FieldError, err)
		} else {
			out = tagged
		}
	}

	if !lineHasPlotSessionID(out) {
		withID, err := injectPlotSessionID(out, id)
		if err != nil {
			h.log.Warnw("failed to inject session id into frame", logger.FieldSessionID, id, logger.FieldError, err)
		} else {
			out = withID
		}
	}

	if logger.ShouldShowFrameRouting(logger.CurrentVerbosity()) {
		h.log.Debugw("frame routed to viewers", logger.FieldSessionID, id, "resize_tagged", hasHead)
	}
	if logger.ShouldShowNDJSONLines(logger.CurrentVerbosity()) {
		h.log.Debugw("frame line", logger.FieldSessionID, id, "line", out)
	}

	h.broadcastToViewers(out)

	durationMS := time.Since(start).Milliseconds()
	switch {
	case logger.ShouldShowTimingAlways(durationMS):
		h.log.Warnw("slow frame relay", logger.FieldSessionID, id, logger.FieldDurationMS, durationMS)
	case logger.ShouldShowTiming(logger.CurrentVerbosity(), durationMS):
		h.log.Debugw("frame relay timing", logger.FieldSessionID, id, logger.FieldDurationMS, durationMS)
	}
}
