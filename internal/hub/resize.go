package hub

import (
	"encoding/json"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/internal/viewer"
	"github.com/grantmcdermott/jgd/logger"
)

// resizeQueueCap bounds a session's pending-resize queue (spec §4.5, §5).
const resizeQueueCap = 32

// PendingResizeEntry marks that the next outbound frame from a session must
// be tagged as a resize response. A nil PlotIndex means "replace latest";
// a non-nil one means "replace at index N".
type PendingResizeEntry struct {
	PlotIndex *int
}

// resizeQueue is an ordered, capped sequence of PendingResizeEntry values
// for one session. Not safe for concurrent use; callers hold Hub.mu.
type resizeQueue struct {
	entries []PendingResizeEntry
}

func newResizeQueue() *resizeQueue {
	return &resizeQueue{}
}

// pushNormal admits a no-plotIndex entry, first dropping any prior
// no-plotIndex entries (they're superseded). plotIndex entries are never
// dropped on admission. Returns false if the queue is at cap after the
// supersede step.
func (q *resizeQueue) pushNormal() bool {
	filtered := q.entries[:0]
	for _, e := range q.entries {
		if e.PlotIndex != nil {
			filtered = append(filtered, e)
		}
	}
	q.entries = filtered
	if len(q.entries) >= resizeQueueCap {
		return false
	}
	q.entries = append(q.entries, PendingResizeEntry{})
	return true
}

// pushPlotIndex admits a plotIndex entry if the queue has room.
func (q *resizeQueue) pushPlotIndex(plotIndex int) bool {
	if len(q.entries) >= resizeQueueCap {
		return false
	}
	idx := plotIndex
	q.entries = append(q.entries, PendingResizeEntry{PlotIndex: &idx})
	return true
}

// popHead removes and returns the first entry, if any.
func (q *resizeQueue) popHead() (PendingResizeEntry, bool) {
	if len(q.entries) == 0 {
		return PendingResizeEntry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// HandleResize implements the two resize-routing modes from spec §4.5.
func (h *Hub) HandleResize(c *viewer.Client, line string) {
	var obj map[string]any
	parseErr := json.Unmarshal([]byte(line), &obj)

	width, widthOK := numberField(obj, "width")
	height, heightOK := numberField(obj, "height")
	plotIndexF, hasPlotIndex := numberField(obj, "plotIndex")
	sessionID, hasSessionID := stringField(obj, "sessionId")

	unparseable := parseErr != nil || !widthOK || !heightOK || (width <= 0 && height <= 0)

	if hasPlotIndex && !unparseable {
		h.handleResizePlotIndexMode(int(plotIndexF), sessionID, hasSessionID, width, height)
		return
	}

	h.handleResizeNormalMode(width, height, unparseable, line)
}

// handleResizePlotIndexMode targets exactly one session by sessionId.
func (h *Hub) handleResizePlotIndexMode(plotIndex int, sessionID string, hasSessionID bool, width, height float64) {
	if !hasSessionID || sessionID == "" {
		return
	}

	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	q := h.resizeQueues[sessionID]
	if q == nil {
		q = newResizeQueue()
		h.resizeQueues[sessionID] = q
	}
	if !q.pushPlotIndex(plotIndex) {
		h.mu.Unlock()
		h.log.Debugw("pending-resize queue at cap, dropping plotIndex resize", logger.FieldSessionID, sessionID)
		return
	}
	h.lastSize[sessionID] = dimension{width: int(width), height: int(height)}
	h.mu.Unlock()

	forwarded, err := json.Marshal(map[string]any{
		"type":      "resize",
		"width":     width,
		"height":    height,
		"plotIndex": plotIndex,
	})
	if err != nil {
		h.log.Errorw("failed to encode plotIndex resize", logger.FieldError, err)
		return
	}
	if logger.ShouldOutput(logger.CurrentVerbosity(), logger.OutputResizeRouting) {
		h.log.Debugw("plotIndex resize routed", logger.FieldSessionID, sessionID, logger.FieldPlotIndex, plotIndex,
			logger.FieldWidth, width, logger.FieldHeight, height)
	}
	s.Send(forwarded)
}

// handleResizeNormalMode broadcasts to every session with per-session
// dedup against its last-forwarded (width,height), unless the inbound
// message was unparseable (no dedup info available).
func (h *Hub) handleResizeNormalMode(width, height float64, unparseable bool, line string) {
	h.mu.Lock()
	var recipients []*session.Session

	for id, s := range h.sessions {
		if !unparseable {
			if last, ok := h.lastSize[id]; ok && last.width == int(width) && last.height == int(height) {
				continue
			}
		}
		q := h.resizeQueues[id]
		if q == nil {
			q = newResizeQueue()
			h.resizeQueues[id] = q
		}
		if !q.pushNormal() {
			h.log.Debugw("pending-resize queue at cap, dropping normal resize", logger.FieldSessionID, id)
			continue
		}
		h.lastSize[id] = dimension{width: int(width), height: int(height)}
		recipients = append(recipients, s)
	}
	h.mu.Unlock()

	if logger.ShouldOutput(logger.CurrentVerbosity(), logger.OutputResizeRouting) {
		h.log.Debugw("normal-mode resize broadcast", logger.FieldCount, len(recipients),
			logger.FieldWidth, width, logger.FieldHeight, height)
	}

	data := []byte(line)
	for _, s := range recipients {
		s.Send(data)
	}
}

// numberField reads a JSON number field out of a decoded object, the way
// encoding/json represents it by default (float64).
func numberField(obj map[string]any, key string) (float64, bool) {
	v, ok := obj[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// stringField reads a JSON string field out of a decoded object.
func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
