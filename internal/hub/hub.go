// Package hub implements the broker's single-threaded-cooperative routing
// core: the session/viewer registries, producer message dispatch, resize
// routing, and metrics-request correlation.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/internal/viewer"
	"github.com/grantmcdermott/jgd/logger"
)

// Hub is the process-wide registry and router. Its exported methods are
// called concurrently: from every producer session's goroutine, every
// viewer's read pump, and the metrics timeout goroutines. The mutex below
// guards all shared state and stands in for a single serialized execution
// context.
type Hub struct {
	mu sync.Mutex

	sessions map[string]*session.Session
	clients  map[*viewer.Client]struct{}

	resizeQueues map[string]*resizeQueue
	lastSize     map[string]dimension

	metricsRouting map[int64]string

	httpPort  int
	transport string

	log *zap.SugaredLogger
}

type dimension struct {
	width, height int
}

// New constructs an empty Hub for the given transport tag. The tag is only
// stored here; the welcome message producers receive takes its transport
// field from each session's own tag.
func New(transport string) *Hub {
	return &Hub{
		sessions:       make(map[string]*session.Session),
		clients:        make(map[*viewer.Client]struct{}),
		resizeQueues:   make(map[string]*resizeQueue),
		lastSize:       make(map[string]dimension),
		metricsRouting: make(map[int64]string),
		transport:      transport,
		log:            logger.ComponentLogger("hub"),
	}
}

// SetHTTPPort records the bound HTTP port once the HTTP listener is up
// (supervisor step 3).
func (h *Hub) SetHTTPPort(port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.httpPort = port
}

// HTTPPort returns the previously recorded HTTP port.
func (h *Hub) HTTPPort() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.httpPort
}

// RegisterSession adds s to the registry, keyed by its current id.
func (h *Hub) RegisterSession(s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	h.resizeQueues[s.ID()] = newResizeQueue()
	h.log.Debugw("session registered", logger.FieldSessionID, s.ID())
}

// UnregisterSession removes id from the registry and purges every metrics
// correlation pointing at it.
func (h *Hub) UnregisterSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
	delete(h.resizeQueues, id)
	delete(h.lastSize, id)
	for reqID, sid := range h.metricsRouting {
		if sid == id {
			delete(h.metricsRouting, reqID)
		}
	}
	h.log.Debugw("session unregistered", logger.FieldSessionID, id)
}

// UpdateSessionID performs the atomic rename: sessions table and metrics
// correlations pointing at oldID are rewritten to newID.
func (h *Hub) UpdateSessionID(oldID, newID string, s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, oldID)
	h.sessions[newID] = s

	if q, ok := h.resizeQueues[oldID]; ok {
		delete(h.resizeQueues, oldID)
		h.resizeQueues[newID] = q
	} else {
		h.resizeQueues[newID] = newResizeQueue()
	}
	if sz, ok := h.lastSize[oldID]; ok {
		delete(h.lastSize, oldID)
		h.lastSize[newID] = sz
	}

	for reqID, sid := range h.metricsRouting {
		if sid == oldID {
			h.metricsRouting[reqID] = newID
		}
	}

	h.log.Infow("session renamed", "old_id", oldID, logger.FieldSessionID, newID)
}

// RegisterViewer adds c to the connected viewer set.
func (h *Hub) RegisterViewer(c *viewer.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.log.Debugw("viewer registered", logger.FieldClientID, c.ID())
}

// UnregisterViewer removes c from the connected viewer set.
func (h *Hub) UnregisterViewer(c *viewer.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	h.log.Debugw("viewer unregistered", logger.FieldClientID, c.ID())
}

// HandleProducerMessage dispatches an inbound producer line by its type tag.
func (h *Hub) HandleProducerMessage(s *session.Session, line string) {
	tag, _ := session.ExtractType(line)
	switch tag {
	case "frame":
		h.handleFrame(s, line)
	case "metrics_request":
		h.handleMetricsRequest(s, line)
	case "close":
		h.broadcastToViewers(line)
	default:
		h.broadcastToViewers(line)
	}
}

// broadcastToViewers sends line to every connected viewer in the viewer
// map's iteration order, which is unspecified. Per-viewer write errors
// never block the others.
func (h *Hub) broadcastToViewers(line string) {
	h.mu.Lock()
	clients := make([]*viewer.Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	data := []byte(line)
	for _, c := range clients {
		c.Send(data)
	}
}

// injectFields adds or overwrites top-level fields in a JSON object line
// by re-marshaling through a generic map. Used for the small, infrequent
// mutations the Hub performs on frame lines (resize/plotIndex tagging;
// plot.sessionId goes through injectPlotSessionID) rather than hand-rolled
// string surgery.
func injectFields(line string, fields map[string]any) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", err
	}
	for k, v := range fields {
		obj[k] = v
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// lineHasPlotSessionID reports whether line's nested "plot" object already
// carries a sessionId. Delegates to session.ExtractPlotSessionID rather than
// a standalone regex so the two packages never disagree about what counts
// as "already present" — a frame's plot object commonly carries sibling
// fields (device, ops) whose own closing braces would defeat a
// bounded-by-[^}]* pattern.
func lineHasPlotSessionID(line string) bool {
	_, ok := session.ExtractPlotSessionID(line)
	return ok
}

// injectPlotSessionID sets plot.sessionId to id. If the line's "plot" value
// is missing or not an object (a well-formed frame line always has one), a
// new plot object holding only the sessionId replaces it.
func injectPlotSessionID(line, id string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", err
	}
	plot, ok := obj["plot"].(map[string]any)
	if !ok {
		plot = make(map[string]any)
	}
	plot["sessionId"] = id
	obj["plot"] = plot
	encoded, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Close shuts down every viewer, then every session, and clears both
// collections (spec §4.5 close()).
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*viewer.Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	for _, s := range sessions {
		s.Close()
	}

	h.mu.Lock()
	h.clients = make(map[*viewer.Client]struct{})
	h.sessions = make(map[string]*session.Session)
	h.mu.Unlock()
}
