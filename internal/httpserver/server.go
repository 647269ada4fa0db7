// Package httpserver implements the broker's single HTTP front end: the
// /ws WebSocket upgrade and static asset serving (§4.7), plus the
// supervisor that wires startup and shutdown ordering (§4.8).
package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grantmcdermott/jgd/internal/viewer"
	"github.com/grantmcdermott/jgd/logger"
)

// wsIdleTimeout has the same 60 s value as the viewer read pump's pongWait,
// which is what closes an idle upgraded connection. Here it is used only as
// the upgrader's handshake timeout, not the steady-state keepalive.
const wsIdleTimeout = 60 * time.Second

// Router is the subset of hub.Hub a Server needs for viewer registration.
type Router interface {
	RegisterViewer(c *viewer.Client)
	UnregisterViewer(c *viewer.Client)
	HandleResize(c *viewer.Client, line string)
	HandleMetricsResponse(c *viewer.Client, line string)
}

// Server is the broker's HTTP mux: /ws upgrades, everything else serves
// static assets.
type Server struct {
	router   Router
	upgrader websocket.Upgrader
	assets   *assetHandler
	viewerID atomic.Int64

	log *zap.SugaredLogger
}

// NewServer constructs a Server. devDir, when non-empty, serves assets
// from disk instead of the bundled (currently empty) AssetMap.
func NewServer(router Router, assets AssetMap, devDir string) *Server {
	return &Server{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   2048,
			WriteBufferSize:  2048,
			HandshakeTimeout: wsIdleTimeout,
			CheckOrigin:      checkOrigin,
		},
		assets: newAssetHandler(assets, devDir),
		log:    logger.ComponentLogger("httpserver"),
	}
}

// checkOrigin allows same-origin and originless requests (direct WebSocket
// clients, local testing), and otherwise restricts to localhost — the
// teacher's secure-default fallback when no explicit allow-list exists.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost")
}

// Mux returns the configured http.Handler for the server.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", s.assets)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("websocket upgrade failed", logger.FieldError, err)
		return
	}

	id := "viewer-" + strconv.FormatInt(s.viewerID.Add(1), 10)
	client := viewer.New(id, conn, s.router)
	client.Run()
}
