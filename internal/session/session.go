// Package session implements the producer-side connection state machine:
// NDJSON line framing, the deferred welcome, session-id extraction, and the
// serial per-connection write queue.
package session

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/grantmcdermott/jgd/internal/transport"
	"github.com/grantmcdermott/jgd/logger"
)

// State is one node of the producer session state machine (spec §4.3).
type State int

const (
	StateAccepted State = iota
	StateRegistered
	StateFirstByteSeen
	StateIdentified
	StateClosed
)

// Router is the subset of Hub behavior a Session needs, kept as an
// interface here to avoid an import cycle between session and hub.
type Router interface {
	RegisterSession(s *Session)
	UnregisterSession(id string)
	UpdateSessionID(oldID, newID string, s *Session)
	HandleProducerMessage(s *Session, line string)
}

// writeQueueCap bounds the serial write channel; a session this far behind
// on writes is already dead in practice. When the channel is full the new
// message is dropped and a warning logged; the connection stays open.
const writeQueueCap = 256

var (
	typeTagPattern   = regexp.MustCompile(`"type"\s*:\s*"([^"]*)"`)
	plotObjectPattern = regexp.MustCompile(`"plot"\s*:\s*\{`)
	sessionIDPattern  = regexp.MustCompile(`"sessionId"\s*:\s*"([^"]+)"`)
)

// Session is a single producer connection: one conn-N (or renamed) identity,
// one serial write queue, one pending-resize queue owned by the Hub.
type Session struct {
	mu    sync.Mutex
	id    string
	state State

	conn   transport.Connection
	router Router

	transportTag string
	httpURL      string

	writeCh   chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	log *zap.SugaredLogger
}

// New constructs a Session in the Accepted state and immediately registers
// it with router (Accepted -> Registered, spec §4.3 transition 1).
func New(internalID string, conn transport.Connection, router Router, transportTag, httpURL string) *Session {
	s := &Session{
		id:           internalID,
		state:        StateAccepted,
		conn:         conn,
		router:       router,
		transportTag: transportTag,
		httpURL:      httpURL,
		writeCh:      make(chan []byte, writeQueueCap),
		closed:       make(chan struct{}),
		log:          logger.ComponentLogger("session").With(logger.FieldInternalID, internalID),
	}
	s.state = StateRegistered
	router.RegisterSession(s)
	if logger.ShouldShowSessionStatus(logger.CurrentVerbosity()) {
		s.log.Infow("session accepted", logger.FieldTransport, transportTag)
	}
	return s
}

// ID returns the session's current identity (internal conn-N until renamed).
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Run drives the read loop until a read on the connection returns an error
// (EOF included). It owns the write-loop goroutine's lifetime.
func (s *Session) Run() {
	go s.writeLoop()

	var acc strings.Builder
	buf := make([]byte, 4096)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if logger.ShouldShowTransportIO(logger.CurrentVerbosity()) {
				s.log.Debugw("transport read", logger.FieldSize, n)
			}
			acc.Write(buf[:n])
			s.drainLines(&acc)
		}
		if err != nil {
			break
		}
	}

	s.Close()
}

// drainLines splits the accumulated buffer on '\n', processing each
// complete line and leaving any trailing partial line in acc.
func (s *Session) drainLines(acc *strings.Builder) {
	data := acc.String()
	acc.Reset()

	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			acc.WriteString(data)
			return
		}
		line := data[:idx]
		data = data[idx+1:]
		if strings.TrimSpace(line) != "" {
			s.processLine(line)
		}
	}
}

// processLine advances the state machine as needed, then forwards the line
// to the Hub for routing regardless of state.
func (s *Session) processLine(line string) {
	if logger.ShouldShowNDJSONLines(logger.CurrentVerbosity()) {
		s.log.Debugw("producer line", "line", line)
	}

	s.mu.Lock()
	if s.state == StateRegistered {
		s.state = StateFirstByteSeen
		s.mu.Unlock()
		if logger.ShouldShowSessionStatus(logger.CurrentVerbosity()) {
			s.log.Infow("first byte seen, sending deferred welcome")
		}
		s.sendWelcome()
	} else {
		s.mu.Unlock()
	}

	if newID, ok := ExtractPlotSessionID(line); ok {
		s.mu.Lock()
		if s.state != StateIdentified {
			oldID := s.id
			s.id = newID
			s.state = StateIdentified
			s.mu.Unlock()
			if oldID != newID {
				s.router.UpdateSessionID(oldID, newID, s)
				if logger.ShouldShowSessionStatus(logger.CurrentVerbosity()) {
					s.log.Infow("session identified", "old_id", oldID, logger.FieldSessionID, newID)
				}
			}
		} else {
			s.mu.Unlock()
		}
	}

	s.router.HandleProducerMessage(s, line)
}

// welcomeMessage mirrors the wire shape of §6.1's server_info message.
type welcomeMessage struct {
	Type            string      `json:"type"`
	ServerName      string      `json:"serverName"`
	ProtocolVersion int         `json:"protocolVersion"`
	Transport       string      `json:"transport"`
	ServerInfo      serverInfo  `json:"serverInfo"`
}

type serverInfo struct {
	HTTPUrl string `json:"httpUrl"`
}

// sendWelcome emits server_info only after the first inbound line has been
// consumed (deferred welcome, spec §4.3): writing to a Windows named pipe
// before the peer's first read can lose data on some platforms, so every
// transport withholds the welcome until at least one read has happened.
func (s *Session) sendWelcome() {
	msg := welcomeMessage{
		Type:            "server_info",
		ServerName:      "jgd-http-server",
		ProtocolVersion: 1,
		Transport:       s.transportTag,
		ServerInfo:      serverInfo{HTTPUrl: s.httpURL},
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		s.log.Errorw("failed to encode welcome message", logger.FieldError, err)
		return
	}
	s.enqueueWrite(append(encoded, '\n'))
}

// Send enqueues line onto the session's serial write queue. Every send
// chains onto the previous regardless of success (spec §4.3): one failed
// write never stalls subsequent sends.
func (s *Session) Send(line []byte) {
	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	s.enqueueWrite(line)
}

func (s *Session) enqueueWrite(b []byte) {
	select {
	case s.writeCh <- b:
	case <-s.closed:
	default:
		s.log.Warnw("write queue full, dropping message", logger.FieldComponent, "session")
	}
}

// writeLoop is the session's single writer: every enqueued line is written
// in submission order. A write failure caused by the peer disappearing (for
// example right after a fast plot) is logged only at debug level; any other
// write failure is logged as a warning. Either way the next line is tried.
func (s *Session) writeLoop() {
	for {
		select {
		case line, ok := <-s.writeCh:
			if !ok {
				return
			}
			n, err := s.conn.Write(line)
			if err != nil {
				if transport.IsPeerDisappearance(err) {
					s.log.Debugw("write failed: peer disappeared", logger.FieldError, err)
				} else {
					s.log.Warnw("write failed", logger.FieldError, err)
				}
			} else if logger.ShouldShowTransportIO(logger.CurrentVerbosity()) {
				s.log.Debugw("transport write", logger.FieldSize, n)
			}
		case <-s.closed:
			return
		}
	}
}

// Close transitions to Closed and releases the underlying connection and
// write loop exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		id := s.id
		s.mu.Unlock()

		close(s.closed)
		s.conn.Close()
		s.router.UnregisterSession(id)
		if logger.ShouldShowSessionStatus(logger.CurrentVerbosity()) {
			s.log.Infow("session closed")
		}
	})
}

// ExtractPlotSessionID looks for a non-empty string sessionId nested inside
// the outer line's "plot" object. It is intentionally regex-based and
// tolerant of whitespace and unknown sibling fields (spec §4.5 policy):
// it locates the opening "plot":{ and then searches everything after it for
// a sessionId key, rather than bounding the search with a [^}]* class that
// would stop at the first nested closing brace (e.g. a sibling "device"
// object). Shared with the Hub, which needs the same check when deciding
// whether a frame already carries a plot.sessionId.
func ExtractPlotSessionID(line string) (string, bool) {
	plotLoc := plotObjectPattern.FindStringIndex(line)
	if plotLoc == nil {
		return "", false
	}
	rest := line[plotLoc[1]:]
	m := sessionIDPattern.FindStringSubmatch(rest)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ExtractType returns the first "type":"<tag>" occurrence in line, tolerant
// of whitespace and unknown sibling fields. Shared with the Hub's dispatch
// logic (spec §4.5), which never requires a full JSON parse to route.
func ExtractType(line string) (string, bool) {
	m := typeTagPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
