package hub

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/internal/viewer"
)

// pipeConnection mirrors transport's streamConnection Write-loops-until-done
// behavior over a net.Pipe, without importing the transport package.
type pipeConnection struct {
	net.Conn
}

func (c *pipeConnection) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := c.Conn.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *pipeConnection) RemoteAddr() string { return "pipe" }

func newTestSession(t *testing.T, h *Hub, id string) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := session.New(id, &pipeConnection{Conn: server}, h, "tcp", "http://127.0.0.1:8080/")
	go s.Run()
	t.Cleanup(func() { client.Close() })
	return s, client
}

// newTestViewer spins a real WebSocket connection wired to h, mirroring the
// viewer package's own test harness.
func newTestViewer(t *testing.T, h *Hub) (*viewer.Client, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	var serverClient *viewer.Client
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverClient = viewer.New("viewer-under-test", conn, h)
		close(ready)
		serverClient.Run()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	<-ready
	return serverClient, clientConn
}

func readNonWelcomeLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !contains(line, `"type":"server_info"`) {
			return line
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestResizeQueuePushNormalSupersedesPriorNormalEntries(t *testing.T) {
	q := newResizeQueue()
	require.True(t, q.pushNormal())
	idx := 3
	q.entries = append(q.entries, PendingResizeEntry{PlotIndex: &idx})
	require.True(t, q.pushNormal())

	assert.Len(t, q.entries, 2)
	assert.Equal(t, &idx, q.entries[0].PlotIndex)
	assert.Nil(t, q.entries[1].PlotIndex)
}

func TestResizeQueueCapDropsSilently(t *testing.T) {
	q := newResizeQueue()
	for i := 0; i < resizeQueueCap; i++ {
		idx := i
		ok := q.pushPlotIndex(idx)
		require.True(t, ok)
	}
	assert.False(t, q.pushPlotIndex(999))
	assert.Len(t, q.entries, resizeQueueCap)
}

func TestResizeQueuePopHeadOrder(t *testing.T) {
	q := newResizeQueue()
	q.pushPlotIndex(1)
	q.pushPlotIndex(2)

	head, ok := q.popHead()
	require.True(t, ok)
	assert.Equal(t, 1, *head.PlotIndex)

	head, ok = q.popHead()
	require.True(t, ok)
	assert.Equal(t, 2, *head.PlotIndex)

	_, ok = q.popHead()
	assert.False(t, ok)
}

func TestHandleFrameTagsUsingPendingResize(t *testing.T) {
	h := New("tcp")
	s, client := newTestSession(t, h, "conn-1")
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	idx := 2
	h.mu.Lock()
	h.resizeQueues[s.ID()].pushPlotIndex(idx)
	h.mu.Unlock()

	_, clientWs := newTestViewer(t, h)
	clientWs.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte(`{"type":"frame","plot":{"sessionId":"conn-1"}}` + "\n"))
	require.NoError(t, err)

	_, data, err := clientWs.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resize":true`)
	assert.Contains(t, string(data), `"plotIndex":2`)
}

func TestHandleFrameKeepsExistingPlotSessionIDAlongsideSiblingObjects(t *testing.T) {
	h := New("tcp")
	s, client := newTestSession(t, h, "conn-1")
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	idx := 5
	h.mu.Lock()
	h.resizeQueues[s.ID()].pushPlotIndex(idx)
	h.mu.Unlock()

	_, clientWs := newTestViewer(t, h)
	clientWs.SetReadDeadline(time.Now().Add(2 * time.Second))

	// plot carries sibling objects (device, ops) whose own closing braces
	// would defeat a [^}]*-bounded regex long before it reaches sessionId.
	frame := `{"type":"frame","plot":{"device":{"width":800,"height":600},"ops":[{"op":"line"}],"sessionId":"conn-1"}}` + "\n"
	_, err := client.Write([]byte(frame))
	require.NoError(t, err)

	_, data, err := clientWs.ReadMessage()
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `"resize":true`)
	assert.Contains(t, out, `"plotIndex":5`)

	// The pre-existing sessionId must survive untouched, not be silently
	// re-injected by a false-negative "no sessionId yet" detection.
	count := 0
	idxSearch := 0
	for {
		i := indexFrom(out, `"sessionId"`, idxSearch)
		if i < 0 {
			break
		}
		count++
		idxSearch = i + 1
	}
	assert.Equal(t, 1, count, "plot.sessionId must appear exactly once: %s", out)
	assert.Contains(t, out, `"sessionId":"conn-1"`)
}

func indexFrom(s, substr string, from int) int {
	for i := from; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestHandleMetricsRequestFallsBackImmediatelyWithNoViewers(t *testing.T) {
	h := New("tcp")
	_, client := newTestSession(t, h, "conn-1")
	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte(`{"type":"metrics_request","id":42}` + "\n"))
	require.NoError(t, err)

	line := readNonWelcomeLine(t, reader)
	assert.Contains(t, line, `"type":"metrics_response"`)
	assert.Contains(t, line, `"id":42`)
	assert.Contains(t, line, `"width":0`)
}

func TestHandleMetricsResponseForwardsOnceToOriginatingSession(t *testing.T) {
	h := New("tcp")
	s, client := newTestSession(t, h, "conn-1")
	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	vc, clientWs := newTestViewer(t, h)
	clientWs.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte(`{"type":"metrics_request","id":7}` + "\n"))
	require.NoError(t, err)

	_, _, err = clientWs.ReadMessage() // the broadcast metrics_request
	require.NoError(t, err)

	h.HandleMetricsResponse(vc, `{"type":"metrics_response","id":7,"width":12,"ascent":9,"descent":3}`)

	line := readNonWelcomeLine(t, reader)
	assert.Contains(t, line, `"width":12`)
	_ = s
}

func TestHandleMetricsRequestTimesOutWithZeroValuedFallback(t *testing.T) {
	h := New("tcp")
	_, client := newTestSession(t, h, "conn-1")
	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, clientWs := newTestViewer(t, h)
	clientWs.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, err := client.Write([]byte(`{"type":"metrics_request","id":99}` + "\n"))
	require.NoError(t, err)

	_, _, err = clientWs.ReadMessage() // the broadcast metrics_request, never answered
	require.NoError(t, err)

	line := readNonWelcomeLine(t, reader)
	assert.Contains(t, line, `"id":99`)
	assert.Contains(t, line, `"width":0`)
}

func TestUpdateSessionIDRewritesMetricsRouting(t *testing.T) {
	h := New("tcp")
	h.mu.Lock()
	h.metricsRouting[1] = "conn-1"
	h.mu.Unlock()

	s, client := newTestSession(t, h, "conn-1")
	defer client.Close()

	h.UpdateSessionID("conn-1", "renamed-session", s)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "renamed-session", h.metricsRouting[1])
	_, hasOld := h.sessions["conn-1"]
	assert.False(t, hasOld)
	_, hasNew := h.sessions["renamed-session"]
	assert.True(t, hasNew)
}

func TestUnregisterSessionPurgesMetricsRouting(t *testing.T) {
	h := New("tcp")
	h.mu.Lock()
	h.metricsRouting[1] = "conn-1"
	h.metricsRouting[2] = "conn-2"
	h.mu.Unlock()

	h.UnregisterSession("conn-1")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.metricsRouting[1]
	assert.False(t, ok)
	_, ok = h.metricsRouting[2]
	assert.True(t, ok)
}

func TestHandleResizeNormalModeDedupsBySessionLastSize(t *testing.T) {
	h := New("tcp")
	s, client := newTestSession(t, h, "conn-1")
	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	vc, _ := newTestViewer(t, h)

	h.HandleResize(vc, `{"type":"resize","width":800,"height":600}`)
	line := readNonWelcomeLine(t, reader)
	assert.Contains(t, line, `"width":800`)

	h.mu.Lock()
	q := h.resizeQueues[s.ID()]
	assert.Len(t, q.entries, 1)
	h.mu.Unlock()

	// Same dimensions again: skipped entirely, no duplicate queue entry.
	h.HandleResize(vc, `{"type":"resize","width":800,"height":600}`)

	h.mu.Lock()
	assert.Len(t, q.entries, 1)
	h.mu.Unlock()
}

func TestHandleResizePlotIndexModeTargetsSingleSession(t *testing.T) {
	h := New("tcp")
	s1, client1 := newTestSession(t, h, "conn-1")
	s2, client2 := newTestSession(t, h, "conn-2")
	reader1 := bufio.NewReader(client1)
	reader2 := bufio.NewReader(client2)
	client1.SetReadDeadline(time.Now().Add(2 * time.Second))
	client2.SetReadDeadline(time.Now().Add(2 * time.Second))

	vc, _ := newTestViewer(t, h)

	h.HandleResize(vc, `{"type":"resize","width":400,"height":300,"plotIndex":5,"sessionId":"conn-1"}`)

	line := readNonWelcomeLine(t, reader1)
	assert.Contains(t, line, `"plotIndex":5`)
	assert.NotContains(t, line, `"sessionId"`)

	h.mu.Lock()
	q2 := h.resizeQueues[s2.ID()]
	assert.Empty(t, q2.entries)
	q1 := h.resizeQueues[s1.ID()]
	assert.Len(t, q1.entries, 1)
	h.mu.Unlock()
}

func TestHandleResizePlotIndexModeDropsWhenSessionMissing(t *testing.T) {
	h := New("tcp")
	vc, _ := newTestViewer(t, h)

	// Must not panic even though "conn-missing" was never registered.
	h.HandleResize(vc, `{"type":"resize","width":400,"height":300,"plotIndex":5,"sessionId":"conn-missing"}`)
}

func TestCloseShutsDownSessionsAndViewers(t *testing.T) {
	h := New("tcp")
	_, client := newTestSession(t, h, "conn-1")
	_, clientWs := newTestViewer(t, h)

	h.Close()

	h.mu.Lock()
	assert.Empty(t, h.sessions)
	assert.Empty(t, h.clients)
	h.mu.Unlock()

	_, err := client.Write([]byte("x"))
	assert.Error(t, err)

	clientWs.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = clientWs.ReadMessage()
	assert.Error(t, err)
}
