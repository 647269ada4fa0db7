package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/grantmcdermott/jgd/internal/discovery"
	"github.com/grantmcdermott/jgd/internal/hub"
	"github.com/grantmcdermott/jgd/internal/session"
	"github.com/grantmcdermott/jgd/internal/socketuri"
	"github.com/grantmcdermott/jgd/internal/transport"
	"github.com/grantmcdermott/jgd/logger"
)

// sessionWaitTimeout bounds how long shutdown waits for in-flight producer
// session loops to finish (spec §4.8 step 6).
const sessionWaitTimeout = 5 * time.Second

// Supervisor owns the broker's full process lifetime: binding both
// listeners, running the producer accept loop, and driving the ordered
// startup/shutdown sequence of spec §4.8.
type Supervisor struct {
	Hub *hub.Hub

	producerListener transport.Listener
	httpListener     net.Listener
	httpSrv          *http.Server

	socketURI        string
	httpURL          string
	discoveryEnabled bool

	sessionWG sync.WaitGroup
	connSeq   atomic.Int64

	log *zap.SugaredLogger
}

// Options configures a Supervisor at construction time.
type Options struct {
	ProducerAddr     socketuri.SocketAddress
	HTTPBind         string
	Assets           AssetMap
	WebDir           string
	DiscoveryEnabled bool
}

// New runs startup steps 1-4 of spec §4.8: construct the Hub, bind the
// producer listener, bind the HTTP server, and spawn the producer accept
// loop. Steps 5-7 (discovery, signal handlers, readiness banner) are the
// caller's responsibility via WriteDiscovery/AwaitShutdownSignal/
// ReadinessBanner, so main can control when the banner prints.
func New(opts Options) (*Supervisor, error) {
	log := logger.ComponentLogger("supervisor")

	transportTag := string(opts.ProducerAddr.Scheme)
	h := hub.New(transportTag)

	producerListener, err := transport.Listen(opts.ProducerAddr)
	if err != nil {
		return nil, err
	}

	httpListener, err := net.Listen("tcp", opts.HTTPBind)
	if err != nil {
		producerListener.Close()
		return nil, err
	}
	httpPort := httpListener.Addr().(*net.TCPAddr).Port
	h.SetHTTPPort(httpPort)
	httpURL := fmt.Sprintf("http://127.0.0.1:%d/", httpPort)

	srv := NewServer(h, opts.Assets, opts.WebDir)
	httpSrv := &http.Server{Handler: srv.Mux()}

	s := &Supervisor{
		Hub:              h,
		producerListener: producerListener,
		httpListener:     httpListener,
		httpSrv:          httpSrv,
		socketURI:        socketuri.Format(producerListener.Addr()),
		httpURL:          httpURL,
		discoveryEnabled: opts.DiscoveryEnabled,
		log:              log,
	}

	go func() {
		if err := httpSrv.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.Warnw("http server stopped", logger.FieldError, err)
		}
	}()

	go s.acceptLoop(transportTag)

	return s, nil
}

// acceptLoop accepts producer connections until the listener is closed,
// assigning each a monotone internal id and running its session loop on
// its own goroutine.
func (s *Supervisor) acceptLoop(transportTag string) {
	for {
		conn, err := s.producerListener.Accept()
		if err != nil {
			return
		}
		id := "conn-" + strconv.FormatInt(s.connSeq.Add(1), 10)
		sess := session.New(id, conn, s.Hub, transportTag, s.httpURL)

		s.sessionWG.Add(1)
		go func() {
			defer s.sessionWG.Done()
			sess.Run()
		}()
	}
}

// WriteDiscovery performs startup step 5.
func (s *Supervisor) WriteDiscovery() {
	if !s.discoveryEnabled {
		return
	}
	discovery.Write(s.socketURI, s.Hub.HTTPPort())
}

// ReadinessBanner returns the exact multi-line stdout block required by
// spec §6.3.
func (s *Supervisor) ReadinessBanner() string {
	return fmt.Sprintf("jgd server ready\n  R socket:  %s\n  HTTP:      %s\n", s.socketURI, s.httpURL)
}

// AwaitShutdownSignal blocks until SIGINT (or SIGTERM, where supported),
// then runs the ordered shutdown sequence of spec §4.8 steps 1-6.
func (s *Supervisor) AwaitShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	s.Shutdown()
}

// Shutdown runs spec §4.8's ordered shutdown: discovery removal, stop
// accepting, HTTP shutdown, close all connections via Hub, then wait up
// to 5s for in-flight session loops.
func (s *Supervisor) Shutdown() {
	if s.discoveryEnabled {
		discovery.Remove()
	}

	s.producerListener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warnw("http server shutdown error", logger.FieldError, err)
	}

	s.Hub.Close()

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(sessionWaitTimeout):
		s.log.Warnw("timed out waiting for producer session loops to finish")
	}
}
