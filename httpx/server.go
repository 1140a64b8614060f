package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"dqx0.com/go/minirest/internal/obs"
)

const (
	DefaultIdleTimeout   = 60 * time.Second
	DefaultHeaderTimeout = 10 * time.Second
	DefaultBodyTimeout   = 30 * time.Second
	DefaultWriteTimeout  = 10 * time.Second

	shutdownPollInterval = 10 * time.Millisecond
	maxAcceptDelay       = time.Second
)

// Server owns the route table, the limits and the live connections. One
// goroutine serves each accepted connection; requests on a connection
// are handled strictly one after another.
//
// Timeouts left at zero take the Default* values; a negative value
// disables that timeout.
type Server struct {
	// Addr is the "host:port" used by ListenAndServe.
	Addr string
	// Routes is frozen when serving starts.
	Routes *Router

	// IdleTimeout bounds the wait for the first byte of a request.
	// Connections that reach it are closed without a response.
	IdleTimeout time.Duration
	// HeaderTimeout bounds the time from the first byte of a request to
	// the end of its header; BodyTimeout from there to the end of the
	// declared body. Both are answered with 408 Request Timeout.
	HeaderTimeout time.Duration
	BodyTimeout   time.Duration
	WriteTimeout  time.Duration

	MaxHeaderBytes int
	MaxBodyBytes   int64

	Logger obs.Logger
	Meter  obs.Meter
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer

	mu         sync.Mutex
	listeners  map[*net.Listener]struct{}
	conns      map[*conn]struct{}
	inShutdown atomic.Bool
	serving    atomic.Int32
}

// New returns a Server for addr with an empty Router.
func New(addr string) *Server {
	return &Server{Addr: addr, Routes: NewRouter()}
}

// Handle registers h for method and path.
func (s *Server) Handle(method, path string, h Handler) error {
	return s.router().Register(method, path, h)
}

// HandleFunc registers f for method and path.
func (s *Server) HandleFunc(method, path string, f func(*Request) (*Response, error)) error {
	return s.Handle(method, path, HandlerFunc(f))
}

// ListenAndServe parses s.Addr and calls Start.
func (s *Server) ListenAndServe() error {
	addr, err := ParseAddress(s.Addr)
	if err != nil {
		return err
	}
	return s.Start(addr)
}

// Start binds addr and serves until the server is shut down, in which
// case it returns ErrServerClosed. A bind failure is returned as a
// *BindError.
func (s *Server) Start(addr Address) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		s.logf(obs.Error, "bind %s failed: %v", addr, err)
		return &BindError{Addr: addr, Err: err}
	}
	s.logf(obs.Info, "listening on %s", ln.Addr())
	return s.Serve(ln)
}

// Serve accepts connections on l, spawning a goroutine for each. The
// route table is frozen first. Transient accept errors are logged and
// retried with backoff; a listener closed by anything other than
// Shutdown or Close is fatal.
func (s *Server) Serve(l net.Listener) error {
	routes := s.router()
	routes.Freeze()
	if !s.trackListener(&l, true) {
		_ = l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)
	defer l.Close()
	s.serving.Add(1)
	defer s.serving.Add(-1)

	var delay time.Duration
	for {
		rw, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				s.logf(obs.Error, "listener %s closed: %v", l.Addr(), err)
				return fmt.Errorf("httpx: listener closed: %w", err)
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logf(obs.Warn, "accept error: %v; retrying in %v", err, delay)
			s.metricCounter("accept_errors_total", 1)
			time.Sleep(delay)
			continue
		}
		delay = 0
		c := s.newConn(rw, routes)
		if !s.trackConn(c, true) {
			c.close()
			continue
		}
		go c.serve()
	}
}

// Shutdown stops accepting, closes idle connections and waits for
// active ones to finish their current request. Connections still open
// when ctx ends are closed forcibly and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	lnerr := s.closeListenersLocked()
	s.mu.Unlock()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if s.closeIdleConns() {
			return lnerr
		}
		select {
		case <-ctx.Done():
			s.closeAllConns()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the server immediately, closing every listener and
// connection.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	err := s.closeListenersLocked()
	s.mu.Unlock()
	s.closeAllConns()
	return err
}

// Ready reports whether the server is accepting connections.
func (s *Server) Ready() bool {
	return s.serving.Load() > 0 && !s.shuttingDown()
}

// ActiveConns returns the number of open connections.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) shuttingDown() bool { return s.inShutdown.Load() }

func (s *Server) router() *Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Routes == nil {
		s.Routes = NewRouter()
	}
	return s.Routes
}

func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) closeListenersLocked() error {
	var err error
	for ln := range s.listeners {
		if cerr := (*ln).Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	return err
}

func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

// closeIdleConns closes connections waiting for a new request and
// reports whether no connection is in the middle of one.
func (s *Server) closeIdleConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiescent := true
	for c := range s.conns {
		if c.state.CompareAndSwap(int32(stateIdle), int32(stateClosed)) {
			_ = c.rwc.Close()
			continue
		}
		if connState(c.state.Load()) == stateActive {
			quiescent = false
		}
	}
	return quiescent
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.close()
	}
}

func (s *Server) idleTimeout() time.Duration {
	return timeoutOr(s.IdleTimeout, DefaultIdleTimeout)
}

func (s *Server) headerTimeout() time.Duration {
	return timeoutOr(s.HeaderTimeout, DefaultHeaderTimeout)
}

func (s *Server) bodyTimeout() time.Duration {
	return timeoutOr(s.BodyTimeout, DefaultBodyTimeout)
}

func (s *Server) writeTimeout() time.Duration {
	return timeoutOr(s.WriteTimeout, DefaultWriteTimeout)
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	lg := s.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (s *Server) metricCounter(name string, value float64, labels ...obs.Label) {
	s.getMeter().Counter(name, value, labels...)
}

func (s *Server) metricHistogram(name string, value float64, labels ...obs.Label) {
	s.getMeter().Histogram(name, value, labels...)
}

func (s *Server) metricGauge(name string, delta float64, labels ...obs.Label) {
	s.getMeter().Gauge(name, delta, labels...)
}

func (s *Server) getMeter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}
