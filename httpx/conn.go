package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"dqx0.com/go/minirest/httpx/internal/http1"
	"dqx0.com/go/minirest/internal/obs"
)

const (
	readBufferSize = 4 << 10

	// After an error response the write side is shut and the read side
	// drained for a moment, so the client sees the response instead of
	// a reset caused by unread bytes.
	lingerTimeout  = 250 * time.Millisecond
	lingerMaxBytes = 256 << 10
)

type connState int32

const (
	stateIdle   connState = iota // waiting for the first byte of a request
	stateActive                  // a request is being read, handled or written
	stateClosed
)

// conn supervises one accepted socket: it reads, frames, dispatches and
// writes until the client or the server ends the connection.
type conn struct {
	srv    *Server
	routes *Router
	rwc    net.Conn
	remote string
	framer *http1.Framer
	state  atomic.Int32
	wbuf   []byte

	// start of the current phase of the request cycle
	idleSince   time.Time
	headerSince time.Time
	bodySince   time.Time
}

func (s *Server) newConn(rwc net.Conn, routes *Router) *conn {
	c := &conn{
		srv:    s,
		routes: routes,
		rwc:    rwc,
		framer: http1.NewFramer(s.MaxHeaderBytes, s.MaxBodyBytes),
	}
	if ra := rwc.RemoteAddr(); ra != nil {
		c.remote = ra.String()
	}
	return c
}

func (c *conn) serve() {
	s := c.srv
	s.metricCounter("connections_total", 1)
	s.metricGauge("connections_active", 1)
	defer func() {
		if v := recover(); v != nil {
			s.logf(obs.Error, "conn %s: panic: %v\n%s", c.remote, v, debug.Stack())
		}
		c.close()
		s.trackConn(c, false)
		s.metricGauge("connections_active", -1)
	}()

	buf := make([]byte, readBufferSize)
	var in []byte
	c.idleSince = time.Now()
	for {
		res, fr, err := c.framer.Feed(in)
		in = nil
		switch res {
		case http1.Malformed:
			status := http1.StatusOf(err)
			s.logf(obs.Info, "conn %s: rejecting request with %d: %v", c.remote, status, err)
			s.metricCounter("frame_errors_total", 1, obs.L("status", strconv.Itoa(status)))
			c.writeError(status)
			return
		case http1.RequestReady:
			if !c.handle(fr) {
				return
			}
			c.resetCycle(time.Now())
			continue
		}

		// Nothing of a next request is buffered (stray CRLFs after a body
		// are dropped by the framer), so the connection is idle again.
		if c.framer.Buffered() == 0 && connState(c.state.Load()) == stateActive {
			if !c.setState(stateActive, stateIdle) {
				return
			}
		}

		n, err := c.read(buf)
		if n > 0 {
			in = buf[:n]
			continue
		}
		if err != nil {
			c.readFailed(err)
			return
		}
	}
}

// read reads once from the socket under the deadline of the current
// phase and marks the connection active when a request starts.
func (c *conn) read(p []byte) (int, error) {
	_ = c.rwc.SetReadDeadline(c.readDeadline(time.Now()))
	n, err := c.rwc.Read(p)
	if n > 0 && connState(c.state.Load()) == stateIdle {
		if !c.setState(stateIdle, stateActive) {
			return 0, net.ErrClosed
		}
	}
	return n, err
}

func (c *conn) readDeadline(now time.Time) time.Time {
	var (
		since time.Time
		d     time.Duration
	)
	switch c.phase() {
	case "body":
		if c.bodySince.IsZero() {
			c.bodySince = now
		}
		since, d = c.bodySince, c.srv.bodyTimeout()
	case "header":
		if c.headerSince.IsZero() {
			c.headerSince = now
		}
		since, d = c.headerSince, c.srv.headerTimeout()
	default:
		since, d = c.idleSince, c.srv.idleTimeout()
	}
	if d <= 0 {
		return time.Time{}
	}
	return since.Add(d)
}

// phase names where the connection is in its request cycle: "idle"
// before any byte of a request, "header" while the header is incomplete
// and "body" while the declared body is incomplete.
func (c *conn) phase() string {
	switch {
	case c.framer.State() == http1.AwaitingBody:
		return "body"
	case c.framer.Buffered() > 0:
		return "header"
	default:
		return "idle"
	}
}

func (c *conn) resetCycle(now time.Time) {
	c.idleSince = now
	c.headerSince = time.Time{}
	c.bodySince = time.Time{}
}

func (c *conn) readFailed(err error) {
	s := c.srv
	phase := c.phase()
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		s.metricCounter("timeouts_total", 1, obs.L("phase", phase))
		if phase == "idle" {
			s.logf(obs.Debug, "conn %s: idle timeout", c.remote)
			return
		}
		s.logf(obs.Info, "conn %s: %s timeout with %d bytes buffered: %v", c.remote, phase, c.framer.Buffered(), ErrTimeout)
		c.writeError(408)
	case connState(c.state.Load()) == stateClosed:
		// closed by Shutdown or Close
	case errors.Is(err, io.EOF):
		if phase != "idle" {
			s.logf(obs.Debug, "conn %s: peer closed during %s", c.remote, phase)
		}
	default:
		s.logf(obs.Debug, "conn %s: read: %v", c.remote, err)
	}
}

// handle serves one framed request and reports whether the connection
// stays open.
func (c *conn) handle(fr *http1.Frame) bool {
	s := c.srv
	start := time.Now()

	req := newRequest(fr)
	req.RemoteAddr = c.remote
	req.RequestID = genID()
	req.CorrelationID = req.Header.Get("X-Request-Id")
	ctx := withRemoteAddr(WithRequestID(context.Background(), req.RequestID), c.remote)
	if req.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, req.CorrelationID)
	}
	ctx, span := s.startSpan(ctx, req)
	req.ctx = ctx

	resp, matched, herr := c.dispatch(req)
	status := resp.StatusCode
	if status == 0 {
		status = 200
	}
	keep := !req.wantsClose() && !s.shuttingDown() && !resp.Header.Has("Connection", "close")

	c.wbuf = appendResponse(c.wbuf[:0], resp, keep, req.Method == "HEAD")
	werr := c.write(c.wbuf)
	if cap(c.wbuf) > 64<<10 {
		c.wbuf = nil
	}

	elapsed := time.Since(start)
	endSpan(span, status, matched, herr)
	method := methodLabel(req.Method)
	s.metricCounter("requests_total", 1, obs.L("method", method), obs.L("status", strconv.Itoa(status)))
	s.metricHistogram("request_duration_seconds", elapsed.Seconds(), obs.L("method", method))
	s.logf(obs.Info, "%s %s %s %d %dB %s id=%s", c.remote, req.Method, req.Target, status, len(resp.Body), elapsed, req.RequestID)

	if werr != nil {
		s.logf(obs.Debug, "conn %s: write: %v", c.remote, werr)
		return false
	}
	return keep
}

// dispatch routes req and runs its handler. Unknown routes get 404;
// handler errors and panics get 500. HEAD falls back to the GET route.
func (c *conn) dispatch(req *Request) (resp *Response, matched bool, err error) {
	s := c.srv
	h, ok := c.routes.Lookup(req.Method, req.Path)
	if !ok && req.Method == "HEAD" {
		h, ok = c.routes.Lookup("GET", req.Path)
	}
	if !ok {
		return errorResponse(404), false, nil
	}
	matched = true
	defer func() {
		if v := recover(); v != nil {
			s.logf(obs.Error, "handler %s %s panicked: %v\n%s", req.Method, req.Path, v, debug.Stack())
			s.metricCounter("handler_panics_total", 1)
			resp, err = errorResponse(500), fmt.Errorf("httpx: handler panic: %v", v)
		}
	}()
	resp, err = h.ServeREST(req)
	if err != nil {
		s.logf(obs.Warn, "handler %s %s failed: %v", req.Method, req.Path, err)
		return errorResponse(500), true, err
	}
	if resp == nil {
		resp = NewResponse(200, nil)
	}
	if !validStatus(resp.StatusCode) {
		s.logf(obs.Error, "handler %s %s returned status %d", req.Method, req.Path, resp.StatusCode)
		return errorResponse(500), true, fmt.Errorf("%w: %d", ErrInvalidStatus, resp.StatusCode)
	}
	return resp, true, nil
}

func (c *conn) write(p []byte) error {
	if d := c.srv.writeTimeout(); d > 0 {
		_ = c.rwc.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := c.rwc.Write(p)
	return err
}

// writeError sends an engine generated response on a connection that is
// about to close. Failures are ignored; the peer may already be gone.
func (c *conn) writeError(status int) {
	if err := c.write(appendResponse(nil, errorResponse(status), false, false)); err != nil {
		c.srv.logf(obs.Debug, "conn %s: writing %d: %v", c.remote, status, err)
		return
	}
	c.lingeringClose()
}

func (c *conn) lingeringClose() {
	cw, ok := c.rwc.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	_ = cw.CloseWrite()
	_ = c.rwc.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(c.rwc, lingerMaxBytes))
}

func (c *conn) setState(from, to connState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *conn) close() {
	c.state.Store(int32(stateClosed))
	_ = c.rwc.Close()
}

func methodLabel(m string) string {
	switch m {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "CONNECT", "TRACE":
		return m
	default:
		return "OTHER"
	}
}
