package httpx

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"dqx0.com/go/minirest/internal/obs"
)

func testRoutes(s *Server) {
	_ = s.HandleFunc("GET", "/hello", func(r *Request) (*Response, error) {
		return &Response{StatusCode: 200, Body: []byte("<h1>Hi</h1>")}, nil
	})
	_ = s.HandleFunc("POST", "/echo", func(r *Request) (*Response, error) {
		return NewResponse(200, r.Body), nil
	})
	_ = s.HandleFunc("GET", "/fail", func(r *Request) (*Response, error) {
		return nil, errors.New("boom")
	})
	_ = s.HandleFunc("GET", "/panic", func(r *Request) (*Response, error) {
		panic("handler exploded")
	})
	_ = s.HandleFunc("GET", "/bye", func(r *Request) (*Response, error) {
		resp := Text(200, "bye")
		resp.Header.Set("Connection", "close")
		return resp, nil
	})
}

func startServer(t *testing.T, cfg func(*Server)) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New("")
	testRoutes(s)
	if cfg != nil {
		cfg(s)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		_ = s.Close()
		<-done
	})
	return s, ln.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

func send(t *testing.T, c net.Conn, raw string) {
	t.Helper()
	if _, err := io.WriteString(c, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type reply struct {
	status int
	header http.Header
	body   string
	close  bool
}

func readReply(t *testing.T, br *bufio.Reader, method string) reply {
	t.Helper()
	res, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return reply{status: res.StatusCode, header: res.Header, body: string(b), close: res.Close}
}

func expectEOF(t *testing.T, c net.Conn, br *bufio.Reader) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestServer_HelloKeepAlive(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)

	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	line, err := br.ReadString('\n')
	if err != nil || line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line=%q err=%v", line, err)
	}
	var head []string
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if l == "\r\n" {
			break
		}
		head = append(head, strings.TrimSpace(l))
	}
	if strings.Join(head, "|") != "Content-Length: 11|Connection: keep-alive" {
		t.Fatalf("headers=%q", head)
	}
	body := make([]byte, 11)
	if _, err := io.ReadFull(br, body); err != nil || string(body) != "<h1>Hi</h1>" {
		t.Fatalf("body=%q err=%v", body, err)
	}

	// second request on the same socket
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	r := readReply(t, br, "GET")
	if r.status != 200 || r.body != "<h1>Hi</h1>" || r.close {
		t.Fatalf("second reply=%+v", r)
	}
}

func TestServer_NotFoundKeepsConnection(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 404 || r.close || r.body != "Not Found\n" {
		t.Fatalf("reply=%+v", r)
	}
	send(t, c, "get /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("reply=%+v", r)
	}
	send(t, c, "GET /HELLO HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 404 {
		t.Fatalf("path must be case-sensitive, reply=%+v", r)
	}
}

func TestServer_HandlerFailures(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "GET /fail HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 500 || r.close {
		t.Fatalf("error reply=%+v", r)
	}
	send(t, c, "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 500 || r.close {
		t.Fatalf("panic reply=%+v", r)
	}
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("after panic reply=%+v", r)
	}

	// the listener is unaffected
	c2, br2 := dial(t, addr)
	send(t, c2, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br2, "GET"); r.status != 200 {
		t.Fatalf("new conn reply=%+v", r)
	}
}

func TestServer_ConnectionClose(t *testing.T) {
	_, addr := startServer(t, nil)

	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)

	c, br = dial(t, addr)
	send(t, c, "GET /bye HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 || !r.close {
		t.Fatalf("handler close reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_HTTP10(t *testing.T) {
	_, addr := startServer(t, nil)

	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.0\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)

	c, br = dial(t, addr)
	send(t, c, "GET /hello HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 || r.header.Get("Connection") != "keep-alive" {
		t.Fatalf("keep-alive reply=%+v", r)
	}
}

func TestServer_Pipelined(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nfirstGET /hello HTTP/1.1\r\nHost: x\r\n\r\nPOST /echo HTTP/1.1\r\nContent-Length: 6\r\n\r\nsecond")
	if r := readReply(t, br, "POST"); r.status != 200 || r.body != "first" {
		t.Fatalf("1st=%+v", r)
	}
	if r := readReply(t, br, "GET"); r.status != 200 || r.body != "<h1>Hi</h1>" {
		t.Fatalf("2nd=%+v", r)
	}
	if r := readReply(t, br, "POST"); r.status != 200 || r.body != "second" {
		t.Fatalf("3rd=%+v", r)
	}
}

func TestServer_Fragmented(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 12\r\n\r\nhello, world"
	for i := 0; i < len(raw); i++ {
		send(t, c, raw[i:i+1])
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if r := readReply(t, br, "POST"); r.status != 200 || r.body != "hello, world" {
		t.Fatalf("reply=%+v", r)
	}
}

func TestServer_Head(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "HEAD /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	r := readReply(t, br, "HEAD")
	if r.status != 200 || r.header.Get("Content-Length") != "11" || r.body != "" {
		t.Fatalf("reply=%+v", r)
	}
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.body != "<h1>Hi</h1>" {
		t.Fatalf("follow-up reply=%+v", r)
	}
}

func TestServer_Malformed(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "GET /hello\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 400 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_ChunkedRejected(t *testing.T) {
	_, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n")
	if r := readReply(t, br, "POST"); r.status != 400 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	_, addr := startServer(t, func(s *Server) { s.MaxBodyBytes = 16 })
	c, br := dial(t, addr)
	send(t, c, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 100\r\n\r\n")
	if r := readReply(t, br, "POST"); r.status != 413 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_HeaderTooLarge(t *testing.T) {
	_, addr := startServer(t, func(s *Server) { s.MaxHeaderBytes = 128 })
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nX-Big: "+strings.Repeat("b", 300)+"\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 431 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_IdleTimeout(t *testing.T) {
	s, addr := startServer(t, func(s *Server) { s.IdleTimeout = 100 * time.Millisecond })
	silent, sbr := dial(t, addr)
	start := time.Now()
	expectEOF(t, silent, sbr)
	if el := time.Since(start); el < 80*time.Millisecond {
		t.Fatalf("closed after %v, before the idle timeout", el)
	}

	// the listener and other connections are unaffected
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("reply=%+v", r)
	}
	if !s.Ready() {
		t.Fatal("server should still be ready")
	}
}

func TestServer_IdleTimeoutBetweenRequests(t *testing.T) {
	_, addr := startServer(t, func(s *Server) { s.IdleTimeout = 100 * time.Millisecond })
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_HeaderTimeout(t *testing.T) {
	_, addr := startServer(t, func(s *Server) { s.HeaderTimeout = 100 * time.Millisecond })
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHo")
	if r := readReply(t, br, "GET"); r.status != 408 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_BodyTimeout(t *testing.T) {
	_, addr := startServer(t, func(s *Server) { s.BodyTimeout = 100 * time.Millisecond })
	c, br := dial(t, addr)
	send(t, c, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nabc")
	if r := readReply(t, br, "POST"); r.status != 408 || !r.close {
		t.Fatalf("reply=%+v", r)
	}
	expectEOF(t, c, br)
}

func TestServer_SlowClientDoesNotBlockOthers(t *testing.T) {
	_, addr := startServer(t, nil)
	slow, _ := dial(t, addr)
	send(t, slow, "POST /echo HTTP/1.1\r\nContent-Length: 1000\r\n\r\npartial")

	c, br := dial(t, addr)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("reply=%+v", r)
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, addr := startServer(t, func(s *Server) {
		_ = s.HandleFunc("GET", "/slow", func(r *Request) (*Response, error) {
			close(entered)
			<-release
			return Text(200, "done"), nil
		})
	})

	idle, ibr := dial(t, addr)
	send(t, idle, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, ibr, "GET"); r.status != 200 {
		t.Fatalf("idle conn reply=%+v", r)
	}

	busy, bbr := dial(t, addr)
	send(t, busy, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Shutdown(ctx) }()

	expectEOF(t, idle, ibr)
	select {
	case err := <-done:
		t.Fatalf("Shutdown returned %v while a request was in flight", err)
	case <-time.After(100 * time.Millisecond):
	}
	if s.Ready() {
		t.Fatal("Ready during shutdown")
	}

	close(release)
	r := readReply(t, bbr, "GET")
	if r.status != 200 || r.body != "done" || !r.close {
		t.Fatalf("in-flight reply=%+v", r)
	}
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if c, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		c.Close()
		t.Fatal("listener still accepting after shutdown")
	}
}

func TestServer_ShutdownDeadline(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	s, addr := startServer(t, func(s *Server) {
		_ = s.HandleFunc("GET", "/stuck", func(r *Request) (*Response, error) {
			close(entered)
			<-release
			return Text(200, "late"), nil
		})
	})
	c, _ := dial(t, addr)
	send(t, c, "GET /stuck HTTP/1.1\r\nHost: x\r\n\r\n")
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err=%v", err)
	}
}

func TestServer_ServeAfterShutdown(t *testing.T) {
	s := New("")
	_ = s.Shutdown(context.Background())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := s.Serve(ln); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Serve err=%v", err)
	}
}

func TestStart_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr, err := ParseAddress(ln.Addr().String())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	err = New("").Start(addr)
	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("err=%v, want *BindError", err)
	}
	if be.Addr != addr {
		t.Fatalf("BindError.Addr=%v", be.Addr)
	}
}

func TestListenAndServe_InvalidAddress(t *testing.T) {
	if err := New("no-port").ListenAndServe(); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err=%v", err)
	}
}

func TestServer_RouterFrozenWhileServing(t *testing.T) {
	s, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	readReply(t, br, "GET")
	if err := s.HandleFunc("GET", "/late", func(*Request) (*Response, error) { return nil, nil }); !errors.Is(err, ErrRouterFrozen) {
		t.Fatalf("err=%v", err)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, addr := startServer(t, func(s *Server) { s.Meter = obs.NewPromMeter(reg, "minirest") })
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	readReply(t, br, "GET")
	send(t, c, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n")
	readReply(t, br, "GET")

	// the counter is bumped just after the response is written
	var got map[string]float64
	for i := 0; i < 100; i++ {
		got = requestCounts(t, reg)
		if got["GET/200"] == 1 && got["GET/404"] == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("requests_total=%v", got)
}

func requestCounts(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "minirest_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[labelsOf(m)] = m.GetCounter().GetValue()
		}
	}
	return got
}

func labelsOf(m *dto.Metric) string {
	var method, status string
	for _, lp := range m.GetLabel() {
		switch lp.GetName() {
		case "method":
			method = lp.GetValue()
		case "status":
			status = lp.GetValue()
		}
	}
	return method + "/" + status
}

func TestServer_RequestContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	type seen struct {
		requestID, correlation, remote string
		traceID                        string
	}
	got := make(chan seen, 1)
	_, addr := startServer(t, func(s *Server) {
		_ = s.HandleFunc("GET", "/ctx", func(r *Request) (*Response, error) {
			ctx := r.Context()
			id, _ := RequestIDFrom(ctx)
			corr, _ := CorrelationIDFrom(ctx)
			remote, _ := RemoteAddrFrom(ctx)
			got <- seen{id, corr, remote, trace.SpanContextFromContext(ctx).TraceID().String()}
			return nil, nil
		})
	})
	c, br := dial(t, addr)
	send(t, c, "GET /ctx HTTP/1.1\r\nHost: x\r\nX-Request-Id: abc-123\r\n"+
		"Traceparent: 00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 || r.body != "" {
		t.Fatalf("reply=%+v", r)
	}
	v := <-got
	if len(v.requestID) != 32 || v.correlation != "abc-123" || v.remote != c.LocalAddr().String() {
		t.Fatalf("seen=%+v", v)
	}
	if v.traceID != "0af7651916cd43dd8448eb211c80319c" {
		t.Fatalf("trace id=%q", v.traceID)
	}
}

func TestServer_TrailingCRLFThenShutdown(t *testing.T) {
	s, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\n\r\nhi\r\n")
	if r := readReply(t, br, "POST"); r.status != 200 || r.body != "hi" {
		t.Fatalf("reply=%+v", r)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown err=%v after %v", err, time.Since(start))
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("Shutdown took %v with only an idle connection", el)
	}
	expectEOF(t, c, br)
}

func TestServer_InvalidHandlerStatus(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		for path, code := range map[string]int{"/huge": 1000, "/switch": 101, "/negative": -1} {
			code := code
			_ = s.HandleFunc("GET", path, func(*Request) (*Response, error) {
				return NewResponse(code, []byte("x")), nil
			})
		}
	})
	c, br := dial(t, addr)
	for _, path := range []string{"/huge", "/switch", "/negative"} {
		send(t, c, "GET "+path+" HTTP/1.1\r\nHost: x\r\n\r\n")
		if r := readReply(t, br, "GET"); r.status != 500 || r.close || r.body != "Internal Server Error\n" {
			t.Fatalf("%s reply=%+v", path, r)
		}
	}
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("follow-up reply=%+v", r)
	}
}

func TestServer_DispatchDoesNotTakeServerLock(t *testing.T) {
	s, addr := startServer(t, nil)
	c, br := dial(t, addr)
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	readReply(t, br, "GET")

	// Shutdown polling holds s.mu; requests on accepted connections must
	// still be served meanwhile.
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	send(t, c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if r := readReply(t, br, "GET"); r.status != 200 {
		t.Fatalf("reply=%+v", r)
	}
}
