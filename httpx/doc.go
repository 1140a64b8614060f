// Package httpx is a small HTTP/1.x server engine: it accepts TCP
// connections, frames requests out of the byte stream, dispatches each
// one to an exact-match route and writes the handler's response back,
// keeping the connection alive when the client allows it.
//
// Highlights
//   - Incremental framing: requests may arrive in any number of reads;
//     pipelined bytes after a request are kept for the next one.
//   - Content-Length bodies only; chunked transfer coding is rejected.
//   - Header and body size limits (431 / 413), idle, header and body
//     timeouts (close / 408), 404 for unknown routes, 500 for handler
//     errors and panics.
//   - Graceful shutdown: stop accepting, drain in-flight requests,
//     force-close at the deadline.
//   - Observability: plug-in Logger and Meter interfaces and an
//     OpenTelemetry server span per request.
//
// Quick start:
//
//	s := httpx.New("127.0.0.1:8080")
//	s.HandleFunc("GET", "/hello", func(r *httpx.Request) (*httpx.Response, error) {
//	    return httpx.HTML(200, "<h1>Hi</h1>"), nil
//	})
//	if err := s.ListenAndServe(); err != nil && !errors.Is(err, httpx.ErrServerClosed) {
//	    log.Fatal(err)
//	}
package httpx
