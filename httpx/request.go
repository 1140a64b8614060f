package httpx

import (
	"context"
	"net/url"
	"strings"

	"dqx0.com/go/minirest/httpx/internal/http1"
)

// Request is one framed HTTP request handed to a Handler. It is not
// modified by the server after the handler is invoked.
//
// Path is the request target without its query, which is what routes
// match against; Target keeps the raw form from the request line.
type Request struct {
	Method     string
	Target     string
	Path       string
	RawQuery   string
	Proto      string
	Header     Header
	Body       []byte
	RemoteAddr string
	// RequestID is the server generated identifier for this request.
	RequestID string
	// CorrelationID is a propagated ID from the peer (X-Request-Id).
	CorrelationID string
	ctx           context.Context
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Query parses RawQuery.
func (r *Request) Query() url.Values {
	v, _ := url.ParseQuery(r.RawQuery)
	return v
}

// ContentLength returns the body length in bytes.
func (r *Request) ContentLength() int64 { return int64(len(r.Body)) }

// wantsClose reports whether the client asked for the connection to end
// after this request. HTTP/1.1 persists by default; HTTP/1.0 only with
// an explicit keep-alive.
func (r *Request) wantsClose() bool {
	if r.Header.Has("Connection", "close") {
		return true
	}
	if r.Proto == "HTTP/1.0" {
		return !r.Header.Has("Connection", "keep-alive")
	}
	return false
}

// newRequest builds a Request from a frame. Absolute-form targets keep
// only their path and query.
func newRequest(fr *http1.Frame) *Request {
	r := &Request{
		Method: fr.Method,
		Target: fr.Target,
		Proto:  fr.Proto,
		Header: Header(fr.Header),
		Body:   fr.Body,
	}
	target := fr.Target
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if u, err := url.Parse(target); err == nil {
			target = u.RequestURI()
		}
	}
	r.Path, r.RawQuery, _ = strings.Cut(target, "?")
	return r
}
