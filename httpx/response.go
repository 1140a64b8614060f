package httpx

import (
	"dqx0.com/go/minirest/httpx/internal/http1"
)

// Response is what a Handler returns. The server computes Content-Length
// and Connection itself; values set for them in Header are ignored, with
// one exception: "Connection: close" makes the server end the connection
// after writing.
type Response struct {
	StatusCode int
	Header     Header
	Body       []byte
}

// NewResponse returns a response with an empty header.
func NewResponse(status int, body []byte) *Response {
	return &Response{StatusCode: status, Header: Header{}, Body: body}
}

// Text returns a text/plain response.
func Text(status int, body string) *Response {
	r := NewResponse(status, []byte(body))
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return r
}

// HTML returns a text/html response.
func HTML(status int, body string) *Response {
	r := NewResponse(status, []byte(body))
	r.Header.Set("Content-Type", "text/html; charset=utf-8")
	return r
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string { return http1.Reason(code) }

// Serialize renders resp as HTTP/1.1 wire bytes with a Connection header
// reflecting keepAlive. Equal responses always produce equal bytes. A nil
// response or a zero status is treated as 200; a status outside 200-599
// is replaced by a 500 response.
func Serialize(resp *Response, keepAlive bool) []byte {
	return appendResponse(nil, resp, keepAlive, false)
}

func appendResponse(dst []byte, resp *Response, keepAlive, omitBody bool) []byte {
	if resp == nil {
		resp = &Response{}
	}
	status := resp.StatusCode
	if status == 0 {
		status = 200
	}
	if !validStatus(status) {
		resp, status = errorResponse(500), 500
	}
	return http1.AppendResponse(dst, status, "", resp.Header, resp.Body, keepAlive, omitBody)
}

// errorResponse is the minimal body the server sends for failures it
// generates itself.
func errorResponse(status int) *Response {
	return Text(status, StatusText(status)+"\n")
}

// validStatus reports whether a handler may answer with status. 1xx
// responses belong to protocol switching and 100-continue, which the
// engine does not do; 0 means 200.
func validStatus(status int) bool {
	return status == 0 || (status >= 200 && status <= 599)
}
