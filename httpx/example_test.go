package httpx_test

import (
	"context"
	"fmt"

	"dqx0.com/go/minirest/httpx"
)

// ExampleHeader shows basic header operations.
func ExampleHeader() {
	h := httpx.Header{}
	h.Add("X-Foo", "a")
	h.Add("x-foo", "b")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Println(h.Get("x-foo")) // canonical lookup
	h.Del("X-Foo")
	fmt.Printf("%q\n", h.Get("X-Foo"))
	// Output:
	// a, b
	// ""
}

// ExampleSerialize renders a handler's response the way the server
// writes it.
func ExampleSerialize() {
	resp := &httpx.Response{StatusCode: 200, Body: []byte("<h1>Hi</h1>")}
	fmt.Printf("%q\n", httpx.Serialize(resp, true))
	// Output:
	// "HTTP/1.1 200 OK\r\nContent-Length: 11\r\nConnection: keep-alive\r\n\r\n<h1>Hi</h1>"
}

// ExampleRouter shows registration and exact-match lookup.
func ExampleRouter() {
	rt := httpx.NewRouter()
	_ = rt.Register("get", "/hello", httpx.HandlerFunc(func(*httpx.Request) (*httpx.Response, error) {
		return httpx.HTML(200, "<h1>Hi</h1>"), nil
	}))
	_, ok := rt.Lookup("GET", "/hello")
	_, miss := rt.Lookup("GET", "/hello/")
	fmt.Println(ok, miss)
	// Output:
	// true false
}

// Example_requestID reads the per-request identifiers a handler is given.
func Example_requestID() {
	ctx := httpx.WithCorrelationID(httpx.WithRequestID(context.Background(), "r1"), "c1")
	id, _ := httpx.RequestIDFrom(ctx)
	corr, _ := httpx.CorrelationIDFrom(ctx)
	fmt.Println(id, corr)
	// Output:
	// r1 c1
}
