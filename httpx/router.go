package httpx

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Handler turns a Request into a Response. A returned error, or a panic,
// is answered with 500 Internal Server Error.
type Handler interface {
	ServeREST(*Request) (*Response, error)
}

type HandlerFunc func(*Request) (*Response, error)

func (f HandlerFunc) ServeREST(r *Request) (*Response, error) {
	return f(r)
}

// Route is one registered (method, path) pair.
type Route struct {
	Method  string
	Path    string
	Handler Handler
}

type routeKey struct {
	method string
	path   string
}

// Router is an exact-match route table. Methods are compared
// case-insensitively, paths byte for byte. Routes are registered during
// setup; Freeze copies the table into an immutable snapshot that Lookup
// reads without locking. A second registration of the same (method, path)
// fails with ErrDuplicateRoute.
type Router struct {
	mu     sync.Mutex
	routes map[routeKey]Handler
	frozen atomic.Pointer[map[routeKey]Handler]
}

func NewRouter() *Router {
	return &Router{routes: make(map[routeKey]Handler)}
}

// Register adds a route. It fails once the router is frozen.
func (rt *Router) Register(method, path string, h Handler) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || strings.ContainsAny(method, " \t\r\n") {
		return fmt.Errorf("%w: method %q", ErrInvalidRoute, method)
	}
	if path != "*" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path %q must start with '/'", ErrInvalidRoute, path)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s %s", ErrInvalidRoute, method, path)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.frozen.Load() != nil {
		return fmt.Errorf("%w: cannot register %s %s", ErrRouterFrozen, method, path)
	}
	if rt.routes == nil {
		rt.routes = make(map[routeKey]Handler)
	}
	k := routeKey{method: method, path: path}
	if _, ok := rt.routes[k]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, method, path)
	}
	rt.routes[k] = h
	return nil
}

// Lookup returns the handler registered for method and path.
func (rt *Router) Lookup(method, path string) (Handler, bool) {
	k := routeKey{method: strings.ToUpper(method), path: path}
	if snap := rt.frozen.Load(); snap != nil {
		h, ok := (*snap)[k]
		return h, ok
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.routes[k]
	return h, ok
}

// Freeze makes the table read-only. It is idempotent.
func (rt *Router) Freeze() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.frozen.Load() != nil {
		return
	}
	snap := make(map[routeKey]Handler, len(rt.routes))
	for k, h := range rt.routes {
		snap[k] = h
	}
	rt.frozen.Store(&snap)
}

// Frozen reports whether Freeze has been called.
func (rt *Router) Frozen() bool { return rt.frozen.Load() != nil }

// Len returns the number of registered routes.
func (rt *Router) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.routes)
}

// Routes lists the table sorted by path, then method.
func (rt *Router) Routes() []Route {
	rt.mu.Lock()
	out := make([]Route, 0, len(rt.routes))
	for k, h := range rt.routes {
		out = append(out, Route{Method: k.method, Path: k.path, Handler: h})
	}
	rt.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}
