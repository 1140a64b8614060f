package httpx

import "context"

// ctxKey identifies the per-request values the server attaches to a
// handler's context.
type ctxKey uint8

const (
	requestIDKey ctxKey = iota + 1
	correlationIDKey
	remoteAddrKey
)

func withString(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// stringFrom reports false for missing and empty values alike.
func stringFrom(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithRequestID attaches the server generated request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFrom returns the ID the server generated for this request.
func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

// WithCorrelationID attaches the caller's X-Request-Id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withString(ctx, correlationIDKey, id)
}

// CorrelationIDFrom returns the X-Request-Id the client sent, if any.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, correlationIDKey)
}

func withRemoteAddr(ctx context.Context, addr string) context.Context {
	return withString(ctx, remoteAddrKey, addr)
}

// RemoteAddrFrom returns the peer address of the connection that carried
// the request.
func RemoteAddrFrom(ctx context.Context) (string, bool) {
	return stringFrom(ctx, remoteAddrKey)
}
