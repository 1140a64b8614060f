package httpx

import (
	"errors"
	"fmt"

	"dqx0.com/go/minirest/httpx/internal/http1"
)

var (
	ErrInvalidAddress = errors.New("httpx: invalid address")
	ErrInvalidRoute   = errors.New("httpx: invalid route")
	ErrDuplicateRoute = errors.New("httpx: duplicate route")
	ErrRouterFrozen   = errors.New("httpx: router is frozen")
	ErrServerClosed   = errors.New("httpx: server closed")
	ErrTimeout        = errors.New("httpx: timeout")
	ErrInvalidStatus  = errors.New("httpx: invalid response status")

	// Framing failures, answered with 400, 431 and 413 respectively.
	ErrBadRequest     = http1.ErrMalformed
	ErrHeaderTooLarge = http1.ErrHeaderTooLarge
	ErrBodyTooLarge   = http1.ErrBodyTooLarge
)

// BindError reports that the listening socket could not be created. It
// is fatal for the server.
type BindError struct {
	Addr Address
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("httpx: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
