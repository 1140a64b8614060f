package http1

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every syntax error the Framer reports.
var ErrMalformed = errors.New("http1: malformed request")

var (
	ErrRequestLine      = fmt.Errorf("%w: request line", ErrMalformed)
	ErrHeaderLine       = fmt.Errorf("%w: header line", ErrMalformed)
	ErrContentLength    = fmt.Errorf("%w: Content-Length", ErrMalformed)
	ErrTransferEncoding = fmt.Errorf("%w: Transfer-Encoding not supported", ErrMalformed)
	ErrHeaderTooLarge   = errors.New("http1: header too large")
	ErrBodyTooLarge     = errors.New("http1: body too large")
)

// StatusOf maps a framing error to the status code the server answers with.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrHeaderTooLarge):
		return 431
	case errors.Is(err, ErrBodyTooLarge):
		return 413
	default:
		return 400
	}
}
