package httpx

import (
	"strings"

	"dqx0.com/go/minirest/httpx/internal/http1"
)

// Header maps canonical header names to their values. Repeated request
// fields arrive joined with ", ".
type Header map[string]string

func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[http1.CanonicalHeaderKey(key)]
}

func (h Header) Set(key, value string) {
	if h == nil {
		return
	}
	h[http1.CanonicalHeaderKey(key)] = value
}

// Add appends value to an existing field using the list syntax.
func (h Header) Add(key, value string) {
	if h == nil {
		return
	}
	k := http1.CanonicalHeaderKey(key)
	if old, ok := h[k]; ok && old != "" {
		h[k] = old + ", " + value
		return
	}
	h[k] = value
}

func (h Header) Del(key string) {
	if h == nil {
		return
	}
	delete(h, http1.CanonicalHeaderKey(key))
}

// Has reports whether token appears, case-insensitively, in the
// comma-separated list value of key.
func (h Header) Has(key, token string) bool {
	for _, v := range strings.Split(h.Get(key), ",") {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}

func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	h2 := make(Header, len(h))
	for k, v := range h {
		h2[k] = v
	}
	return h2
}
