package http1

import (
	"sort"
	"strconv"
)

// AppendResponse appends a complete HTTP/1.1 response to dst. Header
// fields are written in sorted key order so equal responses serialize to
// equal bytes. Content-Length and Connection are always computed here;
// values the caller put in hdr for them, or for Transfer-Encoding, are
// ignored. When omitBody is set (HEAD) the body is dropped but its
// length is still announced.
func AppendResponse(dst []byte, status int, reason string, hdr map[string]string, body []byte, keepAlive, omitBody bool) []byte {
	if reason == "" {
		reason = defaultReason(status)
	}
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, SanitizeHeaderValue(reason)...)
	dst = append(dst, crlf...)

	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		switch canonicalHeaderKey(k) {
		case "Content-Length", "Connection", "Transfer-Encoding":
			continue
		}
		if SanitizeHeaderKey(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dst = append(dst, canonicalHeaderKey(k)...)
		dst = append(dst, ": "...)
		dst = append(dst, SanitizeHeaderValue(hdr[k])...)
		dst = append(dst, crlf...)
	}

	bodyless := !BodyAllowed(status)
	if !bodyless {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(len(body)), 10)
		dst = append(dst, crlf...)
	}
	if keepAlive {
		dst = append(dst, "Connection: keep-alive\r\n"...)
	} else {
		dst = append(dst, "Connection: close\r\n"...)
	}
	dst = append(dst, crlf...)
	if !bodyless && !omitBody {
		dst = append(dst, body...)
	}
	return dst
}

// BodyAllowed reports whether a response with the given status may carry
// a body (RFC 9110: 1xx, 204 and 304 never do).
func BodyAllowed(status int) bool {
	if status >= 100 && status < 200 {
		return false
	}
	return status != 204 && status != 304
}

// Reason returns the standard reason phrase for code, or "" if unknown.
func Reason(code int) string { return defaultReason(code) }

func defaultReason(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 413:
		return "Content Too Large"
	case 415:
		return "Unsupported Media Type"
	case 422:
		return "Unprocessable Content"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}
