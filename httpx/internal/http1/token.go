package http1

import "strings"

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
			continue
		default:
			return false
		}
	}
	return true
}

// SanitizeHeaderKey ensures header name is a valid token; returns empty string if invalid.
func SanitizeHeaderKey(k string) string {
	if !isToken(k) {
		return ""
	}
	return k
}

// SanitizeHeaderValue removes CR/LF and control chars except HTAB.
func SanitizeHeaderValue(v string) string {
	if validValue(v) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// CanonicalHeaderKey upper-cases the first letter and every letter after
// a hyphen, lower-casing the rest.
func CanonicalHeaderKey(s string) string {
	return canonicalHeaderKey(s)
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = c - 'a' + 'A'
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}
