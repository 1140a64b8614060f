package httpx

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a validated host:port bind target. The zero value is not a
// valid address; build one with ParseAddress or NewAddress.
type Address struct {
	ip   string
	port int
}

// ParseAddress parses "host:port". The input must hold exactly one ':'
// with a non-empty host before it and a decimal port in 1..65535 after it.
// Ports with a sign or leading zeros are rejected so that String is an
// exact inverse.
func ParseAddress(raw string) (Address, error) {
	if strings.Count(raw, ":") != 1 {
		return Address{}, fmt.Errorf("%w: %q: want exactly one ':'", ErrInvalidAddress, raw)
	}
	host, port, _ := strings.Cut(raw, ":")
	n, err := parsePort(port)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	return NewAddress(host, n)
}

// NewAddress validates ip and port and returns the Address.
func NewAddress(ip string, port int) (Address, error) {
	if ip == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if strings.ContainsAny(ip, ": \t\r\n/") {
		return Address{}, fmt.Errorf("%w: host %q", ErrInvalidAddress, ip)
	}
	if port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	return Address{ip: ip, port: port}, nil
}

func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing port")
	}
	if s[0] == '0' {
		return 0, fmt.Errorf("port %q has a leading zero", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("port %q is not numeric", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n > 65535 {
		return 0, fmt.Errorf("port %q out of range", s)
	}
	return n, nil
}

// IP returns the host part.
func (a Address) IP() string { return a.ip }

// Port returns the port number.
func (a Address) Port() int { return a.port }

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.ip == "" && a.port == 0 }

// String renders the address as "ip:port".
func (a Address) String() string {
	return a.ip + ":" + strconv.Itoa(a.port)
}
