package http1

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultMaxHeaderBytes       = 8 << 10
	DefaultMaxBodyBytes   int64 = 1 << 20
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

// State is the position of a Framer inside one request cycle.
type State uint8

const (
	AwaitingHeaders State = iota
	AwaitingBody
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingHeaders:
		return "awaiting-headers"
	case AwaitingBody:
		return "awaiting-body"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Result reports what a call to Feed produced.
type Result uint8

const (
	NeedMore Result = iota
	RequestReady
	Malformed
)

func (r Result) String() string {
	switch r {
	case NeedMore:
		return "need-more"
	case RequestReady:
		return "request-ready"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Frame is one complete request as read off the wire. Header keys are
// canonicalized and repeated fields are joined with ", ".
type Frame struct {
	Method        string
	Target        string
	Proto         string
	Header        map[string]string
	ContentLength int64
	Body          []byte
}

// Framer turns a stream of reads into complete requests. It owns a
// growable buffer; bytes that arrive after a complete request are kept
// and framed on the next cycle. A Framer is not safe for concurrent use.
//
// The zero value is ready to use with the default limits.
type Framer struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64

	buf       []byte
	state     State
	scanned   int // prefix of buf already searched for the header terminator
	headerEnd int // offset of the first body byte, valid in AwaitingBody
	head      *Frame
	err       error
}

func NewFramer(maxHeaderBytes int, maxBodyBytes int64) *Framer {
	return &Framer{MaxHeaderBytes: maxHeaderBytes, MaxBodyBytes: maxBodyBytes}
}

// State returns the current framing state.
func (f *Framer) State() State { return f.state }

// Buffered returns the number of bytes held for the request in progress,
// including any pipelined bytes carried over from the previous cycle.
func (f *Framer) Buffered() int { return len(f.buf) }

// Feed appends p to the buffer and tries to complete a request. Passing
// an empty p re-examines bytes already buffered, which is how pipelined
// requests left over from a previous cycle are drained. Once Feed has
// reported Malformed it keeps doing so.
func (f *Framer) Feed(p []byte) (Result, *Frame, error) {
	if f.err != nil {
		return Malformed, nil, f.err
	}
	if f.state == Complete {
		f.state = AwaitingHeaders
	}
	f.buf = append(f.buf, p...)

	if f.state == AwaitingHeaders {
		ok, err := f.readHead()
		if err != nil {
			f.err = err
			return Malformed, nil, err
		}
		if !ok {
			return NeedMore, nil, nil
		}
	}

	end := f.headerEnd + int(f.head.ContentLength)
	if len(f.buf) < end {
		return NeedMore, nil, nil
	}
	fr := f.head
	if fr.ContentLength > 0 {
		fr.Body = append([]byte(nil), f.buf[f.headerEnd:end]...)
	}
	f.consume(end)
	f.state = Complete
	return RequestReady, fr, nil
}

func (f *Framer) readHead() (bool, error) {
	// Empty lines ahead of a request line are ignored.
	for f.scanned == 0 && bytes.HasPrefix(f.buf, crlf) {
		f.buf = f.buf[2:]
	}
	limit := f.maxHeaderBytes()
	from := f.scanned
	i := bytes.Index(f.buf[from:], crlfcrlf)
	if i < 0 {
		if len(f.buf) > limit {
			return false, fmt.Errorf("%w: more than %d bytes without end of header", ErrHeaderTooLarge, limit)
		}
		// The terminator may straddle reads, so keep the last 3 bytes unscanned.
		if n := len(f.buf) - 3; n > f.scanned {
			f.scanned = n
		}
		return false, nil
	}
	end := from + i + len(crlfcrlf)
	if end > limit {
		return false, fmt.Errorf("%w: %d bytes, limit %d", ErrHeaderTooLarge, end, limit)
	}
	fr, err := parseHead(f.buf[:from+i])
	if err != nil {
		return false, err
	}
	if lim := f.maxBodyBytes(); fr.ContentLength > lim {
		return false, fmt.Errorf("%w: declared %d bytes, limit %d", ErrBodyTooLarge, fr.ContentLength, lim)
	}
	f.head = fr
	f.headerEnd = end
	f.state = AwaitingBody
	return true, nil
}

// consume drops the first n bytes and resets the per-request offsets,
// keeping whatever follows for the next cycle.
func (f *Framer) consume(n int) {
	left := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:left]
	if left == 0 && cap(f.buf) > 4*DefaultMaxHeaderBytes {
		f.buf = nil
	}
	f.head = nil
	f.headerEnd = 0
	f.scanned = 0
}

func (f *Framer) maxHeaderBytes() int {
	if f.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return f.MaxHeaderBytes
}

// maxBodyBytes is capped so that header plus body always fits in an int.
func (f *Framer) maxBodyBytes() int64 {
	if f.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	if ceil := int64(math.MaxInt - f.maxHeaderBytes()); f.MaxBodyBytes > ceil {
		return ceil
	}
	return f.MaxBodyBytes
}

// parseHead parses the request line and header fields. b excludes the
// terminating empty line.
func parseHead(b []byte) (*Frame, error) {
	lines := strings.Split(string(b), "\r\n")
	fr, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}
	fr.Header = make(map[string]string, len(lines)-1)
	var lengths []string
	for _, line := range lines[1:] {
		k, v, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		switch k {
		case "Content-Length":
			lengths = append(lengths, v)
		case "Transfer-Encoding":
			return nil, fmt.Errorf("%w: %q", ErrTransferEncoding, v)
		}
		if old, ok := fr.Header[k]; ok {
			fr.Header[k] = old + ", " + v
		} else {
			fr.Header[k] = v
		}
	}
	fr.ContentLength, err = parseContentLength(lengths)
	if err != nil {
		return nil, err
	}
	return fr, nil
}

func parseRequestLine(line string) (*Frame, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrRequestLine, line)
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if !isToken(method) || !validTarget(target) || !validProto(proto) {
		return nil, fmt.Errorf("%w: %q", ErrRequestLine, line)
	}
	return &Frame{Method: method, Target: target, Proto: proto}, nil
}

func parseHeaderLine(line string) (string, string, error) {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		// obs-fold is rejected
		return "", "", fmt.Errorf("%w: %q", ErrHeaderLine, line)
	}
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", fmt.Errorf("%w: missing colon in %q", ErrHeaderLine, line)
	}
	name := line[:i]
	if !isToken(name) {
		return "", "", fmt.Errorf("%w: invalid name %q", ErrHeaderLine, name)
	}
	value := strings.Trim(line[i+1:], " \t")
	if !validValue(value) {
		return "", "", fmt.Errorf("%w: invalid value for %s", ErrHeaderLine, name)
	}
	return canonicalHeaderKey(name), value, nil
}

// parseContentLength accepts repeated fields and comma lists as long as
// every element carries the same decimal value.
func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.Trim(s, " \t")
			if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
				return 0, fmt.Errorf("%w: %q", ErrContentLength, v)
			}
			// A well-formed length beyond int64 is still just too large.
			m, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: declared %s bytes", ErrBodyTooLarge, s)
			}
			if n >= 0 && m != n {
				return 0, fmt.Errorf("%w: conflicting values %d and %d", ErrContentLength, n, m)
			}
			n = m
		}
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func validProto(p string) bool {
	return len(p) == len("HTTP/1.1") && strings.HasPrefix(p, "HTTP/1.") && p[7] >= '0' && p[7] <= '9'
}

func validTarget(t string) bool {
	if t == "" {
		return false
	}
	for i := 0; i < len(t); i++ {
		if c := t[i]; c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

func validValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			return false
		}
	}
	return true
}
