package eventloop

import (
	"bytes"
	"net/http"
	"net/netip"
	"strconv"
	"time"
)

// Request is a parsed HTTP request line. Headers and body are never read;
// whatever the client sends after the request line is drained and
// discarded once the response has been written.
type Request struct {
	Method string

	// Target is the raw request target, e.g. "/count" or "/ip?x=1".
	Target string

	// Proto is empty for HTTP/0.9 style lines without a version.
	Proto string

	RemoteAddr netip.AddrPort
	Received   time.Time
}

// Response is what a Handler returns for a request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// DefaultContentType is used when a Response leaves ContentType empty.
const DefaultContentType = "text/html; charset=utf-8"

// encode renders the status line, the fixed header set and the body.
func (r *Response) encode() []byte {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	text := http.StatusText(status)
	if text == "" {
		text = "Status"
	}

	var b bytes.Buffer
	b.Grow(128 + len(r.Body))
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(text)
	b.WriteString("\r\nContent-Type: ")
	b.WriteString(contentType)
	b.WriteString("\r\nContent-Length: ")
	b.WriteString(strconv.Itoa(len(r.Body)))
	b.WriteString("\r\nConnection: close\r\n\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

// parseRequestLine splits "METHOD SP TARGET [SP PROTO]" with the trailing
// CR (if any) already removed by the caller.
func parseRequestLine(line []byte) (method, target, proto string, ok bool) {
	parts := bytes.Split(line, []byte{' '})
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", "", false
	}

	if !isToken(parts[0]) || len(parts[1]) == 0 {
		return "", "", "", false
	}
	for _, c := range parts[1] {
		if c < 0x21 || c == 0x7f {
			return "", "", "", false
		}
	}

	if len(parts) == 3 {
		if !bytes.HasPrefix(parts[2], []byte("HTTP/")) {
			return "", "", "", false
		}
		proto = string(parts[2])
	}

	return string(parts[0]), string(parts[1]), proto, true
}

// isToken reports whether b is a non-empty RFC 9110 token.
func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case bytes.IndexByte([]byte("!#$%&'*+-.^_`|~"), c) >= 0:
		default:
			return false
		}
	}
	return true
}
