package streamio

import (
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
)

// BodyFraming identifies which of the three HTTP/1.x body delimiting
// strategies applies to a response.
type BodyFraming int

const (
	FramingNone BodyFraming = iota
	FramingChunked
	FramingFixedLength
	FramingUntilClose
)

// DetermineFraming picks the body framing for a response the way RFC 9110
// §6.4.1 and §6.4.2 require: no body for 1xx/204/304/HEAD regardless of
// what the headers claim, then chunked beats Content-Length beats
// read-until-close.
func DetermineFraming(method string, statusCode int, headers http.Header) (BodyFraming, int64, error) {
	if method == http.MethodHead ||
		(statusCode >= 100 && statusCode < 200) ||
		statusCode == http.StatusNoContent ||
		statusCode == http.StatusNotModified {
		return FramingNone, 0, nil
	}

	te := headers.Get("Transfer-Encoding")
	if strings.Contains(strings.ToLower(te), "chunked") {
		return FramingChunked, 0, nil
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil {
			return FramingNone, 0, proxyerr.NewProtocolError("invalid Content-Length: "+cl, err)
		}
		if length < 0 {
			return FramingNone, 0, proxyerr.NewProtocolError("negative Content-Length", nil)
		}
		return FramingFixedLength, length, nil
	}

	return FramingUntilClose, 0, nil
}

// Body returns an io.Reader for the response body that pulls bytes off r
// lazily, one Read call at a time, instead of draining the whole thing
// into memory before the caller sees any of it. This is what lets a
// response body "own the tunnel lease" (the spec's phrase): the tunnel
// stays mid-read, not released back to its pool, until whatever holds
// this reader finishes reading it (or closes early and forces the tunnel
// to be discarded instead of reused, see releasingBody in the root
// package). It also means nothing here imposes a buffering cap on a
// hostile body; the caller decides how much to read.
func (r *Reader) Body(framing BodyFraming, length int64, headers http.Header) io.Reader {
	switch framing {
	case FramingNone:
		return http.NoBody
	case FramingChunked:
		return newChunkReader(r, headers)
	case FramingFixedLength:
		if length <= 0 {
			return http.NoBody
		}
		return newLengthReader(r, length)
	case FramingUntilClose:
		return &untilCloseReader{r: r}
	default:
		return &errReader{err: proxyerr.NewProtocolError("unknown body framing", nil)}
	}
}

// ChunkReader lazily decodes RFC 9112 section 7.1 chunked transfer coding
// off the reader it was built from, state-machine style: ExpectHeader
// alternates with InChunk(remaining), except driven by the caller's own
// Read calls rather than draining eagerly into a sink.
type ChunkReader struct {
	r         *Reader
	headers   http.Header
	remaining int64
	expectHdr bool
	done      bool
	err       error
}

func newChunkReader(r *Reader, headers http.Header) *ChunkReader {
	return &ChunkReader{r: r, headers: headers, expectHdr: true}
}

// Read implements io.Reader. It never returns more than one chunk's worth
// of data per call, matching the state machine's InChunk(remaining) step;
// callers wanting the whole body should loop (io.ReadAll does this).
func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if c.expectHdr {
		line, err := c.r.ReadLine()
		if err != nil {
			c.err = proxyerr.NewProtocolError("reading chunk size", err)
			return 0, c.err
		}
		sizeField := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			c.err = proxyerr.NewProtocolError("invalid chunk size: "+line, err)
			return 0, c.err
		}
		if size == 0 {
			if err := c.readTrailer(); err != nil {
				c.err = err
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
		c.remaining = size
		c.expectHdr = false
	}

	n := len(p)
	if int64(n) > c.remaining {
		n = int(c.remaining)
	}

	read, err := c.r.br.Read(p[:n])
	if read > 0 {
		c.r.writeRaw(p[:read])
		c.remaining -= int64(read)
	}
	if err != nil {
		c.err = proxyerr.NewIOError("reading chunk body", err)
		return read, c.err
	}

	if c.remaining == 0 {
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(c.r.br, crlf); err != nil {
			c.err = proxyerr.NewIOError("reading chunk terminator", err)
			return read, c.err
		}
		c.r.writeRaw(crlf)
		c.expectHdr = true
	}

	return read, nil
}

// readTrailer consumes the trailer section after the terminal zero-length
// chunk, merging any fields into headers the way the eager implementation
// used to, except this only happens once the caller has actually read to
// the end of the body rather than unconditionally up front.
func (c *ChunkReader) readTrailer() error {
	for {
		line, err := c.r.ReadLine()
		if err != nil {
			return proxyerr.NewProtocolError("reading chunk trailer", err)
		}
		if line == "" {
			return nil
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:colon]))
		value := sliceAfterColon(line, colon)
		c.headers.Add(key, value)
	}
}

// LengthReader lazily reads exactly length bytes off r, the Content-Length
// decoder: never past the content boundary, tolerating a short body (the
// server closed early) as EOF rather than an error, since this is a
// client reading someone else's traffic, not validating conformance.
type LengthReader struct {
	r         *Reader
	remaining int64
}

func newLengthReader(r *Reader, length int64) *LengthReader {
	return &LengthReader{r: r, remaining: length}
}

func (l *LengthReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}

	n, err := l.r.br.Read(p)
	if n > 0 {
		l.r.writeRaw(p[:n])
		l.remaining -= int64(n)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		l.remaining = 0
		return n, io.EOF
	}
	return n, err
}

// untilCloseReader is the read-until-close fallback framing: the body is
// whatever remains on the transport up to its own EOF, used when neither
// Transfer-Encoding nor Content-Length is present.
type untilCloseReader struct {
	r *Reader
}

func (u *untilCloseReader) Read(p []byte) (int, error) {
	n, err := u.r.br.Read(p)
	if n > 0 {
		u.r.writeRaw(p[:n])
	}
	return n, err
}

// errReader always fails with a fixed error; used for a framing value
// DetermineFraming never actually produces, kept only so Body has a total
// return for every BodyFraming value.
type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }
