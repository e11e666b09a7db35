// Package httpwire serializes an *http.Request onto a tunnelled
// connection and parses the *http.Response that comes back, using
// streamio's explicit status-line/header/body state machine rather than
// net/http's internal client so that chunked framing, trailers and
// Content-Encoding are all visible and controllable at this layer.
package httpwire

import (
	"io"
	"net/http"
	"strconv"

	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
	"github.com/prtunnel/proxytunnel/pkg/streamio"
)

// WriteRequest serializes req in HTTP/1.x wire format onto w. *http.Request
// already knows how to write itself correctly (request line, Host header,
// Content-Length or chunked framing for the body) — reimplementing that by
// hand would just be a worse copy of the same code now that http.Request is
// this library's own request type.
func WriteRequest(w io.Writer, req *http.Request) error {
	if err := req.Write(w); err != nil {
		return proxyerr.NewIOError("writing request", err)
	}
	return nil
}

// ReadResponse parses one HTTP/1.x response from r, which must be
// positioned at the start of the status line. method is the request
// method that produced this response, needed to apply the HEAD/1xx/204/304
// no-body rules correctly. raw, when non-nil, is filled with an exact byte
// copy of everything consumed off the wire (status line, headers, and body
// framing bytes — chunk sizes and terminators included) as the caller
// reads resp.Body; it is not complete the moment ReadResponse returns.
//
// The returned response's body is read lazily straight off r: this call
// only consumes the status line and headers before returning, so the
// tunnel r sits on is not released for reuse (and not even fully drained)
// until resp.Body is read to EOF and closed.
func ReadResponse(r io.Reader, method string, raw io.Writer) (*http.Response, error) {
	sr := streamio.NewReader(r)
	sr.Raw = raw

	statusLine, err := sr.ReadStatusLine()
	if err != nil {
		return nil, err
	}

	headers, err := sr.ReadHeaders()
	if err != nil {
		return nil, err
	}

	framing, length, err := streamio.DetermineFraming(method, statusLine.StatusCode, headers)
	if err != nil {
		return nil, err
	}

	body := sr.Body(framing, length, headers)

	encoding := streamio.ParseContentEncoding(headers.Get("Content-Encoding"))
	bodyReader, err := streamio.NewDecompressor(body, encoding)
	if err != nil {
		return nil, proxyerr.NewProtocolError("decompressing response body", err)
	}
	if encoding != streamio.EncodingIdentity {
		headers.Del("Content-Encoding")
	}

	resp := &http.Response{
		Status:        statusLine.Reason,
		StatusCode:    statusLine.StatusCode,
		Proto:         statusLine.HTTPVersion,
		Header:        headers,
		Body:          bodyReader,
		ContentLength: length,
	}
	reason := resp.Status
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	resp.Status = strconv.Itoa(resp.StatusCode) + " " + reason

	return resp, nil
}
