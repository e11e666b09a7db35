package streamio

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestDetermineFramingChunkedWins(t *testing.T) {
	h := http.Header{"Transfer-Encoding": {"chunked"}, "Content-Length": {"10"}}
	framing, _, err := DetermineFraming(http.MethodGet, 200, h)
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingChunked {
		t.Fatalf("expected chunked framing to win, got %v", framing)
	}
}

func TestDetermineFramingContentLength(t *testing.T) {
	h := http.Header{"Content-Length": {"42"}}
	framing, length, err := DetermineFraming(http.MethodGet, 200, h)
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingFixedLength || length != 42 {
		t.Fatalf("unexpected framing=%v length=%d", framing, length)
	}
}

func TestDetermineFramingNoBodyStatuses(t *testing.T) {
	for _, status := range []int{100, 204, 304} {
		h := http.Header{"Content-Length": {"100"}}
		framing, _, err := DetermineFraming(http.MethodGet, status, h)
		if err != nil {
			t.Fatal(err)
		}
		if framing != FramingNone {
			t.Fatalf("status %d: expected no body, got %v", status, framing)
		}
	}
}

func TestDetermineFramingHeadRequest(t *testing.T) {
	h := http.Header{"Content-Length": {"100"}}
	framing, _, err := DetermineFraming(http.MethodHead, 200, h)
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingNone {
		t.Fatalf("expected no body for HEAD, got %v", framing)
	}
}

func TestDetermineFramingUntilClose(t *testing.T) {
	framing, _, err := DetermineFraming(http.MethodGet, 200, http.Header{})
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingUntilClose {
		t.Fatalf("expected until-close framing, got %v", framing)
	}
}

func TestReadChunkedBody(t *testing.T) {
	raw := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	r := NewReader(strings.NewReader(raw))
	h := http.Header{}
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, r.Body(FramingChunked, 0, h)); err != nil {
		t.Fatal(err)
	}
	if dst.String() != "Wikipedia" {
		t.Fatalf("got %q, want %q", dst.String(), "Wikipedia")
	}
}

func TestReadChunkedBodyWithTrailer(t *testing.T) {
	raw := "3\r\nfoo\r\n0\r\nX-Trailer: yes\r\n\r\n"
	r := NewReader(strings.NewReader(raw))
	h := http.Header{}
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, r.Body(FramingChunked, 0, h)); err != nil {
		t.Fatal(err)
	}
	if dst.String() != "foo" {
		t.Fatalf("got %q", dst.String())
	}
	if h.Get("X-Trailer") != "yes" {
		t.Fatalf("expected trailer to be merged into headers, got %v", h)
	}
}

func TestReadFixedBodyToleratesShortRead(t *testing.T) {
	r := NewReader(strings.NewReader("abc"))
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, r.Body(FramingFixedLength, 10, http.Header{})); err != nil {
		t.Fatalf("expected short body to be tolerated, got %v", err)
	}
	if dst.String() != "abc" {
		t.Fatalf("got %q", dst.String())
	}
}

func TestReadUntilCloseBody(t *testing.T) {
	r := NewReader(strings.NewReader("all the bytes until EOF"))
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, r.Body(FramingUntilClose, 0, http.Header{})); err != nil {
		t.Fatal(err)
	}
	if dst.String() != "all the bytes until EOF" {
		t.Fatalf("got %q", dst.String())
	}
}

func TestRawCaptureIncludesBodyBytes(t *testing.T) {
	raw := "3\r\nfoo\r\n0\r\n\r\n"
	r := NewReader(strings.NewReader(raw))
	var capture bytes.Buffer
	r.Raw = &capture
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, r.Body(FramingChunked, 0, http.Header{})); err != nil {
		t.Fatal(err)
	}
	if capture.String() != raw {
		t.Fatalf("raw capture = %q, want %q", capture.String(), raw)
	}
}
