package streamio

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
)

// ContentEncoding identifies a supported Content-Encoding value.
type ContentEncoding string

const (
	EncodingIdentity ContentEncoding = ""
	EncodingGzip     ContentEncoding = "gzip"
	EncodingDeflate  ContentEncoding = "deflate"
)

// ParseContentEncoding maps a Content-Encoding header value to a supported
// ContentEncoding, case-insensitively, treating anything unrecognized as
// identity (the caller passes the body through unmodified rather than
// failing the exchange).
func ParseContentEncoding(header string) ContentEncoding {
	enc := ContentEncoding(strings.ToLower(strings.TrimSpace(header)))
	switch enc {
	case EncodingGzip, EncodingDeflate:
		return enc
	default:
		return EncodingIdentity
	}
}

var gzipPool = sync.Pool{New: func() any { return new(gzip.Reader) }}

// flate.Reader doesn't expose a usable zero-value construction story
// (flate.NewReader requires a source immediately), so the pool holds the
// Resetter-capable io.ReadCloser it last produced instead of a bare struct.
var flatePool = sync.Pool{}

// decompressor wraps a pooled gzip/flate reader so repeated bodies on the
// same connection don't each pay allocation cost for the sliding-window
// tables. Its one documented quirk: the wrapped reader's source is drained
// to EOF when the decompressor first reports io.EOF (so the tunnel is fully
// consumed before the caller sees EOF), and again in Close before the
// reader returns to the pool. gzip.Reader and
// flate.Reader both refuse Reset on a stream that hasn't reached EOF, so a
// caller that stops consuming a body early (a bounded read, a cancelled
// request) would otherwise poison the next Reset with trailing bytes left
// over from this body. The drain is coupled to pool reuse, not to the
// correctness of this particular read.
type decompressor struct {
	r       io.ReadCloser
	src     io.Reader
	release func()
}

func (d *decompressor) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		drainToEOF(d.src)
	}
	return n, err
}

func (d *decompressor) Close() error {
	drainToEOF(d.src)
	err := d.r.Close()
	if d.release != nil {
		d.release()
	}
	return err
}

func drainToEOF(r io.Reader) {
	buf := make([]byte, defaults.DecompressDrainChunk)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
	}
}

// NewGzipReader wraps src with a pooled gzip decompressor.
func NewGzipReader(src io.Reader) (io.ReadCloser, error) {
	gz := gzipPool.Get().(*gzip.Reader)
	if err := gz.Reset(src); err != nil {
		gzipPool.Put(gz)
		return nil, err
	}
	return &decompressor{r: gz, src: src, release: func() { gzipPool.Put(gz) }}, nil
}

// NewDeflateReader wraps src with a pooled raw-DEFLATE decompressor (RFC
// 1951, not the zlib-wrapped RFC 1950 variant — HTTP's "deflate" encoding
// is ambiguous in the wild, but flate.NewReader is what every major
// browser and server implementation actually sends/expects).
func NewDeflateReader(src io.Reader) (io.ReadCloser, error) {
	if pooled, ok := flatePool.Get().(flate.Resetter); ok {
		if err := pooled.Reset(src, nil); err != nil {
			return nil, err
		}
		rc := pooled.(io.ReadCloser)
		return &decompressor{r: rc, src: src, release: func() { flatePool.Put(pooled) }}, nil
	}

	fr := flate.NewReader(src)
	resetter := fr.(flate.Resetter)
	return &decompressor{r: fr, src: src, release: func() { flatePool.Put(resetter) }}, nil
}

// NewDecompressor dispatches on encoding, returning src unchanged, wrapped
// in a no-op closer, for identity encoding.
func NewDecompressor(src io.Reader, encoding ContentEncoding) (io.ReadCloser, error) {
	switch encoding {
	case EncodingGzip:
		return NewGzipReader(src)
	case EncodingDeflate:
		return NewDeflateReader(src)
	default:
		return io.NopCloser(src), nil
	}
}
