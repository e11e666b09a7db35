// Package proxyconn implements the client side of the four tunnel
// handshake dialects this library supports: HTTP CONNECT, SOCKS4, SOCKS4a
// and SOCKS5. Dial returns a net.Conn positioned exactly where the target
// origin's own protocol begins — TLS ClientHello for HTTPS, or the first
// HTTP/1.x request line for plaintext.
package proxyconn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
	"github.com/prtunnel/proxytunnel/pkg/tlsdial"
)

// Dialect names a supported tunnel protocol.
type Dialect string

const (
	DialectHTTP    Dialect = "http"
	DialectHTTPS   Dialect = "https"
	DialectSOCKS4  Dialect = "socks4"
	DialectSOCKS4a Dialect = "socks4a"
	DialectSOCKS5  Dialect = "socks5"
)

// Endpoint is a resolved host/port pair, used for both the proxy address
// and the tunnelled target.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// Config describes one upstream proxy and how to authenticate to it.
type Config struct {
	Proxy    Endpoint
	Dialect  Dialect
	Username string
	Password string

	// Headers are appended verbatim to an HTTP CONNECT request.
	Headers http.Header

	// TLS configures the connection to an https:// proxy itself (not the
	// tunnelled target's own TLS, which is handled by tlsdial.Upgrade
	// after Dial returns).
	TLS *tlsdial.Config

	// DialTimeout bounds the initial TCP connect to the proxy. Zero
	// means defaults.DefaultProxyConnTimeout.
	DialTimeout time.Duration

	// HandshakeTimeout bounds how long the dialect handshake will poll
	// for a reply. Zero means defaults.HandshakeTimeout.
	HandshakeTimeout time.Duration
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return defaults.DefaultProxyConnTimeout
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return defaults.HandshakeTimeout
}

// Dial connects to cfg.Proxy and performs the dialect-appropriate
// handshake to reach target, returning a net.Conn ready for the target's
// own protocol.
func Dial(ctx context.Context, cfg Config, target Endpoint) (net.Conn, error) {
	conn, err := dialProxy(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hsCtx, cancel := context.WithTimeout(ctx, cfg.handshakeTimeout())
	defer cancel()

	var br *bufio.Reader

	switch cfg.Dialect {
	case DialectHTTP, DialectHTTPS:
		br, err = connectHTTP(hsCtx, conn, cfg, target)
	case DialectSOCKS4:
		br, err = connectSOCKS4(hsCtx, conn, cfg, target, false)
	case DialectSOCKS4a:
		br, err = connectSOCKS4(hsCtx, conn, cfg, target, true)
	case DialectSOCKS5:
		br, err = connectSOCKS5(hsCtx, conn, cfg, target)
	default:
		conn.Close()
		return nil, proxyerr.NewConfigError(fmt.Sprintf("unknown proxy dialect %q", cfg.Dialect))
	}

	if err != nil {
		conn.Close()
		return nil, err
	}
	return newBufferedConn(conn, br), nil
}

// bufferedConn wraps a dialled connection so that any tunnel bytes a
// handshake's bufio.Reader pulled ahead of the reply it was looking for
// aren't lost when Dial hands the connection back as a plain net.Conn.
// Reads drain br's buffer first, falling back to conn once it's empty;
// writes go straight to conn since nothing here ever buffers outbound data.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func newBufferedConn(conn net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return conn
	}
	return &bufferedConn{Conn: conn, br: br}
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

func dialProxy(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Proxy.String())
	if err != nil {
		return nil, proxyerr.NewProxyError(string(cfg.Dialect), cfg.Proxy.String(), "dial", err)
	}

	if cfg.Dialect == DialectHTTPS {
		tc := tlsdial.Config{}
		if cfg.TLS != nil {
			tc = *cfg.TLS
		}
		result, err := tlsdial.Upgrade(ctx, conn, cfg.Proxy.Host, tc)
		if err != nil {
			return nil, proxyerr.NewProxyError(string(cfg.Dialect), cfg.Proxy.String(), "tls", err)
		}
		return result.Conn, nil
	}

	return conn, nil
}

// dataAvailable polls br for readability without consuming any bytes, the
// handshake-phase realization of the spec's cooperative "DataAvailable"
// primitive: rather than block indefinitely on Read, it repeatedly arms a
// short read deadline and peeks a single byte, yielding control between
// attempts. This is intentionally not replaced with a single blocking Read
// plus one deadline — callers that need to observe ctx cancellation
// mid-wait (rather than only at the next attempt boundary) rely on the
// poll granularity. Peek leaves the byte in br's buffer for the caller's
// subsequent io.ReadFull.
func dataAvailable(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	ticker := time.NewTicker(defaults.HandshakePollInterval)
	defer ticker.Stop()

	for {
		conn.SetReadDeadline(time.Now().Add(defaults.DataAvailablePeekDeadline))
		_, err := br.Peek(1)
		conn.SetReadDeadline(time.Time{})

		if err == nil {
			return nil
		}
		if !isTimeout(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// dataAvailableNow is the non-blocking cousin of dataAvailable: a single
// zero-consuming peek against a short deadline, used where a caller needs
// to know "is there more to read right now" rather than wait until there
// is (HTTP CONNECT's response-draining loop, which stops as soon as the
// proxy goes quiet instead of waiting out the full handshake timeout).
func dataAvailableNow(conn net.Conn, br *bufio.Reader) bool {
	conn.SetReadDeadline(time.Now().Add(defaults.DataAvailablePeekDeadline))
	_, err := br.Peek(1)
	conn.SetReadDeadline(time.Time{})
	return err == nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// applyDeadline mirrors ctx's deadline, if any, onto conn so blocking
// writes/reads during a handshake respect context cancellation.
func applyDeadline(ctx context.Context, conn net.Conn) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
}

func clearDeadline(conn net.Conn) {
	conn.SetDeadline(time.Time{})
}
