// Package proxytunnel implements an HTTP/HTTPS client that reaches its
// targets through an upstream proxy (HTTP CONNECT, SOCKS4, SOCKS4a or
// SOCKS5) rather than dialing them directly.
package proxytunnel

import (
	"net/http"
	"time"

	"github.com/prtunnel/proxytunnel/pkg/proxyconn"
	"github.com/prtunnel/proxytunnel/pkg/tlsdial"
)

// Config aggregates everything a Client needs: which proxy to tunnel
// through, how to speak TLS to origins once tunnelled, how many
// connections to keep per host, and how to follow redirects.
type Config struct {
	// Proxy describes the upstream proxy and its dialect. Required.
	Proxy proxyconn.Config

	// TLS configures the TLS handshake performed against the tunnelled
	// origin for https:// requests (distinct from Proxy.TLS, which only
	// applies to an https:// proxy itself).
	TLS tlsdial.Config

	// MaxConnsPerHost bounds how many tunnels this Client keeps open to
	// any one (host, port, scheme) triple. Zero means 1.
	MaxConnsPerHost int

	// MaxIdleTime is how long a pooled tunnel may sit unused before a
	// liveness probe is required before reuse. Zero disables the idle
	// threshold, so every reuse is probed.
	MaxIdleTime time.Duration

	// PoolAcquireTimeout bounds how long RoundTrip waits for a free pool
	// slot before failing. Zero means defaults.HandshakeTimeout.
	PoolAcquireTimeout time.Duration

	// RequestTimeout is stored on the Config but neither RoundTrip nor Do
	// reads it. The request's context, PoolAcquireTimeout and the proxy
	// dial/handshake timeouts bound getting a tunnel; writing the request
	// and reading the response have no deadline.
	RequestTimeout time.Duration

	// AllowAutoRedirect enables Do's redirect-following loop. When false
	// (the zero value), Do returns the first response unconditionally
	// (still applying Jar's cookie handling); MaxRedirects and
	// CheckRedirect have no effect until this is set.
	AllowAutoRedirect bool

	// MaxRedirects bounds how many 3xx responses Do will follow before
	// giving up. Zero means 10, matching net/http's own Client default.
	MaxRedirects int

	// Jar, if set, receives Set-Cookie headers from every response and
	// supplies the Cookie header on every outgoing request Do sends.
	Jar http.CookieJar

	// CheckRedirect, if set, is consulted before following each
	// redirect; returning an error stops the redirect chain and that
	// error is returned from Do. A nil CheckRedirect follows every
	// redirect up to MaxRedirects, mirroring net/http.Client's default.
	CheckRedirect func(req *http.Request, via []*http.Request) error
}

func (c Config) maxConnsPerHost() int {
	if c.MaxConnsPerHost > 0 {
		return c.MaxConnsPerHost
	}
	return 1
}

func (c Config) maxRedirects() int {
	if c.MaxRedirects > 0 {
		return c.MaxRedirects
	}
	return 10
}
