// Package timing provides performance measurement utilities for a single
// proxy-tunnelled HTTP exchange.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures detailed timing information for one request.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	ProxyConnect time.Duration `json:"proxy_connect"`
	Handshake    time.Duration `json:"handshake"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer accumulates the phase boundaries of one exchange.
type Timer struct {
	start time.Time

	dnsStart, dnsEnd             time.Time
	proxyStart, proxyEnd         time.Time
	handshakeStart, handshakeEnd time.Time
	tlsStart, tlsEnd             time.Time
	ttfbStart, ttfbEnd           time.Time
}

// NewTimer starts a new timing session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartDNS marks the beginning of destination-host DNS resolution. Nothing
// in this module records the DNS or Handshake phases; SOCKS4's local
// resolution happens inside proxyconn.Dial and is counted in ProxyConnect.
func (t *Timer) StartDNS() { t.dnsStart = time.Now() }

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() { t.dnsEnd = time.Now() }

// StartProxyConnect marks the beginning of connecting through the proxy.
func (t *Timer) StartProxyConnect() { t.proxyStart = time.Now() }

// EndProxyConnect marks the end of connecting through the proxy. Client
// brackets the whole proxyconn.Dial call, so this span covers the TCP dial
// plus the dialect handshake.
func (t *Timer) EndProxyConnect() { t.proxyEnd = time.Now() }

// StartHandshake marks the beginning of the dialect handshake.
func (t *Timer) StartHandshake() { t.handshakeStart = time.Now() }

// EndHandshake marks the end of the dialect handshake.
func (t *Timer) EndHandshake() { t.handshakeEnd = time.Now() }

// StartTLS marks the beginning of the TLS upgrade over the tunnel.
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }

// EndTLS marks the end of the TLS upgrade.
func (t *Timer) EndTLS() { t.tlsEnd = time.Now() }

// StartTTFB marks when the exchange begins waiting for the response
// status line.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks the end of the wait for the response. Client calls it once
// the status line and headers have been parsed.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics computes the final Metrics snapshot.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.proxyStart.IsZero() && !t.proxyEnd.IsZero() {
		m.ProxyConnect = t.proxyEnd.Sub(t.proxyStart)
	}
	if !t.handshakeStart.IsZero() && !t.handshakeEnd.IsZero() {
		m.Handshake = t.handshakeEnd.Sub(t.handshakeStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}

	return m
}

// String gives a human-readable one-line summary, handy in debug logging.
func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v proxyConnect=%v handshake=%v tls=%v ttfb=%v total=%v",
		m.DNSLookup, m.ProxyConnect, m.Handshake, m.TLSHandshake, m.TTFB, m.TotalTime)
}
