// Package tlsdial upgrades an already-tunnelled net.Conn to TLS, the final
// step of an HTTPS exchange once the proxy handshake has returned control of
// the raw socket.
package tlsdial

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

// Profile is a named MinVersion/MaxVersion pair, letting callers pick a
// compatibility posture instead of raw version constants.
type Profile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern accepts TLS 1.3 only.
	ProfileModern = Profile{Min: tls.VersionTLS13, Max: tls.VersionTLS13, Description: "TLS 1.3 only"}

	// ProfileSecure accepts TLS 1.2 and 1.3. This is the default.
	ProfileSecure = Profile{Min: tls.VersionTLS12, Max: tls.VersionTLS13, Description: "TLS 1.2+"}

	// ProfileCompatible widens the floor to TLS 1.0 for legacy servers.
	ProfileCompatible = Profile{Min: tls.VersionTLS10, Max: tls.VersionTLS13, Description: "TLS 1.0+"}
)

// secureCipherSuites is used whenever the configured floor is TLS 1.2 and
// the caller hasn't supplied an explicit list; TLS 1.3 ignores CipherSuites
// entirely and negotiates its own.
var secureCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// Config controls how Upgrade builds the tls.Config for one connection.
// The zero value is ProfileSecure with SNI set to the tunnelled host.
type Config struct {
	// InsecureSkipVerify disables certificate validation. Only meant for
	// talking to proxies/targets with self-signed certs in test setups.
	InsecureSkipVerify bool

	// Profile bounds the negotiated version range. Zero value is
	// ProfileSecure.
	Profile Profile

	// CipherSuites overrides the suite list picked from Profile. Ignored
	// under TLS 1.3.
	CipherSuites []uint16

	// ServerName overrides SNI. Empty means "use the tunnelled host".
	ServerName string

	// DisableSNI leaves ServerName empty even when a host is known,
	// for proxies that reject SNI on CONNECT-tunnelled sockets.
	DisableSNI bool

	// RootCAs, when set, replaces the system trust store.
	RootCAs *x509.CertPool

	// Certificates supports mutual TLS.
	Certificates []tls.Certificate

	// HandshakeTimeout bounds the handshake itself, layered under the
	// caller's ctx deadline. Zero means 10s.
	HandshakeTimeout time.Duration

	// NextProtos is forced, not negotiated — the tunnel package only
	// speaks HTTP/1.x, so this should stay "http/1.1" to prevent a
	// server from escalating to h2 underneath it.
	NextProtos []string
}

func (c Config) profile() Profile {
	if c.Profile.Min == 0 && c.Profile.Max == 0 {
		return ProfileSecure
	}
	return c.Profile
}

func (c Config) build(fallbackHost string) *tls.Config {
	profile := c.profile()

	cfg := &tls.Config{
		MinVersion:         profile.Min,
		MaxVersion:         profile.Max,
		InsecureSkipVerify: c.InsecureSkipVerify,
		RootCAs:            c.RootCAs,
		Certificates:       c.Certificates,
	}

	if len(c.NextProtos) > 0 {
		cfg.NextProtos = c.NextProtos
	} else {
		cfg.NextProtos = []string{"http/1.1"}
	}

	switch {
	case len(c.CipherSuites) > 0:
		cfg.CipherSuites = c.CipherSuites
	case profile.Min < tls.VersionTLS13:
		cfg.CipherSuites = secureCipherSuites
	}

	configureSNI(cfg, c.ServerName, c.DisableSNI, fallbackHost)

	return cfg
}

// configureSNI sets ServerName following the priority: disabled (leaves it
// empty even when an override is set), then explicit override, then the
// tunnelled host.
func configureSNI(cfg *tls.Config, serverName string, disable bool, fallbackHost string) {
	if disable {
		return
	}
	if serverName != "" {
		cfg.ServerName = serverName
		return
	}
	cfg.ServerName = fallbackHost
}

// Result reports what was actually negotiated, for timing.Timer consumers
// and diagnostics.
type Result struct {
	Conn               *tls.Conn
	Version            string
	CipherSuite        string
	NegotiatedProtocol string
}

// Upgrade performs a TLS client handshake over conn, which must already be
// positioned at the target origin (post proxy-handshake, for a tunnelled
// connection; or a direct dial for a non-proxied one). On handshake failure
// conn is closed before returning, since the caller has lost any usable
// state to recover with.
func Upgrade(ctx context.Context, conn net.Conn, host string, cfg Config) (*Result, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConfig := cfg.build(host)
	tlsConn := tls.Client(conn, tlsConfig)

	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}

	state := tlsConn.ConnectionState()
	return &Result{
		Conn:               tlsConn,
		Version:            versionName(state.Version),
		CipherSuite:        tls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
	}, nil
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}
