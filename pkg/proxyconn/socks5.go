package proxyconn

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"

	netproxy "golang.org/x/net/proxy"

	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
	"github.com/prtunnel/proxytunnel/pkg/wireframe"
)

const (
	socks5Version = 0x05

	socks5MethodNoAuth       = 0x00
	socks5MethodUserPass     = 0x02
	socks5MethodNoAcceptable = 0xFF

	socks5CmdConnect = 0x01

	socks5ReplySucceeded = 0x00

	userPassAuthVersion = 0x01
	userPassAuthSuccess = 0x00
)

var socks5ReplyMeaning = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// connectSOCKS5 runs the three-phase SOCKS5 exchange: method negotiation
// (phase A), optional username/password sub-negotiation (phase A'), and
// the CONNECT request/reply (phase B). golang.org/x/net/proxy.Auth carries
// the credentials inside the handshake; socks5Auth builds it from
// Config.Username and Config.Password.
func connectSOCKS5(ctx context.Context, conn net.Conn, cfg Config, target Endpoint) (*bufio.Reader, error) {
	applyDeadline(ctx, conn)
	defer clearDeadline(conn)

	br := bufio.NewReader(conn)

	auth := socks5Auth(cfg)
	if err := socks5Negotiate(ctx, conn, br, cfg, auth); err != nil {
		return nil, err
	}

	if auth != nil {
		if err := socks5Authenticate(ctx, conn, br, cfg, auth); err != nil {
			return nil, err
		}
	}

	if err := socks5Connect(ctx, conn, br, cfg, target); err != nil {
		return nil, err
	}
	return br, nil
}

func socks5Auth(cfg Config) *netproxy.Auth {
	if cfg.Username == "" {
		return nil
	}
	return &netproxy.Auth{User: cfg.Username, Password: cfg.Password}
}

// socks5Negotiate is phase A: the client offers its supported
// authentication methods and the server picks one.
func socks5Negotiate(ctx context.Context, conn net.Conn, br *bufio.Reader, cfg Config, auth *netproxy.Auth) error {
	b := wireframe.NewBuilder(4)
	b.Byte(socks5Version)
	if auth != nil {
		b.Byte(2).Byte(socks5MethodNoAuth).Byte(socks5MethodUserPass)
	} else {
		b.Byte(1).Byte(socks5MethodNoAuth)
	}

	if _, err := conn.Write(b.Build()); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "negotiate-write", err)
	}

	if err := dataAvailable(ctx, conn, br); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "negotiate-await", err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(br, reply); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "negotiate-read", err)
	}
	if reply[0] != socks5Version {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "negotiate",
			"unexpected version byte in method reply: %s", wireframe.HexDump(reply))
	}
	if reply[1] == socks5MethodNoAcceptable {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "negotiate",
			"proxy rejected all offered authentication methods: %s", wireframe.HexDump(reply))
	}
	if auth == nil && reply[1] != socks5MethodNoAuth {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "negotiate",
			"proxy selected unsupported method 0x%02x: %s", reply[1], wireframe.HexDump(reply))
	}
	if auth != nil && reply[1] == socks5MethodNoAuth {
		// Proxy doesn't require auth even though credentials were
		// offered; proceed without the sub-negotiation phase.
		return nil
	}
	if auth != nil && reply[1] != socks5MethodUserPass {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "negotiate",
			"proxy selected unsupported method 0x%02x: %s", reply[1], wireframe.HexDump(reply))
	}
	return nil
}

// socks5Authenticate is phase A': RFC 1929 username/password sub-negotiation.
func socks5Authenticate(ctx context.Context, conn net.Conn, br *bufio.Reader, cfg Config, auth *netproxy.Auth) error {
	b := wireframe.NewBuilder(0)
	b.Byte(userPassAuthVersion).
		Byte(byte(len(auth.User))).String(auth.User).
		Byte(byte(len(auth.Password))).String(auth.Password)

	if _, err := conn.Write(b.Build()); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "auth-write", err)
	}

	if err := dataAvailable(ctx, conn, br); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "auth-await", err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(br, reply); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "auth-read", err)
	}
	if reply[1] != userPassAuthSuccess {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "auth",
			"username/password authentication rejected: %s", wireframe.HexDump(reply))
	}
	return nil
}

// socks5Connect is phase B: the CONNECT request and its reply, which
// echoes back the bound address in the same variable-length ATYP encoding
// used in the request.
func socks5Connect(ctx context.Context, conn net.Conn, br *bufio.Reader, cfg Config, target Endpoint) error {
	b := wireframe.NewBuilder(22)
	b.Byte(socks5Version).Byte(socks5CmdConnect).Byte(0x00) // RSV
	if _, err := b.EncodeAddress(target.Host); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "connect-encode", err)
	}
	b.Port(target.Port)

	if _, err := conn.Write(b.Build()); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "connect-write", err)
	}

	if err := dataAvailable(ctx, conn, br); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "connect-await", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(br, header); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "connect-read", err)
	}
	if header[0] != socks5Version {
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "connect",
			"unexpected version byte in connect reply: %s", wireframe.HexDump(header))
	}

	if header[1] != socks5ReplySucceeded {
		// Still must drain the bound-address field so the connection
		// isn't left in a confused state before Close, though we're
		// about to discard it regardless.
		drainBoundAddress(br, header[3])
		meaning, ok := socks5ReplyMeaning[header[1]]
		if !ok {
			meaning = "unknown reply code"
		}
		return proxyerr.NewProxyErrorf("socks5", cfg.Proxy.String(), "connect",
			"proxy refused CONNECT to %s: %s (0x%02x): %s",
			target.String(), meaning, header[1], wireframe.HexDump(header))
	}

	if _, err := readBoundAddress(br, header[3]); err != nil {
		return proxyerr.NewProxyError("socks5", cfg.Proxy.String(), "connect-bound-addr", err)
	}

	return nil
}

func drainBoundAddress(br *bufio.Reader, atyp byte) {
	_, _ = readBoundAddress(br, atyp)
}

// readBoundAddress consumes the ATYP-tagged address and port that follow a
// SOCKS5 reply header, returning its string form for diagnostics.
func readBoundAddress(br *bufio.Reader, atyp byte) (string, error) {
	var addr net.IP
	switch wireframe.AddressType(atyp) {
	case wireframe.AddrIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		addr = net.IP(buf)
	case wireframe.AddrIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		addr = net.IP(buf)
	case wireframe.AddrDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return "", err
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(br, domain); err != nil {
			return "", err
		}
		portBuf := make([]byte, 2)
		if _, err := io.ReadFull(br, portBuf); err != nil {
			return "", err
		}
		return net.JoinHostPort(string(domain), strconv.Itoa(wireframe.ParsePort(portBuf))), nil
	default:
		return "", proxyerr.NewProtocolError("unknown SOCKS5 address type in reply", nil)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(br, portBuf); err != nil {
		return "", err
	}
	return net.JoinHostPort(addr.String(), strconv.Itoa(wireframe.ParsePort(portBuf))), nil
}
