package proxyconn

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
	"github.com/prtunnel/proxytunnel/pkg/wireframe"
)

// SOCKS4 reply status codes (the reply's VN byte is always 0x00).
const (
	socks4Granted            = 0x5A
	socks4Rejected           = 0x5B
	socks4NoIdentd           = 0x5C
	socks4IdentdAuthMismatch = 0x5D
)

// connectSOCKS4 performs a SOCKS4 (or SOCKS4a, when withHostname is true)
// CONNECT handshake. SOCKS4 requires a literal IPv4 destination address;
// SOCKS4a instead sends the invalid-but-conventional 0.0.0.x address
// (x != 0) and appends the hostname after the USERID/NULL field, signalling
// the proxy to resolve DNS on the client's behalf.
func connectSOCKS4(ctx context.Context, conn net.Conn, cfg Config, target Endpoint, withHostname bool) (*bufio.Reader, error) {
	b := wireframe.NewBuilder(16)
	b.Byte(0x04). // VN: SOCKS version 4
			Byte(0x01). // CD: CONNECT
			Port(target.Port)

	if withHostname {
		b.Bytes([]byte{0x00, 0x00, 0x00, 0x01})
	} else {
		ip, err := resolveIPv4(target.Host)
		if err != nil {
			return nil, proxyerr.NewProxyError("socks4", cfg.Proxy.String(), "resolve", err)
		}
		b.Bytes(ip)
	}

	if cfg.Username != "" {
		b.NullTerminated(cfg.Username)
	} else {
		b.Byte(0x00)
	}

	if withHostname {
		b.NullTerminated(target.Host)
	}

	applyDeadline(ctx, conn)
	defer clearDeadline(conn)

	if _, err := conn.Write(b.Build()); err != nil {
		dialect := "socks4"
		if withHostname {
			dialect = "socks4a"
		}
		return nil, proxyerr.NewProxyError(dialect, cfg.Proxy.String(), "write", err)
	}

	br := bufio.NewReader(conn)
	if err := dataAvailable(ctx, conn, br); err != nil {
		return nil, proxyerr.NewProxyError("socks4", cfg.Proxy.String(), "await-reply", err)
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(br, reply); err != nil {
		return nil, proxyerr.NewProxyError("socks4", cfg.Proxy.String(), "read-reply", err)
	}

	switch reply[1] {
	case socks4Granted:
		return br, nil
	case socks4Rejected:
		return nil, socks4Error(cfg, target, reply, "request rejected or failed")
	case socks4NoIdentd:
		return nil, socks4Error(cfg, target, reply, "identd not reachable on client")
	case socks4IdentdAuthMismatch:
		return nil, socks4Error(cfg, target, reply, "identd could not confirm user id")
	default:
		return nil, socks4Error(cfg, target, reply, "unexpected status byte")
	}
}

// socks4Error formats the bound-address fields from a non-success SOCKS4
// reply. The port is read as reply[3]<<8 | reply[2] — the two bytes
// transposed from the wire's actual big-endian order — because at least
// one widely deployed SOCKS4 daemon echoes the port field byte-swapped in
// its error replies, and diagnostics that "corrected" it reported a
// different port than what a packet capture showed. Preserved verbatim;
// this path is purely cosmetic and never feeds a retry or a real dial.
func socks4Error(cfg Config, target Endpoint, reply []byte, reason string) error {
	boundPort := int(reply[3])<<8 | int(reply[2])
	boundIP := net.IP(reply[4:8]).String()
	return proxyerr.NewProxyErrorf("socks4", cfg.Proxy.String(), "connect",
		"socks4 proxy refused CONNECT to %s (%s): bound=%s:%d reply=%s",
		target.String(), reason, boundIP, boundPort, wireframe.HexDump(reply))
}

func resolveIPv4(host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, &net.AddrError{Err: "socks4 requires an IPv4 address", Addr: host}
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, &net.AddrError{Err: "no IPv4 address found (SOCKS4 requires IPv4)", Addr: host}
}
