package proxyconn

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
)

// connectHTTP issues an HTTP CONNECT request to cfg.Proxy and consumes the
// response status line. Per spec the request line is HTTP/1.0, and the
// reply is read the same way the other dialects read theirs: poll
// DataAvailable rather than hand the socket to a blocking reader that
// assumes a well-formed, fully-framed HTTP response is coming.
func connectHTTP(ctx context.Context, conn net.Conn, cfg Config, target Endpoint) (*bufio.Reader, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.0\r\n", target.String())
	fmt.Fprintf(&b, "Host: %s\r\n", target.String())

	for key, values := range cfg.Headers {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", key, v)
		}
	}

	if cfg.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", token)
	}
	b.WriteString("\r\n")

	applyDeadline(ctx, conn)
	defer clearDeadline(conn)

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return nil, proxyerr.NewProxyError("http", cfg.Proxy.String(), "connect-write", err)
	}

	br := bufio.NewReader(conn)
	if err := dataAvailable(ctx, conn, br); err != nil {
		return nil, proxyerr.NewProxyError("http", cfg.Proxy.String(), "await-reply", err)
	}

	// Accumulate whatever the proxy has sent so far into a scratch buffer,
	// stopping as soon as it goes quiet rather than waiting for a precise
	// framing boundary — the status line is all that's parsed; any body
	// the proxy attaches past the blank line is discarded below.
	var resp bytes.Buffer
	scratch := make([]byte, defaults.ReadBufferSize)
	for {
		n, err := br.Read(scratch)
		if n > 0 {
			resp.Write(scratch[:n])
		}
		if err != nil {
			break
		}
		if !dataAvailableNow(conn, br) {
			break
		}
	}

	code, reason, err := parseConnectStatusLine(resp.String())
	if err != nil {
		return nil, proxyerr.NewProxyError("http", cfg.Proxy.String(), "connect-read", err)
	}

	if code != http.StatusOK {
		if code == http.StatusBadGateway {
			return nil, proxyerr.NewProxyErrorf("http", cfg.Proxy.String(), "connect",
				"proxy could not reach %s: 502 Bad Gateway", target.String())
		}
		return nil, proxyerr.NewProxyErrorf("http", cfg.Proxy.String(), "connect",
			"proxy refused CONNECT to %s: %d %s", target.String(), code, reason)
	}

	return br, nil
}

// parseConnectStatusLine parses the first line of a CONNECT response —
// "HTTP/<v> <code> <reason>" — without delegating to http.ReadResponse,
// since the accumulated buffer isn't guaranteed to be a well-framed HTTP
// message (no Content-Length, possibly no trailing blank line at all if
// the proxy dropped the connection right after the status line).
func parseConnectStatusLine(raw string) (int, string, error) {
	line := raw
	if idx := strings.IndexAny(raw, "\r\n"); idx >= 0 {
		line = raw[:idx]
	}

	if !strings.HasPrefix(line, "HTTP") {
		return 0, "", fmt.Errorf("missing HTTP token in proxy response: %q", line)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("malformed proxy response line: %q", line)
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("unparseable status code in proxy response: %q", line)
	}

	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}
