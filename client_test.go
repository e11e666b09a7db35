package proxytunnel

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prtunnel/proxytunnel/pkg/proxyconn"
)

// fakeHTTPProxy accepts one CONNECT handshake per connection, replies 200,
// then hands the raw socket to serveOrigin so the test can script an
// arbitrary HTTP/1.x exchange over the "tunnel".
func fakeHTTPProxy(t *testing.T, serveOrigin func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\r\n" {
						break
					}
				}
				conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
				serveOrigin(conn)
			}()
		}
	}()

	return ln.Addr().String()
}

func newTestClient(t *testing.T, proxyAddr string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(proxyAddr)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := Config{
		Proxy: proxyconn.Config{
			Proxy:   proxyconn.Endpoint{Host: host, Port: port},
			Dialect: proxyconn.DialectHTTP,
		},
		AllowAutoRedirect: true,
	}
	return New(cfg)
}

func TestDoSimpleGet(t *testing.T) {
	proxyAddr := fakeHTTPProxy(t, func(conn net.Conn) {
		defer conn.Close()
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	})

	client := newTestClient(t, proxyAddr)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://origin.example.com/path", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}

func TestDoFollowsRedirect(t *testing.T) {
	var requestCount int
	proxyAddr := fakeHTTPProxy(t, func(conn net.Conn) {
		defer conn.Close()
		br := bufio.NewReader(conn)
		for {
			requestCount++
			reqLine, err := br.ReadString('\n')
			if err != nil {
				return
			}
			for {
				line, err := br.ReadString('\n')
				if err != nil || line == "\r\n" {
					break
				}
			}
			if strings.Contains(reqLine, "/start") {
				conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /end\r\nContent-Length: 0\r\n\r\n"))
			} else {
				conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
				return
			}
		}
	})

	client := newTestClient(t, proxyAddr)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://origin.example.com/start", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
	if requestCount < 2 {
		t.Fatalf("expected redirect to trigger a second request, got %d", requestCount)
	}
}

func TestHostKeyForDerivesPortAndScheme(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/path", nil)
	key, err := hostKeyFor(req)
	if err != nil {
		t.Fatal(err)
	}
	if key.Host != "example.com" || key.Port != 443 || !key.TLS {
		t.Fatalf("unexpected key: %+v", key)
	}
}
