package proxyconn

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/prtunnel/proxytunnel/pkg/defaults"
	"github.com/prtunnel/proxytunnel/pkg/proxyerr"
)

// ParseURL parses a proxy URL of the form
// dialect://[user[:pass]@]host[:port] into a Config. Supported dialects are
// http, https, socks4, socks4a and socks5. A missing port takes the
// dialect's conventional default (defaults.DefaultPort).
func ParseURL(raw string) (Config, error) {
	if raw == "" {
		return Config{}, proxyerr.NewConfigError("proxy URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, proxyerr.NewConfigError(fmt.Sprintf("invalid proxy URL: %v", err))
	}

	dialect := Dialect(u.Scheme)
	switch dialect {
	case DialectHTTP, DialectHTTPS, DialectSOCKS4, DialectSOCKS4a, DialectSOCKS5:
	case "":
		return Config{}, proxyerr.NewConfigError("proxy URL must include a scheme")
	default:
		return Config{}, proxyerr.NewConfigError(fmt.Sprintf("unsupported proxy scheme %q", u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return Config{}, proxyerr.NewConfigError("proxy URL must include a host")
	}

	port := defaults.DefaultPort(string(dialect))
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Config{}, proxyerr.NewConfigError(fmt.Sprintf("invalid proxy port %q", portStr))
		}
	}

	cfg := Config{
		Proxy:   Endpoint{Host: host, Port: port},
		Dialect: dialect,
		Headers: http.Header{},
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	return cfg, nil
}
