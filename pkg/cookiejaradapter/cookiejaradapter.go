// Package cookiejaradapter bridges a tunnelled response's Set-Cookie
// headers into a standard http.CookieJar, and injects a jar's stored
// cookies into an outgoing request — the two halves of cookie handling an
// http.Client normally does internally, pulled out here because this
// library's orchestrator owns that step itself instead of delegating to
// net/http's Client.
package cookiejaradapter

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store wraps an http.CookieJar with the two operations the request
// orchestrator needs. A nil *Store is valid and a no-op, so cookie
// handling can be always-called and conditionally-effective.
//
// Set-Cookie lines are parsed locally by parseSetCookie rather than
// delegated to resp.Cookies(), since the recognised attribute set
// (Expires, Max-Age, Path, Port, Discard, Secure, HttpOnly) and the
// Domain-always-defaults-to-request-host rule are this library's own,
// not net/http's.
type Store struct {
	jar http.CookieJar

	mu    sync.Mutex
	ports map[string]string // "host|name" -> raw Port attribute value
}

// New wraps jar. Passing a nil jar yields a Store whose methods are no-ops.
func New(jar http.CookieJar) *Store {
	return &Store{jar: jar, ports: make(map[string]string)}
}

// Inject sets the jar's cookies for u onto req's Cookie header, replacing
// any previously set value. A cookie recorded with a Port restriction is
// dropped unless req's URL names one of the listed ports.
func (s *Store) Inject(req *http.Request, u *url.URL) {
	if s == nil || s.jar == nil {
		return
	}
	req.Header.Del("Cookie")
	for _, c := range s.jar.Cookies(u) {
		if !s.portAllowed(u, c.Name) {
			continue
		}
		req.AddCookie(c)
	}
}

// Absorb parses resp's Set-Cookie headers for u with the same
// parseSetCookie core ParseAndStore uses and stores the result in the jar,
// additionally recording any Port attribute
// so Inject can later enforce it (a restriction ParseAndStore's jar-only
// signature has nowhere to carry on its own).
func (s *Store) Absorb(resp *http.Response, u *url.URL) {
	if s == nil || s.jar == nil {
		return
	}
	for _, line := range resp.Header.Values("Set-Cookie") {
		c, port, ok := parseSetCookie(line, u, u.Scheme == "https")
		if !ok {
			continue
		}
		if port != "" {
			s.mu.Lock()
			s.ports[portKey(u, c.Name)] = port
			s.mu.Unlock()
		}
		s.jar.SetCookies(u, []*http.Cookie{c})
	}
}

// ParseAndStore parses one Set-Cookie header value and stores the result
// directly in jar, the stateless primitive the cookie attribute set is
// built around: Expires, Max-Age, Path, Port, Discard, Secure, HttpOnly,
// with Port recognised but not enforced here since a bare http.CookieJar
// has no slot for it (Store.Absorb/Inject carry that restriction
// alongside the jar for callers that need it). A malformed line (no
// name=value pair) is reported as an error rather than silently
// skipped.
func ParseAndStore(jar http.CookieJar, u *url.URL, setCookieValue string) error {
	if jar == nil {
		return nil
	}
	c, _, ok := parseSetCookie(setCookieValue, u, u.Scheme == "https")
	if !ok {
		return fmt.Errorf("cookiejaradapter: malformed Set-Cookie value: %q", setCookieValue)
	}
	jar.SetCookies(u, []*http.Cookie{c})
	return nil
}

// unquote strips a single pair of surrounding double quotes, as RFC 2965
// allows for the Port attribute's value (e.g. Port="80,8080").
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func portKey(u *url.URL, name string) string {
	return u.Hostname() + "|" + name
}

// portAllowed reports whether name's stored Port attribute, if any,
// permits u's port. No recorded attribute allows every port.
func (s *Store) portAllowed(u *url.URL, name string) bool {
	s.mu.Lock()
	raw, ok := s.ports[portKey(u, name)]
	s.mu.Unlock()
	if !ok || raw == "" {
		return true
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) == port {
			return true
		}
	}
	return false
}

// parseSetCookie parses one Set-Cookie header value the way this
// library's external interface enumerates: name=value followed by
// ';'-separated attributes among Expires, Max-Age, Path (default "/"),
// Port, Discard, Secure, HttpOnly. Domain is never read off the wire;
// the cookie's Domain is always the request URI's host, regardless of
// what (if anything) the Set-Cookie line says.
//
// On HTTPS, Secure is forced true even if the header omits it. HttpOnly
// is passed through unmodified in either direction — a server can ask
// for it on plain HTTP as easily as HTTPS, so there's nothing about the
// scheme that should flip it.
//
// Discard forces the cookie to session-only (no persisted expiry)
// regardless of what Expires/Max-Age said. The returned port string is
// the raw Port attribute value, or empty when the attribute is absent or
// has no value; an empty result places no port restriction, so a bare
// "Port" attribute is not limited to the request's own port.
func parseSetCookie(line string, reqURL *url.URL, isHTTPS bool) (cookie *http.Cookie, port string, ok bool) {
	parts := strings.Split(line, ";")
	nameValue := strings.TrimSpace(parts[0])
	eq := strings.IndexByte(nameValue, '=')
	if eq < 0 {
		return nil, "", false
	}
	name := strings.TrimSpace(nameValue[:eq])
	if name == "" {
		return nil, "", false
	}
	value := strings.TrimSpace(nameValue[eq+1:])

	c := &http.Cookie{
		Name:   name,
		Value:  value,
		Path:   "/",
		Domain: reqURL.Hostname(),
	}

	var (
		hasExpires bool
		maxAge     int
		hasMaxAge  bool
		discard    bool
		hasPort    bool
	)

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}

		var key, val string
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			key = strings.TrimSpace(attr[:eq])
			val = unquote(strings.TrimSpace(attr[eq+1:]))
		} else {
			key = attr
		}

		switch strings.ToLower(key) {
		case "path":
			if val != "" {
				c.Path = val
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, val); err == nil {
				c.Expires = t
				hasExpires = true
			} else if t, err := time.Parse("Mon, 02-Jan-2006 15:04:05 MST", val); err == nil {
				c.Expires = t
				hasExpires = true
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				maxAge = n
				hasMaxAge = true
			}
		case "port":
			hasPort = true
			port = val
		case "discard":
			discard = true
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		}
	}

	if isHTTPS {
		c.Secure = true
	}

	switch {
	case discard:
		// Session cookie: no persisted expiry regardless of what the
		// header specified.
	case hasExpires:
		if !c.Expires.After(time.Now()) {
			c.MaxAge = -1
		}
	case hasMaxAge:
		c.MaxAge = maxAge
		if maxAge <= 0 {
			c.MaxAge = -1
		}
	}

	if !hasPort {
		port = ""
	}

	return c, port, true
}
