// Package origin validates the browser Origin header presented on the
// signaling WebSocket handshake. CORS middleware only protects the plain
// HTTP endpoints; WebSocket upgrades bypass CORS entirely, so the check has
// to happen here.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Checker decides whether a handshake Origin may open a signaling session.
type Checker struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewChecker builds a checker from configured client origins. An entry of
// "*" allows everything; entries that fail to normalize are ignored.
func NewChecker(origins ...string) *Checker {
	c := &Checker{allowed: make(map[string]struct{})}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			c.allowAll = true
			continue
		}
		if normalized, ok := Normalize(o); ok {
			c.allowed[normalized] = struct{}{}
		}
	}
	return c
}

// Allow reports whether the raw Origin header value is acceptable.
// Non-browser clients send no Origin header at all; those are allowed, since
// the header only exists to protect browser users from cross-site pages.
func (c *Checker) Allow(originHeader string) bool {
	if originHeader == "" {
		return true
	}
	if c.allowAll {
		return true
	}
	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	_, ok = c.allowed[normalized]
	return ok
}

// Normalize parses an Origin value into canonical scheme://host[:port] form:
// lowercased scheme and host, default ports elided. It rejects anything that
// is not a plain http or https origin.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return "", false
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port uint64
	if raw := u.Port(); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}
