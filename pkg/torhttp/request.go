package torhttp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Supported HTTP methods. Anything else is rejected before a tunnel is
// attempted.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodHead    = "HEAD"
	MethodOptions = "OPTIONS"
)

// Request describes one HTTP exchange to perform through the proxy. It is
// immutable once handed to Client.Do and owned by that call.
type Request struct {
	// URL is the absolute target URL, e.g. "http://example.onion/path?q=1".
	URL string

	// Method is one of the Method* constants.
	Method string

	// Headers are written to the wire verbatim, one line per entry, in map
	// iteration order. Values must already be wire-safe; no escaping or
	// folding is performed.
	Headers map[string]string

	// Body is the optional request payload. A non-empty body produces a
	// Content-Length header equal to its byte length.
	Body string

	// Timeout bounds the whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Response is what every exchange produces, even on total failure. A zero
// StatusCode means no valid response was obtained; Error then says why.
// StatusCode alone is authoritative for success classification.
type Response struct {
	StatusCode int
	Body       string
	Error      string
}

// target is a Request resolved into its wire-level parts.
type target struct {
	scheme   string
	host     string
	port     int
	fullPath string // path plus "?query" when present
}

// addr returns the "host:port" dial target.
func (t target) addr() string {
	return t.host + ":" + strconv.Itoa(t.port)
}

// resolveTarget parses the request URL into host, port, and path+query,
// defaulting the port from the scheme.
func resolveTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return target{}, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return target{}, fmt.Errorf("invalid URL: missing host")
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return target{}, fmt.Errorf("invalid URL port %q", p)
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return target{scheme: u.Scheme, host: host, port: port, fullPath: path}, nil
}

// validMethod reports whether m is one of the supported methods.
func validMethod(m string) bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead, MethodOptions:
		return true
	}
	return false
}

// frameRequest serializes one HTTP/1.1 request into its wire form: request
// line, Host, Connection: close (a tunnel is never reused across requests),
// caller headers, Content-Length when a body is present, blank line, body.
func frameRequest(method, fullPath, host string, headers map[string]string, body string) []byte {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(fullPath)
	b.WriteString(" HTTP/1.1\r\nHost: ")
	b.WriteString(host)
	b.WriteString("\r\nConnection: close\r\n")

	for name, value := range headers {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	if body != "" {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(body)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
