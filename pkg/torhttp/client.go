// Package torhttp is a minimal HTTP/1.1 client that routes every request
// through a SOCKS5 proxy, typically a local tor listener. It trades the
// conveniences of net/http (redirects, cookies, compression, connection
// reuse) for a contract suited to a foreign-caller boundary: Do always
// returns a well-formed Response, folding every transport, protocol, and
// timeout failure into a zero status code plus an error string instead of
// propagating Go errors.
package torhttp

import (
	"fmt"
	"log/slog"
	"time"

	"torbridge/pkg/deadline"
)

// DefaultTimeout bounds a request whose Timeout field is zero.
const DefaultTimeout = 30 * time.Second

// Client sends requests through a SOCKS proxy using a configurable
// transport. The zero value uses the manual transport with defaults.
//
// Concurrent Do calls are independent: each opens its own tunnel and shares
// nothing but the transport configuration.
type Client struct {
	// Transport performs the actual exchange. Nil means a default
	// ManualTransport.
	Transport Transport

	// Logger receives request lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

func (c *Client) transport() Transport {
	if c.Transport != nil {
		return c.Transport
	}
	return &ManualTransport{Logger: c.Logger}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Do performs one request through the proxy at proxyAddr ("host:port").
//
// The whole exchange is bounded by the request timeout. The blocking
// connect/write/read sequence runs on its own goroutine; if the deadline
// fires first, Do returns a timeout Response immediately and the worker's
// eventual result is discarded. The abandoned worker cannot run forever;
// its own per-operation socket timeouts bound it.
func (c *Client) Do(req *Request, proxyAddr string) *Response {
	if !validMethod(req.Method) {
		return &Response{Error: fmt.Sprintf("unsupported HTTP method %q", req.Method)}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clk := deadline.NewClock(timeout)
	c.logger().Debug("starting request", "url", req.URL, "method", req.Method, "timeout", timeout)

	type outcome struct {
		resp *Response
		err  error
	}
	// Buffered so an abandoned worker can finish and exit.
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.transport().RoundTrip(req, proxyAddr, clk)
		done <- outcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(clk.Remaining())
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			c.logger().Debug("request failed", "url", req.URL, "err", o.err)
			return &Response{Error: o.err.Error()}
		}
		return o.resp
	case <-timer.C:
		c.logger().Debug("request deadline expired", "url", req.URL, "timeout", timeout)
		return &Response{Error: fmt.Sprintf("request timed out after %d ms", timeout.Milliseconds())}
	}
}
