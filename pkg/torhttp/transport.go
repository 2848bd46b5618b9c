package torhttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"torbridge/pkg/deadline"
	"torbridge/pkg/socks"
)

// ErrSchemeNotSupported is returned by the manual transport for https URLs.
// The manual transport speaks plain HTTP over the tunnel and performs no TLS.
var ErrSchemeNotSupported = errors.New("https not supported by the manual transport")

// Transport performs one HTTP exchange through the SOCKS proxy at proxyAddr,
// bounded by clk. Implementations may return an error; Client.Do folds it
// into a Response.
//
// Two implementations exist with deliberately different scheme support: the
// manual transport hand-frames HTTP/1.1 over a raw tunnel and rejects https,
// while the proxied transport builds on net/http with a SOCKS5 dialer and
// handles both schemes. Which one a deployment uses is a configuration
// choice, not a runtime fallback.
type Transport interface {
	RoundTrip(req *Request, proxyAddr string, clk deadline.Clock) (*Response, error)
}

// readChunkSize is the fixed read size used by the manual transport.
const readChunkSize = 4096

// DefaultIOTimeout bounds individual socket operations, nested inside the
// overall request deadline.
const DefaultIOTimeout = 5 * time.Second

// ManualTransport is the hand-rolled implementation: SOCKS5 CONNECT, framed
// request bytes, then a read loop feeding an Assembler until the response
// completes, the peer closes, or the deadline expires.
type ManualTransport struct {
	// IOTimeout bounds each socket read and write. Zero means
	// DefaultIOTimeout.
	IOTimeout time.Duration

	// Logger receives wire-level progress events. Nil means slog.Default().
	Logger *slog.Logger
}

func (t *ManualTransport) ioTimeout() time.Duration {
	if t.IOTimeout > 0 {
		return t.IOTimeout
	}
	return DefaultIOTimeout
}

func (t *ManualTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip performs the exchange. The https scheme fails before any tunnel
// is attempted.
func (t *ManualTransport) RoundTrip(req *Request, proxyAddr string, clk deadline.Clock) (*Response, error) {
	tgt, err := resolveTarget(req.URL)
	if err != nil {
		return nil, err
	}
	if tgt.scheme == "https" {
		return nil, ErrSchemeNotSupported
	}

	dialer := &socks.Dialer{ProxyAddr: proxyAddr, IOTimeout: t.ioTimeout()}
	conn, err := dialer.Dial(tgt.addr())
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	t.logger().Debug("tunnel opened", "proxy", proxyAddr, "target", tgt.addr())

	wire := frameRequest(req.Method, tgt.fullPath, tgt.host, req.Headers, req.Body)
	conn.SetWriteDeadline(time.Now().Add(t.ioTimeout()))
	if _, err := conn.Write(wire); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	t.logger().Debug("request written", "method", req.Method, "path", tgt.fullPath, "bytes", len(wire))

	asm, err := t.readResponse(conn, clk)
	if err != nil {
		return nil, err
	}

	status, body := asm.Parse()
	t.logger().Debug("response parsed", "status", status, "body_bytes", len(body))
	return &Response{StatusCode: status, Body: body}, nil
}

// readResponse runs the read loop. Each read is bounded by the per-operation
// timeout; the loop as a whole by clk. A transient read timeout after
// headers plus any body have arrived ends the response rather than failing
// it; a timeout with nothing buffered and the overall deadline gone is a
// hard failure.
func (t *ManualTransport) readResponse(conn net.Conn, clk deadline.Clock) (*Assembler, error) {
	asm := &Assembler{}
	buf := make([]byte, readChunkSize)

	for !clk.Expired() {
		ioDeadline := time.Now().Add(t.ioTimeout())
		if overall := clk.Deadline(); overall.Before(ioDeadline) {
			ioDeadline = overall
		}
		conn.SetReadDeadline(ioDeadline)

		n, err := conn.Read(buf)
		if n > 0 {
			asm.Feed(buf[:n])
			if asm.Complete() {
				t.logger().Debug("response complete", "bytes", asm.Len())
				return asm, nil
			}
		}
		if err == nil {
			continue
		}
		if err == io.EOF {
			// Connection closed: whatever accumulated is the response,
			// even if that is nothing at all.
			return asm, nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if asm.Len() > 0 && asm.HeadersSeen() {
				t.logger().Debug("read timed out with headers and body buffered, finalizing")
				return asm, nil
			}
			continue
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if asm.Len() == 0 {
		return nil, errors.New("deadline expired before any response bytes arrived")
	}
	return asm, nil
}

// ProxiedTransport implements the same contract on top of net/http with a
// SOCKS5 dialer from golang.org/x/net/proxy. Unlike the manual transport it
// supports https end to end, since net/http performs TLS through the tunnel.
type ProxiedTransport struct {
	// DialTimeout bounds the TCP connect to the proxy. Zero means
	// DefaultIOTimeout.
	DialTimeout time.Duration

	// Logger receives progress events. Nil means slog.Default().
	Logger *slog.Logger
}

func (t *ProxiedTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip issues the request with a per-call http.Client whose transport
// dials through the SOCKS proxy. Redirects are not followed and connections
// are not reused, matching the manual transport's behavior.
func (t *ProxiedTransport) RoundTrip(req *Request, proxyAddr string, clk deadline.Clock) (*Response, error) {
	if _, err := resolveTarget(req.URL); err != nil {
		return nil, err
	}

	dialTimeout := t.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultIOTimeout
	}
	socksDialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{Timeout: dialTimeout})
	if err != nil {
		return nil, fmt.Errorf("socks dialer: %w", err)
	}

	httpReq, err := http.NewRequest(req.Method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	httpReq.Close = true

	client := &http.Client{
		Transport: &http.Transport{
			Dial:              socksDialer.Dial,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: clk.Remaining(),
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	t.logger().Debug("response received", "status", resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
