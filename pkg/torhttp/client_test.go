package torhttp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startStubProxy runs a minimal SOCKS5 proxy for tests. When peer is non-nil
// it plays the remote server itself after the handshake; when peer is nil the
// proxy genuinely forwards to the requested target.
func startStubProxy(t *testing.T, peer func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				target, ok := stubHandshake(c)
				if !ok {
					return
				}
				if peer != nil {
					peer(c)
					return
				}
				forward(c, target)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// stubHandshake accepts a no-auth CONNECT and returns the requested target.
func stubHandshake(c net.Conn) (string, bool) {
	greeting := make([]byte, 2)
	if _, err := io.ReadFull(c, greeting); err != nil || greeting[0] != 5 {
		return "", false
	}
	methods := make([]byte, int(greeting[1]))
	if _, err := io.ReadFull(c, methods); err != nil {
		return "", false
	}
	c.Write([]byte{5, 0})

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(c, hdr); err != nil || hdr[1] != 1 {
		return "", false
	}

	var host string
	switch hdr[3] {
	case 1:
		addr := make([]byte, 4)
		io.ReadFull(c, addr)
		host = net.IP(addr).String()
	case 3:
		l := make([]byte, 1)
		io.ReadFull(c, l)
		name := make([]byte, int(l[0]))
		io.ReadFull(c, name)
		host = string(name)
	case 4:
		addr := make([]byte, 16)
		io.ReadFull(c, addr)
		host = net.IP(addr).String()
	default:
		return "", false
	}
	portBytes := make([]byte, 2)
	io.ReadFull(c, portBytes)
	port := binary.BigEndian.Uint16(portBytes)

	c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
	return fmt.Sprintf("%s:%d", host, port), true
}

// forward pipes the tunnel to a real TCP connection to target.
func forward(c net.Conn, target string) {
	remote, err := net.Dial("tcp", target)
	if err != nil {
		return
	}
	defer remote.Close()
	go io.Copy(remote, c)
	io.Copy(c, remote)
}

// readRequest consumes bytes until the header terminator so the peer can
// respond.
func readRequest(c net.Conn) string {
	buf := make([]byte, 4096)
	var req []byte
	for {
		n, err := c.Read(buf)
		if n > 0 {
			req = append(req, buf[:n]...)
			if strings.Contains(string(req), "\r\n\r\n") {
				return string(req)
			}
		}
		if err != nil {
			return string(req)
		}
	}
}

func TestClientGetSplitResponse(t *testing.T) {
	proxy := startStubProxy(t, func(c net.Conn) {
		req := readRequest(c)
		assert.True(t, strings.HasPrefix(req, "GET / HTTP/1.1\r\n"), "request was %q", req)
		assert.Contains(t, req, "Host: example.test\r\n")
		assert.Contains(t, req, "Connection: close\r\n")

		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhe"))
		time.Sleep(30 * time.Millisecond)
		c.Write([]byte("llo"))
	})

	client := &Client{}
	resp := client.Do(&Request{
		URL:     "http://example.test/",
		Method:  MethodGet,
		Timeout: 10 * time.Second,
	}, proxy)

	assert.Empty(t, resp.Error)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello", resp.Body)
}

func TestClientPostWithHeadersAndBody(t *testing.T) {
	proxy := startStubProxy(t, func(c net.Conn) {
		req := readRequest(c)
		assert.Contains(t, req, "POST /submit HTTP/1.1\r\n")
		assert.Contains(t, req, "X-Token: secret\r\n")
		assert.Contains(t, req, "Content-Length: 7\r\n")

		c.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"))
	})

	client := &Client{}
	resp := client.Do(&Request{
		URL:     "http://example.test/submit",
		Method:  MethodPost,
		Headers: map[string]string{"X-Token": "secret"},
		Body:    "payload",
		Timeout: 10 * time.Second,
	}, proxy)

	assert.Empty(t, resp.Error)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestClientConnectionCloseDelimitedBody(t *testing.T) {
	proxy := startStubProxy(t, func(c net.Conn) {
		readRequest(c)
		c.Write([]byte("HTTP/1.1 200 OK\r\n\r\nclose-delimited body"))
		// Returning closes the connection; that is what ends the response.
	})

	client := &Client{}
	resp := client.Do(&Request{
		URL:     "http://example.test/",
		Method:  MethodGet,
		Timeout: 10 * time.Second,
	}, proxy)

	assert.Empty(t, resp.Error)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "close-delimited body", resp.Body)
}

func TestClientTimeoutOnSilentPeer(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	proxy := startStubProxy(t, func(c net.Conn) {
		readRequest(c)
		<-block // never respond
	})

	client := &Client{}
	start := time.Now()
	resp := client.Do(&Request{
		URL:     "http://example.test/",
		Method:  MethodGet,
		Timeout: 100 * time.Millisecond,
	}, proxy)
	elapsed := time.Since(start)

	assert.Equal(t, 0, resp.StatusCode)
	// Either the deadline race or the worker's own expiry check reports the
	// timeout, depending on which fires first.
	timedOut := strings.Contains(resp.Error, "timed out after 100 ms") ||
		strings.Contains(resp.Error, "deadline expired")
	assert.True(t, timedOut, "unexpected error %q", resp.Error)
	assert.Less(t, elapsed, time.Second, "Do must return promptly after the deadline")
}

func TestClientProxyUnreachable(t *testing.T) {
	client := &Client{}
	resp := client.Do(&Request{
		URL:     "http://example.test/",
		Method:  MethodGet,
		Timeout: 2 * time.Second,
	}, "127.0.0.1:1") // nothing listens here

	assert.Equal(t, 0, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
}

func TestManualTransportRejectsHTTPS(t *testing.T) {
	client := &Client{}
	resp := client.Do(&Request{
		URL:     "https://example.test/",
		Method:  MethodGet,
		Timeout: 2 * time.Second,
	}, "127.0.0.1:1")

	assert.Equal(t, 0, resp.StatusCode)
	assert.Contains(t, resp.Error, "https not supported")
}

func TestClientRejectsUnknownMethod(t *testing.T) {
	client := &Client{}
	resp := client.Do(&Request{URL: "http://example.test/", Method: "PATCH"}, "127.0.0.1:1")

	assert.Equal(t, 0, resp.StatusCode)
	assert.Contains(t, resp.Error, "unsupported HTTP method")
}

func TestClientInvalidURL(t *testing.T) {
	client := &Client{}
	resp := client.Do(&Request{URL: "http://", Method: MethodGet}, "127.0.0.1:1")

	assert.Equal(t, 0, resp.StatusCode)
	assert.NotEmpty(t, resp.Error)
}

func TestProxiedTransportThroughForwardingProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "value", r.Header.Get("X-Probe"))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "via proxied transport")
	}))
	t.Cleanup(server.Close)

	proxy := startStubProxy(t, nil) // forwarding mode

	client := &Client{Transport: &ProxiedTransport{}}
	resp := client.Do(&Request{
		URL:     server.URL,
		Method:  MethodGet,
		Headers: map[string]string{"X-Probe": "value"},
		Timeout: 10 * time.Second,
	}, proxy)

	assert.Empty(t, resp.Error)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "via proxied transport", resp.Body)
}
