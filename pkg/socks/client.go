// Package socks implements the client side of the SOCKS5 CONNECT handshake
// (RFC 1928) used to open byte streams to remote targets through a local
// proxy endpoint.
//
// Only the no-authentication method and the CONNECT command are implemented;
// that is all the local tor SOCKS listener requires. Retrying a failed
// tunnel is the caller's business; this package never retries.
package socks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Handshake failure classes. Callers can distinguish a dead proxy from a
// proxy that answered but refused the tunnel.
var (
	// ErrProxyUnreachable means the TCP connection to the proxy itself failed.
	ErrProxyUnreachable = errors.New("socks proxy unreachable")

	// ErrHandshakeRejected means the proxy refused our method negotiation.
	ErrHandshakeRejected = errors.New("socks handshake rejected")

	// ErrConnectRefused means the proxy accepted us but could not or would
	// not reach the target.
	ErrConnectRefused = errors.New("socks connect refused")
)

// Dialer opens tunneled connections through a single SOCKS5 proxy endpoint.
type Dialer struct {
	// ProxyAddr is the proxy endpoint in "host:port" form.
	ProxyAddr string

	// IOTimeout bounds each read/write on the established connection,
	// including the handshake itself. Zero means no per-operation deadline.
	IOTimeout time.Duration
}

// Dial connects to the proxy, negotiates no-auth SOCKS5, and issues a
// CONNECT for target ("host:port"). On success the returned connection is an
// open bidirectional stream to the target; every byte written to it travels
// through the proxy.
func (d *Dialer) Dial(target string) (net.Conn, error) {
	host, port, err := splitTarget(target)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", d.ProxyAddr, d.IOTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyUnreachable, err)
	}

	if d.IOTimeout > 0 {
		conn.SetDeadline(time.Now().Add(d.IOTimeout))
	}

	if err := d.handshake(conn, host, port); err != nil {
		conn.Close()
		return nil, err
	}

	// Handshake deadline no longer applies; the caller owns I/O pacing now.
	conn.SetDeadline(time.Time{})
	return conn, nil
}

// handshake runs method negotiation followed by the CONNECT request.
func (d *Dialer) handshake(conn net.Conn, host string, port int) error {
	// Greeting: VER=5, NMETHODS=1, METHODS=[no-auth]
	if _, err := conn.Write([]byte{5, 1, 0}); err != nil {
		return fmt.Errorf("%w: write greeting: %v", ErrHandshakeRejected, err)
	}

	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return fmt.Errorf("%w: read method selection: %v", ErrHandshakeRejected, err)
	}
	if sel[0] != 5 {
		return fmt.Errorf("%w: bad version 0x%02x", ErrHandshakeRejected, sel[0])
	}
	if sel[1] != 0 {
		return fmt.Errorf("%w: proxy requires auth method 0x%02x", ErrHandshakeRejected, sel[1])
	}

	req, err := connectRequest(host, port)
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("%w: write connect: %v", ErrConnectRefused, err)
	}

	// Reply: VER, REP, RSV, ATYP, BND.ADDR, BND.PORT
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("%w: read connect reply: %v", ErrConnectRefused, err)
	}
	if hdr[0] != 5 {
		return fmt.Errorf("%w: bad reply version 0x%02x", ErrConnectRefused, hdr[0])
	}
	if hdr[1] != 0 {
		return fmt.Errorf("%w: %s", ErrConnectRefused, replyString(hdr[1]))
	}
	if err := discardBindAddr(conn, hdr[3]); err != nil {
		return fmt.Errorf("%w: read bound address: %v", ErrConnectRefused, err)
	}
	return nil
}

// connectRequest encodes a CONNECT for host:port, choosing the address type
// from the host's representation (IPv4, IPv6, or domain name).
func connectRequest(host string, port int) ([]byte, error) {
	req := []byte{5, 1, 0} // VER, CMD=CONNECT, RSV

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			req = append(req, 1)
			req = append(req, v4...)
		} else {
			req = append(req, 4)
			req = append(req, ip.To16()...)
		}
	} else {
		if len(host) == 0 || len(host) > 255 {
			return nil, fmt.Errorf("invalid target host length: %d", len(host))
		}
		req = append(req, 3, byte(len(host)))
		req = append(req, host...)
	}

	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], uint16(port))
	return append(req, portBytes[:]...), nil
}

// discardBindAddr consumes BND.ADDR and BND.PORT from a reply based on ATYP.
func discardBindAddr(r io.Reader, atyp byte) error {
	var n int
	switch atyp {
	case 1: // IPv4
		n = 4 + 2
	case 4: // IPv6
		n = 16 + 2
	case 3: // domain
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return err
		}
		if l[0] == 0 {
			return errors.New("zero-length domain in reply")
		}
		n = int(l[0]) + 2
	default:
		return fmt.Errorf("unknown reply address type 0x%02x", atyp)
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return err
}

// replyString maps RFC 1928 REP codes to readable text.
func replyString(rep byte) string {
	switch rep {
	case 1:
		return "general SOCKS server failure"
	case 2:
		return "connection not allowed by ruleset"
	case 3:
		return "network unreachable"
	case 4:
		return "host unreachable"
	case 5:
		return "connection refused by destination host"
	case 6:
		return "TTL expired"
	case 7:
		return "command not supported"
	case 8:
		return "address type not supported"
	default:
		return fmt.Sprintf("unknown reply code 0x%02x", rep)
	}
}

// splitTarget validates "host:port" and returns its parts.
func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid target port %q", portStr)
	}
	return host, port, nil
}
