package tor

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// ControlConn is a client for the tor control protocol, covering the small
// command set this bridge needs: authentication, bootstrap queries, onion
// publishing, and shutdown. One connection serves the daemon's whole life;
// commands are not safe for concurrent use (the lifecycle layer serializes
// them anyway).
type ControlConn struct {
	conn net.Conn
	text *textproto.Conn
}

// controlReply is one complete reply: the final status code and every data
// line stripped of its "250-" style prefix.
type controlReply struct {
	code  int
	lines []string
}

// DialControl connects to a control endpoint. Authenticate must be called
// before any other command.
func DialControl(addr string, timeout time.Duration) (*ControlConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial control port: %w", err)
	}
	return &ControlConn{conn: conn, text: textproto.NewConn(conn)}, nil
}

// Close tears down the control connection without touching the daemon.
func (c *ControlConn) Close() error {
	return c.text.Close()
}

// cmd sends one command line and reads the full reply, failing on any
// non-250 status.
func (c *ControlConn) cmd(format string, args ...any) (controlReply, error) {
	if err := c.text.PrintfLine(format, args...); err != nil {
		return controlReply{}, fmt.Errorf("write control command: %w", err)
	}
	return c.readReply()
}

// readReply consumes reply lines until the terminating space-separated one.
// Replies look like "250-key=value" (more to come), "250+data" (multi-line
// data block, terminated by a lone "."), then "250 OK".
func (c *ControlConn) readReply() (controlReply, error) {
	var reply controlReply
	for {
		line, err := c.text.ReadLine()
		if err != nil {
			return reply, fmt.Errorf("read control reply: %w", err)
		}
		if len(line) < 4 {
			return reply, fmt.Errorf("malformed control reply %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return reply, fmt.Errorf("malformed control status in %q", line)
		}
		reply.code = code
		sep, rest := line[3], line[4:]

		switch sep {
		case '-':
			reply.lines = append(reply.lines, rest)
		case '+':
			reply.lines = append(reply.lines, rest)
			for {
				data, err := c.text.ReadLine()
				if err != nil {
					return reply, fmt.Errorf("read control data block: %w", err)
				}
				if data == "." {
					break
				}
				reply.lines = append(reply.lines, data)
			}
		case ' ':
			reply.lines = append(reply.lines, rest)
			if code != 250 {
				return reply, fmt.Errorf("control command failed: %d %s", code, rest)
			}
			return reply, nil
		default:
			return reply, fmt.Errorf("malformed control reply %q", line)
		}
	}
}

// Authenticate negotiates access using PROTOCOLINFO: null authentication
// when the daemon allows it, otherwise cookie authentication with the
// advertised cookie file.
func (c *ControlConn) Authenticate() error {
	reply, err := c.cmd("PROTOCOLINFO 1")
	if err != nil {
		return err
	}

	var methods []string
	var cookieFile string
	for _, line := range reply.lines {
		if !strings.HasPrefix(line, "AUTH ") {
			continue
		}
		for _, field := range strings.Fields(line[len("AUTH "):]) {
			if v, ok := strings.CutPrefix(field, "METHODS="); ok {
				methods = strings.Split(v, ",")
			}
			if v, ok := strings.CutPrefix(field, "COOKIEFILE="); ok {
				cookieFile = strings.Trim(v, `"`)
			}
		}
	}

	for _, m := range methods {
		if m == "NULL" {
			_, err := c.cmd("AUTHENTICATE")
			return err
		}
	}
	for _, m := range methods {
		if m == "COOKIE" || m == "SAFECOOKIE" {
			if cookieFile == "" {
				return fmt.Errorf("control port requires cookie auth but advertised no cookie file")
			}
			cookie, err := os.ReadFile(cookieFile)
			if err != nil {
				return fmt.Errorf("read auth cookie: %w", err)
			}
			_, err = c.cmd("AUTHENTICATE %s", hex.EncodeToString(cookie))
			return err
		}
	}
	return fmt.Errorf("no supported control auth method in %v", methods)
}

// BootstrapPhase queries "GETINFO status/bootstrap-phase" and parses the
// PROGRESS and SUMMARY fields out of the event-style value.
func (c *ControlConn) BootstrapPhase() (BootstrapPhase, error) {
	reply, err := c.cmd("GETINFO status/bootstrap-phase")
	if err != nil {
		return BootstrapPhase{}, err
	}

	var phase BootstrapPhase
	for _, line := range reply.lines {
		value, ok := strings.CutPrefix(line, "status/bootstrap-phase=")
		if !ok {
			continue
		}
		for _, field := range strings.Fields(value) {
			if v, found := strings.CutPrefix(field, "PROGRESS="); found {
				if n, err := strconv.Atoi(v); err == nil {
					phase.Progress = n
				}
			}
		}
		// The summary is a quoted string that may contain spaces, so it
		// cannot go through Fields.
		if idx := strings.Index(value, "SUMMARY="); idx >= 0 {
			phase.Summary = strings.Trim(value[idx+len("SUMMARY="):], `"`)
		}
		return phase, nil
	}
	return BootstrapPhase{}, fmt.Errorf("bootstrap phase missing from control reply")
}

// AddOnion publishes a hidden service. With a pinned key the daemon is
// handed the expanded secret key; otherwise it generates an ephemeral
// ED25519-V3 identity (and is told not to echo the private key back).
func (c *ControlConn) AddOnion(params HiddenServiceParams) (string, error) {
	keyArg := "NEW:ED25519-V3"
	flags := " Flags=DiscardPK"
	if params.HasKey {
		keyArg = addOnionKeyBlob(params.Key)
		flags = ""
	}

	reply, err := c.cmd("ADD_ONION %s%s Port=%d,127.0.0.1:%d",
		keyArg, flags, params.VirtualPort, params.TargetPort)
	if err != nil {
		return "", err
	}

	for _, line := range reply.lines {
		if id, ok := strings.CutPrefix(line, "ServiceID="); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("ServiceID missing from ADD_ONION reply")
}

// DelOnion removes a hidden service by its onion identifier.
func (c *ControlConn) DelOnion(onionID string) error {
	_, err := c.cmd("DEL_ONION %s", onionID)
	return err
}

// Signal sends a SIGNAL command, e.g. "SHUTDOWN" or "NEWNYM".
func (c *ControlConn) Signal(name string) error {
	_, err := c.cmd("SIGNAL %s", name)
	return err
}
