package torhttp

import (
	"bytes"
	"strconv"
	"strings"
)

// headerTerminator separates the header block from the body.
var headerTerminator = []byte("\r\n\r\n")

// chunkedTerminator is the literal tail of a terminated chunked body.
var chunkedTerminator = []byte("\r\n0\r\n\r\n")

// Assembler accumulates raw response bytes read off a tunnel and decides,
// after every feed, whether the response is complete. Completion means the
// header terminator has been seen plus one of: a satisfied Content-Length, a
// terminated chunked body, or nothing at all, in which case completion is
// the caller's call, made on connection close or deadline expiry.
type Assembler struct {
	buf []byte
}

// Feed appends one chunk of bytes read from the tunnel.
func (a *Assembler) Feed(p []byte) {
	a.buf = append(a.buf, p...)
}

// Len returns the number of bytes accumulated so far.
func (a *Assembler) Len() int {
	return len(a.buf)
}

// HeadersSeen reports whether the header terminator has been observed.
func (a *Assembler) HeadersSeen() bool {
	return bytes.Contains(a.buf, headerTerminator)
}

// Complete reports whether the buffered response can be finalized without
// waiting for more bytes.
func (a *Assembler) Complete() bool {
	headersEnd := bytes.Index(a.buf, headerTerminator)
	if headersEnd < 0 {
		return false
	}
	bodyStart := headersEnd + len(headerTerminator)
	headerBlock := string(a.buf[:headersEnd])

	if cl, ok := contentLength(headerBlock); ok {
		return len(a.buf)-bodyStart >= cl
	}
	if isChunked(headerBlock) {
		return bytes.HasSuffix(a.buf, chunkedTerminator)
	}
	// Neither length nor chunking: only connection close or the overall
	// deadline can end this response.
	return false
}

// Parse splits the accumulated buffer into status code and body. The status
// code is the second whitespace-delimited token of the status line, zero if
// absent or non-numeric; the body is everything after the first header
// terminator, empty if the terminator never arrived.
func (a *Assembler) Parse() (status int, body string) {
	text := string(a.buf)

	if strings.HasPrefix(text, "HTTP/") {
		line := text
		if i := strings.Index(line, "\r\n"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if code, err := strconv.Atoi(fields[1]); err == nil {
				status = code
			}
		}
	}

	if i := strings.Index(text, "\r\n\r\n"); i >= 0 {
		body = text[i+4:]
	}
	return status, body
}

// contentLength scans the header block for a Content-Length value.
func contentLength(headerBlock string) (int, bool) {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		if !strings.HasPrefix(strings.ToLower(line), "content-length:") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// isChunked reports whether the header block declares a chunked body.
func isChunked(headerBlock string) bool {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Transfer-Encoding") &&
			strings.Contains(strings.ToLower(value), "chunked") {
			return true
		}
	}
	return false
}
