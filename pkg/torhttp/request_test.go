package torhttp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantPath string
	}{
		{"bare http", "http://example.com", "example.com", 80, "/"},
		{"https default port", "https://example.com/x", "example.com", 443, "/x"},
		{"explicit port", "http://example.onion:8080/api", "example.onion", 8080, "/api"},
		{"query preserved", "http://example.com/search?q=1&r=2", "example.com", 80, "/search?q=1&r=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := resolveTarget(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, tgt.host)
			assert.Equal(t, tt.wantPort, tgt.port)
			assert.Equal(t, tt.wantPath, tgt.fullPath)
		})
	}
}

func TestResolveTargetErrors(t *testing.T) {
	for _, url := range []string{"ftp://example.com", "http://", "not a url at all", "http://example.com:999999"} {
		_, err := resolveTarget(url)
		assert.Error(t, err, "url %q", url)
	}
}

func TestFrameRequest(t *testing.T) {
	wire := string(frameRequest("POST", "/submit?x=1", "example.com",
		map[string]string{"X-Token": "abc"}, `{"k":"v"}`))

	assert.True(t, strings.HasPrefix(wire, "POST /submit?x=1 HTTP/1.1\r\n"))
	assert.Contains(t, wire, "Host: example.com\r\n")
	assert.Contains(t, wire, "Connection: close\r\n")
	assert.Contains(t, wire, "X-Token: abc\r\n")
	assert.Contains(t, wire, "Content-Length: 9\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\n"+`{"k":"v"}`))
}

func TestFrameRequestNoBody(t *testing.T) {
	wire := string(frameRequest("GET", "/", "example.com", nil, ""))

	assert.NotContains(t, wire, "Content-Length")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\n"))
}

func TestValidMethod(t *testing.T) {
	for _, m := range []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"} {
		assert.True(t, validMethod(m), m)
	}
	for _, m := range []string{"", "get", "PATCH", "TRACE", "CONNECT"} {
		assert.False(t, validMethod(m), m)
	}
}
